package impression

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rushteam/nearrec/core"
	"github.com/rushteam/nearrec/metrics"
)

// DefaultWriteTimeout 是单次旁路写入的超时。
const DefaultWriteTimeout = 2 * time.Second

// BestEffort 是旁路写入通道：调用方不等待结果，失败只进入日志与指标，不会回到请求。
// 写入使用与请求无关的 context，请求结束（或超时取消）不会打断已提交的写入。
type BestEffort struct {
	sink    core.ImpressionSink
	perf    core.PerformanceSink
	timeout time.Duration
	logger  zerolog.Logger

	wg sync.WaitGroup
}

func NewBestEffort(sink core.ImpressionSink, perf core.PerformanceSink, timeout time.Duration, logger zerolog.Logger) *BestEffort {
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}
	return &BestEffort{
		sink:    sink,
		perf:    perf,
		timeout: timeout,
		logger:  logger.With().Str("component", "side_channel").Logger(),
	}
}

// LogImpressions 异步写入展示记录，总是返回 nil。
func (b *BestEffort) LogImpressions(_ context.Context, imp core.Impression) error {
	if b.sink == nil {
		return nil
	}
	b.submit("impression", func(ctx context.Context) error {
		return b.sink.LogImpressions(ctx, imp)
	}, func(e *zerolog.Event) *zerolog.Event {
		return e.Str("user_id", imp.UserID).Int("items", len(imp.ItemIDs))
	})
	return nil
}

// LogPerformance 异步写入性能指标，总是返回 nil。
func (b *BestEffort) LogPerformance(_ context.Context, s core.PerformanceSample) error {
	if b.perf == nil {
		return nil
	}
	b.submit("performance", func(ctx context.Context) error {
		return b.perf.LogPerformance(ctx, s)
	}, func(e *zerolog.Event) *zerolog.Event {
		return e.Str("user_id", s.UserID).Str("function", s.FunctionName)
	})
	return nil
}

// Go 提交任意旁路任务（如缓存回写、限流计数），channel 用作指标标签。
func (b *BestEffort) Go(channel string, fn func(ctx context.Context) error) {
	b.submit(channel, fn, nil)
}

// Wait 等待所有已提交的写入完成，用于优雅退出与测试。
func (b *BestEffort) Wait() {
	b.wg.Wait()
}

func (b *BestEffort) submit(channel string, fn func(ctx context.Context) error, fields func(*zerolog.Event) *zerolog.Event) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		defer cancel()

		var err error
		func() {
			defer func() {
				if r := recover(); r != nil {
					err = core.NewDomainError(core.ModuleImpression, core.ErrorCodeInternalError, "side channel panic")
					b.logger.Error().Interface("panic", r).Str("channel", channel).Msg("side channel panicked")
				}
			}()
			err = fn(ctx)
		}()
		if err == nil {
			return
		}
		metrics.RecordSideChannelFailure(channel)
		e := b.logger.Warn().Err(err).Str("channel", channel)
		if fields != nil {
			e = fields(e)
		}
		e.Msg("best-effort write failed")
	}()
}

var (
	_ core.ImpressionSink  = (*BestEffort)(nil)
	_ core.PerformanceSink = (*BestEffort)(nil)
)
