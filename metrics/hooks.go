package metrics

import (
	"context"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/rushteam/nearrec/core"
	"github.com/rushteam/nearrec/pipeline"
)

// PipelineHook 把每个节点的耗时、丢弃条数、失败写入 Prometheus。
func PipelineHook() pipeline.Hook {
	return func(_ context.Context, _ *core.RecommendContext, ev pipeline.StageEvent) {
		StageDuration.WithLabelValues(ev.Node, string(ev.Kind)).Observe(ev.Duration.Seconds())
		if ev.Err != nil {
			StageErrors.WithLabelValues(ev.Node).Inc()
			return
		}
		if dropped := ev.In - ev.Out; dropped > 0 {
			StageDropped.WithLabelValues(ev.Node).Add(float64(dropped))
		}
	}
}

// LoggingHook 以 debug 级别输出节点执行情况。
func LoggingHook(logger zerolog.Logger) pipeline.Hook {
	return func(_ context.Context, rctx *core.RecommendContext, ev pipeline.StageEvent) {
		e := logger.Debug()
		if ev.Err != nil {
			e = logger.Warn().Err(ev.Err)
		}
		if rctx != nil {
			e = e.Str("user_id", rctx.UserID)
		}
		e.Str("node", ev.Node).
			Int("in", ev.In).
			Int("out", ev.Out).
			Dur("duration", ev.Duration).
			Msg("pipeline stage")
	}
}

// PerformanceRecorder 实现 core.PerformanceSink：写入 Prometheus 直方图并输出结构化日志。
type PerformanceRecorder struct {
	logger zerolog.Logger
}

func NewPerformanceRecorder(logger zerolog.Logger) *PerformanceRecorder {
	return &PerformanceRecorder{logger: logger.With().Str("component", "performance").Logger()}
}

var _ core.PerformanceSink = (*PerformanceRecorder)(nil)

func (r *PerformanceRecorder) LogPerformance(_ context.Context, s core.PerformanceSample) error {
	FunctionDuration.WithLabelValues(s.FunctionName, strconv.FormatBool(s.Success)).Observe(s.Duration.Seconds())

	e := r.logger.Info()
	if !s.Success {
		e = r.logger.Warn().Str("error_message", s.ErrorMessage)
	}
	e.Str("user_id", s.UserID).
		Str("function", s.FunctionName).
		Int64("duration_ms", s.Duration.Milliseconds()).
		Bool("success", s.Success).
		Msg("performance metric")
	return nil
}
