// Package impression 记录展示日志，并回写曝光计数供 filter.ExposureDampener 读取。
package impression

import (
	"context"
	"math"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/rushteam/nearrec/core"
	"github.com/rushteam/nearrec/metrics"
	"github.com/rushteam/nearrec/seen"
)

// DefaultExposureTTL 是曝光计数与展示日志的保留窗口。
const DefaultExposureTTL = 7 * 24 * time.Hour

// StoreLogger 把展示记录写入 impressions:{user} 有序集合（按展示时间），
// 并在展示当天的 exposure:{user}:{yyyymmdd} 中对每个物品计数 +1。
// 日桶在窗口结束后过期，读取方只合计窗口内的日桶，因此计数随时间滑动。
// 展示日志只保留 ExposureTTL 内的记录。
//
// Seen 非空时同时把物品加入用户的 seen 布隆过滤器。
type StoreLogger struct {
	Store       core.KeyValueStore
	ExposureTTL time.Duration
	Seen        *seen.Tracker
}

func NewStoreLogger(s core.KeyValueStore) *StoreLogger {
	return &StoreLogger{Store: s, ExposureTTL: DefaultExposureTTL}
}

// stamp 补齐记录 ID 与展示时间。
func stamp(imp core.Impression) core.Impression {
	if imp.ID == "" {
		imp.ID = uuid.NewString()
	}
	if imp.ShownAt.IsZero() {
		imp.ShownAt = time.Now()
	}
	return imp
}

func (l *StoreLogger) LogImpressions(ctx context.Context, imp core.Impression) error {
	imp = stamp(imp)
	data, err := json.Marshal(imp)
	if err != nil {
		return core.WrapDomainError(core.ModuleImpression, core.ErrorCodeInternalError, "impression: encode failed", err)
	}
	logKey := core.UserKey(core.KeyPrefixImpressions, imp.UserID)
	if err := l.Store.ZAdd(ctx, logKey, float64(imp.ShownAt.UnixMilli()), string(data)); err != nil {
		return core.WrapDomainError(core.ModuleImpression, core.ErrorCodeUnavailable, "impression: append failed", err)
	}
	if l.ExposureTTL > 0 {
		cutoff := imp.ShownAt.Add(-l.ExposureTTL).UnixMilli()
		if _, err := l.Store.ZRemRangeByScore(ctx, logKey, math.Inf(-1), float64(cutoff)); err != nil {
			return core.WrapDomainError(core.ModuleImpression, core.ErrorCodeUnavailable, "impression: trim failed", err)
		}
		if err := l.Store.Expire(ctx, logKey, ttlSeconds(l.ExposureTTL)); err != nil {
			return core.WrapDomainError(core.ModuleImpression, core.ErrorCodeUnavailable, "impression: log expire failed", err)
		}
	}

	if len(imp.ItemIDs) > 0 {
		if err := l.countExposure(ctx, imp); err != nil {
			return err
		}
	}
	if l.Seen != nil {
		if err := l.Seen.Mark(ctx, imp.UserID, imp.ItemIDs); err != nil {
			return err
		}
	}
	metrics.ImpressionsLogged.Inc()
	return nil
}

// countExposure 写入展示当天的日桶；日桶多保留一个分桶周期，保证窗口边界上的读取完整。
func (l *StoreLogger) countExposure(ctx context.Context, imp core.Impression) error {
	key := core.ExposureKey(imp.UserID, imp.ShownAt)
	for _, id := range imp.ItemIDs {
		if _, err := l.Store.HIncrBy(ctx, key, id, 1); err != nil {
			return core.WrapDomainError(core.ModuleImpression, core.ErrorCodeUnavailable, "impression: exposure update failed", err)
		}
	}
	if l.ExposureTTL <= 0 {
		return nil
	}
	if err := l.Store.Expire(ctx, key, ttlSeconds(l.ExposureTTL+core.ExposureBucket)); err != nil {
		return core.WrapDomainError(core.ModuleImpression, core.ErrorCodeUnavailable, "impression: exposure expire failed", err)
	}
	return nil
}

func ttlSeconds(d time.Duration) int { return int(d / time.Second) }

var _ core.ImpressionSink = (*StoreLogger)(nil)
