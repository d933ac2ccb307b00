// Package seen 用布隆过滤器记录用户近期看过的物品。
//
// 每个用户一个过滤器，序列化后存于 seen:{user}，TTL 与曝光窗口一致。
// 过滤器只会误判“看过”，不会漏判；读到的过滤器用于 filter.seen 节点粗筛。
package seen

import (
	"context"
	"time"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/rushteam/nearrec/core"
)

// 默认容量与误判率：单用户一周内的展示量级
const (
	DefaultCapacity      uint    = 5000
	DefaultFalsePositive float64 = 0.01
	DefaultTTL                   = 7 * 24 * time.Hour
)

// Tracker 读写用户的 seen 过滤器。Mark 是读改写，并发写同一用户时可能丢失部分标记。
type Tracker struct {
	Store         core.Store
	Capacity      uint
	FalsePositive float64
	TTL           time.Duration
}

func NewTracker(s core.Store) *Tracker {
	return &Tracker{
		Store:         s,
		Capacity:      DefaultCapacity,
		FalsePositive: DefaultFalsePositive,
		TTL:           DefaultTTL,
	}
}

// Load 返回用户的过滤器；不存在时返回 nil。
func (t *Tracker) Load(ctx context.Context, userID string) (*bloom.BloomFilter, error) {
	data, err := t.Store.Get(ctx, core.UserKey(core.KeyPrefixSeen, userID))
	if err != nil {
		if core.IsStoreNotFound(err) {
			return nil, nil
		}
		return nil, core.WrapDomainError(core.ModuleImpression, core.ErrorCodeUnavailable, "seen: load filter failed", err)
	}
	f := &bloom.BloomFilter{}
	if err := f.UnmarshalJSON(data); err != nil {
		// 损坏的过滤器按不存在处理，下次 Mark 会重建
		return nil, nil
	}
	return f, nil
}

// Mark 把 itemIDs 加入用户的过滤器。
func (t *Tracker) Mark(ctx context.Context, userID string, itemIDs []string) error {
	if len(itemIDs) == 0 {
		return nil
	}
	f, err := t.Load(ctx, userID)
	if err != nil {
		return err
	}
	if f == nil {
		f = bloom.NewWithEstimates(t.capacity(), t.falsePositive())
	}
	for _, id := range itemIDs {
		f.AddString(id)
	}
	data, err := f.MarshalJSON()
	if err != nil {
		return core.WrapDomainError(core.ModuleImpression, core.ErrorCodeInternalError, "seen: encode filter failed", err)
	}
	if err := t.Store.Set(ctx, core.UserKey(core.KeyPrefixSeen, userID), data, int(t.TTL/time.Second)); err != nil {
		return core.WrapDomainError(core.ModuleImpression, core.ErrorCodeUnavailable, "seen: save filter failed", err)
	}
	return nil
}

func (t *Tracker) capacity() uint {
	if t.Capacity == 0 {
		return DefaultCapacity
	}
	return t.Capacity
}

func (t *Tracker) falsePositive() float64 {
	if t.FalsePositive <= 0 || t.FalsePositive >= 1 {
		return DefaultFalsePositive
	}
	return t.FalsePositive
}
