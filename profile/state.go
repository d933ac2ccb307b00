package profile

import (
	"context"
	"math"
	"time"

	"github.com/rushteam/nearrec/core"
)

const (
	DefaultRecentEvents        = 20
	DefaultFallbackCompletions = 10
	DefaultHalfLife            = 7 * 24 * time.Hour
)

// StateEventTypes 是参与 state 向量计算的事件类型。
var StateEventTypes = []string{core.EventView, core.EventLike, core.EventSave, core.EventStart, core.EventComplete}

// StateComputer 用近期事件的物品向量按时间衰减加权平均，得到短期 state 向量。
//
//	w = 2^(-age / HalfLife)
//	state[i] = Σ w·emb[i] / Σ w
//
// 近期没有行为事件时回退到最近的完成记录；都没有或都缺向量时返回 nil。
type StateComputer struct {
	Events core.EventLog

	MaxEvents           int
	FallbackCompletions int
	HalfLife            time.Duration

	// Now 为 nil 时使用 time.Now
	Now func() time.Time
}

func NewStateComputer(events core.EventLog) *StateComputer {
	return &StateComputer{
		Events:              events,
		MaxEvents:           DefaultRecentEvents,
		FallbackCompletions: DefaultFallbackCompletions,
		HalfLife:            DefaultHalfLife,
	}
}

var _ core.StateSource = (*StateComputer)(nil)

func (c *StateComputer) StateVector(ctx context.Context, userID string, dim int) ([]float64, error) {
	events, err := c.Events.RecentEvents(ctx, userID, StateEventTypes, c.maxEvents())
	if err != nil {
		return nil, core.WrapDomainError(core.ModuleProfile, core.ErrorCodeUnavailable, "read recent events", err)
	}
	if len(events) == 0 {
		events, err = c.Events.RecentCompletions(ctx, userID, c.fallback())
		if err != nil {
			return nil, core.WrapDomainError(core.ModuleProfile, core.ErrorCodeUnavailable, "read recent completions", err)
		}
	}
	return c.aggregate(events, dim), nil
}

func (c *StateComputer) aggregate(events []core.Event, dim int) []float64 {
	if dim <= 0 {
		for _, ev := range events {
			dim = max(dim, len(ev.Embedding))
		}
	}
	if dim <= 0 {
		return nil
	}

	now := time.Now()
	if c.Now != nil {
		now = c.Now()
	}
	halfLife := c.HalfLife
	if halfLife <= 0 {
		halfLife = DefaultHalfLife
	}

	acc := make([]float64, dim)
	var wsum float64
	for _, ev := range events {
		if len(ev.Embedding) == 0 {
			continue
		}
		age := now.Sub(ev.CreatedAt)
		if age < 0 {
			age = 0
		}
		w := math.Exp2(-float64(age) / float64(halfLife))
		for i := 0; i < dim && i < len(ev.Embedding); i++ {
			acc[i] += ev.Embedding[i] * w
		}
		wsum += w
	}
	if wsum == 0 {
		return nil
	}
	for i := range acc {
		acc[i] /= wsum
	}
	return acc
}

func (c *StateComputer) maxEvents() int {
	if c.MaxEvents <= 0 {
		return DefaultRecentEvents
	}
	return c.MaxEvents
}

func (c *StateComputer) fallback() int {
	if c.FallbackCompletions <= 0 {
		return DefaultFallbackCompletions
	}
	return c.FallbackCompletions
}
