package filter

import (
	"context"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/rushteam/nearrec/core"
	"github.com/rushteam/nearrec/pipeline"
)

// SeenSource 返回用户的 seen 布隆过滤器，没有记录时返回 nil。seen.Tracker 实现它。
type SeenSource interface {
	Load(ctx context.Context, userID string) (*bloom.BloomFilter, error)
}

// SeenFilter 移除用户近期已经展示过的物品（布隆过滤器判定，存在少量误删）。
// 剩余条数少于 MinKeep 时原样返回输入，避免把新鲜候选耗尽。
type SeenFilter struct {
	Store   SeenSource
	MinKeep int
}

func (n *SeenFilter) Name() string {
	return "filter.seen"
}

func (n *SeenFilter) Kind() pipeline.Kind {
	return pipeline.KindFilter
}

func (n *SeenFilter) Process(
	ctx context.Context,
	rctx *core.RecommendContext,
	items []*core.Item,
) ([]*core.Item, error) {
	if len(items) == 0 || n.Store == nil || rctx == nil || rctx.UserID == "" {
		return items, nil
	}
	f, err := n.Store.Load(ctx, rctx.UserID)
	if err != nil {
		return nil, core.WrapDomainError(core.ModuleFilter, core.ErrorCodeUnavailable, "fetch seen filter", err)
	}
	if f == nil {
		return items, nil
	}

	out := make([]*core.Item, 0, len(items))
	for _, it := range items {
		if it == nil || f.TestString(it.ID) {
			continue
		}
		out = append(out, it)
	}
	minKeep := n.MinKeep
	if minKeep <= 0 {
		minKeep = 1
	}
	if len(out) < minKeep {
		return items, nil
	}
	return out, nil
}
