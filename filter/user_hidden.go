package filter

import (
	"context"

	"github.com/rushteam/nearrec/core"
	"github.com/rushteam/nearrec/pipeline"
)

// UserHiddenNode 移除用户通过 hide 反馈主动隐藏的物品。
type UserHiddenNode struct {
	Store HiddenStore
}

func (n *UserHiddenNode) Name() string {
	return "filter.user_hidden"
}

func (n *UserHiddenNode) Kind() pipeline.Kind {
	return pipeline.KindFilter
}

func (n *UserHiddenNode) Process(
	ctx context.Context,
	rctx *core.RecommendContext,
	items []*core.Item,
) ([]*core.Item, error) {
	if len(items) == 0 || n.Store == nil || rctx == nil || rctx.UserID == "" {
		return items, nil
	}

	hidden, err := n.Store.GetHiddenItems(ctx, rctx.UserID)
	if err != nil {
		return nil, core.WrapDomainError(core.ModuleFilter, core.ErrorCodeUnavailable, "fetch hidden items", err)
	}
	if len(hidden) == 0 {
		return items, nil
	}

	out := make([]*core.Item, 0, len(items))
	for _, it := range items {
		if it == nil {
			continue
		}
		if _, ok := hidden[it.ID]; ok {
			continue
		}
		out = append(out, it)
	}
	return out, nil
}
