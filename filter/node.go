package filter

import (
	"context"
	"fmt"

	"github.com/rushteam/nearrec/core"
	"github.com/rushteam/nearrec/pipeline"
	"github.com/rushteam/nearrec/pkg/dsl"
)

// FilterNode 组合多个 Filter，任何一个返回 true 该物品即被移除。
// 过滤器出错时整个请求失败，不返回部分过滤的结果。
type FilterNode struct {
	Filters []Filter
}

func (n *FilterNode) Name() string {
	return "filter.node"
}

func (n *FilterNode) Kind() pipeline.Kind {
	return pipeline.KindFilter
}

func (n *FilterNode) Process(
	ctx context.Context,
	rctx *core.RecommendContext,
	items []*core.Item,
) ([]*core.Item, error) {
	if len(n.Filters) == 0 || len(items) == 0 {
		return items, nil
	}

	out := make([]*core.Item, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}

		drop := false
		for _, f := range n.Filters {
			ok, err := f.ShouldFilter(ctx, rctx, item)
			if err != nil {
				return nil, core.WrapDomainError(core.ModuleFilter, core.ErrorCodeInternalError,
					fmt.Sprintf("filter %s failed on item %s", f.Name(), item.ID), err)
			}
			if ok {
				drop = true
				break
			}
		}
		if !drop {
			out = append(out, item)
		}
	}
	return out, nil
}

// ExpressionFilter 用 CEL 表达式过滤，表达式为 true 的物品被移除。
type ExpressionFilter struct {
	program *dsl.Program
}

// NewExpressionFilter 编译表达式；空表达式得到一个不过滤任何物品的过滤器。
func NewExpressionFilter(expr string) (*ExpressionFilter, error) {
	p, err := dsl.Compile(expr)
	if err != nil {
		return nil, core.WrapDomainError(core.ModuleFilter, core.ErrorCodeInvalidInput, "invalid filter expression", err)
	}
	return &ExpressionFilter{program: p}, nil
}

func (f *ExpressionFilter) Name() string {
	return "filter.expr"
}

func (f *ExpressionFilter) ShouldFilter(
	_ context.Context,
	rctx *core.RecommendContext,
	item *core.Item,
) (bool, error) {
	return f.program.Evaluate(item, rctx)
}
