// Package filter 剔除或降权候选地点：用户隐藏、已看过、多样性、曝光次数、CEL 表达式。
package filter

import (
	"context"

	"github.com/rushteam/nearrec/core"
)

// Filter 对单个物品做判定，true 表示移除。由 FilterNode 串起来执行。
// 多样性、曝光这类要看整批候选的逻辑直接实现 pipeline.Node。
type Filter interface {
	Name() string
	ShouldFilter(ctx context.Context, rctx *core.RecommendContext, item *core.Item) (bool, error)
}

// FuncFilter 把判定函数包装成 Filter。
type FuncFilter struct {
	Label string
	Fn    func(rctx *core.RecommendContext, item *core.Item) bool
}

func (f FuncFilter) Name() string { return f.Label }

func (f FuncFilter) ShouldFilter(_ context.Context, rctx *core.RecommendContext, item *core.Item) (bool, error) {
	return f.Fn(rctx, item), nil
}

var _ Filter = FuncFilter{}
