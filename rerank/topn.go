package rerank

import (
	"context"

	"github.com/rushteam/nearrec/core"
	"github.com/rushteam/nearrec/pipeline"
)

// TopNNode 只保留排在前面的 N 个候选。
// 常放在 rank.utility 之后、MMR 之前，控制 MMR 的 O(n·k) 开销。
type TopNNode struct {
	// N <= 0 表示不截断
	N int
}

func (*TopNNode) Name() string        { return "rerank.topn" }
func (*TopNNode) Kind() pipeline.Kind { return pipeline.KindReRank }

func (n *TopNNode) Process(_ context.Context, _ *core.RecommendContext, items []*core.Item) ([]*core.Item, error) {
	if n.N > 0 && len(items) > n.N {
		// 三下标切片，防止后续 append 覆盖被截掉的元素
		items = items[:n.N:n.N]
	}
	return items, nil
}
