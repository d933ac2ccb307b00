package pipeline

import (
	"context"

	"github.com/rushteam/nearrec/core"
)

// Kind 是节点所属阶段，用作指标和日志的维度。
type Kind string

const (
	KindRecall Kind = "recall"
	KindFilter Kind = "filter"
	KindRank   Kind = "rank"
	KindReRank Kind = "rerank"
)

// Node 接收一批候选并返回处理后的候选。
// 实现不得修改入参中的 Item；要改分数时先 Clone。
type Node interface {
	Name() string
	Kind() Kind
	Process(ctx context.Context, rctx *core.RecommendContext, items []*core.Item) ([]*core.Item, error)
}

// ProcessFunc 是 Node.Process 的函数形态。
type ProcessFunc func(ctx context.Context, rctx *core.RecommendContext, items []*core.Item) ([]*core.Item, error)

// NodeFunc 用一个函数实现 Node，测试里构造桩节点时常用。
type NodeFunc struct {
	NodeName string
	NodeKind Kind
	Fn       ProcessFunc
}

func (f NodeFunc) Name() string { return f.NodeName }
func (f NodeFunc) Kind() Kind   { return f.NodeKind }

func (f NodeFunc) Process(ctx context.Context, rctx *core.RecommendContext, items []*core.Item) ([]*core.Item, error) {
	return f.Fn(ctx, rctx, items)
}
