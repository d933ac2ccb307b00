package pipeline

import (
	"context"
	"time"

	"github.com/rushteam/nearrec/core"
)

// StageEvent 描述一次 Node 执行，供 Hook 打点。
type StageEvent struct {
	Node     string
	Kind     Kind
	Duration time.Duration
	In       int
	Out      int
	Err      error
}

// Hook 在每个 Node 执行后被调用，不能影响链路结果。
type Hook func(ctx context.Context, rctx *core.RecommendContext, ev StageEvent)

// Pipeline 把选择逻辑拆成可组合的 Node 链，严格按顺序执行，任一 Node 出错即中止。
type Pipeline struct {
	Name  string
	Nodes []Node
	Hooks []Hook
}

// Use 追加 Hook，返回自身便于链式调用。
func (p *Pipeline) Use(h ...Hook) *Pipeline {
	p.Hooks = append(p.Hooks, h...)
	return p
}

func (p *Pipeline) Run(
	ctx context.Context,
	rctx *core.RecommendContext,
	items []*core.Item,
) ([]*core.Item, error) {
	cur := items
	for _, node := range p.Nodes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := time.Now()
		next, err := node.Process(ctx, rctx, cur)
		p.emit(ctx, rctx, StageEvent{
			Node:     node.Name(),
			Kind:     node.Kind(),
			Duration: time.Since(start),
			In:       len(cur),
			Out:      len(next),
			Err:      err,
		})
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

func (p *Pipeline) emit(ctx context.Context, rctx *core.RecommendContext, ev StageEvent) {
	for _, h := range p.Hooks {
		h(ctx, rctx, ev)
	}
}
