package rerank

import (
	"context"
	"math"
	"sort"

	"github.com/rushteam/nearrec/core"
	"github.com/rushteam/nearrec/pipeline"
	"github.com/rushteam/nearrec/pkg/vecmath"
)

// DefaultPoolSize 限制 MMR 候选池大小，算法复杂度为 O(k * pool)。
const DefaultPoolSize = 120

// MMR 是最大边际相关性选择节点：在分数与和已选结果的冗余之间取舍，输出 min(k, |items|) 条。
//
//	marginal = λ·score − (1−λ)·max cos(candidate, selected)
//
// 选择顺序即展示顺序。分数相同取池中先出现的候选。
type MMR struct {
	// Lambda 为 nil 时使用实验参数 mmr_lambda
	Lambda *float64

	// PoolSize <= 0 时使用 DefaultPoolSize
	PoolSize int
}

func (n *MMR) Name() string {
	return "rerank.mmr"
}

func (n *MMR) Kind() pipeline.Kind {
	return pipeline.KindReRank
}

func (n *MMR) Process(
	_ context.Context,
	rctx *core.RecommendContext,
	items []*core.Item,
) ([]*core.Item, error) {
	k := core.DefaultK
	if rctx != nil && rctx.K > 0 {
		k = rctx.K
	}
	lambda := rctx.GetExperiment().Params.MMRLambda
	if n.Lambda != nil {
		lambda = *n.Lambda
	}
	return SelectMMR(items, k, lambda, n.PoolSize), nil
}

// SelectMMR 是 MMR 的纯函数形式，不修改输入。
func SelectMMR(items []*core.Item, k int, lambda float64, poolSize int) []*core.Item {
	if k <= 0 || len(items) == 0 {
		return []*core.Item{}
	}
	if poolSize <= 0 {
		poolSize = DefaultPoolSize
	}

	pool := make([]*core.Item, 0, len(items))
	for _, it := range items {
		if it != nil {
			pool = append(pool, it)
		}
	}
	sort.SliceStable(pool, func(i, j int) bool { return pool[i].Score > pool[j].Score })
	if len(pool) > poolSize {
		pool = pool[:poolSize]
	}

	selected := make([]*core.Item, 0, min(k, len(pool)))
	for len(selected) < k && len(pool) > 0 {
		bestIdx := 0
		bestVal := math.Inf(-1)
		for i, cand := range pool {
			val := lambda*cand.Score - (1-lambda)*maxSimilarity(cand, selected)
			if val > bestVal {
				bestVal = val
				bestIdx = i
			}
		}
		selected = append(selected, pool[bestIdx])
		pool = append(pool[:bestIdx], pool[bestIdx+1:]...)
	}
	return selected
}

// maxSimilarity 是与已选集合的最大余弦相似度；未选任何候选时为 0，缺向量的一侧记 0。
func maxSimilarity(cand *core.Item, selected []*core.Item) float64 {
	if len(selected) == 0 {
		return 0
	}
	best := math.Inf(-1)
	for _, s := range selected {
		sim := 0.0
		if len(cand.Embedding) > 0 && len(s.Embedding) > 0 {
			sim = vecmath.Cosine(cand.Embedding, s.Embedding)
		}
		if sim > best {
			best = sim
		}
	}
	return best
}
