package rank

import (
	"context"
	"sort"

	"github.com/rushteam/nearrec/core"
	"github.com/rushteam/nearrec/pipeline"
	"github.com/rushteam/nearrec/pkg/utils"
	"github.com/rushteam/nearrec/pkg/vecmath"
)

// Weights 是最终打分的线性组合权重，固定常量，不受实验参数影响。
type Weights struct {
	Appeal float64
	Trait  float64
	State  float64
	Social float64
	PopRec float64
	Cost   float64
}

// DefaultWeights: score = 0.25·appeal + 0.25·trait + 0.20·state + 0.15·social + 0.10·poprec − 0.25·cost
var DefaultWeights = Weights{
	Appeal: 0.25,
	Trait:  0.25,
	State:  0.20,
	Social: 0.15,
	PopRec: 0.10,
	Cost:   0.25,
}

// 社交信号内部权重
const (
	friendCompleteWeight = 0.10
	friendSaveWeight     = 0.08
	friendLikeWeight     = 0.06
	collabWeight         = 0.05
)

// Combine 按权重合成最终分数。
func (w Weights) Combine(r core.Reasons) float64 {
	return w.Appeal*r.Appeal +
		w.Trait*r.Trait +
		w.State*r.State +
		w.Social*r.Social +
		w.PopRec*r.PopRec -
		w.Cost*r.Cost
}

// Scorer 把原始候选转换为带打分明细的 Item。无副作用，同输入同输出。
//
// 输入来自 rctx：
//   - rctx.User.Trait / rctx.User.State：用户向量，缺失时相似度项为 0
//   - rctx.Experiment.Params.SocialWeight：社交项基础权重
//   - rctx.Now：流行度新鲜度衰减的时钟
type Scorer struct {
	// Weights 为零值时使用 DefaultWeights
	Weights *Weights

	// Explain 为 true 时把打分明细写入 Labels
	Explain bool
}

func (s *Scorer) weights() Weights {
	if s == nil || s.Weights == nil {
		return DefaultWeights
	}
	return *s.Weights
}

// Score 按输入顺序返回打分结果，不修改 candidates。
func (s *Scorer) Score(rctx *core.RecommendContext, candidates []core.Candidate) []*core.Item {
	out := make([]*core.Item, 0, len(candidates))
	for i := range candidates {
		out = append(out, s.scoreOne(rctx, &candidates[i]))
	}
	return out
}

func (s *Scorer) scoreOne(rctx *core.RecommendContext, c *core.Candidate) *core.Item {
	var traitVec, stateVec []float64
	if rctx != nil && rctx.User != nil {
		traitVec = rctx.User.Trait
		stateVec = rctx.User.State
	}
	params := rctx.GetExperiment().Params

	r := core.Reasons{
		Trait:  vecmath.NormalizedDot(traitVec, c.Embedding),
		State:  vecmath.NormalizedDot(stateVec, c.Embedding),
		Cost:   CostPenalty(c),
		PopRec: PopularityBoost(c.Completes, c.CreatedAt, rctx.GetNow()),
	}
	r.Appeal = r.Trait
	if c.AppealScore != nil {
		r.Appeal = *c.AppealScore
	}
	r.Social = params.SocialWeight * socialSignal(c)

	it := core.NewItem(c.ID)
	it.Candidate = c
	it.Embedding = c.Embedding
	it.Reasons = r
	it.Score = s.weights().Combine(r)
	if bucket := c.BucketID; bucket != "" {
		it.Meta["bucket_id"] = bucket
	}
	if s != nil && s.Explain {
		it.PutLabel("rank_appeal", utils.FloatLabel(r.Appeal, "rank"))
		it.PutLabel("rank_trait", utils.FloatLabel(r.Trait, "rank"))
		it.PutLabel("rank_state", utils.FloatLabel(r.State, "rank"))
		it.PutLabel("rank_social", utils.FloatLabel(r.Social, "rank"))
		it.PutLabel("rank_cost", utils.FloatLabel(r.Cost, "rank"))
		it.PutLabel("rank_poprec", utils.FloatLabel(r.PopRec, "rank"))
	}
	return it
}

func socialSignal(c *core.Candidate) float64 {
	v := friendCompleteWeight*float64(c.FriendCompletes) +
		friendSaveWeight*float64(c.FriendSaves) +
		friendLikeWeight*float64(c.FriendLikes)
	if c.CollabHint {
		v += collabWeight
	}
	return v
}

// UtilityNode 是 Scorer 的 Node 形态：对带 Candidate 的 item 重新打分并按分数降序（稳定）排序。
// 不带 Candidate 的 item 原样保留分数。
type UtilityNode struct {
	Scorer *Scorer
}

func (n *UtilityNode) Name() string        { return "rank.utility" }
func (n *UtilityNode) Kind() pipeline.Kind { return pipeline.KindRank }

func (n *UtilityNode) Process(
	_ context.Context,
	rctx *core.RecommendContext,
	items []*core.Item,
) ([]*core.Item, error) {
	if len(items) == 0 {
		return items, nil
	}
	scorer := n.Scorer
	if scorer == nil {
		scorer = &Scorer{}
	}

	out := make([]*core.Item, 0, len(items))
	for _, it := range items {
		if it == nil {
			continue
		}
		if it.Candidate == nil {
			out = append(out, it)
			continue
		}
		scored := scorer.scoreOne(rctx, it.Candidate)
		for k, v := range it.Labels {
			scored.PutLabel(k, v)
		}
		out = append(out, scored)
	}
	SortByScore(out)
	return out, nil
}

// SortByScore 按分数降序稳定排序，nil 排在最后。
func SortByScore(items []*core.Item) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i] == nil {
			return false
		}
		if items[j] == nil {
			return true
		}
		return items[i].Score > items[j].Score
	})
}
