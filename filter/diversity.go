package filter

import (
	"context"
	"sort"

	"github.com/rushteam/nearrec/core"
	"github.com/rushteam/nearrec/pipeline"
	"github.com/rushteam/nearrec/pkg/dsl"
	"github.com/rushteam/nearrec/pkg/vecmath"
)

const (
	DefaultMaxPerBucket       = 3
	DefaultDuplicateThreshold = 0.98
)

// DefaultDiversityRules 每个 bucket 最多 3 条，余弦相似度 >= 0.98 视为近似重复。
func DefaultDiversityRules() core.DiversityRules {
	return core.DiversityRules{
		MaxPerBucket:       DefaultMaxPerBucket,
		DuplicateThreshold: DefaultDuplicateThreshold,
	}
}

// Diversity 在 MMR 之前剔除冗余候选。
//
// 按分数从高到低考察每个候选：
//   - 命中 Exclude 表达式的候选被排除
//   - 所在 bucket 已达上限、或与已保留候选近似重复的候选被暂缓
//
// 保留数不足目标 K 时，先用暂缓的候选（按分数）回填，再用被排除的候选回填，
// 因此输入足够时输出不少于 K；多样性不足时返回能拿到的全部，不报错。
type Diversity struct {
	// Rules 为 nil 时使用 Defaults
	Rules core.DiversityRuleSource

	Defaults core.DiversityRules
}

func (n *Diversity) Name() string {
	return "filter.diversity"
}

func (n *Diversity) Kind() pipeline.Kind {
	return pipeline.KindFilter
}

func (n *Diversity) Process(
	ctx context.Context,
	rctx *core.RecommendContext,
	items []*core.Item,
) ([]*core.Item, error) {
	if len(items) == 0 {
		return items, nil
	}

	rules := n.Defaults
	if n.Rules != nil && rctx != nil && rctx.UserID != "" {
		r, err := n.Rules.GetDiversityRules(ctx, rctx.UserID)
		if err != nil {
			return nil, core.WrapDomainError(core.ModuleFilter, core.ErrorCodeUnavailable, "fetch diversity rules", err)
		}
		rules = r
	}

	target := 0
	if rctx != nil {
		target = rctx.K
	}
	return ApplyDiversity(rctx, items, rules, target)
}

// ApplyDiversity 是 Diversity 的纯函数形式，不修改输入。
func ApplyDiversity(rctx *core.RecommendContext, items []*core.Item, rules core.DiversityRules, target int) ([]*core.Item, error) {
	prog, err := dsl.Compile(rules.Exclude)
	if err != nil {
		return nil, core.WrapDomainError(core.ModuleFilter, core.ErrorCodeInvalidInput, "invalid diversity exclude expression", err)
	}

	sorted := make([]*core.Item, 0, len(items))
	for _, it := range items {
		if it != nil {
			sorted = append(sorted, it)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	kept := make([]*core.Item, 0, len(sorted))
	var held, excluded []*core.Item
	perBucket := make(map[string]int)

	for _, it := range sorted {
		drop, err := prog.Evaluate(it, rctx)
		if err != nil {
			return nil, core.WrapDomainError(core.ModuleFilter, core.ErrorCodeInternalError, "evaluate diversity exclude expression", err)
		}
		if drop {
			excluded = append(excluded, it)
			continue
		}

		bucket := it.BucketID()
		if rules.MaxPerBucket > 0 && bucket != "" && perBucket[bucket] >= rules.MaxPerBucket {
			held = append(held, it)
			continue
		}
		if rules.DuplicateThreshold > 0 && nearDuplicate(it, kept, rules.DuplicateThreshold) {
			held = append(held, it)
			continue
		}

		kept = append(kept, it)
		if bucket != "" {
			perBucket[bucket]++
		}
	}

	if len(kept) >= target {
		return kept, nil
	}
	for _, pool := range [][]*core.Item{held, excluded} {
		for _, it := range pool {
			if len(kept) >= target {
				break
			}
			kept = append(kept, it)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Score > kept[j].Score })
	return kept, nil
}

func nearDuplicate(it *core.Item, kept []*core.Item, threshold float64) bool {
	if len(it.Embedding) == 0 {
		return false
	}
	for _, k := range kept {
		if len(k.Embedding) == 0 {
			continue
		}
		if vecmath.Cosine(it.Embedding, k.Embedding) >= threshold {
			return true
		}
	}
	return false
}
