package config

import (
	"fmt"

	"github.com/rushteam/nearrec/core"
	"github.com/rushteam/nearrec/filter"
	"github.com/rushteam/nearrec/pipeline"
	"github.com/rushteam/nearrec/pkg/conv"
	"github.com/rushteam/nearrec/rank"
	"github.com/rushteam/nearrec/rerank"
)

// Deps 是 Node 构建时需要绑定的运行时依赖，字段可为空。
type Deps struct {
	Exposure core.ExposureStore
	Rules    core.DiversityRuleSource
	Hidden   filter.HiddenStore
	Seen     filter.SeenSource
	Scorer   *rank.Scorer
}

// NewFactory 返回绑定了 deps 的 NodeFactory，包含所有内置 Node 类型；
// 注册表中的自定义类型也会被带上（内置类型优先）。
func NewFactory(deps Deps) *pipeline.NodeFactory {
	factory := DefaultFactory()
	for typeName, builder := range Builders(deps) {
		factory.Register(typeName, builder)
	}
	return factory
}

// Builders 返回所有内置 Node 的构建函数。
func Builders(deps Deps) map[string]NodeBuilder {
	return map[string]NodeBuilder{
		"rank.utility":       buildUtilityNode(deps),
		"filter.diversity":   buildDiversityNode(deps),
		"filter.exposure":    buildExposureNode(deps),
		"filter.user_hidden": buildUserHiddenNode(deps),
		"filter.seen":        buildSeenNode(deps),
		"filter.expr":        buildExpressionNode,
		"filter.min_score":   buildMinScoreNode,
		"rerank.mmr":         buildMMRNode,
		"rerank.topn":        buildTopNNode,
	}
}

func buildUtilityNode(deps Deps) NodeBuilder {
	return func(config map[string]any) (pipeline.Node, error) {
		scorer := deps.Scorer
		if scorer == nil {
			scorer = &rank.Scorer{}
		}
		if explain := conv.ConfigGet[bool](config, "explain", scorer.Explain); explain != scorer.Explain {
			copied := *scorer
			copied.Explain = explain
			scorer = &copied
		}
		return &rank.UtilityNode{Scorer: scorer}, nil
	}
}

func buildDiversityNode(deps Deps) NodeBuilder {
	return func(config map[string]any) (pipeline.Node, error) {
		defaults := filter.DefaultDiversityRules()
		rules := core.DiversityRules{
			MaxPerBucket:       conv.ConfigGetInt(config, "max_per_bucket", defaults.MaxPerBucket),
			DuplicateThreshold: conv.ConfigGetFloat64(config, "duplicate_threshold", defaults.DuplicateThreshold),
			Exclude:            conv.ConfigGet[string](config, "exclude", ""),
		}
		if rules.DuplicateThreshold > 1 {
			return nil, fmt.Errorf("filter.diversity: duplicate_threshold must be <= 1, got %v", rules.DuplicateThreshold)
		}
		return &filter.Diversity{Rules: deps.Rules, Defaults: rules}, nil
	}
}

func buildExposureNode(deps Deps) NodeBuilder {
	return func(config map[string]any) (pipeline.Node, error) {
		n := filter.NewExposureDampener(deps.Exposure)
		n.MaxExposures = conv.ConfigGetInt(config, "max_exposures", n.MaxExposures)
		n.Penalty = conv.ConfigGetFloat64(config, "penalty", n.Penalty)
		if n.MaxExposures <= 0 {
			return nil, fmt.Errorf("filter.exposure: max_exposures must be > 0")
		}
		if n.Penalty < 0 {
			return nil, fmt.Errorf("filter.exposure: penalty must be >= 0")
		}
		return n, nil
	}
}

func buildUserHiddenNode(deps Deps) NodeBuilder {
	return func(map[string]any) (pipeline.Node, error) {
		return &filter.UserHiddenNode{Store: deps.Hidden}, nil
	}
}

func buildSeenNode(deps Deps) NodeBuilder {
	return func(config map[string]any) (pipeline.Node, error) {
		minKeep := conv.ConfigGetInt(config, "min_keep", 1)
		if minKeep < 0 {
			return nil, fmt.Errorf("filter.seen: min_keep must be >= 0")
		}
		return &filter.SeenFilter{Store: deps.Seen, MinKeep: minKeep}, nil
	}
}

func buildExpressionNode(config map[string]any) (pipeline.Node, error) {
	expr := conv.ConfigGet[string](config, "expr", "")
	if expr == "" {
		return nil, fmt.Errorf("filter.expr: expr is required")
	}
	f, err := filter.NewExpressionFilter(expr)
	if err != nil {
		return nil, fmt.Errorf("filter.expr: %w", err)
	}
	return &filter.FilterNode{Filters: []filter.Filter{f}}, nil
}

func buildMinScoreNode(config map[string]any) (pipeline.Node, error) {
	floor := conv.ConfigGetFloat64(config, "min", 0)
	return &filter.FilterNode{Filters: []filter.Filter{filter.FuncFilter{
		Label: "min_score",
		Fn:    func(_ *core.RecommendContext, it *core.Item) bool { return it.Score < floor },
	}}}, nil
}

func buildMMRNode(config map[string]any) (pipeline.Node, error) {
	n := &rerank.MMR{PoolSize: conv.ConfigGetInt(config, "pool_size", rerank.DefaultPoolSize)}
	if _, ok := config["lambda"]; ok {
		lambda := conv.ConfigGetFloat64(config, "lambda", core.DefaultMMRLambda)
		if lambda < 0 || lambda > 1 {
			return nil, fmt.Errorf("rerank.mmr: lambda must be in [0, 1], got %v", lambda)
		}
		n.Lambda = &lambda
	}
	return n, nil
}

func buildTopNNode(config map[string]any) (pipeline.Node, error) {
	n := conv.ConfigGetInt(config, "n", 0)
	if n <= 0 {
		return nil, fmt.Errorf("rerank.topn: n must be > 0")
	}
	return &rerank.TopNNode{N: n}, nil
}
