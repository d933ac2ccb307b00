package dsl

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/rushteam/nearrec/core"
)

var (
	// celEnv 是全局的 CEL 环境，线程安全，可复用
	celEnv     *cel.Env
	celEnvErr  error
	celEnvOnce sync.Once
)

func getCELEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = cel.NewEnv(
			cel.Variable("item", cel.DynType),
			cel.Variable("label", cel.DynType),
			cel.Variable("rctx", cel.DynType),
		)
	})
	return celEnv, celEnvErr
}

// Program 是编译后的 CEL 表达式，可在多个 item 上重复求值，并发安全。
//
// 表达式语法（CEL 标准语法）：
//   - 数值：item.score > 0.7 / item.features.distance_km > 25.0
//   - 元信息：item.bucket_id == "b1" / item.theme == "food"
//   - 标签：label.explore == "true"
//   - 请求：rctx.radius_km < 5.0
//   - 逻辑：item.reasons.cost > 1.0 && item.score < 0.0
type Program struct {
	expr string
	prg  cel.Program
}

// Compile 编译表达式，空表达式返回 nil。
func Compile(expr string) (*Program, error) {
	if expr == "" {
		return nil, nil
	}
	env, err := getCELEnv()
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program error: %w", err)
	}
	return &Program{expr: expr, prg: prg}, nil
}

// Expr 返回原始表达式。
func (p *Program) Expr() string {
	if p == nil {
		return ""
	}
	return p.expr
}

// Evaluate 在 item 上求值，表达式必须返回布尔值。nil Program 恒为 false。
func (p *Program) Evaluate(item *core.Item, rctx *core.RecommendContext) (bool, error) {
	if p == nil || item == nil {
		return false, nil
	}
	out, _, err := p.prg.Eval(buildInput(item, rctx))
	if err != nil {
		return false, fmt.Errorf("eval error: %w", err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression must return boolean, got %T", out.Value())
	}
	return result, nil
}

// Eval 对单个表达式做一次性求值（编译 + 执行）。
func Eval(expr string, item *core.Item, rctx *core.RecommendContext) (bool, error) {
	if expr == "" {
		return true, nil
	}
	p, err := Compile(expr)
	if err != nil {
		return false, err
	}
	return p.Evaluate(item, rctx)
}

func buildInput(it *core.Item, rctx *core.RecommendContext) map[string]any {
	labels := make(map[string]any, len(it.Labels))
	for k, v := range it.Labels {
		labels[k] = v.Value
	}

	features := map[string]any{}
	item := map[string]any{
		"id":    it.ID,
		"score": it.Score,
		"reasons": map[string]any{
			"appeal": it.Reasons.Appeal,
			"trait":  it.Reasons.Trait,
			"state":  it.Reasons.State,
			"social": it.Reasons.Social,
			"cost":   it.Reasons.Cost,
			"poprec": it.Reasons.PopRec,
		},
		"bucket_id": it.BucketID(),
		"theme":     "",
		"features":  features,
		"meta":      it.Meta,
	}
	if c := it.Candidate; c != nil {
		item["theme"] = c.Theme
		features["distance_km"] = c.DistanceKm
		features["completes"] = int64(c.Completes)
		features["friend_completes"] = int64(c.FriendCompletes)
		features["friend_saves"] = int64(c.FriendSaves)
		features["friend_likes"] = int64(c.FriendLikes)
		features["collab_hint"] = c.CollabHint
		features["has_embedding"] = len(c.Embedding) > 0
	}

	r := map[string]any{}
	if rctx != nil {
		r["user_id"] = rctx.UserID
		r["lat"] = rctx.Latitude
		r["lon"] = rctx.Longitude
		r["radius_km"] = rctx.RadiusKm
		r["k"] = int64(rctx.K)
		r["variant"] = rctx.GetExperiment().VariantOrControl()
	}

	return map[string]any{
		"item":  item,
		"label": labels,
		"rctx":  r,
	}
}
