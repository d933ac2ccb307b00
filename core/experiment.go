package core

// 实验参数默认值
const (
	DefaultSocialWeight = 0.15
	DefaultMMRLambda    = 0.7
	DefaultExploreSlots = 2

	// MaxExploreSlots 限制单次请求的探索位数量
	MaxExploreSlots = 10
)

// ControlVariant 是未分桶用户的默认变体。
const ControlVariant = "control"

// ExperimentParams 是链路可调参数的强类型配置，所有字段都有显式默认值。
type ExperimentParams struct {
	SocialWeight float64 `json:"social_weight"`
	MMRLambda    float64 `json:"mmr_lambda"`
	ExploreSlots int     `json:"explore_slots"`
}

// ExperimentOverrides 是实验下发的覆盖项；nil 表示未覆盖，沿用默认值。
type ExperimentOverrides struct {
	SocialWeight *float64 `json:"social_weight,omitempty"`
	MMRLambda    *float64 `json:"mmr_lambda,omitempty"`
	ExploreSlots *int     `json:"explore_slots,omitempty"`
}

// DefaultExperimentParams 返回默认参数。
func DefaultExperimentParams() ExperimentParams {
	return ExperimentParams{
		SocialWeight: DefaultSocialWeight,
		MMRLambda:    DefaultMMRLambda,
		ExploreSlots: DefaultExploreSlots,
	}
}

// Merge 把覆盖项合并到 p 上并做范围裁剪，返回新值。
func (p ExperimentParams) Merge(o *ExperimentOverrides) ExperimentParams {
	out := p
	if o != nil {
		if o.SocialWeight != nil {
			out.SocialWeight = *o.SocialWeight
		}
		if o.MMRLambda != nil {
			out.MMRLambda = *o.MMRLambda
		}
		if o.ExploreSlots != nil {
			out.ExploreSlots = *o.ExploreSlots
		}
	}
	if out.SocialWeight < 0 {
		out.SocialWeight = 0
	}
	if out.MMRLambda < 0 {
		out.MMRLambda = 0
	}
	if out.MMRLambda > 1 {
		out.MMRLambda = 1
	}
	if out.ExploreSlots < 0 {
		out.ExploreSlots = 0
	}
	if out.ExploreSlots > MaxExploreSlots {
		out.ExploreSlots = MaxExploreSlots
	}
	return out
}

// Experiment 是用户在某个实验中的分桶结果。
type Experiment struct {
	ID      string           `json:"id,omitempty"`
	Variant string           `json:"variant,omitempty"`
	Params  ExperimentParams `json:"-"`
}

// VariantOrControl 用于缓存 key 等需要非空变体的场景。
func (e *Experiment) VariantOrControl() string {
	if e == nil || e.Variant == "" {
		return ControlVariant
	}
	return e.Variant
}

// ControlExperiment 返回使用默认参数的对照组。
func ControlExperiment() *Experiment {
	return &Experiment{Params: DefaultExperimentParams()}
}
