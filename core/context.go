package core

import "time"

// RecommendContext 是一次推荐请求在 Pipeline 中的只读上下文。
// 由 service 在召回前构建，User 在画像加载后补上。
type RecommendContext struct {
	UserID   string
	ClientIP string

	Latitude  float64
	Longitude float64
	RadiusKm  float64
	K         int

	// Now 固定为请求开始时刻，打分里的时间衰减都用它
	Now time.Time

	User       *UserProfile
	Experiment *Experiment
}

// Query 返回向候选源发出的查询，limit 为本次召回上限。
func (rctx *RecommendContext) Query(limit int) CandidateQuery {
	return CandidateQuery{
		UserID:    rctx.UserID,
		Latitude:  rctx.Latitude,
		Longitude: rctx.Longitude,
		RadiusKm:  rctx.RadiusKm,
		Limit:     limit,
	}
}

// GetExperiment 在未分组时返回对照组参数，从不返回 nil。
func (rctx *RecommendContext) GetExperiment() *Experiment {
	if rctx == nil || rctx.Experiment == nil {
		return ControlExperiment()
	}
	return rctx.Experiment
}

// GetNow 返回请求时钟，未设置时退回 time.Now。
func (rctx *RecommendContext) GetNow() time.Time {
	if rctx == nil || rctx.Now.IsZero() {
		return time.Now()
	}
	return rctx.Now
}
