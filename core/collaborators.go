package core

import (
	"context"
	"time"
)

// 本文件定义链路依赖的外部协作方接口。
// 它们都是外部系统的边界：候选库、向量、事件日志、实验、曝光、日志落地等。

// CandidateQuery 是一次召回请求。
type CandidateQuery struct {
	UserID    string  `json:"user_id"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	RadiusKm  float64 `json:"radius_km"`
	Limit     int     `json:"limit"`
}

// CandidateSource 提供查询点附近的候选（fetch-candidates）。
type CandidateSource interface {
	Name() string
	FetchCandidates(ctx context.Context, q CandidateQuery) ([]Candidate, error)
}

// TraitSource 提供用户长期偏好向量（fetch-trait-vector）。
// 用户没有向量时返回 (nil, nil)。
type TraitSource interface {
	TraitVector(ctx context.Context, userID string) ([]float64, error)
}

// StateSource 根据近期事件计算用户短期向量（compute-state-vector）。
// 没有可用事件时返回 (nil, nil)。
type StateSource interface {
	StateVector(ctx context.Context, userID string, dim int) ([]float64, error)
}

// Event 是事件日志中的一条用户行为。
type Event struct {
	UserID    string    `json:"user_id"`
	ItemID    string    `json:"item_id"`
	Type      string    `json:"event_type"`
	CreatedAt time.Time `json:"created_at"`

	// Embedding 由事件日志实现按 ItemID 补全，可能为空
	Embedding []float64 `json:"-"`
}

// EventLog 是只读的事件日志。
type EventLog interface {
	// RecentEvents 返回最近的行为事件（按时间倒序），types 为空表示不限类型
	RecentEvents(ctx context.Context, userID string, types []string, limit int) ([]Event, error)

	// RecentCompletions 返回最近的完成记录（按时间倒序）
	RecentCompletions(ctx context.Context, userID string, limit int) ([]Event, error)
}

// ExperimentService 返回用户在实验中的分桶与参数（get-experiment-params）。
// 用户未分桶时返回对照组而不是错误。
type ExperimentService interface {
	GetExperiment(ctx context.Context, userID, experimentName string) (*Experiment, error)
}

// ExposureStore 返回用户近期对各物品的曝光次数。
type ExposureStore interface {
	GetExposureCounts(ctx context.Context, userID string, itemIDs []string) (map[string]int, error)
}

// DiversityRules 是用户级多样性规则。
type DiversityRules struct {
	// MaxPerBucket 每个 bucket 最多保留的条数，<=0 表示不限制
	MaxPerBucket int `json:"max_per_bucket"`

	// DuplicateThreshold 两条候选向量余弦相似度 >= 该值视为近似重复，<=0 表示关闭
	DuplicateThreshold float64 `json:"duplicate_threshold"`

	// Exclude 是 CEL 表达式，返回 true 的候选被剔除，例如 `item.features.distance_km > 25.0`
	Exclude string `json:"exclude,omitempty"`
}

// DiversityRuleSource 提供用户级多样性规则。
type DiversityRuleSource interface {
	GetDiversityRules(ctx context.Context, userID string) (DiversityRules, error)
}

// Impression 是一次展示记录。
type Impression struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	ItemIDs      []string  `json:"item_ids"`
	Latitude     float64   `json:"lat"`
	Longitude    float64   `json:"lon"`
	ExperimentID string    `json:"experiment_id,omitempty"`
	Variant      string    `json:"variant,omitempty"`
	ShownAt      time.Time `json:"shown_at"`
}

// ImpressionSink 落地展示记录（log-impressions）。
type ImpressionSink interface {
	LogImpressions(ctx context.Context, imp Impression) error
}

// PerformanceSample 是一次调用的耗时记录。
type PerformanceSample struct {
	UserID       string
	FunctionName string
	Duration     time.Duration
	Success      bool
	ErrorMessage string
}

// PerformanceSink 落地性能指标（log-performance-metric）。
type PerformanceSink interface {
	LogPerformance(ctx context.Context, s PerformanceSample) error
}

// 事件类型
const (
	EventImpression = "impression"
	EventView       = "view"
	EventLike       = "like"
	EventSave       = "save"
	EventStart      = "start"
	EventComplete   = "complete"
	EventHide       = "hide"
	EventSkip       = "skip"
)

// EventWriter 追加用户行为事件（反馈写入侧）。
type EventWriter interface {
	AppendEvent(ctx context.Context, ev Event) error
}
