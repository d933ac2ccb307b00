package core

import "time"

// UserProfile 是单次请求可见的用户画像。
//
// 维度          作用
// Trait        长期偏好向量（外部离线产出，只读）
// State        短期/会话偏好向量（每次请求由事件日志现算）
// Buckets      实验桶，例如 {"social_weight_test": "treatment"}
type UserProfile struct {
	UserID string

	Trait []float64
	State []float64

	Buckets map[string]string

	UpdateTime time.Time
}

// NewUserProfile 创建一个新的用户画像。
func NewUserProfile(userID string) *UserProfile {
	return &UserProfile{
		UserID:     userID,
		Buckets:    make(map[string]string),
		UpdateTime: time.Now(),
	}
}

// SetBucket 设置实验桶。
func (p *UserProfile) SetBucket(key, value string) {
	if p.Buckets == nil {
		p.Buckets = make(map[string]string)
	}
	p.Buckets[key] = value
}

// GetBucket 获取实验桶值。
func (p *UserProfile) GetBucket(key string) string {
	if p.Buckets == nil {
		return ""
	}
	return p.Buckets[key]
}

// HasTrait 是否有可用的长期向量。
func (p *UserProfile) HasTrait() bool {
	return p != nil && len(p.Trait) > 0
}

// HasState 是否有可用的短期向量。
func (p *UserProfile) HasState() bool {
	return p != nil && len(p.State) > 0
}
