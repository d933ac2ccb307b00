package core

import "time"

// 在线推荐参数的内置默认值，settings 未覆盖时生效。
const (
	DefaultRadiusKm       = 15.0
	DefaultK              = 20
	DefaultMaxK           = 100
	DefaultCandidateLimit = 300
	DefaultRequestTimeout = 3 * time.Second
)

// ServingConfig 提供请求归一化所需的默认值与上限。settings.ServingConfig 是线上实现。
type ServingConfig interface {
	DefaultRadiusKm() float64
	DefaultK() int
	// MaxK 是 k 的上限，超过时截断
	MaxK() int
	// CandidateLimit 是单次召回向候选源请求的条数
	CandidateLimit() int
	DefaultTimeout() time.Duration
}

// DefaultServingConfig 返回包内常量，测试和未配置时使用。
type DefaultServingConfig struct{}

func (DefaultServingConfig) DefaultRadiusKm() float64      { return DefaultRadiusKm }
func (DefaultServingConfig) DefaultK() int                 { return DefaultK }
func (DefaultServingConfig) MaxK() int                     { return DefaultMaxK }
func (DefaultServingConfig) CandidateLimit() int           { return DefaultCandidateLimit }
func (DefaultServingConfig) DefaultTimeout() time.Duration { return DefaultRequestTimeout }
