// Package cache 缓存已计算好的推荐结果。
//
// RecCache 是显式创建、按引用传递的对象，没有包级单例；
// key 由用户、取整后的坐标和实验变体组成：recs:{user}:{lat}:{lon}:{variant}。
package cache

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/rushteam/nearrec/core"
)

// 默认值
const (
	DefaultTTL       = 5 * time.Minute
	DefaultPrecision = 3
)

// ExperimentRef 是响应中的实验信息。
type ExperimentRef struct {
	ID      string `json:"id"`
	Variant string `json:"variant"`
}

// Entry 是缓存的响应负载，不含 cached/remaining 这类每次请求都不同的字段。
type Entry struct {
	Items      []core.ItemView `json:"items"`
	Experiment ExperimentRef   `json:"experiment"`
	CachedAt   time.Time       `json:"cached_at"`
}

// RecCache 是推荐结果缓存。
type RecCache struct {
	store     core.Store
	ttl       time.Duration
	precision int
}

// Option 配置 RecCache。
type Option func(*RecCache)

// WithTTL 设置过期时间。
func WithTTL(ttl time.Duration) Option {
	return func(c *RecCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithPrecision 设置坐标保留的小数位，负数表示不取整。
func WithPrecision(p int) Option {
	return func(c *RecCache) { c.precision = p }
}

func New(s core.Store, opts ...Option) *RecCache {
	c := &RecCache{store: s, ttl: DefaultTTL, precision: DefaultPrecision}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL 返回缓存过期时间。
func (c *RecCache) TTL() time.Duration { return c.ttl }

// Key 返回缓存 key，variant 为空时使用 control。
func (c *RecCache) Key(userID string, lat, lon float64, variant string) string {
	if variant == "" {
		variant = core.ControlVariant
	}
	return core.KeyPrefixRecs + ":" + userID + ":" + c.coord(lat) + ":" + c.coord(lon) + ":" + variant
}

// Get 读取缓存；未命中返回 (nil, nil)。
func (c *RecCache) Get(ctx context.Context, userID string, lat, lon float64, variant string) (*Entry, error) {
	data, err := c.store.Get(ctx, c.Key(userID, lat, lon, variant))
	if core.IsStoreNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, core.WrapDomainError(core.ModuleCache, core.ErrorCodeUnavailable, "cache: get failed", err)
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		// 损坏的条目按未命中处理，下次写入会覆盖
		return nil, nil
	}
	return &e, nil
}

// Put 写入缓存。
func (c *RecCache) Put(ctx context.Context, userID string, lat, lon float64, variant string, e *Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return core.WrapDomainError(core.ModuleCache, core.ErrorCodeInternalError, "cache: encode failed", err)
	}
	ttl := int(math.Ceil(c.ttl.Seconds()))
	if err := c.store.Set(ctx, c.Key(userID, lat, lon, variant), data, ttl); err != nil {
		return core.WrapDomainError(core.ModuleCache, core.ErrorCodeUnavailable, "cache: put failed", err)
	}
	return nil
}

func (c *RecCache) coord(v float64) string {
	if c.precision < 0 {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strconv.FormatFloat(v, 'f', c.precision, 64)
}
