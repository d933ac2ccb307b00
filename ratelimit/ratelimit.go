// Package ratelimit 实现按 (用户, IP) 的固定窗口限流计数。
//
// 计数 key 为 ratelimit:{user}:{ip}:{windowStart}，windowStart 是窗口起点的 unix 秒，
// 窗口结束后 key 自然过期。Check 与 Increment 分开调用：请求先检查，成功返回后才计数，
// 所以被拒绝或失败的请求不占额度。并发下可能略微超出上限。
package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/rushteam/nearrec/core"
)

// 默认 10 分钟 30 次
const (
	DefaultLimit  = 30
	DefaultWindow = 10 * time.Minute
)

// Decision 是一次限流检查的结果。
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Err 在拒绝时返回 *core.RateLimitError，放行时返回 nil。
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &core.RateLimitError{Remaining: d.Remaining, ResetAt: d.ResetAt}
}

// Limiter 是固定窗口限流器，计数存放在 KeyValueStore 中以便多实例共享。
type Limiter struct {
	Store  core.KeyValueStore
	Limit  int
	Window time.Duration

	now func() time.Time
}

// New 创建限流器；limit/window 非正时使用默认值。
func New(s core.KeyValueStore, limit int, window time.Duration) *Limiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{Store: s, Limit: limit, Window: window, now: time.Now}
}

// WithClock 替换时钟（测试用）。
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Check 读取当前窗口计数，不修改计数。
func (l *Limiter) Check(ctx context.Context, userID, ip string) (Decision, error) {
	key, resetAt := l.window(userID, ip)
	count, err := l.current(ctx, key)
	if err != nil {
		return Decision{}, core.WrapDomainError(core.ModuleRateLimit, core.ErrorCodeUnavailable, "ratelimit: read counter failed", err)
	}
	remaining := l.Limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: count < int64(l.Limit), Remaining: remaining, ResetAt: resetAt}, nil
}

// Increment 原子自增当前窗口计数，key 首次创建时设置 TTL 为窗口长度。
func (l *Limiter) Increment(ctx context.Context, userID, ip string) (int64, error) {
	key, _ := l.window(userID, ip)
	n, err := l.Store.Incr(ctx, key, 1, int(l.Window/time.Second))
	if err != nil {
		return 0, core.WrapDomainError(core.ModuleRateLimit, core.ErrorCodeUnavailable, "ratelimit: increment failed", err)
	}
	return n, nil
}

func (l *Limiter) current(ctx context.Context, key string) (int64, error) {
	raw, err := l.Store.Get(ctx, key)
	if core.IsStoreNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(string(raw), 10, 64)
}

// window 返回当前窗口的计数 key 与重置时间。
func (l *Limiter) window(userID, ip string) (string, time.Time) {
	now := l.now()
	start := now.Truncate(l.Window)
	if ip == "" {
		ip = "unknown"
	}
	key := core.KeyPrefixRateLimit + ":" + userID + ":" + ip + ":" + strconv.FormatInt(start.Unix(), 10)
	return key, start.Add(l.Window)
}
