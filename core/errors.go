package core

import (
	"errors"
	"fmt"
	"time"
)

// DomainError 是领域层的统一错误类型。
//
// 设计原则：
//   - 所有领域层错误都使用此类型
//   - 提供错误代码（Code）和消息（Message）
//   - 支持错误检查函数（IsXXX），可穿透 fmt.Errorf("%w") 包装
type DomainError struct {
	Code    string // 错误代码（如 "NOT_FOUND", "RATE_LIMITED"）
	Message string // 错误消息
	Module  string // 模块名称（如 "store", "recall", "ratelimit"）
	Err     error  // 底层错误（可选）
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// IsDomainError 检查错误链中是否有 DomainError
func IsDomainError(err error) bool {
	return GetDomainError(err) != nil
}

// GetDomainError 获取错误链中的 DomainError，如果没有则返回 nil
func GetDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return nil
}

// NewDomainError 创建新的领域错误
func NewDomainError(module, code, message string) *DomainError {
	return &DomainError{
		Module:  module,
		Code:    code,
		Message: message,
	}
}

// WrapDomainError 创建携带底层错误的领域错误
func WrapDomainError(module, code, message string, err error) *DomainError {
	return &DomainError{
		Module:  module,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// 错误代码常量
const (
	ErrorCodeNotFound      = "NOT_FOUND"      // 资源不存在
	ErrorCodeNotSupported  = "NOT_SUPPORTED"  // 操作不支持
	ErrorCodeUnavailable   = "UNAVAILABLE"    // 上游不可用
	ErrorCodeInvalidInput  = "INVALID_INPUT"  // 输入无效
	ErrorCodeInternalError = "INTERNAL_ERROR" // 内部错误
	ErrorCodeRateLimited   = "RATE_LIMITED"   // 触发限流
	ErrorCodeTimeout       = "TIMEOUT"        // 请求超时
)

// 模块名称常量
const (
	ModuleStore      = "store"
	ModuleRecall     = "recall"
	ModuleProfile    = "profile"
	ModuleRank       = "rank"
	ModuleFilter     = "filter"
	ModuleReRank     = "rerank"
	ModuleRateLimit  = "ratelimit"
	ModuleCache      = "cache"
	ModuleExperiment = "experiment"
	ModuleImpression = "impression"
	ModuleFeedback   = "feedback"
	ModuleService    = "service"
)

// 以下按错误码判断，不区分模块。

func IsNotFound(err error) bool     { return hasCode(err, ErrorCodeNotFound) }
func IsNotSupported(err error) bool { return hasCode(err, ErrorCodeNotSupported) }
func IsUnavailable(err error) bool  { return hasCode(err, ErrorCodeUnavailable) }
func IsInvalidInput(err error) bool { return hasCode(err, ErrorCodeInvalidInput) }
func IsTimeout(err error) bool      { return hasCode(err, ErrorCodeTimeout) }

func hasCode(err error, code string) bool {
	de := GetDomainError(err)
	return de != nil && de.Code == code
}

// RateLimitError 表示请求在任何计算之前被限流拒绝。
type RateLimitError struct {
	Remaining int
	ResetAt   time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.ResetAt.UTC().Format(time.RFC3339))
}

// RetryAfter 返回距离窗口重置的时长（至少 1 秒）。
func (e *RateLimitError) RetryAfter(now time.Time) time.Duration {
	d := e.ResetAt.Sub(now)
	if d < time.Second {
		return time.Second
	}
	return d
}

// IsRateLimited 检查错误链中是否有 RateLimitError
func IsRateLimited(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}
