package breaker

import (
	"context"
	"time"
)

// LegacySettings 旧版熔断器参数。
//
// Deprecated: 仅为兼容历史调用方保留，新代码请使用 Config。
// 字段只是旧名字，逐一翻译到 Config 对应项，不含任何额外逻辑。
type LegacySettings struct {
	ServiceName      string
	MaxFailures      int           // -> FailureThreshold
	RecoverySuccess  int           // -> SuccessThreshold
	RetryTimeout     time.Duration // -> RecoveryTimeout
	CallTimeout      time.Duration // -> Timeout
	ProbeConcurrency int           // -> HalfOpenMaxCalls
}

// LegacyBreaker 旧版 API 适配器，持有规范实现的引用并转发全部调用。
//
// Deprecated: 新代码请使用 Breaker。
type LegacyBreaker struct {
	inner Breaker
}

// NewLegacyBreaker 从旧版参数创建熔断器。
//
// Deprecated: 新代码请使用 New。
func NewLegacyBreaker(s LegacySettings, opts ...Option) (*LegacyBreaker, error) {
	cfg := DefaultConfig(s.ServiceName)
	if s.MaxFailures > 0 {
		cfg.FailureThreshold = s.MaxFailures
	}
	if s.RecoverySuccess > 0 {
		cfg.SuccessThreshold = s.RecoverySuccess
	}
	if s.RetryTimeout > 0 {
		cfg.RecoveryTimeout = s.RetryTimeout
	}
	if s.CallTimeout > 0 {
		cfg.Timeout = s.CallTimeout
	}
	if s.ProbeConcurrency > 0 {
		cfg.HalfOpenMaxCalls = s.ProbeConcurrency
	}

	inner, err := New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &LegacyBreaker{inner: inner}, nil
}

// Do 执行受保护操作（旧名）。
//
// Deprecated: 使用 Breaker.Execute。
func (l *LegacyBreaker) Do(ctx context.Context, op Operation) (any, error) {
	return l.inner.Execute(ctx, op)
}

// IsOpen 报告熔断器是否处于打开状态（旧名）。
//
// Deprecated: 使用 Breaker.State。
func (l *LegacyBreaker) IsOpen() bool {
	return l.inner.State() == StateOpen
}

// Trip 强制打开熔断器（旧名）。
//
// Deprecated: 使用 Breaker.ForceOpen。
func (l *LegacyBreaker) Trip() {
	l.inner.ForceOpen()
}

// Clear 重置熔断器（旧名）。
//
// Deprecated: 使用 Breaker.Reset。
func (l *LegacyBreaker) Clear() {
	l.inner.Reset()
}

// Unwrap 返回底层的规范熔断器实例
func (l *LegacyBreaker) Unwrap() Breaker {
	return l.inner
}
