// Package breaker 提供了统一熔断器组件，为每个下游依赖（数据库、缓存、
// 认证服务、LLM API 等）提供独立的故障隔离与自动恢复能力。
//
// breaker 是 fuse 的核心组件，它提供了：
// - CLOSED/OPEN/HALF_OPEN 三态状态机，进程生命周期内循环运行
// - 滑动窗口错误率统计（环形缓冲区，固定容量）
// - 自适应失败阈值（基于响应时间与健康状态动态调整）
// - 指数退避 + 抖动的恢复调度
// - 健康检查门控的半开探测
// - 按名字注册的熔断器管理器（Manager），支持状态聚合
// - gRPC Interceptor 与 Gin 中间件无侵入集成
//
// ## 基本使用
//
//	brk, _ := breaker.New(breaker.DefaultConfig("user-db"),
//		breaker.WithLogger(logger))
//
//	result, err := brk.Execute(ctx, func(ctx context.Context) (any, error) {
//		return db.QueryContext(ctx, "...")
//	})
//	if errors.Is(err, breaker.ErrOpenState) {
//		// 熔断中，快速失败
//	}
//
// ## 管理器
//
//	mgr := breaker.NewManager(breaker.WithLogger(logger))
//	result, err := mgr.Call(ctx, "auth-service", nil, op)
//	summary := mgr.HealthSummary()
package breaker

import (
	"context"
	"time"
)

// ========================================
// 接口定义 (Interface Definitions)
// ========================================

// Operation 受熔断保护的操作。
// 传入的 Context 带有按配置 Timeout 派生的截止时间，
// 操作应当尊重该 Context 以便超时后尽快释放资源。
type Operation func(ctx context.Context) (any, error)

// Breaker 熔断器核心接口
type Breaker interface {
	// Execute 执行受熔断保护的操作
	// 被拒绝时返回 ErrOpenState / ErrTooManyRequests，操作不会被调用；
	// 操作失败时在记录后原样返回原始错误（附加了降级函数时例外）
	Execute(ctx context.Context, op Operation) (any, error)

	// State 返回当前状态
	State() State

	// CanExecute 报告此刻的调用是否会被放行（不改变任何状态）
	CanExecute() bool

	// Status 返回状态快照（名字、状态、指标、配置、健康状态等）
	Status() Status

	// Reset 强制回到 CLOSED，指标整体替换为零值，窗口清空
	Reset()

	// ForceOpen 强制进入 OPEN，用于运维场景的手动摘除
	ForceOpen()

	// Close 停止后台协程（健康轮询），幂等
	Close() error
}

// State 熔断器状态
type State int

const (
	// StateClosed 闭合状态（正常）
	StateClosed State = iota
	// StateHalfOpen 半开状态（探测恢复）
	StateHalfOpen
	// StateOpen 打开状态（熔断中）
	StateOpen
)

// String 返回状态的字符串表示
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half_open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Status 熔断器状态快照
type Status struct {
	Name            string       `json:"name"`
	State           State        `json:"state"`
	Metrics         Metrics      `json:"metrics"`
	Config          Config       `json:"config"`
	Health          HealthStatus `json:"health"`
	WindowSize      int          `json:"window_size"`
	LastStateChange time.Time    `json:"last_state_change"`
}

// ========================================
// 工厂函数 (Factory Functions)
// ========================================

// New 创建熔断器实例
// 这是标准的工厂函数，支持在不依赖管理器的情况下独立实例化
//
// 参数:
//   - cfg: 熔断器配置，构造时校验一次，之后不可变
//   - opts: 可选参数 (Logger, HealthChecker, Fallback)
//
// 使用示例:
//
//	brk, err := breaker.New(&breaker.Config{
//		Name:               "user-db",
//		FailureThreshold:   5,
//		SuccessThreshold:   2,
//		RecoveryTimeout:    30 * time.Second,
//		HalfOpenMaxCalls:   3,
//		Timeout:            10 * time.Second,
//		WindowSize:         100,
//		ErrorRateThreshold: 0.5,
//		MinRequests:        10,
//	}, breaker.WithLogger(logger))
func New(cfg *Config, opts ...Option) (Breaker, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opt := applyOptions(opts...)

	return newCircuitBreaker(cfg, opt)
}
