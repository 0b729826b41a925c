package breaker

import (
	"context"
	"log/slog"
)

// Option 组件初始化选项函数
type Option func(*options)

// FallbackFunc 降级函数类型
// 当调用被熔断拒绝、或受保护操作失败时，用降级结果替代错误向上返回
// 参数:
//   - ctx: 上下文
//   - name: 熔断器名字
//   - err: 原始错误（ErrOpenState / ErrTooManyRequests / 操作自身的错误）
//
// 返回:
//   - any: 降级结果，替代原本的返回值
//   - error: 降级逻辑自身的错误，nil 表示降级成功
type FallbackFunc func(ctx context.Context, name string, err error) (any, error)

// options 组件初始化选项配置（内部使用，小写）
type options struct {
	logger   *slog.Logger
	checker  HealthChecker
	fallback FallbackFunc
}

func applyOptions(opts ...Option) *options {
	opt := &options{}
	for _, o := range opts {
		o(opt)
	}
	if opt.logger == nil {
		opt.logger = slog.New(slog.DiscardHandler)
	}
	return opt
}

// WithLogger 设置 Logger，传入 nil 时丢弃日志
// 内部会自动附加 component: "breaker" 字段
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger == nil {
			o.logger = slog.New(slog.DiscardHandler)
		} else {
			o.logger = logger.With(slog.String("component", "breaker"))
		}
	}
}

// WithHealthChecker 设置外部健康检查器
// 配置了 HealthCheckInterval > 0 时熔断器会后台轮询其状态：
// UNHEALTHY 会阻止 OPEN -> HALF_OPEN 的恢复探测，
// DEGRADED/HEALTHY 参与自适应阈值调整
func WithHealthChecker(checker HealthChecker) Option {
	return func(o *options) {
		o.checker = checker
	}
}

// WithFallback 设置降级函数
//
// 使用示例:
//
//	brk, _ := breaker.New(cfg,
//		breaker.WithFallback(func(ctx context.Context, name string, err error) (any, error) {
//			// 返回缓存数据或默认值
//			return cached, nil
//		}),
//	)
func WithFallback(fallback FallbackFunc) Option {
	return func(o *options) {
		o.fallback = fallback
	}
}
