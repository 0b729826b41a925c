package breaker

import (
	"context"
	"log/slog"

	"google.golang.org/grpc"
)

// InterceptorOption 拦截器选项函数类型
type InterceptorOption func(*interceptorConfig)

// interceptorConfig 拦截器内部配置（非导出）
type interceptorConfig struct {
	keyFunc KeyFunc
	cfg     *Config // 新建熔断器使用的配置，nil 时取默认
}

// WithKeyFunc 设置名字提取函数
func WithKeyFunc(fn KeyFunc) InterceptorOption {
	return func(c *interceptorConfig) {
		c.keyFunc = fn
	}
}

// WithInterceptorConfig 设置拦截器新建熔断器时使用的配置模板
func WithInterceptorConfig(cfg *Config) InterceptorOption {
	return func(c *interceptorConfig) {
		c.cfg = cfg
	}
}

func applyInterceptorOptions(opts ...InterceptorOption) *interceptorConfig {
	cfg := &interceptorConfig{keyFunc: ServiceLevelKey()}
	for _, o := range opts {
		o(cfg)
	}
	return cfg
}

// UnaryClientInterceptor 返回 gRPC 一元调用客户端拦截器。
// 纯转发层：按 KeyFunc 解析熔断器名字，交给管理器执行，自身不持有状态。
//
// 使用示例:
//
//	mgr := breaker.NewManager(breaker.WithLogger(logger))
//	conn, _ := grpc.NewClient(
//		"localhost:9001",
//		grpc.WithUnaryInterceptor(mgr.UnaryClientInterceptor()),
//	)
func (m *Manager) UnaryClientInterceptor(opts ...InterceptorOption) grpc.UnaryClientInterceptor {
	ic := applyInterceptorOptions(opts...)

	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, callOpts ...grpc.CallOption) error {
		name := ic.keyFunc(ctx, method, cc)

		m.logger.Debug("unary call with circuit breaker",
			slog.String("name", name),
			slog.String("method", method))

		b, err := m.Create(name, ic.cfg)
		if err != nil {
			return err
		}

		_, err = b.Execute(ctx, func(ctx context.Context) (any, error) {
			return nil, invoker(ctx, method, req, reply, cc, callOpts...)
		})
		return err
	}
}

// StreamClientInterceptor 返回 gRPC 流式调用客户端拦截器。
// 熔断保护只覆盖流的建立，不覆盖后续的收发。
func (m *Manager) StreamClientInterceptor(opts ...InterceptorOption) grpc.StreamClientInterceptor {
	ic := applyInterceptorOptions(opts...)

	return func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, callOpts ...grpc.CallOption) (grpc.ClientStream, error) {
		name := ic.keyFunc(ctx, method, cc)

		m.logger.Debug("stream call with circuit breaker",
			slog.String("name", name),
			slog.String("method", method))

		b, err := m.Create(name, ic.cfg)
		if err != nil {
			return nil, err
		}

		result, err := b.Execute(ctx, func(ctx context.Context) (any, error) {
			return streamer(ctx, desc, cc, method, callOpts...)
		})
		if err != nil {
			return nil, err
		}
		return result.(grpc.ClientStream), nil
	}
}
