package breaker

import (
	"context"

	"google.golang.org/grpc"
)

// KeyFunc 从 gRPC 调用上下文中提取熔断器名字
type KeyFunc func(ctx context.Context, fullMethod string, cc *grpc.ClientConn) string

// ServiceLevelKey 服务级粒度（默认）：以连接目标作为熔断维度
// 返回示例: "etcd:///logic-service"
func ServiceLevelKey() KeyFunc {
	return func(ctx context.Context, fullMethod string, cc *grpc.ClientConn) string {
		return cc.Target()
	}
}

// MethodLevelKey 方法级粒度：按方法独立熔断
// 返回示例: "/pkg.Service/Method"
func MethodLevelKey() KeyFunc {
	return func(ctx context.Context, fullMethod string, cc *grpc.ClientConn) string {
		return fullMethod
	}
}

// CompositeKey 组合多个 KeyFunc，用 "@" 拼接
// 返回示例: "etcd:///logic-service@/pkg.Service/Method"
func CompositeKey(keyFuncs ...KeyFunc) KeyFunc {
	if len(keyFuncs) == 0 {
		return ServiceLevelKey()
	}
	if len(keyFuncs) == 1 {
		return keyFuncs[0]
	}
	return func(ctx context.Context, fullMethod string, cc *grpc.ClientConn) string {
		key := keyFuncs[0](ctx, fullMethod, cc)
		for _, kf := range keyFuncs[1:] {
			key += "@" + kf(ctx, fullMethod, cc)
		}
		return key
	}
}
