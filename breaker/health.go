package breaker

import "context"

// HealthStatus 外部健康检查器上报的健康状态
type HealthStatus int

const (
	// HealthUnknown 尚未观测到任何健康状态（未配置检查器时的默认值）
	HealthUnknown HealthStatus = iota
	// HealthHealthy 依赖健康
	HealthHealthy
	// HealthDegraded 依赖降级（可用但变慢/部分失败）
	HealthDegraded
	// HealthUnhealthy 依赖不可用，OPEN 状态下禁止进入半开探测
	HealthUnhealthy
)

// String 返回健康状态的字符串表示
func (h HealthStatus) String() string {
	switch h {
	case HealthHealthy:
		return "healthy"
	case HealthDegraded:
		return "degraded"
	case HealthUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// HealthChecker 外部健康检查器契约。
// 熔断器持有非拥有引用：只读取状态，不管理检查器的生命周期。
//
// 实现约定：Check 返回 error 时视为本轮检查失败，
// 熔断器记录日志并保留上一次的状态，绝不向调用方传播。
type HealthChecker interface {
	Check(ctx context.Context) (HealthStatus, error)
}
