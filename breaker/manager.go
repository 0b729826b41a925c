package breaker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ceyewan/fuse/xerrors"
)

// Manager 熔断器管理器，按名字注册与复用熔断器实例。
// 显式实例，不提供进程级全局单例，测试可以各自构造隔离的注册表。
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]Breaker
	defaults []Option // 创建熔断器时统一附加的选项（Logger 等）
	logger   *slog.Logger
}

// HealthSummary 管理器级别的健康汇总
type HealthSummary struct {
	Total         int    `json:"total"`
	Healthy       int    `json:"healthy"`
	Unhealthy     int    `json:"unhealthy"`
	OverallHealth string `json:"overall_health"` // healthy | degraded | unhealthy
}

// NewManager 创建熔断器管理器
// opts 会作为默认选项附加到每个通过此管理器创建的熔断器上
func NewManager(opts ...Option) *Manager {
	opt := applyOptions(opts...)
	return &Manager{
		breakers: make(map[string]Breaker),
		defaults: opts,
		logger:   opt.logger,
	}
}

// Create 获取或创建指定名字的熔断器（幂等）。
// 名字已注册时直接返回既有实例，新传入的配置被忽略；
// cfg 为 nil 时使用 DefaultConfig(name)。
func (m *Manager) Create(name string, cfg *Config, opts ...Option) (Breaker, error) {
	m.mu.RLock()
	b, ok := m.breakers[name]
	m.mu.RUnlock()
	if ok {
		return b, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// 双重检查：并发创建时只保留第一个
	if b, ok := m.breakers[name]; ok {
		return b, nil
	}

	if cfg == nil {
		cfg = DefaultConfig(name)
	} else {
		cfg = cfg.clone()
		cfg.Name = name
	}

	b, err := New(cfg, append(append([]Option{}, m.defaults...), opts...)...)
	if err != nil {
		return nil, xerrors.Wrapf(err, "creating breaker %q", name)
	}

	m.breakers[name] = b
	m.logger.Info("breaker registered", slog.String("name", name))
	return b, nil
}

// Get 返回指定名字的熔断器，不存在时 ok 为 false
func (m *Manager) Get(name string) (Breaker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.breakers[name]
	return b, ok
}

// Call 便捷入口：按名字解析（必要时创建）熔断器并执行操作。
// cfg 仅在熔断器尚未注册时生效，nil 时取默认配置。
func (m *Manager) Call(ctx context.Context, name string, cfg *Config, op Operation) (any, error) {
	b, err := m.Create(name, cfg)
	if err != nil {
		return nil, err
	}
	return b.Execute(ctx, op)
}

// AllStatus 返回全部熔断器的状态快照，不改变任何熔断器
func (m *Manager) AllStatus() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make(map[string]Status, len(m.breakers))
	for name, b := range m.breakers {
		statuses[name] = b.Status()
	}
	return statuses
}

// HealthSummary 聚合全部熔断器的健康情况。
// CLOSED 视为健康，其余状态视为不健康；
// 全部健康为 healthy，部分不健康为 degraded，全部不健康为 unhealthy。
func (m *Manager) HealthSummary() HealthSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	summary := HealthSummary{Total: len(m.breakers)}
	for _, b := range m.breakers {
		if b.State() == StateClosed {
			summary.Healthy++
		} else {
			summary.Unhealthy++
		}
	}

	switch {
	case summary.Unhealthy == 0:
		summary.OverallHealth = "healthy"
	case summary.Healthy > 0:
		summary.OverallHealth = "degraded"
	default:
		summary.OverallHealth = "unhealthy"
	}
	return summary
}

// ResetAll 重置全部熔断器（尽力而为）
func (m *Manager) ResetAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, b := range m.breakers {
		b.Reset()
	}
}

// CloseAll 关闭全部熔断器，逐个执行并聚合错误，单个失败不中断其余
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	breakers := m.breakers
	m.breakers = make(map[string]Breaker)
	m.mu.Unlock()

	var errs []error
	for name, b := range breakers {
		if err := b.Close(); err != nil {
			errs = append(errs, xerrors.Wrapf(err, "closing breaker %q", name))
		}
	}
	return xerrors.Combine(errs...)
}
