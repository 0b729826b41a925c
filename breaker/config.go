package breaker

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/ceyewan/fuse/xerrors"
)

// Config 熔断器配置
// 构造时校验一次，之后通过公开 API 不可变（内部持有副本）。
// 所有阈值与超时必须严格为正，ErrorRateThreshold 必须落在 [0,1]，
// 违反时构造失败并返回包装了 ErrInvalidConfig 的错误，绝不静默修正。
type Config struct {
	// Name 熔断器名字，作为管理器注册表的键。允许为空字符串。
	Name string `json:"name" yaml:"name" mapstructure:"name"`

	// FailureThreshold 连续失败次数阈值，达到后 CLOSED -> OPEN
	// 默认: 5
	FailureThreshold int `json:"failure_threshold" yaml:"failure_threshold" mapstructure:"failure_threshold"`

	// SuccessThreshold 半开状态下需要的连续成功次数，达到后 HALF_OPEN -> CLOSED
	// 默认: 2
	SuccessThreshold int `json:"success_threshold" yaml:"success_threshold" mapstructure:"success_threshold"`

	// RecoveryTimeout 基础冷却时间，OPEN 状态至少持续此时长后才允许探测
	// 默认: 30s
	RecoveryTimeout time.Duration `json:"recovery_timeout" yaml:"recovery_timeout" mapstructure:"recovery_timeout"`

	// HalfOpenMaxCalls 半开状态下允许并发通过的最大探测请求数
	// 默认: 3
	HalfOpenMaxCalls int `json:"half_open_max_calls" yaml:"half_open_max_calls" mapstructure:"half_open_max_calls"`

	// Timeout 单次调用截止时间，超过后按失败处理（kind = "timeout"）
	// 默认: 10s
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// WindowSize 滑动窗口容量（统计最近 N 次调用）
	// 默认: 100
	WindowSize int `json:"window_size" yaml:"window_size" mapstructure:"window_size"`

	// ErrorRateThreshold 错误率阈值 (0.0-1.0)
	// 窗口内错误率达到此值时触发熔断
	// 默认: 0.5
	ErrorRateThreshold float64 `json:"error_rate_threshold" yaml:"error_rate_threshold" mapstructure:"error_rate_threshold"`

	// MinRequests 最小请求数
	// 窗口内请求数未达到此值前，错误率条件不参与熔断判断
	// 默认: 10
	MinRequests int `json:"min_requests" yaml:"min_requests" mapstructure:"min_requests"`

	// AdaptiveThreshold 是否启用自适应失败阈值
	// 启用后失败阈值随响应时间与健康状态在 [2,10] 内调整
	// 默认: false
	AdaptiveThreshold bool `json:"adaptive_threshold" yaml:"adaptive_threshold" mapstructure:"adaptive_threshold"`

	// SlowCallThreshold 慢调用阈值，响应时间超过此值计入慢调用
	// 默认: 1s
	SlowCallThreshold time.Duration `json:"slow_call_threshold" yaml:"slow_call_threshold" mapstructure:"slow_call_threshold"`

	// HealthCheckInterval 健康轮询周期，0 表示不轮询
	// 默认: 0
	HealthCheckInterval time.Duration `json:"health_check_interval" yaml:"health_check_interval" mapstructure:"health_check_interval"`

	// ExponentialBackoff 是否启用指数退避
	// 启用后冷却时间为 RecoveryTimeout * 2^min(openedCount, 10)，上限 MaxBackoff
	// 默认: true
	ExponentialBackoff bool `json:"exponential_backoff" yaml:"exponential_backoff" mapstructure:"exponential_backoff"`

	// Jitter 是否对冷却时间施加 ±10% 均匀抖动，避免同步重试风暴
	// 默认: true
	Jitter bool `json:"jitter" yaml:"jitter" mapstructure:"jitter"`

	// MaxBackoff 指数退避的冷却时间上限
	// 默认: 5m
	MaxBackoff time.Duration `json:"max_backoff" yaml:"max_backoff" mapstructure:"max_backoff"`
}

// DefaultConfig 返回带默认值的配置
func DefaultConfig(name string) *Config {
	return &Config{
		Name:               name,
		FailureThreshold:   5,
		SuccessThreshold:   2,
		RecoveryTimeout:    30 * time.Second,
		HalfOpenMaxCalls:   3,
		Timeout:            10 * time.Second,
		WindowSize:         100,
		ErrorRateThreshold: 0.5,
		MinRequests:        10,
		SlowCallThreshold:  time.Second,
		ExponentialBackoff: true,
		Jitter:             true,
		MaxBackoff:         5 * time.Minute,
	}
}

// Validate 校验配置
// 返回的错误包装了 ErrInvalidConfig，可用 errors.Is 判断
func (c *Config) Validate() error {
	err := validation.ValidateStruct(c,
		validation.Field(&c.FailureThreshold, validation.Required, validation.Min(1)),
		validation.Field(&c.SuccessThreshold, validation.Required, validation.Min(1)),
		validation.Field(&c.RecoveryTimeout, validation.Required, validation.Min(time.Duration(1))),
		validation.Field(&c.HalfOpenMaxCalls, validation.Required, validation.Min(1)),
		validation.Field(&c.Timeout, validation.Required, validation.Min(time.Duration(1))),
		validation.Field(&c.WindowSize, validation.Required, validation.Min(1)),
		validation.Field(&c.MinRequests, validation.Required, validation.Min(1)),
		validation.Field(&c.ErrorRateThreshold, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&c.SlowCallThreshold, validation.Min(time.Duration(0))),
		validation.Field(&c.HealthCheckInterval, validation.Min(time.Duration(0))),
		validation.Field(&c.MaxBackoff, validation.Min(time.Duration(0))),
	)
	if err != nil {
		return xerrors.Wrap(ErrInvalidConfig, err.Error())
	}
	return nil
}

// clone 返回配置副本，保证构造后外部修改不影响熔断器
func (c *Config) clone() *Config {
	cp := *c
	return &cp
}
