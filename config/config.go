// Package config 从配置文件加载熔断器策略。
//
// 配置文件为 YAML，包含一个默认策略和若干按名字覆盖的策略：
//
//	default:
//	  failure_threshold: 5
//	  recovery_timeout: 30s
//	  error_rate_threshold: 0.5
//	breakers:
//	  user-db:
//	    failure_threshold: 3
//	    timeout: 2s
//	  auth-service:
//	    adaptive_threshold: true
//
// 覆盖规则：命名策略中非零的数值/时长字段覆盖默认策略，
// 布尔字段始终取命名策略的值（无法区分 false 与未设置）。
package config

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/ceyewan/fuse/breaker"
	"github.com/ceyewan/fuse/xerrors"
)

// 错误定义
var (
	// ErrReadFile 配置文件读取失败
	ErrReadFile = xerrors.New("config: failed to read config file")

	// ErrUnmarshal 配置文件解析失败
	ErrUnmarshal = xerrors.New("config: failed to unmarshal config")
)

// File 配置文件内容
type File struct {
	// Default 默认策略（应用到所有未单独配置的熔断器）
	Default breaker.Config `mapstructure:"default" json:"default" yaml:"default"`

	// Breakers 按名字配置不同的策略（可选）
	Breakers map[string]breaker.Config `mapstructure:"breakers" json:"breakers" yaml:"breakers"`
}

// Load 读取并解析配置文件，随后校验每个合并后的策略。
// 支持用环境变量覆盖（FUSE_DEFAULT_FAILURE_THRESHOLD 等）。
func Load(path string) (*File, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("fuse")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, xerrors.Wrapf(ErrReadFile, "%s: %v", path, err)
	}

	var f File
	if err := v.Unmarshal(&f); err != nil {
		return nil, xerrors.Wrapf(ErrUnmarshal, "%s: %v", path, err)
	}

	if isZero(&f.Default) {
		f.Default = *breaker.DefaultConfig("")
	}
	if f.Breakers == nil {
		f.Breakers = make(map[string]breaker.Config)
	}

	// 提前校验，让配置错误在启动期暴露而不是第一次调用时
	for name := range f.Breakers {
		cfg := f.For(name)
		if err := cfg.Validate(); err != nil {
			return nil, xerrors.Wrapf(err, "breaker %q", name)
		}
	}
	defaultCfg := f.Default
	defaultCfg.Name = ""
	if err := defaultCfg.Validate(); err != nil {
		return nil, xerrors.Wrap(err, "default policy")
	}

	return &f, nil
}

// For 返回指定名字合并后的策略副本
func (f *File) For(name string) *breaker.Config {
	merged := f.Default
	merged.Name = name

	named, ok := f.Breakers[name]
	if !ok {
		return &merged
	}

	if named.FailureThreshold > 0 {
		merged.FailureThreshold = named.FailureThreshold
	}
	if named.SuccessThreshold > 0 {
		merged.SuccessThreshold = named.SuccessThreshold
	}
	if named.RecoveryTimeout > 0 {
		merged.RecoveryTimeout = named.RecoveryTimeout
	}
	if named.HalfOpenMaxCalls > 0 {
		merged.HalfOpenMaxCalls = named.HalfOpenMaxCalls
	}
	if named.Timeout > 0 {
		merged.Timeout = named.Timeout
	}
	if named.WindowSize > 0 {
		merged.WindowSize = named.WindowSize
	}
	if named.ErrorRateThreshold > 0 {
		merged.ErrorRateThreshold = named.ErrorRateThreshold
	}
	if named.MinRequests > 0 {
		merged.MinRequests = named.MinRequests
	}
	if named.SlowCallThreshold > 0 {
		merged.SlowCallThreshold = named.SlowCallThreshold
	}
	if named.HealthCheckInterval > 0 {
		merged.HealthCheckInterval = named.HealthCheckInterval
	}
	if named.MaxBackoff > 0 {
		merged.MaxBackoff = named.MaxBackoff
	}
	// 布尔字段无法区分未设置与 false，始终取命名策略的值
	merged.AdaptiveThreshold = named.AdaptiveThreshold
	merged.ExponentialBackoff = named.ExponentialBackoff
	merged.Jitter = named.Jitter

	return &merged
}

// Apply 将配置文件中全部命名策略注册到管理器（幂等）
func (f *File) Apply(m *breaker.Manager) error {
	var errs []error
	for name := range f.Breakers {
		if _, err := m.Create(name, f.For(name)); err != nil {
			errs = append(errs, err)
		}
	}
	return xerrors.Combine(errs...)
}

// isZero 报告默认策略是否完全未设置
func isZero(c *breaker.Config) bool {
	return c.FailureThreshold == 0 && c.SuccessThreshold == 0 &&
		c.RecoveryTimeout == 0 && c.Timeout == 0 && c.WindowSize == 0
}
