package breaker

import (
	"math"
	"math/rand/v2"
	"time"
)

// maxBackoffExponent 指数退避的指数上限，2^10 = 1024 倍基础冷却时间
const maxBackoffExponent = 10

// jitterRatio 冷却时间的抖动幅度（±10%）
const jitterRatio = 0.1

// nextBackoff 计算 OPEN 状态的冷却时间。
// 未启用指数退避时恒为 RecoveryTimeout；
// 启用后为 RecoveryTimeout * 2^min(openedCount, 10)，上限 MaxBackoff；
// 启用抖动后在 ±10% 内均匀扰动。
func nextBackoff(cfg *Config, openedCount int64) time.Duration {
	d := cfg.RecoveryTimeout

	if cfg.ExponentialBackoff {
		exp := openedCount
		if exp > maxBackoffExponent {
			exp = maxBackoffExponent
		}
		if exp < 0 {
			exp = 0
		}
		// 左移前判断溢出：溢出可能回绕成 0 或小正数，事后无法识别
		if cfg.RecoveryTimeout > time.Duration(math.MaxInt64)>>exp {
			d = time.Duration(math.MaxInt64)
		} else {
			d = cfg.RecoveryTimeout << exp
		}
		if cfg.MaxBackoff > 0 && d > cfg.MaxBackoff {
			d = cfg.MaxBackoff
		}
	}

	if cfg.Jitter {
		// 放大方向的抖动在极端值上会溢出，溢出时保留原值
		if j := time.Duration(float64(d) * (1 - jitterRatio + 2*jitterRatio*rand.Float64())); j > 0 {
			d = j
		}
	}

	return d
}
