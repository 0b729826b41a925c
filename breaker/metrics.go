package breaker

import "time"

// emaWeight 平均响应时间的指数移动平均权重
const emaWeight = 0.1

// 自适应失败阈值的调整边界
const (
	adaptiveFloor      = 2  // 下限
	adaptiveCeil       = 10 // 响应时间调整的上限
	adaptiveHealthCeil = 8  // 健康状态调整的上限
)

// Metrics 熔断器指标
// 随熔断器创建，Reset 时整体替换。
// 外部只能通过 Status() 拿到副本，字段导出仅为序列化与观测。
type Metrics struct {
	// 计数器
	TotalCalls         int64 `json:"total_calls"`
	SuccessfulCalls    int64 `json:"successful_calls"`
	FailedCalls        int64 `json:"failed_calls"`
	RejectedCalls      int64 `json:"rejected_calls"`
	Timeouts           int64 `json:"timeouts"`
	SlowCalls          int64 `json:"slow_calls"`
	StateChanges       int64 `json:"state_changes"`
	CircuitOpenedCount int64 `json:"circuit_opened_count"`
	CircuitClosedCount int64 `json:"circuit_closed_count"`

	// 瞬时值
	ConsecutiveFailures  int64         `json:"consecutive_failures"`
	ConsecutiveSuccesses int64         `json:"consecutive_successes"`
	CurrentErrorRate     float64       `json:"current_error_rate"`
	AvgResponseTime      time.Duration `json:"avg_response_time"`

	// AdaptiveFailureThreshold 自适应失败阈值
	// 初始等于 FailureThreshold，启用自适应后在 [2,10] 内调整
	AdaptiveFailureThreshold int `json:"adaptive_failure_threshold"`

	LastFailureTime time.Time `json:"last_failure_time"`
	LastSuccessTime time.Time `json:"last_success_time"`

	// FailureTypeCounts 按失败分类的计数（timeout、canceled、错误类型名等）
	FailureTypeCounts map[string]int64 `json:"failure_type_counts"`
}

func newMetrics(failureThreshold int) *Metrics {
	return &Metrics{
		AdaptiveFailureThreshold: failureThreshold,
		FailureTypeCounts:        make(map[string]int64),
	}
}

// observeResponseTime 用指数移动平均更新平均响应时间
func (m *Metrics) observeResponseTime(d time.Duration) {
	if m.AvgResponseTime == 0 {
		m.AvgResponseTime = d
		return
	}
	m.AvgResponseTime = time.Duration((1-emaWeight)*float64(m.AvgResponseTime) + emaWeight*float64(d))
}

// snapshot 返回指标副本，map 深拷贝
func (m *Metrics) snapshot() Metrics {
	cp := *m
	cp.FailureTypeCounts = make(map[string]int64, len(m.FailureTypeCounts))
	for k, v := range m.FailureTypeCounts {
		cp.FailureTypeCounts[k] = v
	}
	return cp
}
