package breaker

import (
	"github.com/prometheus/client_golang/prometheus"
)

// 指标名与标签
const (
	metricNamespace = "fuse"
	labelName       = "name"
	labelKind       = "kind"
)

// Collector 将管理器内全部熔断器的状态导出为 Prometheus 指标。
// 采集时只读取 Status 快照，不改变任何熔断器。
//
// 使用示例:
//
//	prometheus.MustRegister(breaker.NewCollector(mgr))
//	http.Handle("/metrics", promhttp.Handler())
type Collector struct {
	manager *Manager

	stateDesc        *prometheus.Desc
	callsDesc        *prometheus.Desc
	successDesc      *prometheus.Desc
	failuresDesc     *prometheus.Desc
	rejectsDesc      *prometheus.Desc
	timeoutsDesc     *prometheus.Desc
	slowDesc         *prometheus.Desc
	stateChangesDesc *prometheus.Desc
	openedDesc       *prometheus.Desc
	errorRateDesc    *prometheus.Desc
	consecFailDesc   *prometheus.Desc
	failureKindDesc  *prometheus.Desc
}

// NewCollector 创建面向指定管理器的采集器
func NewCollector(m *Manager) *Collector {
	return &Collector{
		manager: m,
		stateDesc: prometheus.NewDesc(
			prometheus.BuildFQName(metricNamespace, "breaker", "state"),
			"Current breaker state (0=closed, 1=half_open, 2=open)",
			[]string{labelName}, nil),
		callsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(metricNamespace, "breaker", "calls_total"),
			"Total calls seen by the breaker",
			[]string{labelName}, nil),
		successDesc: prometheus.NewDesc(
			prometheus.BuildFQName(metricNamespace, "breaker", "success_total"),
			"Successful calls",
			[]string{labelName}, nil),
		failuresDesc: prometheus.NewDesc(
			prometheus.BuildFQName(metricNamespace, "breaker", "failures_total"),
			"Failed calls",
			[]string{labelName}, nil),
		rejectsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(metricNamespace, "breaker", "rejects_total"),
			"Calls rejected while open or half-open exhausted",
			[]string{labelName}, nil),
		timeoutsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(metricNamespace, "breaker", "timeouts_total"),
			"Calls that exceeded the per-call deadline",
			[]string{labelName}, nil),
		slowDesc: prometheus.NewDesc(
			prometheus.BuildFQName(metricNamespace, "breaker", "slow_calls_total"),
			"Successful calls slower than the slow call threshold",
			[]string{labelName}, nil),
		stateChangesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(metricNamespace, "breaker", "state_changes_total"),
			"State transitions",
			[]string{labelName}, nil),
		openedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(metricNamespace, "breaker", "opened_total"),
			"Times the circuit opened",
			[]string{labelName}, nil),
		errorRateDesc: prometheus.NewDesc(
			prometheus.BuildFQName(metricNamespace, "breaker", "error_rate"),
			"Current sliding-window error rate",
			[]string{labelName}, nil),
		consecFailDesc: prometheus.NewDesc(
			prometheus.BuildFQName(metricNamespace, "breaker", "consecutive_failures"),
			"Current consecutive failures",
			[]string{labelName}, nil),
		failureKindDesc: prometheus.NewDesc(
			prometheus.BuildFQName(metricNamespace, "breaker", "failures_by_kind_total"),
			"Failed calls grouped by failure kind",
			[]string{labelName, labelKind}, nil),
	}
}

// Describe 实现 prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.stateDesc
	ch <- c.callsDesc
	ch <- c.successDesc
	ch <- c.failuresDesc
	ch <- c.rejectsDesc
	ch <- c.timeoutsDesc
	ch <- c.slowDesc
	ch <- c.stateChangesDesc
	ch <- c.openedDesc
	ch <- c.errorRateDesc
	ch <- c.consecFailDesc
	ch <- c.failureKindDesc
}

// Collect 实现 prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for name, st := range c.manager.AllStatus() {
		m := st.Metrics

		ch <- prometheus.MustNewConstMetric(c.stateDesc, prometheus.GaugeValue, stateValue(st.State), name)
		ch <- prometheus.MustNewConstMetric(c.callsDesc, prometheus.CounterValue, float64(m.TotalCalls), name)
		ch <- prometheus.MustNewConstMetric(c.successDesc, prometheus.CounterValue, float64(m.SuccessfulCalls), name)
		ch <- prometheus.MustNewConstMetric(c.failuresDesc, prometheus.CounterValue, float64(m.FailedCalls), name)
		ch <- prometheus.MustNewConstMetric(c.rejectsDesc, prometheus.CounterValue, float64(m.RejectedCalls), name)
		ch <- prometheus.MustNewConstMetric(c.timeoutsDesc, prometheus.CounterValue, float64(m.Timeouts), name)
		ch <- prometheus.MustNewConstMetric(c.slowDesc, prometheus.CounterValue, float64(m.SlowCalls), name)
		ch <- prometheus.MustNewConstMetric(c.stateChangesDesc, prometheus.CounterValue, float64(m.StateChanges), name)
		ch <- prometheus.MustNewConstMetric(c.openedDesc, prometheus.CounterValue, float64(m.CircuitOpenedCount), name)
		ch <- prometheus.MustNewConstMetric(c.errorRateDesc, prometheus.GaugeValue, m.CurrentErrorRate, name)
		ch <- prometheus.MustNewConstMetric(c.consecFailDesc, prometheus.GaugeValue, float64(m.ConsecutiveFailures), name)

		for kind, count := range m.FailureTypeCounts {
			ch <- prometheus.MustNewConstMetric(c.failureKindDesc, prometheus.CounterValue, float64(count), name, kind)
		}
	}
}

// stateValue 将状态映射为指标值：closed=0, half_open=1, open=2
func stateValue(s State) float64 {
	switch s {
	case StateClosed:
		return 0
	case StateHalfOpen:
		return 1
	case StateOpen:
		return 2
	default:
		return -1
	}
}
