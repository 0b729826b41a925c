package breaker

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatherValue 在采集结果中查找指定指标与 name 标签的值
func gatherValue(t *testing.T, mfs []*dto.MetricFamily, metric, name string) float64 {
	t.Helper()

	for _, mf := range mfs {
		if mf.GetName() != metric {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == labelName && l.GetValue() == name {
					if m.GetGauge() != nil {
						return m.GetGauge().GetValue()
					}
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	t.Fatalf("metric %s{name=%q} not found", metric, name)
	return 0
}

func TestCollector(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	cfg := testConfig("svc")
	cfg.FailureThreshold = 2
	_, err := m.Create("svc", cfg)
	require.NoError(t, err)

	_, _ = m.Call(ctx, "svc", nil, succeedingOp(nil))
	_, _ = m.Call(ctx, "svc", nil, failingOp(nil))
	_, _ = m.Call(ctx, "svc", nil, failingOp(nil)) // 触发熔断
	_, _ = m.Call(ctx, "svc", nil, succeedingOp(nil))

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(NewCollector(m)))

	mfs, err := reg.Gather()
	require.NoError(t, err)

	assert.Equal(t, 2.0, gatherValue(t, mfs, "fuse_breaker_state", "svc"))
	assert.Equal(t, 4.0, gatherValue(t, mfs, "fuse_breaker_calls_total", "svc"))
	assert.Equal(t, 1.0, gatherValue(t, mfs, "fuse_breaker_success_total", "svc"))
	assert.Equal(t, 2.0, gatherValue(t, mfs, "fuse_breaker_failures_total", "svc"))
	assert.Equal(t, 1.0, gatherValue(t, mfs, "fuse_breaker_rejects_total", "svc"))
	assert.Equal(t, 1.0, gatherValue(t, mfs, "fuse_breaker_opened_total", "svc"))
	assert.Equal(t, 2.0, gatherValue(t, mfs, "fuse_breaker_consecutive_failures", "svc"))
}

func TestCollectorMultipleBreakers(t *testing.T) {
	m := newTestManager(t)

	ba, err := m.Create("a", nil)
	require.NoError(t, err)
	_, err = m.Create("b", nil)
	require.NoError(t, err)
	ba.ForceOpen()

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(NewCollector(m)))

	mfs, err := reg.Gather()
	require.NoError(t, err)

	assert.Equal(t, 2.0, gatherValue(t, mfs, "fuse_breaker_state", "a"))
	assert.Equal(t, 0.0, gatherValue(t, mfs, "fuse_breaker_state", "b"))
}

func TestCollectorEmptyManager(t *testing.T) {
	m := newTestManager(t)

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(NewCollector(m)))

	_, err := reg.Gather()
	assert.NoError(t, err)
}

func TestStateValue(t *testing.T) {
	assert.Equal(t, 0.0, stateValue(StateClosed))
	assert.Equal(t, 1.0, stateValue(StateHalfOpen))
	assert.Equal(t, 2.0, stateValue(StateOpen))
	assert.Equal(t, -1.0, stateValue(State(42)))
}
