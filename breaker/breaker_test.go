package breaker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================
// 测试辅助
// ============================================================

// testConfig 返回不受恢复/错误率路径干扰的基准配置：
// RecoveryTimeout 足够长，MinRequests 大于窗口容量
func testConfig(name string) *Config {
	return &Config{
		Name:               name,
		FailureThreshold:   3,
		SuccessThreshold:   1,
		RecoveryTimeout:    time.Hour,
		HalfOpenMaxCalls:   2,
		Timeout:            time.Second,
		WindowSize:         10,
		ErrorRateThreshold: 0.9,
		MinRequests:        100,
		SlowCallThreshold:  time.Second,
		MaxBackoff:         time.Hour,
	}
}

func newTestBreaker(t *testing.T, cfg *Config, opts ...Option) *circuitBreaker {
	t.Helper()

	b, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b.(*circuitBreaker)
}

var errBoom = errors.New("boom")

func failingOp(calls *atomic.Int32) Operation {
	return func(ctx context.Context) (any, error) {
		if calls != nil {
			calls.Add(1)
		}
		return nil, errBoom
	}
}

func succeedingOp(calls *atomic.Int32) Operation {
	return func(ctx context.Context) (any, error) {
		if calls != nil {
			calls.Add(1)
		}
		return "ok", nil
	}
}

// ============================================================
// 构造与初始状态
// ============================================================

func TestNewNilConfig(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrConfigNil)
}

func TestFreshBreakerIsClosed(t *testing.T) {
	cb := newTestBreaker(t, testConfig("fresh"))

	assert.Equal(t, StateClosed, cb.State())
	assert.True(t, cb.CanExecute())

	st := cb.Status()
	assert.Equal(t, "fresh", st.Name)
	assert.Zero(t, st.Metrics.TotalCalls)
	assert.Zero(t, st.Metrics.FailedCalls)
	assert.Zero(t, st.Metrics.RejectedCalls)
	assert.Zero(t, st.Metrics.ConsecutiveFailures)
	assert.Zero(t, st.WindowSize)
	assert.Equal(t, 3, st.Metrics.AdaptiveFailureThreshold)
}

func TestConfigImmutableAfterConstruction(t *testing.T) {
	cfg := testConfig("immutable")
	cb := newTestBreaker(t, cfg)

	// 外部改动传入的配置不影响熔断器
	cfg.FailureThreshold = 99
	assert.Equal(t, 3, cb.Status().Config.FailureThreshold)

	// 改动快照里的配置同样不影响熔断器
	st := cb.Status()
	st.Config.FailureThreshold = 42
	assert.Equal(t, 3, cb.Status().Config.FailureThreshold)
}

// ============================================================
// 状态机：CLOSED -> OPEN -> HALF_OPEN -> CLOSED
// ============================================================

func TestConsecutiveFailuresOpenCircuit(t *testing.T) {
	cb := newTestBreaker(t, testConfig("consecutive"))
	ctx := context.Background()

	var calls atomic.Int32
	op := failingOp(&calls)

	// 前 F-1 次失败后仍然闭合
	for i := 0; i < 2; i++ {
		_, err := cb.Execute(ctx, op)
		assert.ErrorIs(t, err, errBoom)
		assert.Equal(t, StateClosed, cb.State())
	}

	// 恰好第 F 次失败触发熔断
	_, err := cb.Execute(ctx, op)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, StateOpen, cb.State())
	assert.EqualValues(t, 3, calls.Load())

	// 第 F+1 次被快速拒绝，操作本身不被调用
	_, err = cb.Execute(ctx, op)
	assert.ErrorIs(t, err, ErrOpenState)
	assert.EqualValues(t, 3, calls.Load())

	st := cb.Status()
	assert.EqualValues(t, 1, st.Metrics.RejectedCalls)
	assert.EqualValues(t, 1, st.Metrics.CircuitOpenedCount)
}

func TestOpenRejectsUntilBackoffElapses(t *testing.T) {
	cfg := testConfig("reject")
	cfg.FailureThreshold = 1
	cfg.RecoveryTimeout = time.Hour
	cb := newTestBreaker(t, cfg)
	ctx := context.Background()

	_, _ = cb.Execute(ctx, failingOp(nil))
	require.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.CanExecute())

	var calls atomic.Int32
	for i := 0; i < 5; i++ {
		_, err := cb.Execute(ctx, succeedingOp(&calls))
		assert.ErrorIs(t, err, ErrOpenState)
	}
	assert.Zero(t, calls.Load())
	assert.EqualValues(t, 5, cb.Status().Metrics.RejectedCalls)
}

func TestRecoveryAfterBackoff(t *testing.T) {
	cfg := testConfig("recovery")
	cfg.FailureThreshold = 1
	cfg.SuccessThreshold = 1
	cfg.RecoveryTimeout = 50 * time.Millisecond
	cfg.ExponentialBackoff = false
	cfg.Jitter = false
	cb := newTestBreaker(t, cfg)
	ctx := context.Background()

	_, _ = cb.Execute(ctx, failingOp(nil))
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(60 * time.Millisecond)
	assert.True(t, cb.CanExecute())

	// 冷却结束后的调用作为探测被放行，成功即闭合
	result, err := cb.Execute(ctx, succeedingOp(nil))
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, StateClosed, cb.State())
	assert.Zero(t, cb.Status().Metrics.ConsecutiveFailures)
	assert.EqualValues(t, 1, cb.Status().Metrics.CircuitClosedCount)
}

func TestHalfOpenFailureReopens(t *testing.T) {
	cfg := testConfig("reopen")
	cfg.FailureThreshold = 1
	cfg.SuccessThreshold = 2
	cfg.RecoveryTimeout = 30 * time.Millisecond
	cfg.ExponentialBackoff = false
	cfg.Jitter = false
	cb := newTestBreaker(t, cfg)
	ctx := context.Background()

	_, _ = cb.Execute(ctx, failingOp(nil))
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(40 * time.Millisecond)

	// 探测成功一次，SuccessThreshold=2 仍处于半开
	_, err := cb.Execute(ctx, succeedingOp(nil))
	require.NoError(t, err)
	assert.Equal(t, StateHalfOpen, cb.State())

	// 半开期间任何失败立即重新熔断
	_, err = cb.Execute(ctx, failingOp(nil))
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, StateOpen, cb.State())
}

func TestHalfOpenSuccessThreshold(t *testing.T) {
	cfg := testConfig("threshold")
	cfg.FailureThreshold = 1
	cfg.SuccessThreshold = 3
	cfg.RecoveryTimeout = 30 * time.Millisecond
	cfg.HalfOpenMaxCalls = 5
	cfg.ExponentialBackoff = false
	cfg.Jitter = false
	cb := newTestBreaker(t, cfg)
	ctx := context.Background()

	_, _ = cb.Execute(ctx, failingOp(nil))
	time.Sleep(40 * time.Millisecond)

	for i := 0; i < 2; i++ {
		_, err := cb.Execute(ctx, succeedingOp(nil))
		require.NoError(t, err)
		assert.Equal(t, StateHalfOpen, cb.State())
	}

	_, err := cb.Execute(ctx, succeedingOp(nil))
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

// ============================================================
// 错误率触发
// ============================================================

func TestErrorRateOpensCircuit(t *testing.T) {
	cfg := testConfig("error-rate")
	cfg.WindowSize = 5
	cfg.MinRequests = 3
	cfg.ErrorRateThreshold = 0.6
	cfg.FailureThreshold = 100 // 连续失败路径不参与
	cb := newTestBreaker(t, cfg)
	ctx := context.Background()

	// 2 成功 + 3 失败 = 错误率 0.6
	_, _ = cb.Execute(ctx, succeedingOp(nil))
	_, _ = cb.Execute(ctx, succeedingOp(nil))
	_, _ = cb.Execute(ctx, failingOp(nil))
	_, _ = cb.Execute(ctx, failingOp(nil))
	_, _ = cb.Execute(ctx, failingOp(nil))

	st := cb.Status()
	assert.InDelta(t, 0.6, st.Metrics.CurrentErrorRate, 1e-9)
	assert.Equal(t, StateOpen, st.State)
	assert.Less(t, st.Metrics.ConsecutiveFailures, int64(100))
}

func TestErrorRateRequiresMinRequests(t *testing.T) {
	cfg := testConfig("min-requests")
	cfg.WindowSize = 10
	cfg.MinRequests = 5
	cfg.ErrorRateThreshold = 0.5
	cfg.FailureThreshold = 100
	cb := newTestBreaker(t, cfg)
	ctx := context.Background()

	// 窗口不足 MinRequests，即使错误率 100% 也不熔断
	_, _ = cb.Execute(ctx, failingOp(nil))
	_, _ = cb.Execute(ctx, failingOp(nil))

	assert.Equal(t, StateClosed, cb.State())
}

// ============================================================
// 超时
// ============================================================

func TestCallTimeout(t *testing.T) {
	cfg := testConfig("timeout")
	cfg.Timeout = 30 * time.Millisecond
	cb := newTestBreaker(t, cfg)
	ctx := context.Background()

	_, err := cb.Execute(ctx, func(ctx context.Context) (any, error) {
		select {
		case <-time.After(500 * time.Millisecond):
			return "late", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	require.ErrorIs(t, err, ErrCallTimeout)

	st := cb.Status()
	assert.EqualValues(t, 1, st.Metrics.Timeouts)
	assert.EqualValues(t, 1, st.Metrics.FailedCalls)
	assert.EqualValues(t, 1, st.Metrics.FailureTypeCounts[failureKindTimeout])
}

func TestCallerCancellation(t *testing.T) {
	cb := newTestBreaker(t, testConfig("cancel"))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := cb.Execute(ctx, func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.EqualValues(t, 1, cb.Status().Metrics.FailureTypeCounts["canceled"])
}

// ============================================================
// 半开并发上限
// ============================================================

func TestHalfOpenConcurrencyCap(t *testing.T) {
	cfg := testConfig("cap")
	cfg.FailureThreshold = 1
	cfg.SuccessThreshold = 10
	cfg.HalfOpenMaxCalls = 2
	cfg.RecoveryTimeout = 20 * time.Millisecond
	cfg.ExponentialBackoff = false
	cfg.Jitter = false
	cb := newTestBreaker(t, cfg)
	ctx := context.Background()

	_, _ = cb.Execute(ctx, failingOp(nil))
	require.Equal(t, StateOpen, cb.State())
	time.Sleep(30 * time.Millisecond)

	release := make(chan struct{})
	started := make(chan struct{}, 2)
	blockingOp := func(ctx context.Context) (any, error) {
		started <- struct{}{}
		<-release
		return "ok", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cb.Execute(ctx, blockingOp)
			assert.NoError(t, err)
		}()
	}

	// 等两个探测都在途
	<-started
	<-started
	require.Equal(t, StateHalfOpen, cb.State())
	assert.False(t, cb.CanExecute())

	// 第三个并发探测被拒绝，且可按 ErrOpenState 归类
	_, err := cb.Execute(ctx, succeedingOp(nil))
	assert.ErrorIs(t, err, ErrTooManyRequests)
	assert.ErrorIs(t, err, ErrOpenState)

	close(release)
	wg.Wait()
}

// ============================================================
// 健康门控
// ============================================================

type stubChecker struct {
	mu     sync.Mutex
	status HealthStatus
	err    error
	panics bool
	calls  atomic.Int32
}

func (s *stubChecker) set(status HealthStatus, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	s.err = err
}

func (s *stubChecker) Check(ctx context.Context) (HealthStatus, error) {
	s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panics {
		panic("checker exploded")
	}
	return s.status, s.err
}

func TestUnhealthyBlocksRecovery(t *testing.T) {
	cfg := testConfig("health-gate")
	cfg.FailureThreshold = 1
	cfg.RecoveryTimeout = 10 * time.Millisecond
	cfg.ExponentialBackoff = false
	cfg.Jitter = false
	checker := &stubChecker{}
	cb := newTestBreaker(t, cfg, WithHealthChecker(checker))
	ctx := context.Background()

	_, _ = cb.Execute(ctx, failingOp(nil))
	require.Equal(t, StateOpen, cb.State())
	time.Sleep(20 * time.Millisecond)

	// 冷却已过但健康状态为 UNHEALTHY，禁止探测
	cb.mu.Lock()
	cb.health = HealthUnhealthy
	cb.mu.Unlock()

	assert.False(t, cb.CanExecute())
	_, err := cb.Execute(ctx, succeedingOp(nil))
	assert.ErrorIs(t, err, ErrOpenState)

	// 恢复健康后放行
	cb.mu.Lock()
	cb.health = HealthHealthy
	cb.mu.Unlock()

	_, err = cb.Execute(ctx, succeedingOp(nil))
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestHealthPolling(t *testing.T) {
	cfg := testConfig("health-poll")
	cfg.HealthCheckInterval = 10 * time.Millisecond
	checker := &stubChecker{status: HealthDegraded}
	cb := newTestBreaker(t, cfg, WithHealthChecker(checker))

	require.Eventually(t, func() bool {
		return cb.Status().Health == HealthDegraded
	}, time.Second, 5*time.Millisecond)

	// 检查器报错时保留上一次状态
	checker.set(HealthUnhealthy, errors.New("probe failed"))
	before := checker.calls.Load()
	require.Eventually(t, func() bool {
		return checker.calls.Load() > before
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, HealthDegraded, cb.Status().Health)
}

func TestBrokenHealthCheckerDoesNotCrash(t *testing.T) {
	cfg := testConfig("health-panic")
	cfg.HealthCheckInterval = 10 * time.Millisecond
	checker := &stubChecker{panics: true}
	cb := newTestBreaker(t, cfg, WithHealthChecker(checker))

	require.Eventually(t, func() bool {
		return checker.calls.Load() >= 2
	}, time.Second, 5*time.Millisecond)

	// 熔断器照常工作
	_, err := cb.Execute(context.Background(), succeedingOp(nil))
	assert.NoError(t, err)
	assert.Equal(t, HealthUnknown, cb.Status().Health)
}

// ============================================================
// 自适应阈值
// ============================================================

func TestAdaptiveThresholdAdjustment(t *testing.T) {
	cfg := testConfig("adaptive")
	cfg.AdaptiveThreshold = true
	cfg.FailureThreshold = 5
	cb := newTestBreaker(t, cfg)

	require.Equal(t, 5, cb.Status().Metrics.AdaptiveFailureThreshold)

	t.Run("FastResponsesRaiseThreshold", func(t *testing.T) {
		cb.recordFailure(time.Millisecond, errBoom)
		assert.Equal(t, 6, cb.Status().Metrics.AdaptiveFailureThreshold)
	})

	t.Run("SlowResponsesLowerThreshold", func(t *testing.T) {
		cb.mu.Lock()
		cb.metrics.AvgResponseTime = 5 * time.Second
		cb.mu.Unlock()

		before := cb.Status().Metrics.AdaptiveFailureThreshold
		cb.recordFailure(time.Millisecond, errBoom)
		assert.Equal(t, before-1, cb.Status().Metrics.AdaptiveFailureThreshold)
	})

	t.Run("FloorIsTwo", func(t *testing.T) {
		cb.mu.Lock()
		cb.metrics.AvgResponseTime = 5 * time.Second
		cb.health = HealthDegraded
		cb.mu.Unlock()

		for i := 0; i < 20; i++ {
			cb.recordFailure(time.Millisecond, errBoom)
		}
		assert.Equal(t, adaptiveFloor, cb.Status().Metrics.AdaptiveFailureThreshold)
	})

	t.Run("HealthyCeilingIsEight", func(t *testing.T) {
		cb.mu.Lock()
		cb.metrics.AvgResponseTime = time.Millisecond
		cb.health = HealthHealthy
		cb.mu.Unlock()

		for i := 0; i < 20; i++ {
			cb.recordFailure(time.Millisecond, errBoom)
		}
		// 响应时间调整上限 10，健康调整上限 8，交替生效后稳定在 10
		assert.Equal(t, adaptiveCeil, cb.Status().Metrics.AdaptiveFailureThreshold)
	})
}

func TestAdaptiveDisabledKeepsThreshold(t *testing.T) {
	cfg := testConfig("static")
	cfg.FailureThreshold = 5
	cfg.AdaptiveThreshold = false
	cb := newTestBreaker(t, cfg)

	for i := 0; i < 4; i++ {
		cb.recordFailure(time.Millisecond, errBoom)
	}
	assert.Equal(t, 5, cb.Status().Metrics.AdaptiveFailureThreshold)
}

// ============================================================
// 降级
// ============================================================

func TestFallbackOnRejection(t *testing.T) {
	cfg := testConfig("fallback-reject")
	cfg.FailureThreshold = 1

	var fallbackErr error
	fallback := func(ctx context.Context, name string, err error) (any, error) {
		fallbackErr = err
		return "cached", nil
	}
	cb := newTestBreaker(t, cfg, WithFallback(fallback))
	ctx := context.Background()

	_, _ = cb.Execute(ctx, failingOp(nil))
	require.Equal(t, StateOpen, cb.State())

	var calls atomic.Int32
	result, err := cb.Execute(ctx, succeedingOp(&calls))
	require.NoError(t, err)
	assert.Equal(t, "cached", result)
	assert.ErrorIs(t, fallbackErr, ErrOpenState)
	assert.Zero(t, calls.Load(), "rejected call must not invoke the operation")
}

func TestFallbackOnOperationFailure(t *testing.T) {
	cfg := testConfig("fallback-failure")
	fallback := func(ctx context.Context, name string, err error) (any, error) {
		return "default", nil
	}
	cb := newTestBreaker(t, cfg, WithFallback(fallback))

	result, err := cb.Execute(context.Background(), failingOp(nil))
	require.NoError(t, err)
	assert.Equal(t, "default", result)

	// 降级不影响失败记录
	assert.EqualValues(t, 1, cb.Status().Metrics.FailedCalls)
}

// ============================================================
// 管理操作
// ============================================================

func TestResetReturnsToClosed(t *testing.T) {
	cfg := testConfig("reset")
	cfg.FailureThreshold = 1
	cb := newTestBreaker(t, cfg)
	ctx := context.Background()

	_, _ = cb.Execute(ctx, failingOp(nil))
	require.Equal(t, StateOpen, cb.State())

	cb.Reset()

	st := cb.Status()
	assert.Equal(t, StateClosed, st.State)
	assert.Zero(t, st.Metrics.TotalCalls)
	assert.Zero(t, st.Metrics.FailedCalls)
	assert.Zero(t, st.Metrics.ConsecutiveFailures)
	assert.Zero(t, st.WindowSize)
	assert.True(t, cb.CanExecute())
}

func TestForceOpen(t *testing.T) {
	cb := newTestBreaker(t, testConfig("force"))

	cb.ForceOpen()
	assert.Equal(t, StateOpen, cb.State())

	_, err := cb.Execute(context.Background(), succeedingOp(nil))
	assert.ErrorIs(t, err, ErrOpenState)
}

func TestCloseRejectsCalls(t *testing.T) {
	cb := newTestBreaker(t, testConfig("close"))

	require.NoError(t, cb.Close())
	require.NoError(t, cb.Close()) // 幂等

	_, err := cb.Execute(context.Background(), succeedingOp(nil))
	assert.ErrorIs(t, err, ErrClosed)
	assert.False(t, cb.CanExecute())
}

// ============================================================
// 端到端场景（完整生命周期）
// ============================================================

func TestFullLifecycleScenario(t *testing.T) {
	cfg := testConfig("lifecycle")
	cfg.FailureThreshold = 3
	cfg.SuccessThreshold = 1
	cfg.RecoveryTimeout = 100 * time.Millisecond
	cfg.ExponentialBackoff = false
	cfg.Jitter = false
	cb := newTestBreaker(t, cfg)
	ctx := context.Background()

	// 3 次失败 => OPEN
	for i := 0; i < 3; i++ {
		_, err := cb.Execute(ctx, failingOp(nil))
		assert.ErrorIs(t, err, errBoom)
	}
	require.Equal(t, StateOpen, cb.State())

	// 立即的第 4 次调用被拒绝
	_, err := cb.Execute(ctx, succeedingOp(nil))
	assert.ErrorIs(t, err, ErrOpenState)

	// 冷却结束后成功探测，最终闭合
	time.Sleep(110 * time.Millisecond)
	result, err := cb.Execute(ctx, succeedingOp(nil))
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, StateClosed, cb.State())
}

// ============================================================
// 指标细节
// ============================================================

func TestSlowCallCounting(t *testing.T) {
	cfg := testConfig("slow")
	cfg.SlowCallThreshold = time.Nanosecond
	cb := newTestBreaker(t, cfg)

	_, err := cb.Execute(context.Background(), func(ctx context.Context) (any, error) {
		time.Sleep(5 * time.Millisecond)
		return "ok", nil
	})
	require.NoError(t, err)

	st := cb.Status()
	assert.EqualValues(t, 1, st.Metrics.SlowCalls)
	assert.Greater(t, st.Metrics.AvgResponseTime, time.Duration(0))
}

func TestResponseTimeEMA(t *testing.T) {
	m := newMetrics(3)

	m.observeResponseTime(100 * time.Millisecond)
	assert.Equal(t, 100*time.Millisecond, m.AvgResponseTime)

	m.observeResponseTime(200 * time.Millisecond)
	// 0.9*100ms + 0.1*200ms = 110ms
	assert.InDelta(t, float64(110*time.Millisecond), float64(m.AvgResponseTime), float64(time.Millisecond))
}

func TestFailureTypeCounts(t *testing.T) {
	cb := newTestBreaker(t, testConfig("kinds"))
	ctx := context.Background()

	_, _ = cb.Execute(ctx, failingOp(nil))
	_, _ = cb.Execute(ctx, failingOp(nil))

	st := cb.Status()
	assert.EqualValues(t, 2, st.Metrics.FailureTypeCounts["*errors.errorString"])
}
