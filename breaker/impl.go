package breaker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ceyewan/fuse/xerrors"
)

// circuitBreaker 熔断器实现（非导出）
//
// 并发模型：放行判定与结果记录各自在互斥锁内完成，
// 受保护操作的执行本身不持锁，慢调用不会阻塞其他调用方的放行检查。
type circuitBreaker struct {
	cfg      *Config
	logger   *slog.Logger
	checker  HealthChecker // 非拥有引用
	fallback FallbackFunc

	mu              sync.Mutex
	state           State
	metrics         *Metrics
	window          *slidingWindow
	halfOpenCalls   int // 半开状态下在途探测数，锁内增减
	health          HealthStatus
	lastStateChange time.Time
	closed          bool

	// 后台健康轮询的生命周期句柄，Close 时确定性取消
	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

func newCircuitBreaker(cfg *Config, opt *options) (*circuitBreaker, error) {
	cb := &circuitBreaker{
		cfg:             cfg.clone(),
		logger:          opt.logger,
		checker:         opt.checker,
		fallback:        opt.fallback,
		state:           StateClosed,
		metrics:         newMetrics(cfg.FailureThreshold),
		window:          newSlidingWindow(cfg.WindowSize),
		lastStateChange: time.Now(),
	}

	if cb.checker != nil && cb.cfg.HealthCheckInterval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		cb.pollCancel = cancel
		cb.pollDone = make(chan struct{})
		go cb.pollHealth(ctx)
	}

	cb.logger.Info("circuit breaker created",
		slog.String("name", cb.cfg.Name),
		slog.Int("failure_threshold", cb.cfg.FailureThreshold),
		slog.Duration("recovery_timeout", cb.cfg.RecoveryTimeout),
		slog.Float64("error_rate_threshold", cb.cfg.ErrorRateThreshold),
		slog.Bool("adaptive", cb.cfg.AdaptiveThreshold))

	return cb, nil
}

// Execute 执行受熔断保护的操作
func (cb *circuitBreaker) Execute(ctx context.Context, op Operation) (any, error) {
	if op == nil {
		return nil, ErrOperationNil
	}

	if err := cb.acquire(); err != nil {
		// 快速失败：不调用受保护操作
		if cb.fallback != nil {
			return cb.fallback(ctx, cb.cfg.Name, err)
		}
		return nil, err
	}

	result, elapsed, err := cb.run(ctx, op)
	if err != nil {
		cb.recordFailure(elapsed, err)
		if cb.fallback != nil {
			return cb.fallback(ctx, cb.cfg.Name, err)
		}
		return nil, err
	}

	cb.recordSuccess(elapsed)
	return result, nil
}

// acquire 放行判定。拒绝时计入 RejectedCalls 并返回对应错误。
// OPEN 状态下由本次判定顺带完成恢复评估：到期且健康允许时
// 转入 HALF_OPEN，当前调用作为第一个探测请求放行。
func (cb *circuitBreaker) acquire() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.closed {
		return ErrClosed
	}

	cb.metrics.TotalCalls++

	switch cb.state {
	case StateClosed:
		return nil

	case StateOpen:
		if cb.recoveryEligibleLocked(time.Now()) {
			cb.transitionLocked(StateHalfOpen)
			cb.halfOpenCalls = 1 // 本次调用即第一个探测
			return nil
		}
		cb.metrics.RejectedCalls++
		return ErrOpenState

	case StateHalfOpen:
		// 锁内完成增量与比较，保证在途探测数不会超过上限
		if cb.halfOpenCalls >= cb.cfg.HalfOpenMaxCalls {
			cb.metrics.RejectedCalls++
			return ErrTooManyRequests
		}
		cb.halfOpenCalls++
		return nil

	default:
		return fmt.Errorf("breaker: unknown state %d", cb.state)
	}
}

// recoveryEligibleLocked 评估 OPEN -> HALF_OPEN 的恢复条件：
// 冷却时间已过，且最近一次健康状态不是 UNHEALTHY。
func (cb *circuitBreaker) recoveryEligibleLocked(now time.Time) bool {
	since := cb.metrics.LastFailureTime
	if since.IsZero() {
		// ForceOpen 等场景没有失败时间，以状态切换时间为基准
		since = cb.lastStateChange
	}
	if now.Sub(since) < nextBackoff(cb.cfg, cb.metrics.CircuitOpenedCount) {
		return false
	}
	if cb.checker != nil && cb.health == HealthUnhealthy {
		return false
	}
	return true
}

// run 在单次调用截止时间内执行操作。
// 超时后熔断器停止等待并按超时失败处理；底层操作通过派生
// Context 收到取消信号，但熔断器不保证它随之停止。
func (cb *circuitBreaker) run(ctx context.Context, op Operation) (any, time.Duration, error) {
	callCtx, cancel := context.WithTimeout(ctx, cb.cfg.Timeout)
	defer cancel()

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)
	start := time.Now()

	go func() {
		result, err := op(callCtx)
		done <- outcome{result: result, err: err}
	}()

	select {
	case o := <-done:
		return o.result, time.Since(start), o.err
	case <-callCtx.Done():
		elapsed := time.Since(start)
		if xerrors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, elapsed, ErrCallTimeout
		}
		return nil, elapsed, callCtx.Err()
	}
}

// recordSuccess 记录成功结果并评估 HALF_OPEN -> CLOSED
func (cb *circuitBreaker) recordSuccess(elapsed time.Duration) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	cb.window.record(windowEntry{at: now, success: true, duration: elapsed})

	m := cb.metrics
	m.SuccessfulCalls++
	m.ConsecutiveSuccesses++
	m.ConsecutiveFailures = 0
	m.LastSuccessTime = now
	m.observeResponseTime(elapsed)
	if cb.cfg.SlowCallThreshold > 0 && elapsed > cb.cfg.SlowCallThreshold {
		m.SlowCalls++
	}
	m.CurrentErrorRate = cb.window.errorRate()

	if cb.state == StateHalfOpen {
		if cb.halfOpenCalls > 0 {
			cb.halfOpenCalls--
		}
		if m.ConsecutiveSuccesses >= int64(cb.cfg.SuccessThreshold) {
			cb.transitionLocked(StateClosed)
		}
	}
}

// recordFailure 记录失败结果（含超时），运行自适应调整并评估熔断条件
func (cb *circuitBreaker) recordFailure(elapsed time.Duration, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	kind := errorKind(err)
	cb.window.record(windowEntry{at: now, success: false, duration: elapsed, kind: kind})

	m := cb.metrics
	m.FailedCalls++
	m.ConsecutiveFailures++
	m.ConsecutiveSuccesses = 0
	m.LastFailureTime = now
	if kind == failureKindTimeout {
		m.Timeouts++
	}
	m.FailureTypeCounts[kind]++
	m.CurrentErrorRate = cb.window.errorRate()

	if cb.cfg.AdaptiveThreshold {
		cb.adjustAdaptiveLocked()
	}

	switch cb.state {
	case StateHalfOpen:
		// 半开期间任何失败立即重新熔断，不看阈值
		if cb.halfOpenCalls > 0 {
			cb.halfOpenCalls--
		}
		cb.transitionLocked(StateOpen)

	case StateClosed:
		if cb.shouldOpenLocked() {
			cb.transitionLocked(StateOpen)
		}
	}
}

// shouldOpenLocked 评估 CLOSED -> OPEN：
// 连续失败达到（自适应）阈值，或窗口足够满且错误率达标
func (cb *circuitBreaker) shouldOpenLocked() bool {
	m := cb.metrics
	if m.ConsecutiveFailures >= int64(m.AdaptiveFailureThreshold) {
		return true
	}
	return cb.window.length() >= cb.cfg.MinRequests &&
		m.CurrentErrorRate >= cb.cfg.ErrorRateThreshold
}

// adjustAdaptiveLocked 自适应阈值调整，每次记录失败时运行。
// 先按响应时间调整，再按健康状态调整，顺序固定。
func (cb *circuitBreaker) adjustAdaptiveLocked() {
	m := cb.metrics

	if cb.cfg.SlowCallThreshold > 0 && m.AvgResponseTime > cb.cfg.SlowCallThreshold {
		if m.AdaptiveFailureThreshold > adaptiveFloor {
			m.AdaptiveFailureThreshold--
		}
	} else if m.AdaptiveFailureThreshold < adaptiveCeil {
		m.AdaptiveFailureThreshold++
	}

	switch cb.health {
	case HealthDegraded:
		if m.AdaptiveFailureThreshold > adaptiveFloor {
			m.AdaptiveFailureThreshold--
		}
	case HealthHealthy:
		if m.AdaptiveFailureThreshold < adaptiveHealthCeil {
			m.AdaptiveFailureThreshold++
		}
	}
}

// transitionLocked 状态转换，记录日志与转换指标
func (cb *circuitBreaker) transitionLocked(to State) {
	from := cb.state
	if from == to {
		return
	}

	cb.state = to
	cb.lastStateChange = time.Now()
	cb.metrics.StateChanges++

	switch to {
	case StateOpen:
		cb.metrics.CircuitOpenedCount++
		cb.halfOpenCalls = 0
	case StateHalfOpen:
		cb.halfOpenCalls = 0
	case StateClosed:
		cb.metrics.CircuitClosedCount++
		cb.metrics.ConsecutiveFailures = 0
		cb.metrics.ConsecutiveSuccesses = 0
		cb.window.reset()
		cb.metrics.CurrentErrorRate = 0
		cb.halfOpenCalls = 0
	}

	cb.logger.Info("circuit breaker state changed",
		slog.String("name", cb.cfg.Name),
		slog.String("from", from.String()),
		slog.String("to", to.String()))
}

// State 返回当前状态
func (cb *circuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// CanExecute 报告此刻的调用是否会被放行，不改变任何状态
func (cb *circuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.closed {
		return false
	}
	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		return cb.recoveryEligibleLocked(time.Now())
	case StateHalfOpen:
		return cb.halfOpenCalls < cb.cfg.HalfOpenMaxCalls
	default:
		return false
	}
}

// Status 返回状态快照
func (cb *circuitBreaker) Status() Status {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Status{
		Name:            cb.cfg.Name,
		State:           cb.state,
		Metrics:         cb.metrics.snapshot(),
		Config:          *cb.cfg,
		Health:          cb.health,
		WindowSize:      cb.window.length(),
		LastStateChange: cb.lastStateChange,
	}
}

// Reset 强制回到 CLOSED，指标整体替换，窗口清空
func (cb *circuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.metrics = newMetrics(cb.cfg.FailureThreshold)
	cb.window.reset()
	cb.halfOpenCalls = 0
	cb.lastStateChange = time.Now()

	cb.logger.Info("circuit breaker manually reset",
		slog.String("name", cb.cfg.Name))
}

// ForceOpen 强制进入 OPEN
func (cb *circuitBreaker) ForceOpen() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.transitionLocked(StateOpen)

	cb.logger.Warn("circuit breaker forced open",
		slog.String("name", cb.cfg.Name))
}

// Close 停止后台协程，幂等
func (cb *circuitBreaker) Close() error {
	cb.mu.Lock()
	if cb.closed {
		cb.mu.Unlock()
		return nil
	}
	cb.closed = true
	cancel := cb.pollCancel
	done := cb.pollDone
	cb.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	cb.logger.Info("circuit breaker closed",
		slog.String("name", cb.cfg.Name))
	return nil
}

// pollHealth 后台健康轮询。
// 检查器出错或 panic 只记录日志并保留上一次状态，绝不影响调用方。
func (cb *circuitBreaker) pollHealth(ctx context.Context) {
	defer close(cb.pollDone)

	ticker := time.NewTicker(cb.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status, err := cb.checkHealthOnce(ctx)
			if err != nil {
				cb.logger.Warn("health check failed",
					slog.String("name", cb.cfg.Name),
					slog.String("err_msg", err.Error()))
				continue
			}
			cb.mu.Lock()
			prev := cb.health
			cb.health = status
			cb.mu.Unlock()
			if prev != status {
				cb.logger.Info("health status changed",
					slog.String("name", cb.cfg.Name),
					slog.String("from", prev.String()),
					slog.String("to", status.String()))
			}
		}
	}
}

// checkHealthOnce 执行一轮健康检查，吸收检查器的 panic
func (cb *circuitBreaker) checkHealthOnce(ctx context.Context) (status HealthStatus, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("health checker panic: %v", r)
		}
	}()
	return cb.checker.Check(ctx)
}

// failureKindTimeout 超时失败的分类名
const failureKindTimeout = "timeout"

// errorKind 将失败归类：超时、取消、错误码、或错误类型名
func errorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case xerrors.Is(err, ErrCallTimeout), xerrors.Is(err, context.DeadlineExceeded):
		return failureKindTimeout
	case xerrors.Is(err, context.Canceled):
		return "canceled"
	}
	if code := xerrors.GetCode(err); code != "" {
		return code
	}
	return fmt.Sprintf("%T", err)
}
