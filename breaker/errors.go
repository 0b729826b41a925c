package breaker

import "github.com/ceyewan/fuse/xerrors"

// 错误定义
var (
	// ErrConfigNil 配置为空
	ErrConfigNil = xerrors.New("breaker: config is nil")

	// ErrInvalidConfig 配置校验失败（构造期错误，不会被恢复）
	ErrInvalidConfig = xerrors.New("breaker: invalid config")

	// ErrOperationNil 操作为空
	ErrOperationNil = xerrors.New("breaker: operation is nil")

	// ErrOpenState 熔断器处于打开状态，调用被拒绝
	ErrOpenState = xerrors.New("breaker: circuit breaker is open")

	// ErrTooManyRequests 半开状态下探测请求数已达上限。
	// 包装了 ErrOpenState，errors.Is(err, ErrOpenState) 对两者都成立。
	ErrTooManyRequests = xerrors.Wrap(ErrOpenState, "breaker: too many requests in half-open state")

	// ErrCallTimeout 操作超过单次调用截止时间。
	// 熔断器只停止等待，不保证底层操作随之停止。
	ErrCallTimeout = xerrors.New("breaker: call timed out")

	// ErrClosed 熔断器已被 Close，不再接受调用
	ErrClosed = xerrors.New("breaker: breaker is closed")
)
