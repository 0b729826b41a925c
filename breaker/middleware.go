package breaker

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ceyewan/fuse/xerrors"
)

// errHTTPServerError 5xx 响应在熔断统计中按失败记录
var errHTTPServerError = xerrors.New("breaker: upstream handler returned 5xx")

// GinMiddleware 创建 Gin 熔断中间件。
// 纯转发层：按 nameFunc 解析熔断器名字，通过管理器获取实例，
// 熔断中返回 503，自身不持有状态。
//
// 与 Execute 不同，处理器在当前 goroutine 内联执行，单次调用
// 截止时间（Config.Timeout）不作用于处理器本身。
//
// 参数:
//   - m: 熔断器管理器
//   - nameFunc: 从请求中提取熔断器名字，nil 时使用请求路径
//   - cfg: 新建熔断器使用的配置模板，nil 时取默认
//
// 使用示例:
//
//	r := gin.New()
//	r.Use(breaker.GinMiddleware(mgr, func(c *gin.Context) string {
//	    return "http:" + c.FullPath()
//	}, nil))
func GinMiddleware(m *Manager, nameFunc func(*gin.Context) string, cfg *Config) gin.HandlerFunc {
	if nameFunc == nil {
		nameFunc = func(c *gin.Context) string {
			return "http:" + c.FullPath()
		}
	}

	return func(c *gin.Context) {
		name := nameFunc(c)
		if name == "" {
			c.Next()
			return
		}

		b, err := m.Create(name, cfg)
		if err != nil {
			// 配置问题不应拖垮业务请求，记录后放行
			m.logger.Warn("failed to create breaker for route",
				slog.String("name", name),
				slog.String("err_msg", err.Error()))
			c.Next()
			return
		}

		cb, ok := b.(*circuitBreaker)
		if !ok {
			c.Next()
			return
		}

		if err := cb.acquire(); err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": "service unavailable: circuit breaker open",
			})
			return
		}

		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		if c.Writer.Status() >= http.StatusInternalServerError || len(c.Errors) > 0 {
			cb.recordFailure(elapsed, errHTTPServerError)
		} else {
			cb.recordSuccess(elapsed)
		}
	}
}
