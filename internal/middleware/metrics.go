package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weibaohui/pleroma/backend/internal/pkg/metrics"
)

// Metrics 记录请求数量与耗时，路径使用路由模板避免标签基数膨胀
func Metrics(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.RecordHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
