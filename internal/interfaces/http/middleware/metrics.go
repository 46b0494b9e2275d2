package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"content-pipeline-api/pkg/metrics"
)

// Metrics Prometheus 指标采集中间件，skipPaths 中的探活路径不计入
func Metrics(skipPaths ...string) gin.HandlerFunc {
	skip := pathSet(skipPaths)
	return func(c *gin.Context) {
		if _, ok := skip[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		start := time.Now()
		method := c.Request.Method
		if c.Request.ContentLength > 0 {
			metrics.HTTPRequestSize.WithLabelValues(method, routeOf(c)).Observe(float64(c.Request.ContentLength))
		}

		c.Next()

		path := routeOf(c)
		status := c.Writer.Status()
		metrics.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
		if size := c.Writer.Size(); size > 0 {
			metrics.HTTPResponseSize.WithLabelValues(method, path).Observe(float64(size))
		}
		if tenant := TenantFromGin(c); tenant != nil {
			metrics.TenantRequests.WithLabelValues(string(tenant.EffectiveTier()), statusClass(status)).Inc()
		}
	}
}

// routeOf 使用路由模板作为标签，避免运行 ID 撑爆基数
func routeOf(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return "unmatched"
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

func pathSet(paths []string) map[string]struct{} {
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		if p != "" {
			set[p] = struct{}{}
		}
	}
	return set
}
