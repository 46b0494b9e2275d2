package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// TraceIDHeader 响应中回显的 trace ID 头
const TraceIDHeader = "X-Trace-ID"

// Trace OpenTelemetry 追踪中间件，skipPaths 中的探活请求不建 Span
func Trace(serviceName string, skipPaths ...string) gin.HandlerFunc {
	skip := pathSet(skipPaths)
	return otelgin.Middleware(serviceName,
		otelgin.WithFilter(func(r *http.Request) bool {
			_, skipped := skip[r.URL.Path]
			return !skipped
		}),
	)
}

// TraceContext 回显 trace ID，并在请求结束后把租户和运行标识补到 Span 上
func TraceContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		span := trace.SpanFromContext(c.Request.Context())
		if !span.SpanContext().IsValid() {
			c.Next()
			return
		}
		c.Header(TraceIDHeader, span.SpanContext().TraceID().String())

		c.Next()

		if tenant := TenantFromGin(c); tenant != nil {
			span.SetAttributes(
				attribute.String("tenant.id", tenant.ID),
				attribute.String("tenant.tier", string(tenant.EffectiveTier())),
			)
		}
		if rid := c.Param("rid"); rid != "" {
			span.SetAttributes(attribute.String("run.id", rid))
		}
	}
}
