// Package router 提供 HTTP 路由配置
package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"content-pipeline-api/internal/config"
	"content-pipeline-api/internal/interfaces/http/handler"
	"content-pipeline-api/internal/interfaces/http/middleware"
)

// Dependencies 路由所需的处理器与中间件依赖
type Dependencies struct {
	Health  *handler.HealthHandler
	Runs    *handler.RunHandler
	Tenants *handler.TenantHandler
	Webhook *handler.WebhookHandler

	TenantResolver middleware.TenantResolver
	Limiter        middleware.RequestLimiter
}

// Router HTTP 路由器
type Router struct {
	engine *gin.Engine
	cfg    *config.Config
	deps   Dependencies
}

// New 创建新的路由器
func New(cfg *config.Config, deps Dependencies) *Router {
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := &Router{
		engine: gin.New(),
		cfg:    cfg,
		deps:   deps,
	}

	r.setupMiddleware()
	r.setupRoutes()

	return r
}

// Engine 返回 Gin Engine
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

func (r *Router) setupMiddleware() {
	r.engine.Use(middleware.Recovery())
	r.engine.Use(middleware.RequestID())

	r.engine.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: r.cfg.Security.CORS.AllowedOrigins,
		AllowedMethods: r.cfg.Security.CORS.AllowedMethods,
		AllowedHeaders: r.cfg.Security.CORS.AllowedHeaders,
	}))

	probes := r.probePaths()
	if r.cfg.Observability.Tracing.Enabled {
		r.engine.Use(middleware.Trace(r.cfg.App.Name, probes...))
		r.engine.Use(middleware.TraceContext())
	}

	if r.cfg.Observability.Metrics.Enabled {
		r.engine.Use(middleware.Metrics(probes...))
	}
}

// probePaths 探活与指标端点，不建 Span 也不计入请求指标
func (r *Router) probePaths() []string {
	return []string{"/health", "/ready", "/live", r.cfg.Observability.Metrics.Path}
}

func (r *Router) setupRoutes() {
	// 系统端点
	if h := r.deps.Health; h != nil {
		r.engine.GET("/health", h.Health)
		r.engine.GET("/ready", h.Ready)
		r.engine.GET("/live", h.Live)
	}

	if r.cfg.Observability.Metrics.Enabled && r.cfg.Observability.Metrics.Path != "" {
		r.engine.GET(r.cfg.Observability.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	// 下游确认回调以签名鉴权，不经过租户中间件
	if r.deps.Webhook != nil {
		r.engine.POST("/webhook/confirm", r.deps.Webhook.Confirm)
	}

	v1 := r.engine.Group("/v1")
	v1.Use(middleware.Tenant(r.deps.TenantResolver))
	v1.Use(middleware.RateLimit(r.cfg.Security.RateLimit.Enabled, r.deps.Limiter))
	RegisterV1Routes(v1, r.deps.Runs, r.deps.Tenants)
}
