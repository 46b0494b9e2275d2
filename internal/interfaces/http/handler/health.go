// Package handler 提供 HTTP 请求处理器
package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

const readyTimeout = 2 * time.Second

// HealthChecker 依赖健康检查
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type dependency struct {
	name    string
	checker HealthChecker
}

// HealthHandler 进程探活与依赖就绪
type HealthHandler struct {
	version   string
	startedAt time.Time
	deps      []dependency
}

// NewHealthHandler postgres 与 redis 都是就绪的必需依赖
func NewHealthHandler(version string, pg, redis HealthChecker) *HealthHandler {
	deps := []dependency{{name: "postgres", checker: pg}, {name: "redis", checker: redis}}
	sort.Slice(deps, func(i, j int) bool { return deps[i].name < deps[j].name })
	return &HealthHandler{version: version, startedAt: time.Now(), deps: deps}
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds,omitempty"`
}

type dependencyStatus struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latency_ms,omitempty"`
}

type readinessResponse struct {
	Status string                       `json:"status"`
	Checks map[string]*dependencyStatus `json:"checks"`
}

// Health 健康检查接口
// @Summary 健康检查
// @Tags System
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /health [get]
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:        "ok",
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
	})
}

// Ready 并发检查全部依赖，任一失败返回 503
// @Summary 就绪检查
// @Tags System
// @Produce json
// @Success 200 {object} readinessResponse
// @Failure 503 {object} readinessResponse
// @Router /ready [get]
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
	defer cancel()

	results := make([]*dependencyStatus, len(h.deps))
	var g errgroup.Group
	for i, dep := range h.deps {
		g.Go(func() error {
			results[i] = probe(ctx, dep)
			return nil
		})
	}
	_ = g.Wait()

	resp := readinessResponse{Status: "ok", Checks: make(map[string]*dependencyStatus, len(h.deps))}
	for i, dep := range h.deps {
		resp.Checks[dep.name] = results[i]
		if results[i].Status != "ok" {
			resp.Status = "not_ready"
		}
	}

	code := http.StatusOK
	if resp.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, resp)
}

func probe(ctx context.Context, dep dependency) *dependencyStatus {
	if dep.checker == nil {
		return &dependencyStatus{Status: "missing", Error: dep.name + " client not configured"}
	}
	start := time.Now()
	err := dep.checker.HealthCheck(ctx)
	st := &dependencyStatus{Status: "ok", LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		st.Status = "error"
		st.Error = err.Error()
	}
	return st
}

// Live 存活检查接口，不访问任何依赖
// @Summary 存活检查
// @Tags System
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /live [get]
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}
