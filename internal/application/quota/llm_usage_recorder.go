// Package quota 记录租户的模型用量
package quota

import (
	"context"
	"fmt"
	"strings"

	"content-pipeline-api/internal/domain/service"
	"content-pipeline-api/pkg/logger"
	"content-pipeline-api/pkg/metrics"
)

// LLMUsageRecorder 按工作流汇总 token 用量并输出带租户的用量日志
type LLMUsageRecorder struct{}

var _ service.LLMUsageRecorder = (*LLMUsageRecorder)(nil)

// NewLLMUsageRecorder 创建用量记录器
func NewLLMUsageRecorder() *LLMUsageRecorder {
	return &LLMUsageRecorder{}
}

// Record 实现 service.LLMUsageRecorder
func (r *LLMUsageRecorder) Record(ctx context.Context, in service.LLMUsageInput) error {
	if in.PromptTokens < 0 || in.CompletionTokens < 0 {
		return fmt.Errorf("invalid token usage: prompt=%d completion=%d", in.PromptTokens, in.CompletionTokens)
	}

	workflow := strings.TrimSpace(in.Workflow)
	if workflow == "" {
		workflow = "unknown"
	}
	status := in.Status
	if status == "" {
		status = "success"
	}

	metrics.LLMWorkflowCalls.WithLabelValues(workflow, status).Inc()
	if in.PromptTokens > 0 {
		metrics.LLMWorkflowTokens.WithLabelValues(workflow, "prompt").Add(float64(in.PromptTokens))
	}
	if in.CompletionTokens > 0 {
		metrics.LLMWorkflowTokens.WithLabelValues(workflow, "completion").Add(float64(in.CompletionTokens))
	}

	if tenantID := strings.TrimSpace(in.TenantID); tenantID != "" {
		ctx = logger.WithContext(ctx, logger.TenantIDKey, tenantID)
	}
	logger.Debug(ctx, "llm usage",
		"workflow", workflow,
		"provider", in.Provider,
		"model", in.Model,
		"status", status,
		"prompt_tokens", in.PromptTokens,
		"completion_tokens", in.CompletionTokens,
		"duration_ms", in.DurationMs,
	)
	return nil
}
