package service

import (
	"context"
	"strings"

	"content-pipeline-api/internal/domain/entity"
)

type llmCtxKey string

const (
	llmCtxKeyWorkflow   llmCtxKey = "llm_workflow"
	llmCtxKeyModelClass llmCtxKey = "llm_model_class"
	llmCtxKeyTenant     llmCtxKey = "llm_tenant"
)

// WithWorkflow 标记调用所属的工作流（discovery/strategy/assembly 等），用于指标
func WithWorkflow(ctx context.Context, workflow string) context.Context {
	w := strings.TrimSpace(workflow)
	if w == "" {
		return ctx
	}
	return context.WithValue(ctx, llmCtxKeyWorkflow, w)
}

// WithTenantModel 注入租户与允许的模型档位
func WithTenantModel(ctx context.Context, tenantID string, class entity.ModelClass) context.Context {
	ctx = context.WithValue(ctx, llmCtxKeyTenant, tenantID)
	return context.WithValue(ctx, llmCtxKeyModelClass, class)
}

func WorkflowFromContext(ctx context.Context) string {
	s, ok := ctx.Value(llmCtxKeyWorkflow).(string)
	if !ok || s == "" {
		return "unknown"
	}
	return s
}

func ModelClassFromContext(ctx context.Context) entity.ModelClass {
	c, ok := ctx.Value(llmCtxKeyModelClass).(entity.ModelClass)
	if !ok || c == "" {
		return entity.ModelClassStandard
	}
	return c
}

func TenantFromContext(ctx context.Context) string {
	s, _ := ctx.Value(llmCtxKeyTenant).(string)
	return s
}
