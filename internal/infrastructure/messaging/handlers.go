package messaging

import (
	"context"
	"fmt"

	"content-pipeline-api/internal/domain/entity"
	"content-pipeline-api/pkg/errors"
)

// RunExecutor worker 侧执行运行的入口
type RunExecutor interface {
	Execute(ctx context.Context, runID string) error
	ExecuteRedelivery(ctx context.Context, runID string) error
}

// TenantLifecycle 租户生命周期事件的处理方
type TenantLifecycle interface {
	ChangeTier(ctx context.Context, tenantID string, tier entity.Tier) (*entity.Tenant, error)
	Deactivate(ctx context.Context, tenantID string) (*entity.Tenant, error)
}

// RegisterRunHandlers 注册运行调度消息的处理器
func RegisterRunHandlers(c *Consumer, exec RunExecutor) {
	c.RegisterHandler(TypeRunExecute, func(ctx context.Context, msg *Message) error {
		if msg.RunID == "" {
			return Permanent(fmt.Errorf("message %s missing run_id", msg.ID))
		}
		return exec.Execute(ctx, msg.RunID)
	})
	c.RegisterHandler(TypeRunRedeliver, func(ctx context.Context, msg *Message) error {
		if msg.RunID == "" {
			return Permanent(fmt.Errorf("message %s missing run_id", msg.ID))
		}
		return exec.ExecuteRedelivery(ctx, msg.RunID)
	})
}

// RegisterTenantHandlers 注册租户等级变更与停用事件的处理器
func RegisterTenantHandlers(c *Consumer, lc TenantLifecycle) {
	c.RegisterHandler(TypeTenantTierChanged, func(ctx context.Context, msg *Message) error {
		var p TierChangedPayload
		if err := msg.UnmarshalPayload(&p); err != nil {
			return Permanent(fmt.Errorf("decode tier payload: %w", err))
		}
		_, err := lc.ChangeTier(ctx, msg.TenantID, entity.Tier(p.Tier))
		return classify(err)
	})
	c.RegisterHandler(TypeTenantDeactivated, func(ctx context.Context, msg *Message) error {
		_, err := lc.Deactivate(ctx, msg.TenantID)
		return classify(err)
	})
}

// classify 重试也不会成功的业务错误标记为不可重试
func classify(err error) error {
	if err == nil || !errors.IsAppError(err) {
		return err
	}
	if !errors.AsAppError(err).Retryable() {
		return Permanent(err)
	}
	return err
}
