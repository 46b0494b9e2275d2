// Package tenant 处理租户的等级变更与停用
package tenant

import (
	"context"
	stderrors "errors"
	"fmt"

	"content-pipeline-api/internal/domain/entity"
	"content-pipeline-api/internal/domain/repository"
	"content-pipeline-api/pkg/errors"
	"content-pipeline-api/pkg/logger"
)

// Store 生命周期变更所需的租户存储
type Store interface {
	GetByID(ctx context.Context, id string) (*entity.Tenant, error)
	UpdateLifecycle(ctx context.Context, id string, tier entity.Tier, status entity.TenantStatus) error
}

// Lifecycle 租户生命周期服务
//
// 限额只随等级变更而变化，租户不会被删除，只会被停用。
type Lifecycle struct {
	store Store
}

// NewLifecycle 创建生命周期服务
func NewLifecycle(store Store) *Lifecycle {
	return &Lifecycle{store: store}
}

// ChangeTier 切换订阅等级，限额随等级生效
func (l *Lifecycle) ChangeTier(ctx context.Context, tenantID string, tier entity.Tier) (*entity.Tenant, error) {
	if !tier.Valid() {
		return nil, errors.ErrInvalidParam.WithDetail(fmt.Sprintf("unknown tier %q", tier))
	}
	t, err := l.load(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	// 读取可能来自缓存快照，等级相同也照常写入
	from := t.Tier
	if err := l.update(ctx, t.ID, tier, t.Status); err != nil {
		return nil, err
	}
	if from == tier {
		return t, nil
	}
	t.ChangeTier(tier)

	limits := t.Limits()
	logger.Info(logger.WithContext(ctx, logger.TenantIDKey, t.ID), "tenant tier changed",
		"from", string(from),
		"to", string(tier),
		"max_concurrent", limits.MaxConcurrent,
		"max_daily_content", limits.MaxDailyContent,
	)
	return t, nil
}

// Deactivate 停用租户，重复调用无副作用
func (l *Lifecycle) Deactivate(ctx context.Context, tenantID string) (*entity.Tenant, error) {
	t, err := l.load(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if !t.IsActive() {
		return t, nil
	}
	if err := l.update(ctx, t.ID, t.Tier, entity.TenantStatusDeactivated); err != nil {
		return nil, err
	}
	t.Deactivate()

	logger.Info(logger.WithContext(ctx, logger.TenantIDKey, t.ID), "tenant deactivated", "tier", string(t.Tier))
	return t, nil
}

func (l *Lifecycle) load(ctx context.Context, tenantID string) (*entity.Tenant, error) {
	if tenantID == "" {
		return nil, errors.ErrTenantMissing
	}
	t, err := l.store.GetByID(ctx, tenantID)
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	if t == nil {
		return nil, errors.ErrTenantNotFound.WithDetail(tenantID)
	}
	return t, nil
}

func (l *Lifecycle) update(ctx context.Context, id string, tier entity.Tier, status entity.TenantStatus) error {
	err := l.store.UpdateLifecycle(ctx, id, tier, status)
	switch {
	case err == nil:
		return nil
	case stderrors.Is(err, repository.ErrNotFound):
		return errors.ErrTenantNotFound.WithDetail(id)
	default:
		return errors.ErrDatabaseError.WithError(err)
	}
}
