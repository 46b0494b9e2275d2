package repository

import (
	"context"

	"content-pipeline-api/internal/domain/entity"
)

// TenantRepository 租户仓储接口
//
// 租户只在注册时创建，此后只有等级和状态会随生命周期事件变化，不做物理删除。
type TenantRepository interface {
	// Create 创建租户，ID 已存在时返回 ErrDuplicate
	Create(ctx context.Context, tenant *entity.Tenant) error

	// GetByID 根据 ID 获取租户，不存在时返回 nil, nil
	GetByID(ctx context.Context, id string) (*entity.Tenant, error)

	// UpdateLifecycle 只写入等级与状态，租户不存在时返回 ErrNotFound
	UpdateLifecycle(ctx context.Context, id string, tier entity.Tier, status entity.TenantStatus) error
}
