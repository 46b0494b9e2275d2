package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"content-pipeline-api/internal/domain/entity"
	"content-pipeline-api/internal/domain/repository"
)

// TenantRepository 租户仓储实现
type TenantRepository struct {
	client *Client
}

var _ repository.TenantRepository = (*TenantRepository)(nil)

// NewTenantRepository 创建租户仓储
func NewTenantRepository(client *Client) *TenantRepository {
	return &TenantRepository{client: client}
}

// Create 创建租户，主键冲突时返回 ErrDuplicate
func (r *TenantRepository) Create(ctx context.Context, tenant *entity.Tenant) error {
	ctx, span := tracer.Start(ctx, "postgres.TenantRepository.Create",
		trace.WithAttributes(attribute.String("tenant.tier", string(tenant.Tier))))
	defer span.End()

	res := getDB(ctx, r.client.db).Clauses(clause.OnConflict{DoNothing: true}).Create(tenant)
	if res.Error != nil {
		span.RecordError(res.Error)
		return fmt.Errorf("failed to create tenant: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return repository.ErrDuplicate
	}
	return nil
}

// GetByID 根据 ID 获取租户，不存在时返回 nil, nil
func (r *TenantRepository) GetByID(ctx context.Context, id string) (*entity.Tenant, error) {
	ctx, span := tracer.Start(ctx, "postgres.TenantRepository.GetByID")
	defer span.End()

	var tenant entity.Tenant
	err := getDB(ctx, r.client.db).Take(&tenant, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return &tenant, nil
}

// UpdateLifecycle 只更新等级与状态两列，其余配置保持注册时的值
func (r *TenantRepository) UpdateLifecycle(ctx context.Context, id string, tier entity.Tier, status entity.TenantStatus) error {
	ctx, span := tracer.Start(ctx, "postgres.TenantRepository.UpdateLifecycle",
		trace.WithAttributes(
			attribute.String("tenant.tier", string(tier)),
			attribute.String("tenant.status", string(status)),
		))
	defer span.End()

	res := getDB(ctx, r.client.db).Model(&entity.Tenant{}).
		Where("id = ?", id).
		Updates(map[string]any{"tier": tier, "status": status, "updated_at": time.Now()})
	if res.Error != nil {
		span.RecordError(res.Error)
		return fmt.Errorf("failed to update tenant lifecycle: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}
