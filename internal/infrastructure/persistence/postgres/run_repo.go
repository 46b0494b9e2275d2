package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"content-pipeline-api/internal/domain/entity"
	"content-pipeline-api/internal/domain/repository"
)

// terminalStatuses 终态集合
var terminalStatuses = []entity.RunStatus{
	entity.RunStatusDelivered,
	entity.RunStatusDeliveryFailed,
	entity.RunStatusQualityRejected,
	entity.RunStatusFailed,
	entity.RunStatusCancelled,
}

// RunRepository 运行仓储实现
type RunRepository struct {
	client *Client
}

// NewRunRepository 创建运行仓储
func NewRunRepository(client *Client) *RunRepository {
	return &RunRepository{client: client}
}

// Create 创建运行
func (r *RunRepository) Create(ctx context.Context, run *entity.Run) error {
	ctx, span := tracer.Start(ctx, "postgres.RunRepository.Create")
	defer span.End()

	if run.Version == 0 {
		run.Version = 1
	}
	db := getDB(ctx, r.client.db)
	if err := db.Create(run).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// GetByID 根据 ID 获取运行
func (r *RunRepository) GetByID(ctx context.Context, id string) (*entity.Run, error) {
	ctx, span := tracer.Start(ctx, "postgres.RunRepository.GetByID")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var run entity.Run
	if err := db.First(&run, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &run, nil
}

// Save 乐观锁保存；租约字段单独维护，不在此处覆盖
func (r *RunRepository) Save(ctx context.Context, run *entity.Run) error {
	ctx, span := tracer.Start(ctx, "postgres.RunRepository.Save")
	span.SetAttributes(attribute.String("run.id", run.ID), attribute.Int("run.version", run.Version))
	defer span.End()

	prev := run.Version
	run.Version = prev + 1
	run.UpdatedAt = time.Now()

	db := getDB(ctx, r.client.db)
	res := db.Model(run).
		Where("version = ?", prev).
		Select("*").
		Omit("id", "created_at", "lease_owner", "lease_expires_at").
		Updates(run)
	if res.Error != nil {
		run.Version = prev
		span.RecordError(res.Error)
		return fmt.Errorf("failed to save run: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		run.Version = prev
		return repository.ErrStaleRun
	}
	return nil
}

// ListByTenant 租户运行列表，按创建时间倒序
func (r *RunRepository) ListByTenant(ctx context.Context, tenantID string, filter *repository.RunFilter, pagination repository.Pagination) (*repository.PagedResult[*entity.Run], error) {
	ctx, span := tracer.Start(ctx, "postgres.RunRepository.ListByTenant")
	defer span.End()

	db := getDB(ctx, r.client.db)
	query := db.Model(&entity.Run{}).Where("tenant_id = ?", tenantID)
	if filter != nil && filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to count runs: %w", err)
	}

	var runs []*entity.Run
	if err := query.Order("created_at DESC").
		Offset(pagination.Offset()).
		Limit(pagination.Limit()).
		Find(&runs).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	return repository.NewPagedResult(runs, total, pagination), nil
}

// AppendTransition 追加迁移记录
func (r *RunRepository) AppendTransition(ctx context.Context, t *entity.RunTransition) error {
	ctx, span := tracer.Start(ctx, "postgres.RunRepository.AppendTransition")
	defer span.End()

	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	db := getDB(ctx, r.client.db)
	if err := db.Create(t).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to append transition: %w", err)
	}
	return nil
}

// ListTransitions 按写入顺序返回迁移记录
func (r *RunRepository) ListTransitions(ctx context.Context, runID string) ([]*entity.RunTransition, error) {
	ctx, span := tracer.Start(ctx, "postgres.RunRepository.ListTransitions")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var items []*entity.RunTransition
	if err := db.Where("run_id = ?", runID).Order("id ASC").Find(&items).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list transitions: %w", err)
	}
	return items, nil
}

// AcquireLease 租约空闲、过期或已属于 owner 时抢占成功
func (r *RunRepository) AcquireLease(ctx context.Context, runID, owner string, now time.Time, ttl time.Duration) (bool, error) {
	ctx, span := tracer.Start(ctx, "postgres.RunRepository.AcquireLease")
	span.SetAttributes(attribute.String("run.id", runID), attribute.String("lease.owner", owner))
	defer span.End()

	now = now.UTC()
	db := getDB(ctx, r.client.db)
	res := db.Model(&entity.Run{}).
		Where("id = ?", runID).
		Where("lease_owner IS NULL OR lease_owner = '' OR lease_owner = ? OR lease_expires_at IS NULL OR lease_expires_at < ?", owner, now).
		Updates(map[string]any{
			"lease_owner":      owner,
			"lease_expires_at": now.Add(ttl),
		})
	if res.Error != nil {
		span.RecordError(res.Error)
		return false, fmt.Errorf("failed to acquire lease: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ReleaseLease 释放租约
func (r *RunRepository) ReleaseLease(ctx context.Context, runID, owner string) error {
	ctx, span := tracer.Start(ctx, "postgres.RunRepository.ReleaseLease")
	defer span.End()

	db := getDB(ctx, r.client.db)
	err := db.Model(&entity.Run{}).
		Where("id = ? AND lease_owner = ?", runID, owner).
		Updates(map[string]any{
			"lease_owner":      "",
			"lease_expires_at": nil,
		}).Error
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}

// ListResumable 非终态、未等待人工选择且租约已失效的运行
func (r *RunRepository) ListResumable(ctx context.Context, now time.Time, limit int) ([]*entity.Run, error) {
	ctx, span := tracer.Start(ctx, "postgres.RunRepository.ListResumable")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var runs []*entity.Run
	err := db.
		Where("status NOT IN ?", append(terminalStatuses, entity.RunStatusAwaitingSelection)).
		Where("lease_expires_at IS NULL OR lease_expires_at < ?", now.UTC()).
		Order("updated_at ASC").
		Limit(limit).
		Find(&runs).Error
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list resumable runs: %w", err)
	}
	return runs, nil
}

// ListDeliveredTexts 租户最近已投递草稿的正文
func (r *RunRepository) ListDeliveredTexts(ctx context.Context, tenantID, excludeRunID string, limit int) ([]string, error) {
	ctx, span := tracer.Start(ctx, "postgres.RunRepository.ListDeliveredTexts")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var runs []*entity.Run
	err := db.Select("id", "draft").
		Where("tenant_id = ? AND status = ? AND id <> ?", tenantID, entity.RunStatusDelivered, excludeRunID).
		Order("completed_at DESC").
		Limit(limit).
		Find(&runs).Error
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list delivered drafts: %w", err)
	}

	texts := make([]string, 0, len(runs))
	for _, run := range runs {
		if run.Draft != nil {
			texts = append(texts, run.Draft.Text())
		}
	}
	return texts, nil
}
