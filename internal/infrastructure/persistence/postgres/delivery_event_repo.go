package postgres

import (
	"context"
	"fmt"

	"gorm.io/gorm/clause"

	"content-pipeline-api/internal/domain/entity"
	"content-pipeline-api/internal/domain/repository"
)

// DeliveryEventRepository 入站确认事件仓储实现
type DeliveryEventRepository struct {
	client *Client
}

// NewDeliveryEventRepository 创建确认事件仓储
func NewDeliveryEventRepository(client *Client) *DeliveryEventRepository {
	return &DeliveryEventRepository{client: client}
}

// Record 记录事件，(run_id, event) 冲突时返回 ErrDuplicate
func (r *DeliveryEventRepository) Record(ctx context.Context, event *entity.DeliveryEvent) error {
	ctx, span := tracer.Start(ctx, "postgres.DeliveryEventRepository.Record")
	defer span.End()

	db := getDB(ctx, r.client.db)
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(event)
	if res.Error != nil {
		span.RecordError(res.Error)
		return fmt.Errorf("failed to record delivery event: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return repository.ErrDuplicate
	}
	return nil
}

// ListByRun 运行的全部确认事件
func (r *DeliveryEventRepository) ListByRun(ctx context.Context, runID string) ([]*entity.DeliveryEvent, error) {
	ctx, span := tracer.Start(ctx, "postgres.DeliveryEventRepository.ListByRun")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var events []*entity.DeliveryEvent
	if err := db.Where("run_id = ?", runID).Order("created_at ASC").Find(&events).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list delivery events: %w", err)
	}
	return events, nil
}
