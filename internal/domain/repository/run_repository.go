package repository

import (
	"context"
	"time"

	"content-pipeline-api/internal/domain/entity"
)

// RunFilter 运行列表过滤条件
type RunFilter struct {
	Status entity.RunStatus
}

// RunRepository 运行仓储接口
type RunRepository interface {
	// Create 创建运行
	Create(ctx context.Context, run *entity.Run) error

	// GetByID 根据 ID 获取运行，不存在时返回 nil, nil
	GetByID(ctx context.Context, id string) (*entity.Run, error)

	// Save 按版本保存快照；版本落后返回 ErrStaleRun，成功后 run.Version 自增
	Save(ctx context.Context, run *entity.Run) error

	// ListByTenant 租户运行列表
	ListByTenant(ctx context.Context, tenantID string, filter *RunFilter, pagination Pagination) (*PagedResult[*entity.Run], error)

	// AppendTransition 追加迁移记录
	AppendTransition(ctx context.Context, t *entity.RunTransition) error

	// ListTransitions 按时间顺序返回迁移记录
	ListTransitions(ctx context.Context, runID string) ([]*entity.RunTransition, error)

	// AcquireLease 抢占执行租约，租约空闲、已过期或已属于 owner 时成功
	AcquireLease(ctx context.Context, runID, owner string, now time.Time, ttl time.Duration) (bool, error)

	// ReleaseLease 释放租约
	ReleaseLease(ctx context.Context, runID, owner string) error

	// ListResumable 非终态且租约已过期的运行（不含等待人工选择的运行）
	ListResumable(ctx context.Context, now time.Time, limit int) ([]*entity.Run, error)

	// ListDeliveredTexts 租户已投递草稿正文，用于原创性比对
	ListDeliveredTexts(ctx context.Context, tenantID, excludeRunID string, limit int) ([]string, error)
}

// DeliveryEventRepository 入站确认事件仓储
type DeliveryEventRepository interface {
	// Record 记录事件；(run_id, event) 已存在时返回 ErrDuplicate
	Record(ctx context.Context, event *entity.DeliveryEvent) error

	// ListByRun 运行的全部确认事件
	ListByRun(ctx context.Context, runID string) ([]*entity.DeliveryEvent, error)
}
