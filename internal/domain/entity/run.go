package entity

import (
	"fmt"
	"time"
)

// RunStage 流水线阶段
type RunStage string

const (
	StageCreated      RunStage = "created"
	StageDiscovering  RunStage = "discovering"
	StageSelecting    RunStage = "selecting"
	StageStrategizing RunStage = "strategizing"
	StageAssembling   RunStage = "assembling"
	StageVisualizing  RunStage = "visualizing"
	StageGating       RunStage = "gating"
	StageDelivering   RunStage = "delivering"
	StageCompleted    RunStage = "completed"
)

// RunStatus 运行状态
type RunStatus string

const (
	RunStatusPending           RunStatus = "pending"
	RunStatusRunning           RunStatus = "running"
	RunStatusAwaitingSelection RunStatus = "awaiting_selection"
	RunStatusDelivered         RunStatus = "delivered"
	RunStatusDeliveryFailed    RunStatus = "delivery_failed"
	RunStatusQualityRejected   RunStatus = "quality_rejected"
	RunStatusFailed            RunStatus = "failed"
	RunStatusCancelled         RunStatus = "cancelled"
)

// IsTerminal 终态判断
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusDelivered, RunStatusDeliveryFailed, RunStatusQualityRejected,
		RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// Valid 是否为已知状态
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusAwaitingSelection:
		return true
	}
	return s.IsTerminal()
}

// 失败原因码
const (
	ReasonDiscoveryEmpty     = "discovery_empty"
	ReasonBriefMalformed     = "brief_malformed"
	ReasonAssemblyFailed     = "assembly_failed"
	ReasonProviderFailed     = "provider_unavailable"
	ReasonGovernanceRejected = "governance_rejected"
	ReasonQualityRejected    = "quality_rejected"
	ReasonCancelled          = "cancelled"
	ReasonDeliveryFailed     = "delivery_failed"
	ReasonInternal           = "internal_error"
)

// stageTransitions 允许的阶段迁移
var stageTransitions = map[RunStage][]RunStage{
	StageCreated:      {StageDiscovering},
	StageDiscovering:  {StageSelecting, StageStrategizing},
	StageSelecting:    {StageStrategizing},
	StageStrategizing: {StageAssembling},
	StageAssembling:   {StageVisualizing, StageGating},
	StageVisualizing:  {StageGating},
	StageGating:       {StageAssembling, StageDelivering, StageCompleted},
	StageDelivering:   {StageCompleted},
}

// CanAdvance 检查阶段迁移是否合法
func (s RunStage) CanAdvance(to RunStage) bool {
	for _, next := range stageTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Run 流水线运行
//
// Version 用于乐观锁：编排器以外的修改（取消、确认回调、人工选择）都会推进版本，
// 编排器保存时若版本落后则重新加载后再决定下一步。
type Run struct {
	ID       string    `json:"id" gorm:"type:uuid;primaryKey"`
	TenantID string    `json:"tenant_id" gorm:"type:uuid;index;not null"`
	Stage    RunStage  `json:"stage" gorm:"type:varchar(32);not null"`
	Status   RunStatus `json:"status" gorm:"type:varchar(32);index;not null"`

	Reason      string   `json:"reason,omitempty" gorm:"type:varchar(64)"`
	FailedStage RunStage `json:"failed_stage,omitempty" gorm:"type:varchar(32)"`
	ErrorDetail string   `json:"error_detail,omitempty" gorm:"type:text"`

	StageAttempts    map[RunStage]int `json:"stage_attempts,omitempty" gorm:"type:jsonb;serializer:json"`
	Regenerations    int              `json:"regenerations"`
	MaxRegenerations int              `json:"max_regenerations"`
	Instruction      string           `json:"instruction,omitempty" gorm:"type:text"`

	Candidates []TrendCandidate `json:"candidates,omitempty" gorm:"type:jsonb;serializer:json"`
	Selected   *TrendCandidate  `json:"selected,omitempty" gorm:"type:jsonb;serializer:json"`
	Brief      *Brief           `json:"brief,omitempty" gorm:"type:jsonb;serializer:json"`
	Draft      *Draft           `json:"draft,omitempty" gorm:"type:jsonb;serializer:json"`
	Image      *ImageAsset      `json:"image,omitempty" gorm:"type:jsonb;serializer:json"`
	Report     *QualityReport   `json:"quality_report,omitempty" gorm:"type:jsonb;serializer:json"`

	CancelRequested  bool       `json:"cancel_requested"`
	DeliveryAttempts int        `json:"delivery_attempts"`
	DeliveryID       string     `json:"delivery_id,omitempty" gorm:"type:varchar(32)"`
	DeliveredAt      *time.Time `json:"delivered_at,omitempty"`

	LeaseOwner     string     `json:"-" gorm:"type:varchar(255)"`
	LeaseExpiresAt *time.Time `json:"-"`

	Version     int        `json:"version" gorm:"not null;default:1"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// TableName 表名
func (Run) TableName() string { return "runs" }

// NewRun 创建新运行
func NewRun(id, tenantID string, maxRegenerations int) *Run {
	now := time.Now()
	return &Run{
		ID:               id,
		TenantID:         tenantID,
		Stage:            StageCreated,
		Status:           RunStatusPending,
		StageAttempts:    map[RunStage]int{},
		MaxRegenerations: maxRegenerations,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// IsTerminal 是否已终结
func (r *Run) IsTerminal() bool {
	return r.Status.IsTerminal()
}

// Advance 迁移到下一阶段
func (r *Run) Advance(to RunStage) error {
	if r.IsTerminal() {
		return fmt.Errorf("run %s is terminal (%s)", r.ID, r.Status)
	}
	if !r.Stage.CanAdvance(to) {
		return fmt.Errorf("illegal stage transition %s -> %s", r.Stage, to)
	}
	r.Stage = to
	if r.Status == RunStatusPending {
		now := time.Now()
		r.StartedAt = &now
	}
	if to == StageSelecting {
		r.Status = RunStatusAwaitingSelection
	} else {
		r.Status = RunStatusRunning
	}
	return nil
}

// RecordAttempt 累加阶段尝试次数
func (r *Run) RecordAttempt(stage RunStage) {
	if r.StageAttempts == nil {
		r.StageAttempts = map[RunStage]int{}
	}
	r.StageAttempts[stage]++
}

// CanRegenerate 是否还有重生成额度
func (r *Run) CanRegenerate() bool {
	return r.Regenerations < r.MaxRegenerations
}

// Regenerate 回到内容组装阶段，并清空上一轮的草稿和图片
func (r *Run) Regenerate(instruction string) error {
	if !r.CanRegenerate() {
		return fmt.Errorf("run %s regeneration ceiling %d reached", r.ID, r.MaxRegenerations)
	}
	if err := r.Advance(StageAssembling); err != nil {
		return err
	}
	r.Regenerations++
	r.Instruction = instruction
	r.Draft = nil
	r.Image = nil
	return nil
}

// Finish 进入终态
func (r *Run) Finish(status RunStatus, reason string) {
	now := time.Now()
	r.Status = status
	r.Reason = reason
	r.CompletedAt = &now
	if status == RunStatusDelivered {
		r.DeliveredAt = &now
	}
	if status != RunStatusDeliveryFailed {
		r.Stage = StageCompleted
	}
}

// Fail 记录失败阶段并进入 failed
func (r *Run) Fail(stage RunStage, reason, detail string) {
	r.FailedStage = stage
	r.ErrorDetail = detail
	r.Finish(RunStatusFailed, reason)
}

// RunTransition 运行状态迁移记录
type RunTransition struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	RunID     string    `json:"run_id" gorm:"type:uuid;index;not null"`
	FromStage RunStage  `json:"from_stage" gorm:"type:varchar(32)"`
	ToStage   RunStage  `json:"to_stage" gorm:"type:varchar(32)"`
	Status    RunStatus `json:"status" gorm:"type:varchar(32)"`
	Reason    string    `json:"reason,omitempty" gorm:"type:varchar(64)"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName 表名
func (RunTransition) TableName() string { return "run_transitions" }
