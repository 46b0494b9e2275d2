package pipeline

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/google/uuid"

	"content-pipeline-api/internal/domain/entity"
	"content-pipeline-api/internal/domain/repository"
	"content-pipeline-api/pkg/errors"
	"content-pipeline-api/pkg/logger"
	"content-pipeline-api/pkg/metrics"
)

// Config 编排配置
type Config struct {
	// WorkerID 租约持有者标识
	WorkerID         string
	TopN             int
	HumanCandidates  int
	MaxRegenerations int
	LeaseDuration    time.Duration
	ResumeBatch      int
}

func (c *Config) withDefaults() {
	if c.WorkerID == "" {
		c.WorkerID = "worker-" + uuid.NewString()[:8]
	}
	if c.TopN <= 0 {
		c.TopN = 1
	}
	if c.HumanCandidates <= 0 {
		c.HumanCandidates = 3
	}
	if c.MaxRegenerations < 0 {
		c.MaxRegenerations = 0
	}
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = 2 * time.Minute
	}
	if c.ResumeBatch <= 0 {
		c.ResumeBatch = 50
	}
}

// Orchestrator 运行编排器
//
// API 侧负责提交、取消、人工选择与重投递请求；工作进程侧执行状态机。
// 两侧只通过持久化的运行快照和乐观锁版本协作。
type Orchestrator struct {
	tx         repository.Transactor
	runs       repository.RunRepository
	tenants    TenantProvider
	governance Governance
	stages     Stages
	dispatcher Dispatcher
	cfg        Config
	now        func() time.Time
}

// NewOrchestrator 创建编排器
func NewOrchestrator(tx repository.Transactor, runs repository.RunRepository, tenants TenantProvider,
	gov Governance, stages Stages, dispatcher Dispatcher, cfg Config) *Orchestrator {
	cfg.withDefaults()
	return &Orchestrator{
		tx:         tx,
		runs:       runs,
		tenants:    tenants,
		governance: gov,
		stages:     stages,
		dispatcher: dispatcher,
		cfg:        cfg,
		now:        time.Now,
	}
}

// RunView 运行详情
type RunView struct {
	Run         *entity.Run
	Transitions []*entity.RunTransition
}

// Submit 准入并创建运行，随后交给工作进程
//
// 准入是原子的检查加占用；持久化失败时归还占用。
func (o *Orchestrator) Submit(ctx context.Context, tenant *entity.Tenant) (*entity.Run, error) {
	runID := uuid.NewString()
	ctx = logger.WithRun(ctx, tenant.ID, runID)

	if _, err := o.governance.Admit(ctx, tenant, runID); err != nil {
		return nil, err
	}

	run := entity.NewRun(runID, tenant.ID, o.cfg.MaxRegenerations)
	err := o.tx.WithTransaction(ctx, func(ctx context.Context) error {
		if err := o.runs.Create(ctx, run); err != nil {
			return err
		}
		return o.runs.AppendTransition(ctx, &entity.RunTransition{
			RunID:     run.ID,
			ToStage:   run.Stage,
			Status:    run.Status,
			CreatedAt: o.now(),
		})
	})
	if err != nil {
		o.release(ctx, run)
		return nil, errors.ErrDatabaseError.WithError(err)
	}

	if err := o.dispatcher.DispatchExecute(ctx, tenant.ID, run.ID); err != nil {
		// 运行已持久化，恢复扫描会重新入队
		logger.Error(ctx, "dispatch run execution", err)
	}
	logger.Info(ctx, "run submitted", "tier", string(tenant.Tier))
	return run, nil
}

// Get 租户视角的运行详情
func (o *Orchestrator) Get(ctx context.Context, tenantID, runID string) (*RunView, error) {
	run, err := o.ownedRun(ctx, tenantID, runID)
	if err != nil {
		return nil, err
	}
	transitions, err := o.runs.ListTransitions(ctx, runID)
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	return &RunView{Run: run, Transitions: transitions}, nil
}

// List 租户运行列表
func (o *Orchestrator) List(ctx context.Context, tenantID string, filter *repository.RunFilter, p repository.Pagination) (*repository.PagedResult[*entity.Run], error) {
	page, err := o.runs.ListByTenant(ctx, tenantID, filter, p)
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	return page, nil
}

// Cancel 请求取消
//
// 未被执行或等待人工选择的运行直接进入 cancelled；执行中的运行打上取消标记，
// 由工作进程在当前外部调用结束后收尾。进入投递后不可取消。
func (o *Orchestrator) Cancel(ctx context.Context, tenantID, runID string) (*entity.Run, error) {
	ctx = logger.WithRun(ctx, tenantID, runID)
	for i := 0; i < staleRetries; i++ {
		run, err := o.ownedRun(ctx, tenantID, runID)
		if err != nil {
			return nil, err
		}
		if run.IsTerminal() || run.Stage == entity.StageDelivering {
			return nil, errors.ErrRunStateConflict.WithDetail("run is " + string(run.Status) + " at stage " + string(run.Stage))
		}
		if run.CancelRequested {
			return run, nil
		}

		if run.Status == entity.RunStatusPending || run.Status == entity.RunStatusAwaitingSelection {
			err = o.finish(ctx, run, entity.RunStatusCancelled, entity.ReasonCancelled)
		} else {
			run.CancelRequested = true
			err = o.runs.Save(ctx, run)
		}
		if stderrors.Is(err, repository.ErrStaleRun) {
			continue
		}
		if err != nil {
			return nil, errors.ErrDatabaseError.WithError(err)
		}
		logger.Info(ctx, "run cancellation accepted", "status", string(run.Status))
		return run, nil
	}
	return nil, errors.ErrConflict.WithDetail("run kept changing, retry the cancellation")
}

// Select 人工选择候选并继续执行
func (o *Orchestrator) Select(ctx context.Context, tenantID, runID string, index int) (*entity.Run, error) {
	ctx = logger.WithRun(ctx, tenantID, runID)
	run, err := o.ownedRun(ctx, tenantID, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != entity.RunStatusAwaitingSelection {
		return nil, errors.ErrRunStateConflict.WithDetail("run is not awaiting a candidate selection")
	}
	if index < 0 || index >= len(run.Candidates) {
		return nil, errors.ErrInvalidParam.WithDetail("candidate index out of range")
	}

	from := run.Stage
	selected := run.Candidates[index]
	run.Selected = &selected
	if err := run.Advance(entity.StageStrategizing); err != nil {
		return nil, errors.ErrRunStateConflict.WithError(err)
	}
	if err := o.persist(ctx, run, from); err != nil {
		if stderrors.Is(err, repository.ErrStaleRun) {
			return nil, errors.ErrConflict.WithDetail("run changed concurrently")
		}
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	if err := o.dispatcher.DispatchExecute(ctx, tenantID, runID); err != nil {
		logger.Error(ctx, "dispatch run execution", err)
	}
	logger.Info(ctx, "candidate selected", "topic", selected.Topic)
	return run, nil
}

// Redeliver 请求重新投递 delivery_failed 的运行
func (o *Orchestrator) Redeliver(ctx context.Context, tenantID, runID string) (*entity.Run, error) {
	ctx = logger.WithRun(ctx, tenantID, runID)
	run, err := o.ownedRun(ctx, tenantID, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != entity.RunStatusDeliveryFailed {
		return nil, errors.ErrRunStateConflict.WithDetail("only delivery_failed runs can be redelivered")
	}
	if err := o.dispatcher.DispatchRedeliver(ctx, tenantID, runID); err != nil {
		return nil, errors.ErrQueueError.WithError(err)
	}
	logger.Info(ctx, "redelivery queued")
	return run, nil
}

// ResumeInterrupted 重新入队租约过期的非终态运行，返回入队数量
func (o *Orchestrator) ResumeInterrupted(ctx context.Context) (int, error) {
	runs, err := o.runs.ListResumable(ctx, o.now(), o.cfg.ResumeBatch)
	if err != nil {
		return 0, errors.ErrDatabaseError.WithError(err)
	}
	n := 0
	for _, run := range runs {
		if err := o.dispatcher.DispatchExecute(ctx, run.TenantID, run.ID); err != nil {
			logger.Error(logger.WithRun(ctx, run.TenantID, run.ID), "re-enqueue interrupted run", err)
			continue
		}
		n++
	}
	if n > 0 {
		logger.Info(ctx, "interrupted runs re-enqueued", "count", n)
	}
	return n, nil
}

func (o *Orchestrator) ownedRun(ctx context.Context, tenantID, runID string) (*entity.Run, error) {
	run, err := o.runs.GetByID(ctx, runID)
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	if run == nil || run.TenantID != tenantID {
		return nil, errors.ErrRunNotFound
	}
	return run, nil
}

// persist 在同一事务中保存快照并写迁移记录；失败时恢复内存中的版本号
func (o *Orchestrator) persist(ctx context.Context, run *entity.Run, from entity.RunStage) error {
	version := run.Version
	err := o.tx.WithTransaction(ctx, func(ctx context.Context) error {
		if err := o.runs.Save(ctx, run); err != nil {
			return err
		}
		return o.runs.AppendTransition(ctx, &entity.RunTransition{
			RunID:     run.ID,
			FromStage: from,
			ToStage:   run.Stage,
			Status:    run.Status,
			Reason:    run.Reason,
			CreatedAt: o.now(),
		})
	})
	if err != nil {
		run.Version = version
	}
	return err
}

// finish 进入终态并释放并发占用
func (o *Orchestrator) finish(ctx context.Context, run *entity.Run, status entity.RunStatus, reason string) error {
	from := run.Stage
	run.Finish(status, reason)
	return o.closeOut(ctx, run, from)
}

// fail 以阶段归因进入 failed
func (o *Orchestrator) fail(ctx context.Context, run *entity.Run, stage entity.RunStage, reason, detail string) error {
	from := run.Stage
	run.Fail(stage, reason, detail)
	return o.closeOut(ctx, run, from)
}

func (o *Orchestrator) closeOut(ctx context.Context, run *entity.Run, from entity.RunStage) error {
	if err := o.persist(ctx, run, from); err != nil {
		return err
	}
	o.release(ctx, run)
	metrics.RunsTotal.WithLabelValues(string(run.Status), run.Reason).Inc()
	logger.Info(ctx, "run finished",
		"status", string(run.Status),
		"reason", run.Reason,
		"failed_stage", string(run.FailedStage),
		"regenerations", run.Regenerations,
	)
	return nil
}

func (o *Orchestrator) release(ctx context.Context, run *entity.Run) {
	if err := o.governance.Release(context.WithoutCancel(ctx), run.TenantID, run.ID); err != nil {
		logger.Error(ctx, "release concurrency slot", err)
	}
}
