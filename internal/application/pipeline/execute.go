package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"content-pipeline-api/internal/application/assembly"
	"content-pipeline-api/internal/application/delivery"
	"content-pipeline-api/internal/application/quality"
	"content-pipeline-api/internal/application/visual"
	"content-pipeline-api/internal/domain/entity"
	"content-pipeline-api/internal/domain/repository"
	"content-pipeline-api/internal/domain/service"
	"content-pipeline-api/pkg/errors"
	"content-pipeline-api/pkg/logger"
	"content-pipeline-api/pkg/metrics"
)

const staleRetries = 3

// errReload 快照已被外部修改（取消、确认回调），重新加载后再决定下一步
var errReload = stderrors.New("reload run")

// Execute 在租约保护下推进运行直到终态或停靠点
//
// 每次阶段迁移在下一阶段开始前持久化，中断后可从最后持久化的阶段恢复。
// 编排器不跨阶段重试；投递以外的阶段各自负责内部重试。
func (o *Orchestrator) Execute(ctx context.Context, runID string) error {
	return o.withLease(ctx, runID, func(ctx context.Context) error {
		reloads := 0
		for {
			run, err := o.runs.GetByID(ctx, runID)
			if err != nil {
				return errors.ErrDatabaseError.WithError(err)
			}
			if run == nil {
				return errors.ErrRunNotFound
			}
			if run.IsTerminal() {
				return nil
			}
			ctx := logger.WithRun(ctx, run.TenantID, run.ID)

			var done bool
			switch {
			case run.CancelRequested:
				done, err = true, o.finish(ctx, run, entity.RunStatusCancelled, entity.ReasonCancelled)
			default:
				tenant, terr := o.tenants.GetByID(ctx, run.TenantID)
				if terr != nil {
					return terr
				}
				if tenant == nil {
					done, err = true, o.fail(ctx, run, run.Stage, entity.ReasonInternal, "tenant not found")
					break
				}
				done, err = o.step(service.WithTenantModel(ctx, tenant.ID, tenant.Limits().ModelClass), tenant, run)
			}

			switch {
			case err == nil && done:
				return nil
			case err == nil:
				continue
			case stderrors.Is(err, errReload), stderrors.Is(err, repository.ErrStaleRun):
				reloads++
				if reloads > staleRetries {
					return fmt.Errorf("run %s: %w", runID, repository.ErrStaleRun)
				}
			default:
				return err
			}
		}
	})
}

// step 执行当前阶段并持久化迁移；parked 表示运行停靠等待外部输入
func (o *Orchestrator) step(ctx context.Context, tenant *entity.Tenant, run *entity.Run) (parked bool, err error) {
	stage := run.Stage
	ctx = logger.WithStage(ctx, string(stage))
	start := time.Now()
	defer func() {
		if stage == entity.StageCreated || stage == entity.StageSelecting {
			return
		}
		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		metrics.StageDuration.WithLabelValues(string(stage), outcome).Observe(time.Since(start).Seconds())
	}()

	switch stage {
	case entity.StageCreated:
		return false, o.advance(ctx, run, entity.StageDiscovering)
	case entity.StageDiscovering:
		return o.discover(ctx, tenant, run)
	case entity.StageSelecting:
		if run.Selected == nil {
			return true, nil
		}
		return false, o.advance(ctx, run, entity.StageStrategizing)
	case entity.StageStrategizing:
		return false, o.strategize(ctx, tenant, run)
	case entity.StageAssembling:
		return false, o.assembleAndIllustrate(ctx, tenant, run)
	case entity.StageVisualizing:
		return false, o.illustrate(ctx, tenant, run)
	case entity.StageGating:
		return false, o.gate(ctx, tenant, run)
	case entity.StageDelivering:
		return false, o.deliver(ctx, tenant, run)
	default:
		return true, nil
	}
}

func (o *Orchestrator) advance(ctx context.Context, run *entity.Run, to entity.RunStage) error {
	from := run.Stage
	if err := run.Advance(to); err != nil {
		return o.fail(ctx, run, from, entity.ReasonInternal, err.Error())
	}
	if err := o.persist(ctx, run, from); err != nil {
		return err
	}
	logger.Info(ctx, "run advanced", "from", string(from), "to", string(to))
	return nil
}

// stageFailed 把阶段错误落为终态；关停导致的上下文取消保留非终态以便恢复
func (o *Orchestrator) stageFailed(ctx context.Context, run *entity.Run, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if stderrors.Is(err, service.ErrCancelled) {
		return errReload
	}
	if se, ok := service.AsStageError(err); ok {
		logger.Warn(ctx, "stage failed", "stage", string(se.Stage), "reason", se.Reason, "kind", string(se.Kind))
		return o.fail(ctx, run, se.Stage, se.Reason, err.Error())
	}
	logger.Error(ctx, "stage failed unexpectedly", err, "stage", string(run.Stage))
	return o.fail(ctx, run, run.Stage, entity.ReasonInternal, err.Error())
}

func (o *Orchestrator) discover(ctx context.Context, tenant *entity.Tenant, run *entity.Run) (bool, error) {
	run.RecordAttempt(entity.StageDiscovering)
	n := o.cfg.TopN
	if tenant.HumanSelection {
		n = o.cfg.HumanCandidates
	}
	cands, err := o.stages.Discovery.Discover(ctx, tenant, n)
	if err != nil {
		return false, o.stageFailed(ctx, run, err)
	}

	run.Candidates = cands
	if tenant.HumanSelection {
		if err := o.advance(ctx, run, entity.StageSelecting); err != nil {
			return false, err
		}
		logger.Info(ctx, "run awaiting candidate selection", "candidates", len(cands))
		return true, nil
	}
	selected := cands[0]
	run.Selected = &selected
	return false, o.advance(ctx, run, entity.StageStrategizing)
}

func (o *Orchestrator) strategize(ctx context.Context, tenant *entity.Tenant, run *entity.Run) error {
	run.RecordAttempt(entity.StageStrategizing)
	if run.Selected == nil {
		return o.fail(ctx, run, entity.StageStrategizing, entity.ReasonInternal, "no candidate selected")
	}
	brief, err := o.stages.Strategy.BuildBrief(ctx, tenant, *run.Selected)
	if err != nil {
		return o.stageFailed(ctx, run, err)
	}
	run.Brief = brief
	return o.advance(ctx, run, entity.StageAssembling)
}

// assembleAndIllustrate 内容组装与配图并行
//
// 章节正文完成后启动配图；组装失败时取消配图；取消请求时让配图自然结束并丢弃结果。
func (o *Orchestrator) assembleAndIllustrate(ctx context.Context, tenant *entity.Tenant, run *entity.Run) error {
	run.RecordAttempt(entity.StageAssembling)

	var (
		draft     *entity.Draft
		image     *entity.ImageAsset
		cancelled bool
		once      sync.Once
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d, err := o.stages.Assembly.Assemble(gctx, assembly.Input{
			Tenant:      tenant,
			Brief:       run.Brief,
			Instruction: run.Instruction,
			Revision:    run.Regenerations,
		}, assembly.Hooks{
			OnCoreReady: func(core *entity.Draft) {
				once.Do(func() {
					g.Go(func() error {
						image, _ = o.stages.Visual.Produce(gctx, visual.Input{
							Tenant: tenant,
							RunID:  run.ID,
							Brief:  run.Brief,
							Draft:  core,
						})
						return nil
					})
				})
			},
			ShouldStop: func(ctx context.Context) bool {
				return o.cancelRequested(ctx, run.ID)
			},
		})
		if stderrors.Is(err, service.ErrCancelled) {
			cancelled = true
			return nil
		}
		draft = d
		return err
	})
	err := g.Wait()

	if cancelled {
		logger.Info(ctx, "run cancelled during assembly, discarding partial output")
		return errReload
	}
	if err != nil {
		return o.stageFailed(ctx, run, err)
	}
	if o.cancelRequested(ctx, run.ID) {
		return errReload
	}

	run.Draft = draft
	if err := o.advance(ctx, run, entity.StageVisualizing); err != nil {
		return err
	}
	if image == nil {
		logger.Warn(ctx, "continuing without image asset")
	}
	run.Image = image
	return o.advance(ctx, run, entity.StageGating)
}

// illustrate 恢复场景：草稿已持久化而配图未完成
func (o *Orchestrator) illustrate(ctx context.Context, tenant *entity.Tenant, run *entity.Run) error {
	if run.Draft == nil {
		return o.fail(ctx, run, entity.StageVisualizing, entity.ReasonInternal, "draft missing at visual stage")
	}
	image, _ := o.stages.Visual.Produce(ctx, visual.Input{
		Tenant: tenant,
		RunID:  run.ID,
		Brief:  run.Brief,
		Draft:  run.Draft,
	})
	if ctx.Err() != nil {
		return ctx.Err()
	}
	run.Image = image
	return o.advance(ctx, run, entity.StageGating)
}

func (o *Orchestrator) gate(ctx context.Context, tenant *entity.Tenant, run *entity.Run) error {
	run.RecordAttempt(entity.StageGating)
	report, err := o.stages.Quality.Evaluate(ctx, quality.Input{
		Tenant: tenant,
		RunID:  run.ID,
		Brief:  run.Brief,
		Draft:  run.Draft,
		Image:  run.Image,
	}, run.Regenerations, run.MaxRegenerations)
	if err != nil {
		return o.stageFailed(ctx, run, err)
	}
	run.Report = report

	switch report.Decision {
	case entity.DecisionApproved:
		return o.advance(ctx, run, entity.StageDelivering)

	case entity.DecisionRegenerate:
		if err := o.governance.CheckRegeneration(ctx, tenant, run.ID); err != nil {
			return o.fail(ctx, run, entity.StageGating, entity.ReasonGovernanceRejected, err.Error())
		}
		from := run.Stage
		instruction := quality.Instruction(report)
		if err := run.Regenerate(instruction); err != nil {
			return o.fail(ctx, run, entity.StageGating, entity.ReasonInternal, err.Error())
		}
		if err := o.persist(ctx, run, from); err != nil {
			return err
		}
		metrics.RegenerationsTotal.Inc()
		logger.Info(ctx, "draft sent back for regeneration",
			"overall", report.Overall,
			"regenerations", run.Regenerations,
			"instruction", instruction,
		)
		return nil

	default:
		run.FailedStage = entity.StageGating
		return o.finish(ctx, run, entity.RunStatusQualityRejected, entity.ReasonQualityRejected)
	}
}

// deliver 出站投递；超过尝试上限后进入 delivery_failed 等待人工重投
func (o *Orchestrator) deliver(ctx context.Context, tenant *entity.Tenant, run *entity.Run) error {
	run.RecordAttempt(entity.StageDelivering)
	res, err := o.stages.Delivery.Deliver(ctx, tenant, run)
	if res != nil {
		run.DeliveryID = res.DeliveryID
		run.DeliveryAttempts += res.Attempts
	}
	if stderrors.Is(err, delivery.ErrSettled) {
		return errReload
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		run.FailedStage = entity.StageDelivering
		run.ErrorDetail = err.Error()
		return o.finish(ctx, run, entity.RunStatusDeliveryFailed, entity.ReasonDeliveryFailed)
	}
	return o.finish(ctx, run, entity.RunStatusDelivered, "")
}

// ExecuteRedelivery 重新投递 delivery_failed 的运行；并发占用在首次进入终态时已释放
func (o *Orchestrator) ExecuteRedelivery(ctx context.Context, runID string) error {
	return o.withLease(ctx, runID, func(ctx context.Context) error {
		for i := 0; i < staleRetries; i++ {
			run, err := o.runs.GetByID(ctx, runID)
			if err != nil {
				return errors.ErrDatabaseError.WithError(err)
			}
			if run == nil {
				return errors.ErrRunNotFound
			}
			ctx := logger.WithRun(ctx, run.TenantID, run.ID)
			if run.Status != entity.RunStatusDeliveryFailed {
				return nil
			}
			tenant, err := o.tenants.GetByID(ctx, run.TenantID)
			if err != nil {
				return err
			}
			if tenant == nil {
				return errors.ErrTenantNotFound
			}

			res, derr := o.stages.Delivery.Deliver(ctx, tenant, run)
			if stderrors.Is(derr, delivery.ErrSettled) {
				logger.Info(ctx, "redelivery stopped, run settled by acknowledgement")
				return nil
			}
			if res != nil {
				run.DeliveryID = res.DeliveryID
				run.DeliveryAttempts += res.Attempts
			}
			from := run.Stage
			if derr != nil {
				run.ErrorDetail = derr.Error()
			} else {
				run.Finish(entity.RunStatusDelivered, "")
				run.ErrorDetail = ""
				run.FailedStage = ""
			}
			err = o.persist(ctx, run, from)
			if stderrors.Is(err, repository.ErrStaleRun) {
				continue
			}
			if err != nil {
				return errors.ErrDatabaseError.WithError(err)
			}
			if derr != nil {
				logger.Warn(ctx, "redelivery failed", "error", derr.Error(), "attempts", run.DeliveryAttempts)
				return nil
			}
			metrics.RunsTotal.WithLabelValues(string(run.Status), "redelivered").Inc()
			logger.Info(ctx, "run redelivered", "delivery_id", run.DeliveryID)
			return nil
		}
		return fmt.Errorf("run %s: %w", runID, repository.ErrStaleRun)
	})
}

func (o *Orchestrator) cancelRequested(ctx context.Context, runID string) bool {
	run, err := o.runs.GetByID(ctx, runID)
	if err != nil || run == nil {
		return false
	}
	return run.CancelRequested || run.IsTerminal()
}

// withLease 获取执行租约并在执行期间续约；租约被他人持有时直接返回
func (o *Orchestrator) withLease(ctx context.Context, runID string, fn func(ctx context.Context) error) error {
	ok, err := o.runs.AcquireLease(ctx, runID, o.cfg.WorkerID, o.now(), o.cfg.LeaseDuration)
	if err != nil {
		return errors.ErrDatabaseError.WithError(err)
	}
	if !ok {
		logger.Info(ctx, "run is leased by another worker", "run_id", runID)
		return nil
	}

	metrics.ActiveRuns.Inc()
	hbCtx, stop := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		o.heartbeat(hbCtx, runID)
	}()
	defer func() {
		stop()
		wg.Wait()
		metrics.ActiveRuns.Dec()
		if err := o.runs.ReleaseLease(context.WithoutCancel(ctx), runID, o.cfg.WorkerID); err != nil {
			logger.Error(ctx, "release run lease", err, "run_id", runID)
		}
	}()
	return fn(ctx)
}

func (o *Orchestrator) heartbeat(ctx context.Context, runID string) {
	ticker := time.NewTicker(o.cfg.LeaseDuration / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := o.runs.AcquireLease(ctx, runID, o.cfg.WorkerID, o.now(), o.cfg.LeaseDuration)
			if err != nil && ctx.Err() == nil {
				logger.Warn(ctx, "renew run lease failed", "run_id", runID, "error", err.Error())
			} else if !ok && ctx.Err() == nil {
				logger.Warn(ctx, "run lease lost", "run_id", runID)
			}
		}
	}
}
