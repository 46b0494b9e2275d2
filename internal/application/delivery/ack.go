package delivery

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/oklog/ulid/v2"

	"content-pipeline-api/internal/domain/entity"
	"content-pipeline-api/internal/domain/repository"
	"content-pipeline-api/pkg/errors"
	"content-pipeline-api/pkg/logger"
	"content-pipeline-api/pkg/metrics"
)

// SlotReleaser 终态时释放租户并发占用
type SlotReleaser interface {
	Release(ctx context.Context, tenantID, runID string) error
}

// AckRequest 入站确认请求体
type AckRequest struct {
	RunID string          `json:"run_id"`
	Event entity.AckEvent `json:"event"`
	Data  map[string]any  `json:"data,omitempty"`
}

// AckResult 处理结果
type AckResult struct {
	RunID     string           `json:"run_id"`
	Event     entity.AckEvent  `json:"event"`
	Status    entity.RunStatus `json:"status"`
	Duplicate bool             `json:"duplicate"`
}

// AckProcessor 入站确认处理
type AckProcessor struct {
	secret   []byte
	tx       repository.Transactor
	runs     repository.RunRepository
	events   repository.DeliveryEventRepository
	releaser SlotReleaser
}

// NewAckProcessor 创建确认处理器
func NewAckProcessor(secret string, tx repository.Transactor, runs repository.RunRepository,
	events repository.DeliveryEventRepository, releaser SlotReleaser) *AckProcessor {
	return &AckProcessor{
		secret:   []byte(secret),
		tx:       tx,
		runs:     runs,
		events:   events,
		releaser: releaser,
	}
}

const staleRetries = 3

// Handle 验签、解析并幂等地应用确认
//
// 签名在解析之前校验。同一 (run_id, event) 的重复确认不产生任何副作用。
func (p *AckProcessor) Handle(ctx context.Context, body []byte, signature string) (*AckResult, error) {
	if !Verify(p.secret, body, signature) {
		metrics.WebhookAcks.WithLabelValues("unknown", "unauthorized").Inc()
		return nil, errors.ErrSignatureInvalid
	}

	var req AckRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, errors.ErrInvalidParam.WithDetail("malformed acknowledgment body")
	}
	if req.RunID == "" {
		return nil, errors.ErrInvalidParam.WithDetail("run_id is required")
	}
	if !req.Event.Valid() {
		metrics.WebhookAcks.WithLabelValues("unknown", "rejected").Inc()
		return nil, errors.ErrUnknownEvent.WithDetail(string(req.Event))
	}
	ctx = logger.WithRun(ctx, "", req.RunID)

	var (
		result   *AckResult
		released *entity.Run
		err      error
	)
	for i := 0; i < staleRetries; i++ {
		result, released, err = p.apply(ctx, req)
		if !stderrors.Is(err, repository.ErrStaleRun) {
			break
		}
	}
	if err != nil {
		return nil, err
	}

	if released != nil && p.releaser != nil {
		if err := p.releaser.Release(ctx, released.TenantID, released.ID); err != nil {
			logger.Error(ctx, "release concurrency slot after ack", err)
		}
	}

	outcome := "applied"
	if result.Duplicate {
		outcome = "duplicate"
	}
	metrics.WebhookAcks.WithLabelValues(string(req.Event), outcome).Inc()
	logger.Info(ctx, "delivery acknowledgment processed",
		"event", string(req.Event),
		"status", string(result.Status),
		"duplicate", result.Duplicate,
	)
	return result, nil
}

// apply 在事务中记录事件并推进状态；返回首次进入终态的运行以便提交后释放占用
func (p *AckProcessor) apply(ctx context.Context, req AckRequest) (*AckResult, *entity.Run, error) {
	result := &AckResult{RunID: req.RunID, Event: req.Event}
	var released *entity.Run

	err := p.tx.WithTransaction(ctx, func(ctx context.Context) error {
		run, err := p.runs.GetByID(ctx, req.RunID)
		if err != nil {
			return errors.ErrDatabaseError.WithError(err)
		}
		if run == nil {
			return errors.ErrRunNotFound
		}
		result.Status = run.Status

		wasTerminal := run.IsTerminal()
		from := run.Stage
		var next entity.RunStatus
		switch {
		case req.Event.Confirms() && (run.Stage == entity.StageDelivering || run.Status == entity.RunStatusDeliveryFailed):
			next = entity.RunStatusDelivered
		case req.Event == entity.AckContentFailed && run.Stage == entity.StageDelivering && !wasTerminal:
			next = entity.RunStatusDeliveryFailed
		default:
			// 不推进状态的确认不落库，运行之后进入可确认状态时仍能被应用
			result.Duplicate, err = p.seen(ctx, run.ID, req.Event)
			return err
		}

		err = p.events.Record(ctx, &entity.DeliveryEvent{
			ID:        ulid.Make().String(),
			RunID:     run.ID,
			Event:     req.Event,
			Data:      req.Data,
			CreatedAt: time.Now(),
		})
		if stderrors.Is(err, repository.ErrDuplicate) {
			result.Duplicate = true
			return nil
		}
		if err != nil {
			return errors.ErrDatabaseError.WithError(err)
		}

		if next == entity.RunStatusDelivered {
			run.Finish(next, "")
		} else {
			run.Finish(next, entity.ReasonDeliveryFailed)
		}

		if err := p.runs.Save(ctx, run); err != nil {
			return err
		}
		if err := p.runs.AppendTransition(ctx, &entity.RunTransition{
			RunID:     run.ID,
			FromStage: from,
			ToStage:   run.Stage,
			Status:    run.Status,
			Reason:    run.Reason,
			CreatedAt: time.Now(),
		}); err != nil {
			return err
		}
		result.Status = run.Status
		if !wasTerminal {
			released = run
		}
		return nil
	})
	return result, released, err
}

// seen 该事件是否已被应用过
func (p *AckProcessor) seen(ctx context.Context, runID string, event entity.AckEvent) (bool, error) {
	events, err := p.events.ListByRun(ctx, runID)
	if err != nil {
		return false, errors.ErrDatabaseError.WithError(err)
	}
	for _, e := range events {
		if e.Event == event {
			return true, nil
		}
	}
	return false, nil
}
