package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"

	"content-pipeline-api/internal/domain/entity"
	"content-pipeline-api/pkg/errors"
	"content-pipeline-api/pkg/logger"
	"content-pipeline-api/pkg/metrics"
	"content-pipeline-api/pkg/retry"
)

// Payload 出站 webhook 负载
type Payload struct {
	RunID         string                `json:"run_id"`
	Status        string                `json:"status"`
	Draft         *entity.Draft         `json:"draft"`
	Image         *entity.ImageAsset    `json:"image"`
	QualityReport *entity.QualityReport `json:"quality_report"`
	Timestamp     time.Time             `json:"timestamp"`
}

// Config 投递配置
type Config struct {
	SignatureHeader string
	Timeout         time.Duration
	// Retry 总尝试次数上限，默认 5 次，2s 起指数退避
	Retry retry.Policy
}

// Result 投递结果
type Result struct {
	DeliveryID string
	Attempts   int
	StatusCode int
}

// ErrSettled 投递过程中回执已经把运行推向终态，停止继续投递
var ErrSettled = stderrors.New("run settled by acknowledgement during delivery")

// RunReader 重试前重新读取运行状态
type RunReader interface {
	GetByID(ctx context.Context, id string) (*entity.Run, error)
}

// Deliverer 出站投递
type Deliverer struct {
	client *http.Client
	runs   RunReader
	cfg    Config
	now    func() time.Time
}

// NewDeliverer 创建投递器；client 为 nil 时使用带超时的默认客户端，runs 为 nil 时不做重试前检查
func NewDeliverer(client *http.Client, runs RunReader, cfg Config) *Deliverer {
	if cfg.SignatureHeader == "" {
		cfg.SignatureHeader = "X-Signature"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 5
		cfg.Retry.BaseDelay = 2 * time.Second
		cfg.Retry.Factor = 2
		cfg.Retry.MaxDelay = time.Minute
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Deliverer{client: client, runs: runs, cfg: cfg, now: time.Now}
}

// statusError 非 2xx 响应
type statusError struct{ code int }

func (e *statusError) Error() string { return fmt.Sprintf("webhook responded %d", e.code) }

// Deliver 签名并投递，非 2xx 与网络错误按策略重试；4xx（408、429 除外）不重试
func (d *Deliverer) Deliver(ctx context.Context, tenant *entity.Tenant, run *entity.Run) (*Result, error) {
	if tenant.WebhookURL == "" {
		return nil, errors.ErrDeliveryFailed.WithDetail("tenant has no webhook endpoint")
	}
	if tenant.WebhookSecret == "" {
		return nil, errors.ErrDeliveryFailed.WithDetail("tenant has no webhook secret")
	}
	body, err := json.Marshal(Payload{
		RunID:         run.ID,
		Status:        string(entity.DecisionApproved),
		Draft:         run.Draft,
		Image:         run.Image,
		QualityReport: run.Report,
		Timestamp:     d.now().UTC(),
	})
	if err != nil {
		return nil, errors.ErrDeliveryFailed.WithError(err)
	}
	signature := Sign([]byte(tenant.WebhookSecret), body)

	res := &Result{DeliveryID: run.DeliveryID}
	if res.DeliveryID == "" {
		res.DeliveryID = ulid.Make().String()
	}

	policy := d.cfg.Retry
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.Warn(ctx, "webhook delivery attempt failed",
			"attempt", attempt,
			"delivery_id", res.DeliveryID,
			"retry_in", delay.String(),
			"error", err.Error(),
		)
	}
	err = policy.Do(ctx, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			if err := d.checkUnsettled(ctx, run); err != nil {
				return err
			}
		}
		res.Attempts = attempt
		code, err := d.post(ctx, tenant.WebhookURL, body, signature, res.DeliveryID, run.ID)
		res.StatusCode = code
		if err != nil {
			metrics.DeliveryAttempts.WithLabelValues("failure").Inc()
			if code >= 400 && code < 500 && code != http.StatusRequestTimeout && code != http.StatusTooManyRequests {
				return retry.Permanent(err)
			}
			return err
		}
		metrics.DeliveryAttempts.WithLabelValues("success").Inc()
		return nil
	})
	if stderrors.Is(err, ErrSettled) {
		logger.Info(ctx, "webhook delivery stopped, run already settled",
			"delivery_id", res.DeliveryID,
			"attempts", res.Attempts,
		)
		return res, ErrSettled
	}
	if err != nil {
		return res, errors.ErrDeliveryFailed.WithError(err)
	}
	logger.Info(ctx, "webhook delivered",
		"delivery_id", res.DeliveryID,
		"attempts", res.Attempts,
		"status_code", res.StatusCode,
	)
	return res, nil
}

// checkUnsettled 运行已被回执推到其他终态时返回 ErrSettled；读取失败只记录日志，继续投递
func (d *Deliverer) checkUnsettled(ctx context.Context, run *entity.Run) error {
	if d.runs == nil {
		return nil
	}
	current, err := d.runs.GetByID(ctx, run.ID)
	if err != nil {
		logger.Warn(ctx, "reload run before delivery retry failed", "run_id", run.ID, "error", err.Error())
		return nil
	}
	if current != nil && current.IsTerminal() && current.Status != run.Status {
		return retry.Permanent(ErrSettled)
	}
	return nil
}

func (d *Deliverer) post(ctx context.Context, url string, body []byte, signature, deliveryID, runID string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(d.cfg.SignatureHeader, signature)
	req.Header.Set("X-Delivery-ID", deliveryID)
	req.Header.Set("X-Run-ID", runID)

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, &statusError{code: resp.StatusCode}
	}
	return resp.StatusCode, nil
}
