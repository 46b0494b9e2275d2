package governance

import (
	"context"
	"time"

	"content-pipeline-api/internal/domain/entity"
	"content-pipeline-api/pkg/errors"
	"content-pipeline-api/pkg/logger"
	"content-pipeline-api/pkg/metrics"
)

// Governor 治理入口，把计数结果映射为应用错误
type Governor struct {
	store CounterStore
	now   func() time.Time
}

// NewGovernor 创建治理器
func NewGovernor(store CounterStore) *Governor {
	return &Governor{store: store, now: time.Now}
}

// WithClock 替换时钟
func (g *Governor) WithClock(now func() time.Time) *Governor {
	g.now = now
	return g
}

// Admit 运行开始前的并发与日配额准入
func (g *Governor) Admit(ctx context.Context, tenant *entity.Tenant, runID string) (Admission, error) {
	if !tenant.IsActive() {
		g.reject(tenant, ReasonTenantInactive)
		return Admission{Reason: ReasonTenantInactive}, errors.ErrTenantInactive
	}
	limits := tenant.Limits()
	adm, err := g.store.Admit(ctx, tenant.ID, runID, limits, g.now())
	if err != nil {
		return adm, errors.Wrap(err, errors.CodeCacheError, "governance admission failed")
	}
	if adm.Admitted {
		return adm, nil
	}

	g.reject(tenant, adm.Reason)
	logger.Warn(ctx, "run admission rejected",
		"reason", adm.Reason,
		"active", adm.Active,
		"daily_count", adm.DailyCount,
		"tier", string(tenant.Tier),
	)
	switch adm.Reason {
	case ReasonDailyQuota:
		return adm, errors.ErrDailyQuota.WithRetryAfter(adm.RetryAfter).
			WithDetail("daily content quota of the tier is used up")
	default:
		return adm, errors.ErrConcurrencyLimit.
			WithDetail("tier allows at most a fixed number of runs in flight")
	}
}

// Release 运行终结时释放并发占用，可重复调用
func (g *Governor) Release(ctx context.Context, tenantID, runID string) error {
	released, err := g.store.Release(ctx, tenantID, runID)
	if err != nil {
		return errors.Wrap(err, errors.CodeCacheError, "governance release failed")
	}
	if released {
		logger.Debug(ctx, "concurrency slot released")
	}
	return nil
}

// AllowRequest 请求速率检查
func (g *Governor) AllowRequest(ctx context.Context, tenant *entity.Tenant) error {
	limit := tenant.Limits().RequestsPerHour
	ok, retryAfter, err := g.store.AllowRequest(ctx, tenant.ID, limit, RequestWindow, g.now())
	if err != nil {
		return errors.Wrap(err, errors.CodeCacheError, "rate limiter unavailable")
	}
	if !ok {
		g.reject(tenant, ReasonRateLimited)
		return errors.ErrRateLimited.WithRetryAfter(retryAfter)
	}
	return nil
}

// CheckRegeneration 重生成前的治理检查
//
// 重生成沿用原有并发占用和日配额，只确认租户仍然活跃并消耗一次请求额度。
func (g *Governor) CheckRegeneration(ctx context.Context, tenant *entity.Tenant, runID string) error {
	if !tenant.IsActive() {
		g.reject(tenant, ReasonTenantInactive)
		return errors.ErrTenantInactive
	}
	if err := g.AllowRequest(ctx, tenant); err != nil {
		return err
	}
	logger.Debug(ctx, "regeneration admitted", "run_id", runID)
	return nil
}

// UsageReport 用量报告
type UsageReport struct {
	Usage
	Limits            entity.TierLimits
	RemainingRequests int
	RemainingDaily    int
}

// Usage 查询租户用量
func (g *Governor) Usage(ctx context.Context, tenant *entity.Tenant) (*UsageReport, error) {
	u, err := g.store.Usage(ctx, tenant.ID, g.now())
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeCacheError, "usage lookup failed")
	}
	limits := tenant.Limits()
	report := &UsageReport{
		Usage:             u,
		Limits:            limits,
		RemainingRequests: max(limits.RequestsPerHour-u.RequestsInWindow, 0),
		RemainingDaily:    -1,
	}
	if !limits.DailyUnlimited() {
		report.RemainingDaily = max(limits.MaxDailyContent-u.DailyCount, 0)
	}
	return report, nil
}

func (g *Governor) reject(tenant *entity.Tenant, reason string) {
	metrics.GovernanceRejections.WithLabelValues(string(tenant.Tier), reason).Inc()
}
