// Package governance 实现租户级并发、日配额与请求速率治理
//
// 所有计数的修改都在 CounterStore 内部原子完成（一次检查并递增），
// 单进程使用 MemoryStore，多实例部署使用 Redis 实现。
package governance

import (
	"context"
	"time"

	"content-pipeline-api/internal/domain/entity"
)

const (
	// QuotaWindow 日配额滚动窗口，从窗口过期后的第一次准入开始计时
	QuotaWindow = 24 * time.Hour
	// RequestWindow 请求速率滑动窗口
	RequestWindow = time.Hour
)

// 拒绝原因
const (
	ReasonConcurrency    = "concurrency_limit"
	ReasonDailyQuota     = "daily_quota"
	ReasonRateLimited    = "rate_limited"
	ReasonTenantInactive = "tenant_inactive"
)

// Admission 准入结果
type Admission struct {
	Admitted    bool
	Reason      string
	Active      int
	DailyCount  int
	WindowStart time.Time
	RetryAfter  time.Duration
}

// Usage 租户当前用量
type Usage struct {
	Active           int
	DailyCount       int
	WindowStart      time.Time
	RequestsInWindow int
}

// CounterStore 治理计数存储
type CounterStore interface {
	// Admit 原子地检查并发与日配额并占用；同一 runID 重复准入不重复计数
	Admit(ctx context.Context, tenantID, runID string, limits entity.TierLimits, now time.Time) (Admission, error)
	// Release 释放并发占用，返回是否确实释放
	Release(ctx context.Context, tenantID, runID string) (bool, error)
	// AllowRequest 滑动窗口计数，超限时返回需要等待的时长
	AllowRequest(ctx context.Context, tenantID string, limit int, window time.Duration, now time.Time) (bool, time.Duration, error)
	// Usage 查询用量
	Usage(ctx context.Context, tenantID string, now time.Time) (Usage, error)
}
