package governance

import (
	"context"
	"sync"
	"time"

	"content-pipeline-api/internal/domain/entity"
)

type tenantCounters struct {
	active     map[string]struct{}
	quotaStart time.Time
	quotaCount int
	requests   []time.Time
}

// MemoryStore 进程内计数存储
type MemoryStore struct {
	mu      sync.Mutex
	tenants map[string]*tenantCounters
}

// NewMemoryStore 创建进程内存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tenants: make(map[string]*tenantCounters)}
}

func (m *MemoryStore) counters(tenantID string) *tenantCounters {
	c, ok := m.tenants[tenantID]
	if !ok {
		c = &tenantCounters{active: make(map[string]struct{})}
		m.tenants[tenantID] = c
	}
	return c
}

// rollQuota 窗口过期时清零
func (c *tenantCounters) rollQuota(now time.Time) {
	if !c.quotaStart.IsZero() && !now.Before(c.quotaStart.Add(QuotaWindow)) {
		c.quotaStart = time.Time{}
		c.quotaCount = 0
	}
}

// Admit 实现 CounterStore
func (m *MemoryStore) Admit(_ context.Context, tenantID, runID string, limits entity.TierLimits, now time.Time) (Admission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.counters(tenantID)
	c.rollQuota(now)
	res := Admission{Active: len(c.active), DailyCount: c.quotaCount, WindowStart: c.quotaStart}

	if _, ok := c.active[runID]; ok {
		res.Admitted = true
		return res, nil
	}
	if len(c.active) >= limits.MaxConcurrent {
		res.Reason = ReasonConcurrency
		return res, nil
	}
	if !limits.DailyUnlimited() && c.quotaCount >= limits.MaxDailyContent {
		res.Reason = ReasonDailyQuota
		res.RetryAfter = c.quotaStart.Add(QuotaWindow).Sub(now)
		return res, nil
	}

	if c.quotaStart.IsZero() {
		c.quotaStart = now
	}
	c.quotaCount++
	c.active[runID] = struct{}{}

	res.Admitted = true
	res.Active = len(c.active)
	res.DailyCount = c.quotaCount
	res.WindowStart = c.quotaStart
	return res, nil
}

// Release 实现 CounterStore
func (m *MemoryStore) Release(_ context.Context, tenantID, runID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.tenants[tenantID]
	if !ok {
		return false, nil
	}
	if _, held := c.active[runID]; !held {
		return false, nil
	}
	delete(c.active, runID)
	return true, nil
}

// AllowRequest 实现 CounterStore
func (m *MemoryStore) AllowRequest(_ context.Context, tenantID string, limit int, window time.Duration, now time.Time) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.counters(tenantID)
	c.requests = trimBefore(c.requests, now.Add(-window))
	if len(c.requests) >= limit {
		return false, c.requests[0].Add(window).Sub(now), nil
	}
	c.requests = append(c.requests, now)
	return true, 0, nil
}

// Usage 实现 CounterStore
func (m *MemoryStore) Usage(_ context.Context, tenantID string, now time.Time) (Usage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.counters(tenantID)
	c.rollQuota(now)
	c.requests = trimBefore(c.requests, now.Add(-RequestWindow))
	return Usage{
		Active:           len(c.active),
		DailyCount:       c.quotaCount,
		WindowStart:      c.quotaStart,
		RequestsInWindow: len(c.requests),
	}, nil
}

func trimBefore(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	return ts[i:]
}
