package redis

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"content-pipeline-api/internal/application/governance"
	"content-pipeline-api/internal/config"
	"content-pipeline-api/internal/domain/entity"
	"content-pipeline-api/internal/domain/repository"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewClientFromRDB(rdb), mr
}

func TestHealthCheck(t *testing.T) {
	client, mr := newTestClient(t)
	assert.NoError(t, client.HealthCheck(context.Background()))

	mr.Close()
	assert.Error(t, client.HealthCheck(context.Background()))
}

func TestNewClientExportsPoolStats(t *testing.T) {
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	cfg := &config.RedisConfig{Host: mr.Host(), Port: port, PoolSize: 4}

	client, err := NewClient(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	assert.Equal(t, 5, testutil.CollectAndCount(newPoolCollector(client.Redis(), cfg.Addr())))
}

func TestNewClientFailsWhenUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	host := mr.Host()
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	mr.Close()

	_, err = NewClient(&config.RedisConfig{Host: host, Port: port, DialTimeout: 200 * time.Millisecond})
	assert.Error(t, err)
}

func TestCounterStoreAdmitEnforcesConcurrencyAndIdempotency(t *testing.T) {
	client, _ := newTestClient(t)
	store := NewCounterStore(client)
	ctx := context.Background()
	limits, _ := entity.LimitsForTier(entity.TierStarter)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	adm, err := store.Admit(ctx, "t1", "run-1", limits, now)
	require.NoError(t, err)
	assert.True(t, adm.Admitted)
	assert.Equal(t, 1, adm.Active)
	assert.Equal(t, 1, adm.DailyCount)
	assert.True(t, adm.WindowStart.Equal(now))

	again, err := store.Admit(ctx, "t1", "run-1", limits, now)
	require.NoError(t, err)
	assert.True(t, again.Admitted)
	assert.Equal(t, 1, again.DailyCount)

	second, err := store.Admit(ctx, "t1", "run-2", limits, now)
	require.NoError(t, err)
	assert.False(t, second.Admitted)
	assert.Equal(t, governance.ReasonConcurrency, second.Reason)
	assert.Zero(t, second.RetryAfter)

	released, err := store.Release(ctx, "t1", "run-1")
	require.NoError(t, err)
	assert.True(t, released)
	released, err = store.Release(ctx, "t1", "run-1")
	require.NoError(t, err)
	assert.False(t, released)

	third, err := store.Admit(ctx, "t1", "run-2", limits, now)
	require.NoError(t, err)
	assert.True(t, third.Admitted)
	assert.Equal(t, 2, third.DailyCount)
}

func TestCounterStoreDailyQuotaRollsAfterWindow(t *testing.T) {
	client, _ := newTestClient(t)
	store := NewCounterStore(client)
	ctx := context.Background()
	limits := entity.TierLimits{MaxConcurrent: 10, MaxDailyContent: 2}
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b"} {
		adm, err := store.Admit(ctx, "t1", id, limits, start.Add(time.Duration(i)*time.Hour))
		require.NoError(t, err)
		require.True(t, adm.Admitted)
	}

	now := start.Add(5 * time.Hour)
	rejected, err := store.Admit(ctx, "t1", "c", limits, now)
	require.NoError(t, err)
	assert.False(t, rejected.Admitted)
	assert.Equal(t, governance.ReasonDailyQuota, rejected.Reason)
	assert.Equal(t, 19*time.Hour, rejected.RetryAfter)

	u, err := store.Usage(ctx, "t1", now)
	require.NoError(t, err)
	assert.Equal(t, 2, u.Active)
	assert.Equal(t, 2, u.DailyCount)
	assert.True(t, u.WindowStart.Equal(start))

	later := start.Add(governance.QuotaWindow)
	u, err = store.Usage(ctx, "t1", later)
	require.NoError(t, err)
	assert.Zero(t, u.DailyCount)
	assert.True(t, u.WindowStart.IsZero())

	adm, err := store.Admit(ctx, "t1", "c", limits, later)
	require.NoError(t, err)
	assert.True(t, adm.Admitted)
	assert.Equal(t, 1, adm.DailyCount)
	assert.True(t, adm.WindowStart.Equal(later))
}

func TestCounterStoreUnlimitedDaily(t *testing.T) {
	client, _ := newTestClient(t)
	store := NewCounterStore(client)
	limits, _ := entity.LimitsForTier(entity.TierEnterprise)
	now := time.Now()

	for i := 0; i < limits.MaxConcurrent; i++ {
		adm, err := store.Admit(context.Background(), "t1", string(rune('a'+i)), limits, now)
		require.NoError(t, err)
		require.True(t, adm.Admitted)
	}
	adm, err := store.Admit(context.Background(), "t1", "overflow", limits, now)
	require.NoError(t, err)
	assert.Equal(t, governance.ReasonConcurrency, adm.Reason)
}

func TestCounterStoreConcurrentAdmissionNeverExceedsCap(t *testing.T) {
	client, _ := newTestClient(t)
	store := NewCounterStore(client)
	limits := entity.TierLimits{MaxConcurrent: 3, MaxDailyContent: 100}
	now := time.Now()

	var admitted int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			adm, err := store.Admit(context.Background(), "t1", string(rune('A'+i)), limits, now)
			if err == nil && adm.Admitted {
				atomic.AddInt32(&admitted, 1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(3), admitted)
}

func TestAllowRequestSlidingWindow(t *testing.T) {
	client, _ := newTestClient(t)
	store := NewCounterStore(client)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		ok, _, err := store.AllowRequest(ctx, "t1", 3, time.Hour, start.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
		require.True(t, ok)
	}

	ok, retry, err := store.AllowRequest(ctx, "t1", 3, time.Hour, start.Add(10*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 50*time.Minute, retry)

	ok, _, err = store.AllowRequest(ctx, "t1", 3, time.Hour, start.Add(61*time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	u, err := store.Usage(ctx, "t1", start.Add(61*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, u.RequestsInWindow)
}

func TestAllowRequestSameMillisecondCountsEach(t *testing.T) {
	client, _ := newTestClient(t)
	store := NewCounterStore(client)
	now := time.Now()

	for i := 0; i < 2; i++ {
		ok, _, err := store.AllowRequest(context.Background(), "t1", 2, time.Hour, now)
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, _, err := store.AllowRequest(context.Background(), "t1", 2, time.Hour, now)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGovernorOverRedisStore(t *testing.T) {
	client, _ := newTestClient(t)
	g := governance.NewGovernor(NewCounterStore(client))
	tenant := entity.NewTenant("t1", "Acme", entity.TierStarter)

	_, err := g.Admit(context.Background(), tenant, "run-1")
	require.NoError(t, err)
	_, err = g.Admit(context.Background(), tenant, "run-2")
	require.Error(t, err)
	require.NoError(t, g.Release(context.Background(), "t1", "run-1"))
}

type countingTenants struct {
	calls   atomic.Int32
	tenants map[string]*entity.Tenant
	delay   time.Duration
}

func (c *countingTenants) Create(context.Context, *entity.Tenant) error { return nil }

func (c *countingTenants) UpdateLifecycle(_ context.Context, id string, tier entity.Tier, status entity.TenantStatus) error {
	t, ok := c.tenants[id]
	if !ok {
		return repository.ErrNotFound
	}
	t.Tier = tier
	t.Status = status
	return nil
}

func (c *countingTenants) GetByID(_ context.Context, id string) (*entity.Tenant, error) {
	c.calls.Add(1)
	time.Sleep(c.delay)
	t, ok := c.tenants[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func TestTenantCacheReadThroughKeepsWebhookSecret(t *testing.T) {
	client, mr := newTestClient(t)
	tenant := entity.NewTenant("t1", "Acme", entity.TierGrowth)
	tenant.Topics = []string{"edge caching"}
	tenant.WebhookURL = "https://hooks.example.com/in"
	tenant.WebhookSecret = "s3cret"
	repo := &countingTenants{tenants: map[string]*entity.Tenant{"t1": tenant}}
	cache := NewTenantCache(client, repo, time.Minute)
	ctx := context.Background()

	first, err := cache.GetByID(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.True(t, mr.Exists(TenantKey("t1")))

	second, err := cache.GetByID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), repo.calls.Load())
	assert.Equal(t, "s3cret", second.WebhookSecret)
	assert.Equal(t, []string{"edge caching"}, []string(second.Topics))
	assert.Equal(t, entity.TierGrowth, second.Tier)

	require.NoError(t, cache.Invalidate(ctx, "t1"))
	_, err = cache.GetByID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), repo.calls.Load())
}

func TestTenantCacheMissingTenantNotCached(t *testing.T) {
	client, mr := newTestClient(t)
	repo := &countingTenants{tenants: map[string]*entity.Tenant{}}
	cache := NewTenantCache(client, repo, time.Minute)

	got, err := cache.GetByID(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.False(t, mr.Exists(TenantKey("ghost")))
}

func TestTenantCacheCoalescesConcurrentMisses(t *testing.T) {
	client, _ := newTestClient(t)
	tenant := entity.NewTenant("t1", "Acme", entity.TierStarter)
	repo := &countingTenants{tenants: map[string]*entity.Tenant{"t1": tenant}, delay: 50 * time.Millisecond}
	cache := NewTenantCache(client, repo, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := cache.GetByID(context.Background(), "t1")
			assert.NoError(t, err)
			assert.NotNil(t, got)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), repo.calls.Load())
}

func TestTenantCacheLifecycleUpdateInvalidates(t *testing.T) {
	client, mr := newTestClient(t)
	tenant := entity.NewTenant("t1", "Acme", entity.TierStarter)
	repo := &countingTenants{tenants: map[string]*entity.Tenant{"t1": tenant}}
	cache := NewTenantCache(client, repo, time.Minute)
	ctx := context.Background()

	_, err := cache.GetByID(ctx, "t1")
	require.NoError(t, err)
	require.True(t, mr.Exists(TenantKey("t1")))

	require.NoError(t, cache.UpdateLifecycle(ctx, "t1", entity.TierGrowth, entity.TenantStatusActive))
	assert.False(t, mr.Exists(TenantKey("t1")))

	got, err := cache.GetByID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, entity.TierGrowth, got.Tier)

	assert.ErrorIs(t, cache.UpdateLifecycle(ctx, "ghost", entity.TierGrowth, entity.TenantStatusActive), repository.ErrNotFound)
}
