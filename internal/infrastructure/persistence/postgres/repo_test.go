package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"content-pipeline-api/internal/domain/entity"
	"content-pipeline-api/internal/domain/repository"
	"content-pipeline-api/internal/infrastructure/persistence/postgres"
	"content-pipeline-api/internal/infrastructure/persistence/postgres/pgtest"
)

func newRun(tenantID string) *entity.Run {
	return entity.NewRun(uuid.NewString(), tenantID, 1)
}

func TestTenantRepositoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := postgres.NewTenantRepository(pgtest.NewClient(t))

	tenant := entity.NewTenant(uuid.NewString(), "Acme", entity.TierGrowth)
	tenant.Topics = []string{"edge caching", "cdn"}
	tenant.Brand = &entity.BrandProfile{Voice: "plain", Keywords: []string{"latency"}}
	require.NoError(t, repo.Create(ctx, tenant))

	got, err := repo.GetByID(ctx, tenant.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, entity.TierGrowth, got.Tier)
	assert.Equal(t, []string{"edge caching", "cdn"}, []string(got.Topics))
	assert.Equal(t, "plain", got.Brand.Voice)

	assert.ErrorIs(t, repo.Create(ctx, entity.NewTenant(tenant.ID, "Other", entity.TierStarter)), repository.ErrDuplicate)

	require.NoError(t, repo.UpdateLifecycle(ctx, tenant.ID, entity.TierEnterprise, entity.TenantStatusDeactivated))
	again, err := repo.GetByID(ctx, tenant.ID)
	require.NoError(t, err)
	assert.False(t, again.IsActive())
	assert.Equal(t, entity.TierEnterprise, again.Tier)
	assert.Equal(t, "Acme", again.Name)
	assert.Equal(t, "plain", again.Brand.Voice)

	assert.ErrorIs(t, repo.UpdateLifecycle(ctx, uuid.NewString(), entity.TierGrowth, entity.TenantStatusActive), repository.ErrNotFound)

	missing, err := repo.GetByID(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRunRepositorySaveDetectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	repo := postgres.NewRunRepository(pgtest.NewClient(t))

	run := newRun("tenant-a")
	require.NoError(t, repo.Create(ctx, run))

	first, err := repo.GetByID(ctx, run.ID)
	require.NoError(t, err)
	second, err := repo.GetByID(ctx, run.ID)
	require.NoError(t, err)

	require.NoError(t, first.Advance(entity.StageDiscovering))
	require.NoError(t, repo.Save(ctx, first))
	assert.Equal(t, 2, first.Version)

	second.CancelRequested = true
	err = repo.Save(ctx, second)
	assert.True(t, errors.Is(err, repository.ErrStaleRun))
	assert.Equal(t, 1, second.Version)

	stored, err := repo.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StageDiscovering, stored.Stage)
	assert.False(t, stored.CancelRequested)
	assert.Equal(t, 2, stored.Version)
}

func TestRunRepositoryPersistsArtifacts(t *testing.T) {
	ctx := context.Background()
	repo := postgres.NewRunRepository(pgtest.NewClient(t))

	run := newRun("tenant-a")
	require.NoError(t, repo.Create(ctx, run))
	run.Brief = &entity.Brief{TitleOptions: []string{"Edge caching"}, Outline: []string{"Why"}, TargetKeywords: []string{"edge"}}
	run.Draft = &entity.Draft{Title: "Edge caching", Markdown: "# Edge caching\n\nbody"}
	run.RecordAttempt(entity.StageAssembling)
	require.NoError(t, repo.Save(ctx, run))

	got, err := repo.GetByID(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Draft)
	assert.Equal(t, "# Edge caching\n\nbody", got.Draft.Markdown)
	assert.Equal(t, "Edge caching", got.Brief.Title())
	assert.Equal(t, 1, got.StageAttempts[entity.StageAssembling])
}

func TestRunRepositoryTransitionsKeepOrder(t *testing.T) {
	ctx := context.Background()
	client := pgtest.NewClient(t)
	repo := postgres.NewRunRepository(client)
	tx := postgres.NewTxManager(client)

	run := newRun("tenant-a")
	require.NoError(t, repo.Create(ctx, run))

	stages := []entity.RunStage{entity.StageDiscovering, entity.StageStrategizing, entity.StageAssembling}
	for _, stage := range stages {
		err := tx.WithTransaction(ctx, func(ctx context.Context) error {
			from := run.Stage
			if err := run.Advance(stage); err != nil {
				return err
			}
			if err := repo.Save(ctx, run); err != nil {
				return err
			}
			return repo.AppendTransition(ctx, &entity.RunTransition{RunID: run.ID, FromStage: from, ToStage: stage, Status: run.Status})
		})
		require.NoError(t, err)
	}

	items, err := repo.ListTransitions(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, items, 3)
	for i, stage := range stages {
		assert.Equal(t, stage, items[i].ToStage)
	}
	assert.Equal(t, entity.StageCreated, items[0].FromStage)
}

func TestRunRepositoryTransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	client := pgtest.NewClient(t)
	repo := postgres.NewRunRepository(client)
	tx := postgres.NewTxManager(client)

	run := newRun("tenant-a")
	require.NoError(t, repo.Create(ctx, run))

	boom := errors.New("boom")
	err := tx.WithTransaction(ctx, func(ctx context.Context) error {
		require.NoError(t, run.Advance(entity.StageDiscovering))
		require.NoError(t, repo.Save(ctx, run))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	stored, err := repo.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StageCreated, stored.Stage)
	assert.Equal(t, 1, stored.Version)
}

func TestRunRepositoryLeases(t *testing.T) {
	ctx := context.Background()
	repo := postgres.NewRunRepository(pgtest.NewClient(t))
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	run := newRun("tenant-a")
	require.NoError(t, repo.Create(ctx, run))

	ok, err := repo.AcquireLease(ctx, run.ID, "worker-1", now, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.AcquireLease(ctx, run.ID, "worker-2", now.Add(30*time.Second), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "live lease held by another worker")

	ok, err = repo.AcquireLease(ctx, run.ID, "worker-1", now.Add(30*time.Second), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "owner renews its own lease")

	ok, err = repo.AcquireLease(ctx, run.ID, "worker-2", now.Add(5*time.Minute), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired lease is taken over")

	require.NoError(t, repo.ReleaseLease(ctx, run.ID, "worker-2"))
	ok, err = repo.AcquireLease(ctx, run.ID, "worker-3", now.Add(5*time.Minute), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	// Save 不覆盖租约
	stored, err := repo.GetByID(ctx, run.ID)
	require.NoError(t, err)
	require.NoError(t, stored.Advance(entity.StageDiscovering))
	require.NoError(t, repo.Save(ctx, stored))
	ok, err = repo.AcquireLease(ctx, run.ID, "worker-4", now.Add(5*time.Minute+10*time.Second), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRunRepositoryListResumable(t *testing.T) {
	ctx := context.Background()
	repo := postgres.NewRunRepository(pgtest.NewClient(t))
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	idle := newRun("tenant-a")
	require.NoError(t, repo.Create(ctx, idle))

	leased := newRun("tenant-a")
	require.NoError(t, repo.Create(ctx, leased))
	_, err := repo.AcquireLease(ctx, leased.ID, "worker-1", now, time.Minute)
	require.NoError(t, err)

	parked := newRun("tenant-a")
	parked.Stage = entity.StageSelecting
	parked.Status = entity.RunStatusAwaitingSelection
	require.NoError(t, repo.Create(ctx, parked))

	done := newRun("tenant-a")
	done.Finish(entity.RunStatusDelivered, "")
	require.NoError(t, repo.Create(ctx, done))

	runs, err := repo.ListResumable(ctx, now.Add(10*time.Second), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, idle.ID, runs[0].ID)

	runs, err = repo.ListResumable(ctx, now.Add(2*time.Minute), 10)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestRunRepositoryListByTenantAndDeliveredTexts(t *testing.T) {
	ctx := context.Background()
	repo := postgres.NewRunRepository(pgtest.NewClient(t))

	for i := 0; i < 3; i++ {
		run := newRun("tenant-a")
		run.CreatedAt = time.Now().Add(time.Duration(i) * time.Minute)
		run.Draft = &entity.Draft{Markdown: "draft body"}
		if i < 2 {
			run.Finish(entity.RunStatusDelivered, "")
		}
		require.NoError(t, repo.Create(ctx, run))
	}
	require.NoError(t, repo.Create(ctx, newRun("tenant-b")))

	page, err := repo.ListByTenant(ctx, "tenant-a", nil, repository.NewPagination(1, 2))
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	assert.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Items, 2)
	assert.True(t, page.Items[0].CreatedAt.After(page.Items[1].CreatedAt))

	delivered, err := repo.ListByTenant(ctx, "tenant-a", &repository.RunFilter{Status: entity.RunStatusDelivered}, repository.NewPagination(1, 20))
	require.NoError(t, err)
	assert.Equal(t, int64(2), delivered.Total)

	texts, err := repo.ListDeliveredTexts(ctx, "tenant-a", delivered.Items[0].ID, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"draft body"}, texts)
}

func TestDeliveryEventRepositoryRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	repo := postgres.NewDeliveryEventRepository(pgtest.NewClient(t))
	runID := uuid.NewString()

	require.NoError(t, repo.Record(ctx, &entity.DeliveryEvent{ID: "01J0000000000000000000000A", RunID: runID, Event: entity.AckContentReady}))
	err := repo.Record(ctx, &entity.DeliveryEvent{ID: "01J0000000000000000000000B", RunID: runID, Event: entity.AckContentReady})
	assert.ErrorIs(t, err, repository.ErrDuplicate)
	require.NoError(t, repo.Record(ctx, &entity.DeliveryEvent{ID: "01J0000000000000000000000C", RunID: runID, Event: entity.AckContentPublished}))

	events, err := repo.ListByRun(ctx, runID)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestClientInstallsQueryTracing(t *testing.T) {
	client := pgtest.NewClient(t)
	assert.Contains(t, client.DB().Config.Plugins, "otelgorm")
	assert.NoError(t, client.HealthCheck(context.Background()))
}
