package pipeline

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"content-pipeline-api/internal/application/assembly"
	"content-pipeline-api/internal/application/delivery"
	"content-pipeline-api/internal/application/governance"
	"content-pipeline-api/internal/application/quality"
	"content-pipeline-api/internal/application/visual"
	"content-pipeline-api/internal/domain/entity"
	"content-pipeline-api/internal/domain/service"
	"content-pipeline-api/internal/infrastructure/persistence/postgres"
	"content-pipeline-api/internal/infrastructure/persistence/postgres/pgtest"
	"content-pipeline-api/pkg/errors"
)

type fakeDispatcher struct {
	mu         sync.Mutex
	executes   []string
	redelivers []string
}

func (d *fakeDispatcher) DispatchExecute(_ context.Context, _, runID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.executes = append(d.executes, runID)
	return nil
}

func (d *fakeDispatcher) DispatchRedeliver(_ context.Context, _, runID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.redelivers = append(d.redelivers, runID)
	return nil
}

type fakeTenants map[string]*entity.Tenant

func (f fakeTenants) GetByID(_ context.Context, id string) (*entity.Tenant, error) {
	return f[id], nil
}

type fakeDiscoverer struct {
	cands []entity.TrendCandidate
	err   error
	lastN int
	calls int
}

func (f *fakeDiscoverer) Discover(_ context.Context, _ *entity.Tenant, n int) ([]entity.TrendCandidate, error) {
	f.calls++
	f.lastN = n
	if f.err != nil {
		return nil, f.err
	}
	if len(f.cands) > n {
		return f.cands[:n], nil
	}
	return f.cands, nil
}

type fakeStrategist struct {
	err    error
	topics []string
}

func (f *fakeStrategist) BuildBrief(_ context.Context, _ *entity.Tenant, cand entity.TrendCandidate) (*entity.Brief, error) {
	f.topics = append(f.topics, cand.Topic)
	if f.err != nil {
		return nil, f.err
	}
	return &entity.Brief{
		Topic:          cand.Topic,
		TitleOptions:   []string{"All about " + cand.Topic},
		Outline:        []string{"Why it matters", "How to start"},
		TargetKeywords: []string{cand.Topic},
	}, nil
}

type fakeAssembler struct {
	mu     sync.Mutex
	inputs []assembly.Input
	during func()
	err    error
}

func (f *fakeAssembler) Assemble(ctx context.Context, in assembly.Input, hooks assembly.Hooks) (*entity.Draft, error) {
	f.mu.Lock()
	f.inputs = append(f.inputs, in)
	during := f.during
	f.mu.Unlock()

	draft := &entity.Draft{
		Title:    in.Brief.Title(),
		Sections: []entity.Section{{Heading: "Why it matters", Body: "Because."}, {Heading: "How to start", Body: "Slowly."}},
		Revision: in.Revision,
	}
	if hooks.OnCoreReady != nil {
		hooks.OnCoreReady(draft.Clone())
	}
	if during != nil {
		during()
	}
	if hooks.ShouldStop != nil && hooks.ShouldStop(ctx) {
		return nil, service.ErrCancelled
	}
	if f.err != nil {
		return nil, f.err
	}
	draft.Markdown = "# " + draft.Title + "\n\n" + draft.CoreText()
	draft.WordCount = entity.CountWords(draft.Markdown)
	return draft, nil
}

func (f *fakeAssembler) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inputs)
}

type fakeIllustrator struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeIllustrator) Produce(_ context.Context, in visual.Input) (*entity.ImageAsset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &entity.ImageAsset{URL: "https://cdn.example.com/" + in.RunID + ".jpg", Width: 1200, Height: 630, Format: "jpeg"}, nil
}

// scriptedEvaluator 每一轮给五个维度同一个分数，总分即该分数
type scriptedEvaluator struct {
	scores []float64
	pass   int
}

func (e *scriptedEvaluator) Evaluate(_ context.Context, _ quality.Input) (quality.Evaluation, error) {
	score := e.scores[len(e.scores)-1]
	if e.pass < len(e.scores) {
		score = e.scores[e.pass]
	}
	e.pass++
	var ev quality.Evaluation
	for _, dim := range entity.QualityDimensions {
		ev.Scores = append(ev.Scores, entity.DimensionScore{Dimension: dim, Score: score})
	}
	return ev, nil
}

type fakeDeliverer struct {
	errs  []error
	calls int
	// settle 模拟投递过程中到达的回执
	settle func(runID string)
}

func (f *fakeDeliverer) Deliver(_ context.Context, _ *entity.Tenant, run *entity.Run) (*delivery.Result, error) {
	f.calls++
	if f.settle != nil {
		f.settle(run.ID)
		return &delivery.Result{DeliveryID: "01HZXDELIVERY0000000000000", Attempts: 1, StatusCode: 503}, delivery.ErrSettled
	}
	var err error
	if len(f.errs) > 0 {
		err = f.errs[0]
		f.errs = f.errs[1:]
	}
	id := run.DeliveryID
	if id == "" {
		id = "01HZXDELIVERY0000000000000"
	}
	if err != nil {
		return &delivery.Result{DeliveryID: id, Attempts: 5, StatusCode: 503}, errors.ErrDeliveryFailed.WithError(err)
	}
	return &delivery.Result{DeliveryID: id, Attempts: 1, StatusCode: 200}, nil
}

type harness struct {
	orch       *Orchestrator
	runs       *postgres.RunRepository
	store      *governance.MemoryStore
	gov        *governance.Governor
	tenants    fakeTenants
	dispatcher *fakeDispatcher
	discovery  *fakeDiscoverer
	strategy   *fakeStrategist
	assembly   *fakeAssembler
	visual     *fakeIllustrator
	evaluator  *scriptedEvaluator
	delivery   *fakeDeliverer
}

func newHarness(t *testing.T) *harness {
	client := pgtest.NewClient(t)
	store := governance.NewMemoryStore()
	h := &harness{
		runs:       postgres.NewRunRepository(client),
		store:      store,
		gov:        governance.NewGovernor(store),
		tenants:    fakeTenants{},
		dispatcher: &fakeDispatcher{},
		discovery: &fakeDiscoverer{cands: []entity.TrendCandidate{
			{Topic: "edge caching", Score: 91},
			{Topic: "cdn pricing", Score: 84},
			{Topic: "http/3 adoption", Score: 77},
		}},
		strategy:  &fakeStrategist{},
		assembly:  &fakeAssembler{},
		visual:    &fakeIllustrator{},
		evaluator: &scriptedEvaluator{scores: []float64{92}},
		delivery:  &fakeDeliverer{},
	}
	h.orch = NewOrchestrator(postgres.NewTxManager(client), h.runs, h.tenants, h.gov, Stages{
		Discovery: h.discovery,
		Strategy:  h.strategy,
		Assembly:  h.assembly,
		Visual:    h.visual,
		Quality:   quality.NewGate(h.evaluator, nil, quality.Config{Threshold: 85}),
		Delivery:  h.delivery,
	}, h.dispatcher, Config{WorkerID: "worker-test", LeaseDuration: time.Hour, MaxRegenerations: 1})
	return h
}

func (h *harness) tenant(tier entity.Tier) *entity.Tenant {
	tenant := entity.NewTenant(uuid.NewString(), "Acme", tier)
	tenant.Topics = []string{"edge caching"}
	tenant.WebhookURL = "https://hooks.example.com/content"
	tenant.WebhookSecret = "hook-secret"
	h.tenants[tenant.ID] = tenant
	return tenant
}

func (h *harness) active(t *testing.T, tenantID string) int {
	u, err := h.store.Usage(context.Background(), tenantID, time.Now())
	require.NoError(t, err)
	return u.Active
}

func (h *harness) stages(t *testing.T, tenantID, runID string) []entity.RunStage {
	view, err := h.orch.Get(context.Background(), tenantID, runID)
	require.NoError(t, err)
	out := make([]entity.RunStage, 0, len(view.Transitions))
	for _, tr := range view.Transitions {
		out = append(out, tr.ToStage)
	}
	return out
}

func (h *harness) reload(t *testing.T, runID string) *entity.Run {
	run, err := h.runs.GetByID(context.Background(), runID)
	require.NoError(t, err)
	require.NotNil(t, run)
	return run
}

func TestExecuteDeliversAutomatedRun(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	tenant := h.tenant(entity.TierGrowth)

	run, err := h.orch.Submit(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, []string{run.ID}, h.dispatcher.executes)
	assert.Equal(t, 1, h.active(t, tenant.ID))

	require.NoError(t, h.orch.Execute(ctx, run.ID))

	got := h.reload(t, run.ID)
	assert.Equal(t, entity.RunStatusDelivered, got.Status)
	assert.Equal(t, entity.StageCompleted, got.Stage)
	assert.Equal(t, "edge caching", got.Selected.Topic)
	require.NotNil(t, got.Image)
	require.NotNil(t, got.Report)
	assert.Equal(t, entity.DecisionApproved, got.Report.Decision)
	assert.Equal(t, 1, got.DeliveryAttempts)
	assert.NotNil(t, got.DeliveredAt)
	assert.Equal(t, 1, h.discovery.lastN)
	assert.Equal(t, 0, h.active(t, tenant.ID))

	assert.Equal(t, []entity.RunStage{
		entity.StageCreated,
		entity.StageDiscovering,
		entity.StageStrategizing,
		entity.StageAssembling,
		entity.StageVisualizing,
		entity.StageGating,
		entity.StageDelivering,
		entity.StageCompleted,
	}, h.stages(t, tenant.ID, run.ID))

	// 已终结的运行重复执行不产生副作用
	require.NoError(t, h.orch.Execute(ctx, run.ID))
	assert.Equal(t, 1, h.delivery.calls)
}

func TestStarterTenantSecondRunRejectedWhileAssembling(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	tenant := h.tenant(entity.TierStarter)

	first, err := h.orch.Submit(ctx, tenant)
	require.NoError(t, err)

	var rejected error
	h.assembly.during = func() {
		_, rejected = h.orch.Submit(ctx, tenant)
	}
	require.NoError(t, h.orch.Execute(ctx, first.ID))

	require.Error(t, rejected)
	assert.ErrorIs(t, rejected, errors.ErrConcurrencyLimit)
	assert.Equal(t, 429, errors.AsAppError(rejected).HTTPStatus)
	assert.Len(t, h.dispatcher.executes, 1, "rejected run is not queued")

	h.assembly.during = nil
	_, err = h.orch.Submit(ctx, tenant)
	assert.NoError(t, err, "slot is free once the first run is terminal")
}

func TestInactiveTenantCannotSubmit(t *testing.T) {
	h := newHarness(t)
	tenant := h.tenant(entity.TierGrowth)
	tenant.Deactivate()

	_, err := h.orch.Submit(context.Background(), tenant)
	assert.ErrorIs(t, err, errors.ErrTenantInactive)
}

func TestQualityRegenerationThenApproved(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.evaluator.scores = []float64{72, 90}
	tenant := h.tenant(entity.TierGrowth)

	run, err := h.orch.Submit(ctx, tenant)
	require.NoError(t, err)
	require.NoError(t, h.orch.Execute(ctx, run.ID))

	got := h.reload(t, run.ID)
	assert.Equal(t, entity.RunStatusDelivered, got.Status)
	assert.Equal(t, 1, got.Regenerations)
	assert.Equal(t, 2, got.Report.Pass)
	assert.Equal(t, float64(90), got.Report.Overall)

	require.Equal(t, 2, h.assembly.count())
	assert.Empty(t, h.assembly.inputs[0].Instruction)
	assert.Equal(t, quality.DefaultRecommendation(entity.DimensionBrand), h.assembly.inputs[1].Instruction)
	assert.Equal(t, 1, h.assembly.inputs[1].Revision)
	assert.Equal(t, 2, h.visual.calls, "visual stage re-runs with the regenerated draft")
	assert.Equal(t, 1, got.Draft.Revision)

	stages := h.stages(t, tenant.ID, run.ID)
	assert.Contains(t, stages[5:], entity.StageAssembling)
}

func TestQualityRegenerationThenRejected(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.evaluator.scores = []float64{72, 80}
	tenant := h.tenant(entity.TierGrowth)

	run, err := h.orch.Submit(ctx, tenant)
	require.NoError(t, err)
	require.NoError(t, h.orch.Execute(ctx, run.ID))

	got := h.reload(t, run.ID)
	assert.Equal(t, entity.RunStatusQualityRejected, got.Status)
	assert.Equal(t, entity.ReasonQualityRejected, got.Reason)
	assert.Equal(t, entity.StageGating, got.FailedStage)
	assert.Equal(t, 1, got.Regenerations)
	assert.Equal(t, entity.DecisionQualityRejected, got.Report.Decision)
	assert.Equal(t, float64(80), got.Report.Overall)
	assert.Zero(t, h.delivery.calls)
	assert.Equal(t, 0, h.active(t, tenant.ID))
}

func TestRegenerationNeverExceedsCeiling(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.evaluator.scores = []float64{10}
	tenant := h.tenant(entity.TierGrowth)

	run, err := h.orch.Submit(ctx, tenant)
	require.NoError(t, err)
	require.NoError(t, h.orch.Execute(ctx, run.ID))

	got := h.reload(t, run.ID)
	assert.Equal(t, entity.RunStatusQualityRejected, got.Status)
	assert.Equal(t, got.MaxRegenerations, got.Regenerations)
	assert.Equal(t, 2, h.assembly.count())
}

func TestBriefMalformedFailsRun(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.strategy.err = service.NewStageError(entity.StageStrategizing, entity.ReasonBriefMalformed,
		service.KindStructural, stderrors.New("outline missing"))
	tenant := h.tenant(entity.TierGrowth)

	run, err := h.orch.Submit(ctx, tenant)
	require.NoError(t, err)
	require.NoError(t, h.orch.Execute(ctx, run.ID))

	got := h.reload(t, run.ID)
	assert.Equal(t, entity.RunStatusFailed, got.Status)
	assert.Equal(t, entity.ReasonBriefMalformed, got.Reason)
	assert.Equal(t, entity.StageStrategizing, got.FailedStage)
	assert.Contains(t, got.ErrorDetail, "outline missing")
	assert.Zero(t, h.assembly.count())
	assert.Equal(t, 0, h.active(t, tenant.ID))
}

func TestDiscoveryEmptyFailsRun(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.discovery.err = service.NewStageError(entity.StageDiscovering, entity.ReasonDiscoveryEmpty,
		service.KindStructural, stderrors.New("no candidates"))
	tenant := h.tenant(entity.TierGrowth)

	run, err := h.orch.Submit(ctx, tenant)
	require.NoError(t, err)
	require.NoError(t, h.orch.Execute(ctx, run.ID))

	got := h.reload(t, run.ID)
	assert.Equal(t, entity.ReasonDiscoveryEmpty, got.Reason)
	assert.Equal(t, entity.StageDiscovering, got.FailedStage)
}

func TestMissingImageStillApproved(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.visual.err = stderrors.New("image generation timed out")
	tenant := h.tenant(entity.TierGrowth)

	run, err := h.orch.Submit(ctx, tenant)
	require.NoError(t, err)
	require.NoError(t, h.orch.Execute(ctx, run.ID))

	got := h.reload(t, run.ID)
	assert.Equal(t, entity.RunStatusDelivered, got.Status)
	assert.Nil(t, got.Image)
	assert.Equal(t, 1, h.delivery.calls)
}

func TestHumanSelectionParksUntilChosen(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	tenant := h.tenant(entity.TierGrowth)
	tenant.HumanSelection = true

	run, err := h.orch.Submit(ctx, tenant)
	require.NoError(t, err)
	require.NoError(t, h.orch.Execute(ctx, run.ID))

	parked := h.reload(t, run.ID)
	assert.Equal(t, entity.RunStatusAwaitingSelection, parked.Status)
	assert.Equal(t, entity.StageSelecting, parked.Stage)
	assert.Len(t, parked.Candidates, 3)
	assert.Equal(t, 3, h.discovery.lastN)
	assert.Equal(t, 1, h.active(t, tenant.ID), "parked run keeps its slot")

	resumable, err := h.runs.ListResumable(ctx, time.Now().Add(2*time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, resumable)

	_, err = h.orch.Select(ctx, tenant.ID, run.ID, 7)
	assert.ErrorIs(t, err, errors.ErrInvalidParam)

	selected, err := h.orch.Select(ctx, tenant.ID, run.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, entity.StageStrategizing, selected.Stage)
	assert.Len(t, h.dispatcher.executes, 2)

	require.NoError(t, h.orch.Execute(ctx, run.ID))
	got := h.reload(t, run.ID)
	assert.Equal(t, entity.RunStatusDelivered, got.Status)
	assert.Equal(t, []string{"http/3 adoption"}, h.strategy.topics)

	_, err = h.orch.Select(ctx, tenant.ID, run.ID, 0)
	assert.ErrorIs(t, err, errors.ErrRunStateConflict)
}

func TestCancelParkedRun(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	tenant := h.tenant(entity.TierGrowth)
	tenant.HumanSelection = true

	run, err := h.orch.Submit(ctx, tenant)
	require.NoError(t, err)
	require.NoError(t, h.orch.Execute(ctx, run.ID))

	_, err = h.orch.Cancel(ctx, uuid.NewString(), run.ID)
	assert.ErrorIs(t, err, errors.ErrRunNotFound)

	cancelled, err := h.orch.Cancel(ctx, tenant.ID, run.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.RunStatusCancelled, cancelled.Status)
	assert.Equal(t, 0, h.active(t, tenant.ID))

	_, err = h.orch.Cancel(ctx, tenant.ID, run.ID)
	assert.ErrorIs(t, err, errors.ErrRunStateConflict)
}

func TestCancelDuringAssemblyDiscardsOutput(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	tenant := h.tenant(entity.TierGrowth)

	run, err := h.orch.Submit(ctx, tenant)
	require.NoError(t, err)

	var cancelErr error
	h.assembly.during = func() {
		_, cancelErr = h.orch.Cancel(ctx, tenant.ID, run.ID)
	}
	require.NoError(t, h.orch.Execute(ctx, run.ID))
	require.NoError(t, cancelErr)

	got := h.reload(t, run.ID)
	assert.Equal(t, entity.RunStatusCancelled, got.Status)
	assert.Equal(t, entity.ReasonCancelled, got.Reason)
	assert.Nil(t, got.Draft)
	assert.Nil(t, got.Image)
	assert.Zero(t, h.delivery.calls)
	assert.Equal(t, 1, h.visual.calls, "in-flight visual stage finishes and is discarded")
	assert.Equal(t, 0, h.active(t, tenant.ID))
}

func TestDeliveryFailureThenRedeliver(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.delivery.errs = []error{stderrors.New("endpoint down")}
	tenant := h.tenant(entity.TierGrowth)

	run, err := h.orch.Submit(ctx, tenant)
	require.NoError(t, err)
	require.NoError(t, h.orch.Execute(ctx, run.ID))

	failed := h.reload(t, run.ID)
	assert.Equal(t, entity.RunStatusDeliveryFailed, failed.Status)
	assert.Equal(t, entity.StageDelivering, failed.Stage)
	assert.Equal(t, entity.StageDelivering, failed.FailedStage)
	assert.Equal(t, 5, failed.DeliveryAttempts)
	assert.Equal(t, 0, h.active(t, tenant.ID))

	_, err = h.orch.Cancel(ctx, tenant.ID, run.ID)
	assert.ErrorIs(t, err, errors.ErrRunStateConflict)

	_, err = h.orch.Redeliver(ctx, tenant.ID, run.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{run.ID}, h.dispatcher.redelivers)

	require.NoError(t, h.orch.ExecuteRedelivery(ctx, run.ID))
	got := h.reload(t, run.ID)
	assert.Equal(t, entity.RunStatusDelivered, got.Status)
	assert.Equal(t, entity.StageCompleted, got.Stage)
	assert.Equal(t, 6, got.DeliveryAttempts)
	assert.Equal(t, failed.DeliveryID, got.DeliveryID)

	_, err = h.orch.Redeliver(ctx, tenant.ID, run.ID)
	assert.ErrorIs(t, err, errors.ErrRunStateConflict)
}

func TestExecuteKeepsOutcomeSettledDuringDelivery(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.delivery.settle = func(runID string) {
		run := h.reload(t, runID)
		run.Finish(entity.RunStatusDelivered, "")
		require.NoError(t, h.runs.Save(ctx, run))
	}
	tenant := h.tenant(entity.TierGrowth)

	run, err := h.orch.Submit(ctx, tenant)
	require.NoError(t, err)
	require.NoError(t, h.orch.Execute(ctx, run.ID))

	got := h.reload(t, run.ID)
	assert.Equal(t, entity.RunStatusDelivered, got.Status)
	assert.Empty(t, got.FailedStage)
	assert.Equal(t, 1, h.delivery.calls)
}

func TestExecuteSkipsRunLeasedElsewhere(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	tenant := h.tenant(entity.TierGrowth)

	run, err := h.orch.Submit(ctx, tenant)
	require.NoError(t, err)
	ok, err := h.runs.AcquireLease(ctx, run.ID, "other-worker", time.Now(), time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, h.orch.Execute(ctx, run.ID))
	assert.Zero(t, h.discovery.calls)
	assert.Equal(t, entity.RunStatusPending, h.reload(t, run.ID).Status)
}

func TestExecuteResumesFromPersistedStage(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	tenant := h.tenant(entity.TierGrowth)

	run := entity.NewRun(uuid.NewString(), tenant.ID, 1)
	run.Stage = entity.StageGating
	run.Status = entity.RunStatusRunning
	run.Brief = &entity.Brief{TitleOptions: []string{"Edge caching"}, Outline: []string{"Why"}, TargetKeywords: []string{"edge"}}
	run.Draft = &entity.Draft{Title: "Edge caching", Markdown: "# Edge caching\n\nBody."}
	require.NoError(t, h.runs.Create(ctx, run))
	_, err := h.gov.Admit(ctx, tenant, run.ID)
	require.NoError(t, err)

	require.NoError(t, h.orch.Execute(ctx, run.ID))

	got := h.reload(t, run.ID)
	assert.Equal(t, entity.RunStatusDelivered, got.Status)
	assert.Zero(t, h.discovery.calls)
	assert.Zero(t, h.assembly.count())
	assert.Equal(t, 0, h.active(t, tenant.ID))
}

func TestResumeInterruptedRequeuesIdleRuns(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	tenant := h.tenant(entity.TierGrowth)

	done, err := h.orch.Submit(ctx, tenant)
	require.NoError(t, err)
	require.NoError(t, h.orch.Execute(ctx, done.ID))
	idle, err := h.orch.Submit(ctx, tenant)
	require.NoError(t, err)

	h.dispatcher.executes = nil
	n, err := h.orch.ResumeInterrupted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{idle.ID}, h.dispatcher.executes)
}

func TestListAndGetAreTenantScoped(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	a := h.tenant(entity.TierGrowth)
	b := h.tenant(entity.TierGrowth)

	run, err := h.orch.Submit(ctx, a)
	require.NoError(t, err)
	_, err = h.orch.Submit(ctx, b)
	require.NoError(t, err)

	_, err = h.orch.Get(ctx, b.ID, run.ID)
	assert.ErrorIs(t, err, errors.ErrRunNotFound)

	view, err := h.orch.Get(ctx, a.ID, run.ID)
	require.NoError(t, err)
	assert.Len(t, view.Transitions, 1)
}
