package delivery

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"content-pipeline-api/internal/domain/entity"
	"content-pipeline-api/internal/infrastructure/persistence/postgres"
	"content-pipeline-api/internal/infrastructure/persistence/postgres/pgtest"
	"content-pipeline-api/pkg/errors"
	"content-pipeline-api/pkg/retry"
)

func TestSignAndVerify(t *testing.T) {
	secret := []byte("s3cret")
	body := []byte(`{"run_id":"r1"}`)
	sig := Sign(secret, body)

	assert.True(t, Verify(secret, body, sig))
	assert.False(t, Verify([]byte("other"), body, sig))
	assert.False(t, Verify(secret, []byte(`{"run_id":"r2"}`), sig))
	assert.False(t, Verify(secret, body, sig[:len(sig)-2]))
	assert.False(t, Verify(secret, body, sig[len(SignaturePrefix):]))
	assert.False(t, Verify(secret, body, ""))
	assert.False(t, Verify(nil, body, sig))
}

func newDeliverer(attempts int) *Deliverer {
	return NewDeliverer(nil, nil, Config{Retry: retry.Policy{MaxAttempts: attempts, Sleep: retry.NoSleep}})
}

func deliveringRun() *entity.Run {
	run := entity.NewRun(uuid.NewString(), uuid.NewString(), 1)
	run.Stage = entity.StageDelivering
	run.Status = entity.RunStatusRunning
	run.Draft = &entity.Draft{Title: "Edge caching", Markdown: "# Edge caching"}
	run.Report = &entity.QualityReport{Overall: 91, Decision: entity.DecisionApproved}
	return run
}

func TestDeliverSignsPayload(t *testing.T) {
	var got struct {
		body      []byte
		signature string
		delivery  string
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.body, _ = io.ReadAll(r.Body)
		got.signature = r.Header.Get("X-Signature")
		got.delivery = r.Header.Get("X-Delivery-ID")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	tenant := &entity.Tenant{ID: "t1", WebhookURL: srv.URL, WebhookSecret: "hook-secret"}
	run := deliveringRun()

	res, err := newDeliverer(3).Deliver(context.Background(), tenant, run)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, http.StatusAccepted, res.StatusCode)
	assert.Equal(t, res.DeliveryID, got.delivery)
	assert.True(t, Verify([]byte("hook-secret"), got.body, got.signature))

	var payload Payload
	require.NoError(t, json.Unmarshal(got.body, &payload))
	assert.Equal(t, run.ID, payload.RunID)
	assert.Equal(t, "approved", payload.Status)
	assert.Equal(t, "Edge caching", payload.Draft.Title)
	assert.Nil(t, payload.Image)
}

func TestDeliverRetriesServerErrorsWithStableID(t *testing.T) {
	var calls atomic.Int32
	var mu sync.Mutex
	ids := map[string]struct{}{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		ids[r.Header.Get("X-Delivery-ID")] = struct{}{}
		mu.Unlock()
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tenant := &entity.Tenant{WebhookURL: srv.URL, WebhookSecret: "k"}
	res, err := newDeliverer(5).Deliver(context.Background(), tenant, deliveringRun())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempts)
	assert.Len(t, ids, 1)
}

func TestDeliverStopsOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	tenant := &entity.Tenant{WebhookURL: srv.URL, WebhookSecret: "k"}
	_, err := newDeliverer(5).Deliver(context.Background(), tenant, deliveringRun())
	assert.ErrorIs(t, err, errors.ErrDeliveryFailed)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDeliverExhaustsAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	tenant := &entity.Tenant{WebhookURL: srv.URL, WebhookSecret: "k"}
	res, err := newDeliverer(3).Deliver(context.Background(), tenant, deliveringRun())
	assert.ErrorIs(t, err, errors.ErrDeliveryFailed)
	assert.ErrorIs(t, err, retry.ErrExhausted)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDeliverRequiresEndpoint(t *testing.T) {
	_, err := newDeliverer(1).Deliver(context.Background(), &entity.Tenant{}, deliveringRun())
	assert.ErrorIs(t, err, errors.ErrDeliveryFailed)
}

func TestDeliverRequiresSecret(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, err := newDeliverer(3).Deliver(context.Background(), &entity.Tenant{WebhookURL: srv.URL}, deliveringRun())
	assert.ErrorIs(t, err, errors.ErrDeliveryFailed)
	assert.Zero(t, calls.Load())
}

type recordingReleaser struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingReleaser) Release(_ context.Context, _, runID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, runID)
	return nil
}

func (r *recordingReleaser) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type ackFixture struct {
	proc     *AckProcessor
	runs     *postgres.RunRepository
	events   *postgres.DeliveryEventRepository
	releaser *recordingReleaser
}

const ackSecret = "inbound-secret"

func newAckFixture(t *testing.T) *ackFixture {
	client := pgtest.NewClient(t)
	f := &ackFixture{
		runs:     postgres.NewRunRepository(client),
		events:   postgres.NewDeliveryEventRepository(client),
		releaser: &recordingReleaser{},
	}
	f.proc = NewAckProcessor(ackSecret, postgres.NewTxManager(client), f.runs, f.events, f.releaser)
	return f
}

func (f *ackFixture) seed(t *testing.T, run *entity.Run) {
	require.NoError(t, f.runs.Create(context.Background(), run))
}

func signedAck(t *testing.T, runID string, event entity.AckEvent) ([]byte, string) {
	body, err := json.Marshal(AckRequest{RunID: runID, Event: event, Data: map[string]any{"url": "https://example.com/p/1"}})
	require.NoError(t, err)
	return body, Sign([]byte(ackSecret), body)
}

func TestAckConfirmsDeliveryOnce(t *testing.T) {
	ctx := context.Background()
	f := newAckFixture(t)
	run := deliveringRun()
	f.seed(t, run)

	body, sig := signedAck(t, run.ID, entity.AckContentPublished)
	res, err := f.proc.Handle(ctx, body, sig)
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, entity.RunStatusDelivered, res.Status)
	assert.Equal(t, 1, f.releaser.count())

	res, err = f.proc.Handle(ctx, body, sig)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, entity.RunStatusDelivered, res.Status)
	assert.Equal(t, 1, f.releaser.count())

	stored, err := f.runs.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.RunStatusDelivered, stored.Status)
	assert.Equal(t, entity.StageCompleted, stored.Stage)
	assert.NotNil(t, stored.DeliveredAt)

	transitions, err := f.runs.ListTransitions(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, transitions, 1)
	assert.Equal(t, entity.StageDelivering, transitions[0].FromStage)

	events, err := f.events.ListByRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "https://example.com/p/1", events[0].Data["url"])
}

func TestAckRecoversDeliveryFailedRun(t *testing.T) {
	ctx := context.Background()
	f := newAckFixture(t)
	run := deliveringRun()
	run.Finish(entity.RunStatusDeliveryFailed, entity.ReasonDeliveryFailed)
	f.seed(t, run)

	body, sig := signedAck(t, run.ID, entity.AckContentReady)
	res, err := f.proc.Handle(ctx, body, sig)
	require.NoError(t, err)
	assert.Equal(t, entity.RunStatusDelivered, res.Status)
	assert.Zero(t, f.releaser.count(), "slot was already released when delivery failed")
}

func TestAckContentFailedMarksDeliveryFailed(t *testing.T) {
	ctx := context.Background()
	f := newAckFixture(t)
	run := deliveringRun()
	f.seed(t, run)

	body, sig := signedAck(t, run.ID, entity.AckContentFailed)
	res, err := f.proc.Handle(ctx, body, sig)
	require.NoError(t, err)
	assert.Equal(t, entity.RunStatusDeliveryFailed, res.Status)
	assert.Equal(t, 1, f.releaser.count())

	stored, err := f.runs.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StageDelivering, stored.Stage)
	assert.Equal(t, entity.ReasonDeliveryFailed, stored.Reason)
}

func TestAckIgnoresEventsForOtherStages(t *testing.T) {
	ctx := context.Background()
	f := newAckFixture(t)
	run := entity.NewRun(uuid.NewString(), uuid.NewString(), 1)
	f.seed(t, run)

	body, sig := signedAck(t, run.ID, entity.AckContentReady)
	res, err := f.proc.Handle(ctx, body, sig)
	require.NoError(t, err)
	assert.Equal(t, entity.RunStatusPending, res.Status)
	assert.Zero(t, f.releaser.count())
}

func TestAckIgnoredEventAppliesAfterRecovery(t *testing.T) {
	ctx := context.Background()
	f := newAckFixture(t)
	run := entity.NewRun(uuid.NewString(), uuid.NewString(), 1)
	f.seed(t, run)

	body, sig := signedAck(t, run.ID, entity.AckContentReady)
	res, err := f.proc.Handle(ctx, body, sig)
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, entity.RunStatusPending, res.Status)

	events, err := f.events.ListByRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Empty(t, events)

	stored, err := f.runs.GetByID(ctx, run.ID)
	require.NoError(t, err)
	stored.Stage = entity.StageDelivering
	stored.Status = entity.RunStatusRunning
	stored.Finish(entity.RunStatusDeliveryFailed, entity.ReasonDeliveryFailed)
	require.NoError(t, f.runs.Save(ctx, stored))

	res, err = f.proc.Handle(ctx, body, sig)
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, entity.RunStatusDelivered, res.Status)

	res, err = f.proc.Handle(ctx, body, sig)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
}

func TestDeliverStopsWhenAckSettlesRun(t *testing.T) {
	ctx := context.Background()
	f := newAckFixture(t)
	run := deliveringRun()
	f.seed(t, run)

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			body, sig := signedAck(t, run.ID, entity.AckContentPublished)
			if _, err := f.proc.Handle(context.Background(), body, sig); err != nil {
				t.Errorf("ack during delivery: %v", err)
			}
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	d := NewDeliverer(nil, f.runs, Config{Retry: retry.Policy{MaxAttempts: 5, Sleep: retry.NoSleep}})
	tenant := &entity.Tenant{WebhookURL: srv.URL, WebhookSecret: "k"}
	res, err := d.Deliver(ctx, tenant, run)
	assert.ErrorIs(t, err, ErrSettled)
	assert.NotErrorIs(t, err, errors.ErrDeliveryFailed)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, res.Attempts)

	stored, err := f.runs.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.RunStatusDelivered, stored.Status)
}

func TestRedeliverKeepsRetryingWhileStillFailed(t *testing.T) {
	f := newAckFixture(t)
	run := deliveringRun()
	run.Finish(entity.RunStatusDeliveryFailed, entity.ReasonDeliveryFailed)
	f.seed(t, run)

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	d := NewDeliverer(nil, f.runs, Config{Retry: retry.Policy{MaxAttempts: 3, Sleep: retry.NoSleep}})
	_, err := d.Deliver(context.Background(), &entity.Tenant{WebhookURL: srv.URL, WebhookSecret: "k"}, run)
	assert.ErrorIs(t, err, retry.ErrExhausted)
	assert.NotErrorIs(t, err, ErrSettled)
	assert.Equal(t, int32(3), calls.Load())
}

func TestAckRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	f := newAckFixture(t)
	run := deliveringRun()
	f.seed(t, run)

	body, _ := signedAck(t, run.ID, entity.AckContentReady)
	_, err := f.proc.Handle(ctx, body, Sign([]byte("wrong"), body))
	assert.ErrorIs(t, err, errors.ErrSignatureInvalid)

	raw := []byte(`{"run_id":`)
	_, err = f.proc.Handle(ctx, raw, Sign([]byte(ackSecret), raw))
	assert.ErrorIs(t, err, errors.ErrInvalidParam)

	unknown := []byte(`{"run_id":"` + run.ID + `","event":"content.deleted"}`)
	_, err = f.proc.Handle(ctx, unknown, Sign([]byte(ackSecret), unknown))
	assert.ErrorIs(t, err, errors.ErrUnknownEvent)

	body, sig := signedAck(t, uuid.NewString(), entity.AckContentReady)
	_, err = f.proc.Handle(ctx, body, sig)
	assert.ErrorIs(t, err, errors.ErrRunNotFound)

	events, err := f.events.ListByRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Zero(t, f.releaser.count())
}
