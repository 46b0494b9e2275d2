package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func TestBackoffSchedule(t *testing.T) {
	p := Policy{BaseDelay: time.Second, Factor: 2, MaxDelay: 5 * time.Second}

	assert.Equal(t, time.Duration(0), p.Backoff(0))
	assert.Equal(t, time.Second, p.Backoff(1))
	assert.Equal(t, 2*time.Second, p.Backoff(2))
	assert.Equal(t, 4*time.Second, p.Backoff(3))
	assert.Equal(t, 5*time.Second, p.Backoff(4))
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	var delays []time.Duration
	p := Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Factor:      2,
		Sleep: func(_ context.Context, d time.Duration) error {
			delays = append(delays, d)
			return nil
		},
	}

	calls := 0
	err := p.Do(context.Background(), func(_ context.Context, attempt int) error {
		calls++
		if attempt < 3 {
			return errTransient
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, delays)
}

func TestDoExhausted(t *testing.T) {
	p := Policy{MaxAttempts: 2, Sleep: NoSleep}

	calls := 0
	err := p.Do(context.Background(), func(context.Context, int) error {
		calls++
		return errTransient
	})

	assert.Equal(t, 2, calls)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, errTransient)
}

func TestDoStopsOnPermanentAndClassifier(t *testing.T) {
	errBad := errors.New("malformed")

	calls := 0
	err := Policy{MaxAttempts: 5, Sleep: NoSleep}.Do(context.Background(), func(context.Context, int) error {
		calls++
		return Permanent(errBad)
	})
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, errBad)
	assert.NotErrorIs(t, err, ErrExhausted)

	calls = 0
	p := Policy{
		MaxAttempts: 5,
		Sleep:       NoSleep,
		Classifier:  func(err error) bool { return errors.Is(err, errTransient) },
	}
	err = p.Do(context.Background(), func(context.Context, int) error {
		calls++
		return errBad
	})
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, errBad)
}

func TestDoHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 5, Sleep: NoSleep}

	calls := 0
	err := p.Do(ctx, func(context.Context, int) error {
		calls++
		cancel()
		return errTransient
	})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, context.Canceled)
}
