package errors

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[*AppError]int{
		ErrSignatureInvalid: http.StatusUnauthorized,
		ErrUnknownEvent:     http.StatusBadRequest,
		ErrRunNotFound:      http.StatusNotFound,
		ErrConcurrencyLimit: http.StatusTooManyRequests,
		ErrDailyQuota:       http.StatusTooManyRequests,
		ErrRateLimited:      http.StatusTooManyRequests,
		ErrTenantInactive:   http.StatusForbidden,
		ErrRunStateConflict: http.StatusConflict,
		ErrDeliveryFailed:   http.StatusInternalServerError,
	}
	for e, status := range cases {
		assert.Equal(t, status, e.HTTPStatus, e.Message)
	}
}

func TestWithRetryAfterDoesNotMutateSentinel(t *testing.T) {
	e := ErrRateLimited.WithRetryAfter(30 * time.Second)

	assert.Equal(t, 30*time.Second, e.RetryAfter)
	assert.Zero(t, ErrRateLimited.RetryAfter)
	assert.ErrorIs(t, e, ErrRateLimited)
}

func TestAsAppErrorUnwrapsChain(t *testing.T) {
	wrapped := fmt.Errorf("admit: %w", ErrConcurrencyLimit.WithDetail("1/1 active"))

	appErr := AsAppError(wrapped)
	require.NotNil(t, appErr)
	assert.Equal(t, CodeConcurrencyLimit, appErr.Code)
	assert.Equal(t, "1/1 active", appErr.Detail)
	assert.True(t, IsAppError(wrapped))

	plain := AsAppError(fmt.Errorf("boom"))
	assert.Equal(t, CodeUnknown, plain.Code)
	assert.False(t, IsAppError(fmt.Errorf("boom")))
}

func TestRetryable(t *testing.T) {
	assert.True(t, ErrRateLimited.Retryable())
	assert.True(t, ErrDatabaseError.Retryable())
	assert.True(t, Wrap(fmt.Errorf("redis down"), CodeCacheError, "cache").Retryable())
	assert.False(t, ErrTenantNotFound.Retryable())
	assert.False(t, ErrInvalidParam.Retryable())
}

func TestErrorStringCarriesDetailAndCause(t *testing.T) {
	e := ErrDatabaseError.WithDetail("runs").WithError(fmt.Errorf("conn refused"))
	assert.Equal(t, "[5001] database error (runs): conn refused", e.Error())
	assert.Equal(t, http.StatusServiceUnavailable, StatusFor(CodeQueueError))
	assert.Equal(t, http.StatusInternalServerError, StatusFor("9999"))
}
