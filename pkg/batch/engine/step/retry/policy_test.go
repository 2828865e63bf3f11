package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/wpmigrate/pkg/batch/support/util/exception"
)

type recordingSleeper struct {
	waits []time.Duration
}

func (r *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return nil
}

func TestDo_ExhaustsAttemptsWithFixedBackoff(t *testing.T) {
	policy := NewFixedBackoffPolicy(3, 2*time.Second)
	sleeper := &recordingSleeper{}
	calls := 0

	err := Do(context.Background(), policy, sleeper.sleep, func(attempt int) error {
		calls++
		return exception.NewDownloadError("http://src/a.jpg", errors.New("attempt failed"))
	}, nil)

	require.Error(t, err)
	assert.True(t, exception.IsDownloadError(err))
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, sleeper.waits)
}

func TestDo_StopsOnSuccess(t *testing.T) {
	sleeper := &recordingSleeper{}
	var retried []int
	err := Do(context.Background(), NewFixedBackoffPolicy(3, time.Second), sleeper.sleep, func(attempt int) error {
		if attempt < 2 {
			return exception.NewDownloadError("u", nil)
		}
		return nil
	}, func(attempt int, _ error) { retried = append(retried, attempt) })

	require.NoError(t, err)
	assert.Equal(t, []int{1}, retried)
	assert.Len(t, sleeper.waits, 1)
}

func TestDo_NonRetryableReturnsImmediately(t *testing.T) {
	calls := 0
	err := Do(context.Background(), NewFixedBackoffPolicy(3, time.Second), nil, func(int) error {
		calls++
		return errors.New("bad request")
	}, nil)
	assert.EqualError(t, err, "bad request")
	assert.Equal(t, 1, calls)
}

func TestFixedBackoffPolicy_NamedExceptions(t *testing.T) {
	policy := NewFixedBackoffPolicy(0, 0, "connection refused")
	assert.Equal(t, 1, policy.GetMaxAttempts())
	assert.True(t, policy.ShouldRetry(errors.New("dial tcp: connection refused")))
	assert.False(t, policy.ShouldRetry(context.Canceled))
}

func TestContextSleep_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, ContextSleep(ctx, time.Hour), context.Canceled)
}
