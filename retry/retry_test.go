package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xIceArcher/go-livewatch/retry"
	"github.com/xIceArcher/go-livewatch/stream"
)

var instantPolicy = retry.Policy{
	Delays: []time.Duration{0, 0, 0, 0},
}

var errTransient = &stream.TransientError{Platform: stream.PlatformTwitch, StatusCode: 503, Err: errors.New("unavailable")}

func TestDo_SuccessFirstAttempt(t *testing.T) {
	val, err := retry.Do(context.Background(), instantPolicy, retry.ClassifyPlatformError, func(int) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, val)
}

func TestDo_SuccessAfterRetries(t *testing.T) {
	calls := 0
	_, err := retry.Do(context.Background(), instantPolicy, retry.ClassifyPlatformError, func(int) (struct{}, error) {
		calls++
		if calls < 3 {
			return struct{}{}, errTransient
		}
		return struct{}{}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsDelaySequence(t *testing.T) {
	calls := 0
	var retried []int
	p := instantPolicy
	p.OnRetry = func(attempt int, err error, delay time.Duration) {
		retried = append(retried, attempt)
	}

	_, err := retry.Do(context.Background(), p, retry.ClassifyPlatformError, func(int) (struct{}, error) {
		calls++
		return struct{}{}, errTransient
	})
	require.Error(t, err)
	assert.True(t, stream.IsTransient(err))
	assert.Equal(t, 5, calls)
	assert.Equal(t, []int{1, 2, 3, 4}, retried)
}

func TestDo_AuthErrorStopsImmediately(t *testing.T) {
	calls := 0
	_, err := retry.Do(context.Background(), instantPolicy, retry.ClassifyPlatformError, func(int) (struct{}, error) {
		calls++
		return struct{}{}, &stream.AuthError{Platform: stream.PlatformKick, Err: errors.New("401")}
	})

	var permErr *retry.PermanentError
	require.ErrorAs(t, err, &permErr)
	assert.True(t, stream.IsAuthError(err))
	assert.Equal(t, 1, calls)
}

func TestDo_UnclassifiedErrorIsPermanent(t *testing.T) {
	calls := 0
	_, err := retry.Do(context.Background(), instantPolicy, retry.ClassifyPlatformError, func(int) (struct{}, error) {
		calls++
		return struct{}{}, errors.New("malformed response")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_WaitsOnClock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := retry.Policy{Delays: []time.Duration{time.Second, 5 * time.Second}, Clock: clock}

	done := make(chan error, 1)
	go func() {
		_, err := retry.Do(context.Background(), p, retry.ClassifyPlatformError, func(attempt int) (int, error) {
			if attempt < 3 {
				return 0, errTransient
			}
			return attempt, nil
		})
		done <- err
	}()

	clock.BlockUntil(1)
	clock.Advance(time.Second)
	clock.BlockUntil(1)
	clock.Advance(5 * time.Second)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("retry did not finish after advancing the clock")
	}
}

func TestDo_ContextCancelledDuringWait(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := retry.Policy{Delays: []time.Duration{time.Minute}, Clock: clock}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := retry.Do(ctx, p, retry.ClassifyPlatformError, func(int) (int, error) {
			return 0, errTransient
		})
		done <- err
	}()

	clock.BlockUntil(1)
	cancel()

	err := <-done
	assert.ErrorIs(t, err, context.Canceled)
}
