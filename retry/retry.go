package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/xIceArcher/go-livewatch/stream"
)

type Action int

const (
	Stop  Action = iota // permanent error, abort immediately
	Retry               // transient error, wait for the next delay
)

// Policy retries an operation once per entry in Delays, so it makes at most len(Delays)+1 attempts.
type Policy struct {
	Delays  []time.Duration
	Clock   clockwork.Clock
	OnRetry func(attempt int, err error, delay time.Duration)
}

type Classify func(err error) Action
type Operation[T any] func(attempt int) (T, error)

// ClassifyPlatformError retries transient platform failures and stops on everything else.
func ClassifyPlatformError(err error) Action {
	if stream.IsAuthError(err) || errors.Is(err, stream.ErrRateLimited) {
		return Stop
	}
	if stream.IsTransient(err) {
		return Retry
	}
	return Stop
}

func Do[T any](ctx context.Context, p Policy, classify Classify, op Operation[T]) (T, error) {
	clock := p.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	attempts := len(p.Delays) + 1
	for attempt := 1; ; attempt++ {
		val, err := op(attempt)
		if err == nil {
			return val, nil
		}

		var zero T
		if classify(err) == Stop {
			return zero, &PermanentError{Err: err}
		}
		if attempt == attempts {
			return zero, fmt.Errorf("failed after %d attempts: %w", attempts, err)
		}

		delay := p.Delays[attempt-1]
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, delay)
		}
		if delay <= 0 {
			continue
		}

		select {
		case <-clock.After(delay):
		case <-ctx.Done():
			return zero, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		}
	}
}

type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }
