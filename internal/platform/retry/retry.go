// Package retry runs startup operations (database connect, Redis ping) with
// bounded exponential backoff.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	apperrors "github.com/nseguin42/chatserver/internal/errors"
)

type Action int

const (
	Stop  Action = iota // permanent error, abort immediately
	Retry               // transient error, back off and try again
)

type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Clock          clockwork.Clock
	OnRetry        func(attempt int, err error, backoff time.Duration)
}

type Classify func(err error) Action
type Operation[T any] func(ctx context.Context) (T, error)

// StopOnConfiguration treats configuration errors as permanent and everything
// else as transient.
func StopOnConfiguration(err error) Action {
	if apperrors.IsType(err, apperrors.TypeConfiguration) {
		return Stop
	}
	return Retry
}

func Do[T any](ctx context.Context, p Policy, classify Classify, op Operation[T]) (T, error) {
	var zero T
	if p.MaxAttempts < 1 {
		return zero, fmt.Errorf("retry: MaxAttempts must be >= 1, got %d", p.MaxAttempts)
	}
	clock := p.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	backoff := p.InitialBackoff
	for attempt := 1; ; attempt++ {
		val, err := op(ctx)
		if err == nil {
			return val, nil
		}

		if classify(err) == Stop {
			return zero, &PermanentError{Err: err}
		}
		if attempt == p.MaxAttempts {
			return zero, fmt.Errorf("failed after %d attempts: %w", p.MaxAttempts, err)
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt, err, backoff)
		}

		select {
		case <-clock.After(backoff):
			backoff *= 2
			if p.MaxBackoff > 0 && backoff > p.MaxBackoff {
				backoff = p.MaxBackoff
			}
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
