package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// maybeAttempts caps retries of errors classified RetryClassMaybe.
const maybeAttempts = 2

// RetryPolicy is exponential backoff for one kind of external call.
type RetryPolicy struct {
	MaxRetries   int // 0 disables retries
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool // adds up to 20% on top of each delay
}

// RetryConfig holds separate retry policies for embedding, generation and host calls.
type RetryConfig struct {
	EmbedPolicy    RetryPolicy
	GeneratePolicy RetryPolicy
	FetchPolicy    RetryPolicy
}

// RetryableFunc is one attempt of a retried call.
type RetryableFunc[T any] func(ctx context.Context) (T, error)

// RetryWithPolicy runs fn until it succeeds, classify rejects the error, the
// policy runs out or ctx ends. onRetry, when set, is told about each wait.
func RetryWithPolicy[T any](
	ctx context.Context,
	policy RetryPolicy,
	fn RetryableFunc[T],
	classify func(error) RetryClass,
	onRetry func(attempt int, delay time.Duration, err error),
) (T, error) {
	var zero T
	for attempt := 0; ; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return zero, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		}

		switch class := classify(err); {
		case class == RetryClassNonRetryable:
			return zero, err
		case attempt >= policy.MaxRetries:
			return zero, NewRetryExhaustedError(err, attempt, policy.MaxRetries, false)
		case class == RetryClassMaybe && attempt >= maybeAttempts:
			return zero, NewRetryExhaustedError(err, attempt, maybeAttempts, true)
		}

		wait := policy.backoff(attempt, err)
		if onRetry != nil {
			onRetry(attempt+1, wait, err)
		}
		if err := sleep(ctx, wait); err != nil {
			return zero, fmt.Errorf("context cancelled during retry: %w", err)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// WithCallTimeout bounds every attempt of fn by timeout. An attempt that runs out of
// time while the parent context is still live becomes a retryable timeout error.
func WithCallTimeout[T any](timeout time.Duration, fn RetryableFunc[T]) RetryableFunc[T] {
	if timeout <= 0 {
		return fn
	}
	return func(ctx context.Context) (T, error) {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		result, err := fn(callCtx)
		if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return result, &EngineError{
				Err:       fmt.Errorf("provider call timed out after %s: %w", timeout, err),
				Class:     RetryClassRetryable,
				IsTimeout: true,
			}
		}
		return result, err
	}
}

// backoff is the wait before retry number attempt+1. A Retry-After from the
// remote side wins over the exponential schedule, capped at MaxDelay.
func (p RetryPolicy) backoff(attempt int, err error) time.Duration {
	if hint := ExtractRetryAfter(err); hint > 0 {
		if p.MaxDelay > 0 {
			return min(hint, p.MaxDelay)
		}
		return hint
	}

	d := float64(p.InitialDelay) * math.Pow(max(p.Multiplier, 1), float64(attempt))
	if p.MaxDelay > 0 {
		d = math.Min(d, float64(p.MaxDelay))
	}
	if p.Jitter {
		d += rand.Float64() * 0.2 * d
	}
	return time.Duration(d)
}
