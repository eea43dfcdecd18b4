package retry

import (
	"context"
	"errors"
	"time"

	apperrors "dmsync-backend/pkg/errors"

	"github.com/rs/zerolog/log"
)

const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = time.Second
	DefaultTimeout    = 10 * time.Second
)

// Policy controls how Do retries a single upstream call.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// BaseDelay is the delay before the first retry; it doubles on every retry.
	BaseDelay time.Duration
	// Timeout bounds each attempt independently. Zero disables it.
	Timeout time.Duration
	// RetryTimeouts makes an attempt timeout retryable like a rate limit.
	// When false a timeout is returned immediately.
	RetryTimeouts bool
	// Name is used for logging only.
	Name string

	sleep func(ctx context.Context, d time.Duration) error
}

// Upstream is the policy for rate-limited sync and resolver calls.
func Upstream(name string) Policy {
	return Policy{
		MaxRetries:    DefaultMaxRetries,
		BaseDelay:     DefaultBaseDelay,
		Timeout:       DefaultTimeout,
		RetryTimeouts: true,
		Name:          name,
	}
}

// Lookup is the policy for identity lookups, where a timeout counts as a failure.
func Lookup(name string) Policy {
	p := Upstream(name)
	p.RetryTimeouts = false
	return p
}

// WithSleep replaces the wait between attempts. Used by tests.
func (p Policy) WithSleep(sleep func(ctx context.Context, d time.Duration) error) Policy {
	p.sleep = sleep
	return p
}

// Delay returns the wait before retry number attempt (0-based): base * 2^attempt.
func (p Policy) Delay(attempt int) time.Duration {
	delay := p.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

// Do runs fn until it succeeds, fails with a non-retryable error, or retries run out.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	sleep := p.sleep
	if sleep == nil {
		sleep = waitWithContext
	}

	var zero T
	for attempt := 0; ; attempt++ {
		result, err := runAttempt(ctx, p.Timeout, fn)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		retryable := apperrors.Is(err, apperrors.CodeRateLimited) ||
			(p.RetryTimeouts && apperrors.Is(err, apperrors.CodeTimeout))
		if !retryable || attempt >= p.MaxRetries {
			return zero, err
		}

		delay := p.Delay(attempt)
		log.Debug().
			Str("component", "retry").
			Str("call", p.Name).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Err(err).
			Msg("retrying upstream call")
		if waitErr := sleep(ctx, delay); waitErr != nil {
			return zero, waitErr
		}
	}
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	attemptCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	result, err := fn(attemptCtx)
	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && !apperrors.Is(err, apperrors.CodeTimeout) {
		err = apperrors.ErrUpstreamTimeout(err)
	}
	return result, err
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
