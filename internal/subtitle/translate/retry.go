package translate

import (
	"context"
	"errors"
	"time"
)

const (
	defaultRetryAttempts  = 3
	defaultRetryBaseDelay = 1 * time.Second
	defaultRetryMaxDelay  = 30 * time.Second
)

// RetryPolicy is the retry budget shared by all adapters. Adapters perform a
// single call; the orchestrator applies the policy around it.
type RetryPolicy struct {
	MaxAttempts int           `json:"max_attempts"`
	BaseDelay   time.Duration `json:"base_delay"`
	MaxDelay    time.Duration `json:"max_delay"`
}

// DefaultRetryPolicy returns the policy used when none is configured
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: defaultRetryAttempts,
		BaseDelay:   defaultRetryBaseDelay,
		MaxDelay:    defaultRetryMaxDelay,
	}
}

// Attempts returns the total number of calls allowed, at least one
func (p RetryPolicy) Attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

// Delay reports whether err after the given 1-based attempt should be
// retried, and how long to wait first
func (p RetryPolicy) Delay(err error, attempt int) (time.Duration, bool) {
	if err == nil || attempt >= p.Attempts() {
		return 0, false
	}
	if errors.Is(err, context.Canceled) {
		return 0, false
	}
	var be *BackendError
	if !errors.As(err, &be) {
		be = &BackendError{Kind: Classify(err), Err: err}
	}
	if !be.Retryable() {
		return 0, false
	}
	if be.RetryAfter > 0 {
		return p.capDelay(be.RetryAfter), true
	}
	return p.backoff(attempt), true
}

// attempt 1 -> base, attempt 2 -> base*2, attempt 3 -> base*4, ...
func (p RetryPolicy) backoff(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		return 0
	}
	maxDelay := p.maxDelay()
	delay := base
	for i := 1; i < attempt; i++ {
		if delay > maxDelay/2 {
			return maxDelay
		}
		delay *= 2
	}
	return p.capDelay(delay)
}

func (p RetryPolicy) capDelay(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	if m := p.maxDelay(); d > m {
		return m
	}
	return d
}

func (p RetryPolicy) maxDelay() time.Duration {
	if p.MaxDelay > 0 {
		return p.MaxDelay
	}
	return defaultRetryMaxDelay
}

// SleepWithContext waits for d or until ctx is done
func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
