package retry

import (
	"context"
	"fmt"
	"time"
)

type Backoff int

const (
	// Linear waits BaseDelay * attempt.
	Linear Backoff = iota
	// Exponential waits BaseDelay * 2^(attempt-1).
	Exponential
)

type Policy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration
	Backoff        Backoff
}

var DefaultPolicy = Policy{
	MaxAttempts: 3,
	BaseDelay:   1 * time.Second,
	MaxDelay:    10 * time.Second,
	Backoff:     Linear,
}

// Delay returns the wait after the given failed attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	var delay time.Duration
	switch p.Backoff {
	case Exponential:
		shift := attempt - 1
		if shift > 30 {
			shift = 30
		}
		delay = p.BaseDelay * time.Duration(1<<shift)
	default:
		delay = p.BaseDelay * time.Duration(attempt)
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// Operation is one attempt. attempt starts at 1.
type Operation func(ctx context.Context, attempt int) error

// Classifier reports whether an error is worth another attempt.
type Classifier func(err error) bool

// Notify is called before sleeping ahead of the next attempt.
type Notify func(attempt int, err error, delay time.Duration)

// Do runs op until it succeeds, returns an error the classifier rejects, the
// attempt budget is spent or ctx is done. It returns the number of attempts
// made and the last error.
func Do(ctx context.Context, p Policy, retryable Classifier, notify Notify, op Operation) (int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return attempt - 1, fmt.Errorf("cancelled after %d attempts: %w", attempt-1, lastErr)
			}
			return attempt - 1, err
		}

		lastErr = runAttempt(ctx, p.AttemptTimeout, attempt, op)
		if lastErr == nil {
			return attempt, nil
		}
		if retryable != nil && !retryable(lastErr) {
			return attempt, lastErr
		}
		if attempt == maxAttempts {
			break
		}

		delay := p.Delay(attempt)
		if notify != nil {
			notify(attempt, lastErr, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return attempt, fmt.Errorf("cancelled after %d attempts: %w", attempt, lastErr)
		}
	}

	return maxAttempts, lastErr
}

func runAttempt(ctx context.Context, timeout time.Duration, attempt int, op Operation) error {
	if timeout <= 0 {
		return op(ctx, attempt)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return op(attemptCtx, attempt)
}
