package httputil

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"
)

// MaxRetryAfter caps how long [Retry] honors a server-provided delay.
// Longer waits are not worth blocking an update worker for; the request
// fails and the package is retried on its next scheduled run.
const MaxRetryAfter = 30 * time.Second

// RetryableError marks a failure as transient. After, when positive, is
// the delay the server asked for (a Retry-After header).
type RetryableError struct {
	Err   error
	After time.Duration
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable marks err as transient. It returns nil for a nil error.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// RetryAfter marks err as transient with a server-requested delay.
func RetryAfter(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err, After: after}
}

// IsRetryable reports whether err was marked with [Retryable] or [RetryAfter].
func IsRetryable(err error) bool {
	return errors.As(err, new(*RetryableError))
}

// ParseRetryAfter reads a Retry-After header given in seconds. HTTP dates
// and malformed values yield zero.
func ParseRetryAfter(h http.Header) time.Duration {
	secs, err := strconv.Atoi(h.Get("Retry-After"))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// Retry runs fn up to attempts times. Only errors marked retryable are
// retried; anything else is returned at once. The delay doubles after each
// attempt, and a server-requested delay up to [MaxRetryAfter] replaces it
// when longer. A cancelled ctx ends the wait with ctx.Err().
func Retry(ctx context.Context, attempts int, delay time.Duration, fn func() error) error {
	attempts = max(attempts, 1)
	var lastErr error

	for i := range attempts {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		var re *RetryableError
		if !errors.As(err, &re) {
			return err
		}
		if i == attempts-1 {
			break
		}

		wait := delay
		if re.After > wait {
			wait = min(re.After, MaxRetryAfter)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		delay *= 2
	}
	return lastErr
}

// RetryWithBackoff runs fn with three attempts starting at one second.
func RetryWithBackoff(ctx context.Context, fn func() error) error {
	return Retry(ctx, 3, time.Second, fn)
}
