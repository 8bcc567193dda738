package externalmodel

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
)

// errRateLimited is returned when all retries are exhausted on a 429-class
// response. It is wrapped in ErrUpstream before reaching the caller.
var errRateLimited = errors.New("externalmodel: rate limited after retries")

var retrySchedule = struct {
	delays  []time.Duration
	ceiling time.Duration
}{
	delays:  []time.Duration{500 * time.Millisecond, 1000 * time.Millisecond, 2000 * time.Millisecond},
	ceiling: 4 * time.Second,
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "RESOURCE_EXHAUSTED") ||
		strings.Contains(msg, "rate_limit") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "overloaded")
}

// withRetry executes fn up to len(retrySchedule.delays)+1 times, retrying
// only on rate-limit-class errors. Grounded on the teacher's
// gcpclient.withRetry, generalized from a Vertex-specific helper to any
// provider backend in this package.
func withRetry[T any](ctx context.Context, operation string, fn func() (T, error)) (T, error) {
	result, err := fn()
	if err == nil {
		return result, nil
	}
	if !isRetryableError(err) {
		return result, err
	}

	for i, delay := range retrySchedule.delays {
		if delay > retrySchedule.ceiling {
			delay = retrySchedule.ceiling
		}

		slog.Warn("externalmodel rate limited, retrying",
			"operation", operation, "attempt", i+2, "delay_ms", delay.Milliseconds(), "error", err.Error())

		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-time.After(delay):
		}

		result, err = fn()
		if err == nil {
			return result, nil
		}
		if !isRetryableError(err) {
			return result, err
		}
	}

	var zero T
	slog.Error("externalmodel retries exhausted", "operation", operation, "attempts", len(retrySchedule.delays)+1)
	return zero, errRateLimited
}
