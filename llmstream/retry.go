package llmstream

import (
	"context"
	"regexp"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy configures bounded retry of transient backend failures.
type RetryPolicy struct {
	MaxRetries   int           // retry attempts after the initial call
	InitialDelay time.Duration // base for exponential backoff
	Logger       *zap.Logger
}

// DefaultRetryPolicy returns the default policy: 3 retries starting from a
// one second backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   3,
		InitialDelay: time.Second,
	}
}

// waitHintPattern matches an explicit wait duration embedded in a backend
// error message, e.g. "please try again in 1.5s" or "retry after 250 ms".
var waitHintPattern = regexp.MustCompile(`(?i)(?:retry|try again|wait)\D{0,20}?(\d+(?:\.\d+)?)\s*(ms|milliseconds?|s|seconds?)\b`)

// waitHintFromError extracts an explicit wait duration from an error
// message. The second return value reports whether a hint was found.
func waitHintFromError(err error) (time.Duration, bool) {
	if err == nil {
		return 0, false
	}
	m := waitHintPattern.FindStringSubmatch(err.Error())
	if m == nil {
		return 0, false
	}
	value, parseErr := strconv.ParseFloat(m[1], 64)
	if parseErr != nil {
		return 0, false
	}
	unit := time.Second
	if m[2] == "ms" || m[2] == "millisecond" || m[2] == "milliseconds" {
		unit = time.Millisecond
	}
	return time.Duration(value * float64(unit)), true
}

// Delay computes the wait before retry number attempt (0-indexed). When the
// error carries an explicit wait hint, that wins, padded with a 10% safety
// margin plus 100ms; otherwise exponential backoff from InitialDelay.
func (p RetryPolicy) Delay(attempt int, err error) time.Duration {
	if hint, ok := waitHintFromError(err); ok {
		return time.Duration(float64(hint)*1.1) + 100*time.Millisecond
	}
	delay := p.InitialDelay
	if delay <= 0 {
		delay = time.Second
	}
	return delay * time.Duration(1<<uint(attempt))
}

// Retry executes fn under the policy. Transient errors are retried up to
// MaxRetries times; non-transient errors propagate immediately from the
// first attempt with no delay.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	logger := policy.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	result, err := fn(ctx)
	if err == nil {
		return result, nil
	}

	for attempt := 0; attempt < policy.MaxRetries; attempt++ {
		if !IsTransient(err) {
			return zero, err
		}

		delay := policy.Delay(attempt, err)
		logger.Warn("retrying transient backend error",
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}

		result, err = fn(ctx)
		if err == nil {
			return result, nil
		}
	}

	return zero, err
}
