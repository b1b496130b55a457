package watch

import (
	"time"

	"downsort/internal/errors"
	"downsort/internal/organize"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy controls how often the daemon re-handles an event whose
// first action failed with a transient error.
type RetryPolicy struct {
	// MaxAttempts counts the first try. One or less disables retries.
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// NoRetry handles every event exactly once.
var NoRetry = RetryPolicy{MaxAttempts: 1}

func (p RetryPolicy) newBackOff() backoff.BackOff {
	if p.MaxAttempts <= 1 {
		return &backoff.StopBackOff{}
	}
	exp := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		exp.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		exp.MaxInterval = p.MaxInterval
	}
	exp.Multiplier = 2
	exp.MaxElapsedTime = 0
	exp.Reset()
	return backoff.WithMaxRetries(exp, uint64(p.MaxAttempts-1))
}

// Retryable reports whether handling the event again is safe and may
// succeed. Only failures at the first action qualify, since nothing has
// been changed on disk yet.
func Retryable(out organize.Outcome) bool {
	if out.State != organize.Failed || out.ActionIndex != 0 {
		return false
	}
	switch errors.KindOf(out.Err) {
	case errors.FileAccessDenied, errors.PartialCopy, errors.IOFailure:
		return true
	}
	return false
}
