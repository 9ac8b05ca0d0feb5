// Package retry runs storage writes with a bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"chatcore/internal/model"
)

// Policy bounds how long a write is retried before giving up.
type Policy struct {
	// Retries is the number of attempts after the first one.
	Retries     uint64
	MaxInterval time.Duration
}

// DefaultPolicy matches the config defaults.
var DefaultPolicy = Policy{Retries: 3, MaxInterval: 500 * time.Millisecond}

// Do runs op until it succeeds, the retry budget is spent or ctx is done.
// Invalid input and id conflicts are never retried. onRetry, if set, is
// called before each repeated attempt.
func (p Policy) Do(ctx context.Context, op func() error, onRetry func(err error)) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 10 * time.Millisecond
	if p.MaxInterval > 0 {
		eb.MaxInterval = p.MaxInterval
	}
	eb.MaxElapsedTime = 0

	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if errors.Is(err, model.ErrInvalidInput) || errors.Is(err, model.ErrMessageConflict) {
			return backoff.Permanent(err)
		}
		return err
	}

	var notify backoff.Notify
	if onRetry != nil {
		notify = func(err error, _ time.Duration) { onRetry(err) }
	}

	return backoff.RetryNotify(wrapped, backoff.WithContext(backoff.WithMaxRetries(eb, p.Retries), ctx), notify)
}
