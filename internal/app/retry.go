package app

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"docuchat/internal/ai"
)

// RetryPolicy bounds retries of transient provider failures. Permanent
// provider errors and every non-provider error abort immediately.
type RetryPolicy struct {
	Attempts        uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func (p RetryPolicy) Do(ctx context.Context, op func() error) error {
	attempts := p.Attempts
	if attempts == 0 {
		attempts = 3
	}

	bo := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		bo.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		bo.MaxInterval = p.MaxInterval
	}

	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !ai.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, attempts-1), ctx))
}
