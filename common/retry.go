package common

import (
	"context"
	"fmt"
	"time"

	"github.com/MixinNetwork/mixin/logger"
	"github.com/cenkalti/backoff/v4"
)

type RetryPolicy struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	if p.Attempts < 1 || p.Initial <= 0 || p.Max < p.Initial {
		panic(fmt.Errorf("RetryPolicy(%d, %s, %s)", p.Attempts, p.Initial, p.Max))
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.Initial
	eb.MaxInterval = p.Max
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	eb.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(p.Attempts-1)), ctx)
}

// Retry runs fn until it succeeds, fails with an error retryable rejects,
// or the attempts are exhausted. Delays start at Initial and double up to Max.
func Retry(ctx context.Context, name string, policy RetryPolicy, retryable func(error) bool, fn func() error) error {
	b := policy.backOff(ctx)
	var attempts int
	err := backoff.RetryNotify(func() error {
		attempts++
		err := fn()
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, delay time.Duration) {
		logger.Verbosef("Retry(%s, %d) => %v, sleep %s", name, attempts, err, delay)
	})
	if err != nil && attempts == policy.Attempts && retryable(err) {
		return fmt.Errorf("Retry(%s) exhausted %d attempts => %w", name, policy.Attempts, err)
	}
	return err
}
