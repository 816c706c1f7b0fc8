// Package backoffx is the single retry-schedule helper shared by inbound
// buffering, outbound delivery, LLM calls, and automation connectors: base
// 500ms, factor 2, +-25% jitter, capped at 30s, at most 6 attempts.
package backoffx

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	BaseInterval   = 500 * time.Millisecond
	Multiplier     = 2.0
	RandomFactor   = 0.25
	MaxInterval    = 30 * time.Second
	DefaultMaxTries = 6
)

// New returns the shared retry schedule, capped at maxTries attempts
// (0 means DefaultMaxTries).
func New(maxTries uint64) backoff.BackOff {
	if maxTries == 0 {
		maxTries = DefaultMaxTries
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = BaseInterval
	eb.Multiplier = Multiplier
	eb.RandomizationFactor = RandomFactor
	eb.MaxInterval = MaxInterval
	eb.MaxElapsedTime = 0
	return backoff.WithMaxRetries(eb, maxTries-1)
}

// Retry runs op against the shared schedule, stopping early if ctx is
// cancelled or op returns a backoff.Permanent error.
func Retry(ctx context.Context, maxTries uint64, op func() error) error {
	return backoff.Retry(op, backoff.WithContext(New(maxTries), ctx))
}

// Permanent marks err as non-retryable, stopping the schedule immediately.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
