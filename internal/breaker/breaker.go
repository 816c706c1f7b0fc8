// Package breaker keeps one circuit breaker per (tenant_id, provider) pair,
// so a failing LLM, embedding, or webhook provider for one tenant cannot
// trip the breaker for every other tenant sharing the same provider.
package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

const (
	maxRequestsHalfOpen = 3
	openInterval        = 60 * time.Second
	openTimeout         = 30 * time.Second
	failureRatioTrip    = 0.5
	minRequestsTrip      = 5
)

// Registry lazily creates and caches one gobreaker.CircuitBreaker per key.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func NewRegistry() *Registry {
	return &Registry{breakers: make(map[string]*gobreaker.CircuitBreaker)}
}

func key(tenantID, provider string) string {
	return tenantID + "|" + provider
}

func (r *Registry) get(tenantID, provider string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key(tenantID, provider)
	if cb, ok := r.breakers[k]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        k,
		MaxRequests: maxRequestsHalfOpen,
		Interval:    openInterval,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < minRequestsTrip {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= failureRatioTrip
		},
	})
	r.breakers[k] = cb
	return cb
}

// Do runs fn through the breaker for (tenantID, provider), short-circuiting
// with gobreaker.ErrOpenState while the breaker is open.
func (r *Registry) Do(ctx context.Context, tenantID, provider string, fn func(context.Context) (any, error)) (any, error) {
	cb := r.get(tenantID, provider)
	return cb.Execute(func() (any, error) {
		return fn(ctx)
	})
}

// State reports the current breaker state for (tenantID, provider), mainly
// for health/metrics reporting.
func (r *Registry) State(tenantID, provider string) gobreaker.State {
	return r.get(tenantID, provider).State()
}
