package llm

import (
	"context"
	"log/slog"

	"github.com/memoh-platform/convoy/internal/apperr"
	"github.com/memoh-platform/convoy/internal/backoffx"
	"github.com/memoh-platform/convoy/internal/breaker"
)

// maxRetries caps LLM call retries at 2 beyond the first attempt, per the
// pipeline's "up to 2 retries on 429/5xx" rule — tighter than the shared
// 6-attempt schedule since an LLM call sits in the hot path of every inbound
// message.
const maxRetries = 3

// FallbackClient tries a primary Client, then a secondary Client, each
// behind its own per-tenant circuit breaker.
type FallbackClient struct {
	primary  Client
	fallback Client
	breakers *breaker.Registry
	log      *slog.Logger
}

func NewFallbackClient(primary, fallback Client, breakers *breaker.Registry, log *slog.Logger) *FallbackClient {
	return &FallbackClient{
		primary:  primary,
		fallback: fallback,
		breakers: breakers,
		log:      log.With(slog.String("component", "llm")),
	}
}

func (c *FallbackClient) Name() string { return "fallback(" + c.primary.Name() + "," + c.fallback.Name() + ")" }

// Complete tries the primary provider, then the fallback provider, each
// retried up to maxRetries attempts behind its own breaker, surfacing a
// apperr.KindDegraded error only if both fail.
func (c *FallbackClient) Complete(ctx context.Context, tenantID string, req Request) (Response, error) {
	resp, err := c.callWithBreaker(ctx, tenantID, c.primary, req)
	if err == nil {
		return resp, nil
	}
	c.log.Warn("primary llm provider failed, trying fallback", slog.String("tenant_id", tenantID), slog.Any("error", err))

	if c.fallback == nil {
		return Response{}, apperr.Degraded("llm_failed", "primary llm provider failed and no fallback configured: %v", err)
	}
	resp, err = c.callWithBreaker(ctx, tenantID, c.fallback, req)
	if err != nil {
		return Response{}, apperr.Degraded("llm_failed", "both llm providers failed: %v", err)
	}
	return resp, nil
}

func (c *FallbackClient) callWithBreaker(ctx context.Context, tenantID string, client Client, req Request) (Response, error) {
	out, err := c.breakers.Do(ctx, tenantID, "llm:"+client.Name(), func(ctx context.Context) (any, error) {
		var resp Response
		retryErr := backoffx.Retry(ctx, maxRetries, func() error {
			r, err := client.Complete(ctx, req)
			if err != nil {
				if apperr.OfKind(err, apperr.KindTransient) {
					return err
				}
				return backoffx.Permanent(err)
			}
			resp = r
			return nil
		})
		return resp, retryErr
	})
	if err != nil {
		return Response{}, err
	}
	return out.(Response), nil
}
