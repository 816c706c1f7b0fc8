// Package embeddings resolves text into vectors for retrieval indexing and
// query-time search, trying a primary HTTP embedding provider and falling
// back to a secondary one on failure.
package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/memoh-platform/convoy/internal/apperr"
	"github.com/memoh-platform/convoy/internal/backoffx"
	"github.com/memoh-platform/convoy/internal/breaker"
	"github.com/memoh-platform/convoy/internal/config"
)

// Result is one resolved embedding, along with the provider that produced it
// so callers can record provenance alongside the vector.
type Result struct {
	Provider  string
	Model     string
	Embedding []float32
}

// Resolver tries the primary provider first, then the fallback, mirroring
// the teacher's embeddings.Resolver provider-selection shape but simplified
// from a DB-backed model catalog down to two statically configured HTTP
// embedders.
type Resolver struct {
	primary  *httpEmbedder
	fallback *httpEmbedder
	breakers *breaker.Registry
	log      *slog.Logger
}

type httpEmbedder struct {
	name       string
	url        string
	apiKey     string
	model      string
	httpClient *http.Client
}

func NewResolver(log *slog.Logger, cfg config.EmbeddingsConfig, breakers *breaker.Registry) *Resolver {
	client := &http.Client{Timeout: 10 * time.Second}
	return &Resolver{
		primary: &httpEmbedder{
			name:       "primary",
			url:        cfg.Provider,
			apiKey:     cfg.APIKey,
			httpClient: client,
		},
		breakers: breakers,
		log:      log.With(slog.String("component", "embeddings")),
	}
}

// WithEndpoints replaces the primary HTTP embedding endpoint and model and,
// when fallbackURL is non-empty, sets a fallback embedder sharing the same
// API key, model, and HTTP client.
func (r *Resolver) WithEndpoints(primaryURL, fallbackURL, apiKey, model string) *Resolver {
	r.primary = &httpEmbedder{name: "primary", url: primaryURL, apiKey: apiKey, model: model, httpClient: r.primary.httpClient}
	if fallbackURL != "" {
		r.fallback = &httpEmbedder{name: "fallback", url: fallbackURL, apiKey: apiKey, model: model, httpClient: r.primary.httpClient}
	}
	return r
}

// Embed resolves text to a vector, trying the primary provider and then
// the fallback provider, each retried via the shared backoff schedule.
func (r *Resolver) Embed(ctx context.Context, tenantID, text string) (Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{}, apperr.Validation("embedding_input_empty", "text to embed must not be empty")
	}

	results, err := r.EmbedBatch(ctx, tenantID, []string{text})
	if err != nil {
		return Result{}, err
	}
	return results[0], nil
}

// maxBatchSize is the largest number of texts sent to an embedding provider
// in one request (spec §4.4 step 4: "embed each chunk with batch size ≤
// 64"). EmbedBatch enforces it; callers with more chunks must slice first.
const maxBatchSize = 64

// EmbedBatch resolves many texts in one round trip per provider, trying the
// primary embedder first and falling back to the secondary one if it fails
// for the whole batch. len(texts) must be <= maxBatchSize.
func (r *Resolver) EmbedBatch(ctx context.Context, tenantID string, texts []string) ([]Result, error) {
	if len(texts) == 0 {
		return nil, apperr.Validation("embedding_input_empty", "at least one text is required")
	}
	if len(texts) > maxBatchSize {
		return nil, apperr.Validation("embedding_batch_too_large", "batch of %d exceeds max batch size %d", len(texts), maxBatchSize)
	}
	for _, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, apperr.Validation("embedding_input_empty", "text to embed must not be empty")
		}
	}

	vecs, err := r.embedBatchWithBreaker(ctx, tenantID, r.primary, texts)
	if err == nil {
		return toResults(r.primary, vecs), nil
	}
	r.log.Warn("primary embedding provider failed, trying fallback", slog.Any("error", err), slog.Int("batch_size", len(texts)))

	if r.fallback == nil {
		return nil, apperr.Degraded("embedding_failed", "primary embedding provider failed and no fallback configured: %v", err)
	}
	vecs, err = r.embedBatchWithBreaker(ctx, tenantID, r.fallback, texts)
	if err != nil {
		return nil, apperr.Degraded("embedding_failed", "both embedding providers failed: %v", err)
	}
	return toResults(r.fallback, vecs), nil
}

func toResults(e *httpEmbedder, vecs [][]float32) []Result {
	out := make([]Result, len(vecs))
	for i, v := range vecs {
		out[i] = Result{Provider: e.name, Model: e.model, Embedding: v}
	}
	return out
}

func (r *Resolver) embedBatchWithBreaker(ctx context.Context, tenantID string, e *httpEmbedder, texts []string) ([][]float32, error) {
	out, err := r.breakers.Do(ctx, tenantID, "embedding:"+e.name, func(ctx context.Context) (any, error) {
		var vecs [][]float32
		retryErr := backoffx.Retry(ctx, backoffx.DefaultMaxTries, func() error {
			v, err := e.embedBatch(ctx, texts)
			if err != nil {
				return err
			}
			vecs = v
			return nil
		})
		return vecs, retryErr
	})
	if err != nil {
		return nil, err
	}
	return out.([][]float32), nil
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (e *httpEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if e.url == "" {
		return nil, apperr.Permanent("embedder_not_configured", "%s embedder has no endpoint configured", e.name)
	}
	body, err := json.Marshal(embedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("encode embed request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s embed request: %w", e.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%s embed request: server error %d", e.name, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		payload, _ := io.ReadAll(resp.Body)
		return nil, apperr.Permanent("embedder_rejected", "%s embed request rejected (%d): %s", e.name, resp.StatusCode, string(payload))
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode %s embed response: %w", e.name, err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("%s embed response carried %d vectors for %d inputs", e.name, len(parsed.Data), len(texts))
	}
	vecs := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		vecs[i] = d.Embedding
	}
	return vecs, nil
}
