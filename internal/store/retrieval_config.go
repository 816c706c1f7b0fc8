package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/memoh-platform/convoy/internal/apperr"
	"github.com/memoh-platform/convoy/internal/domain"
)

type RetrievalConfigStore struct{ base }

func (s *RetrievalConfigStore) Upsert(ctx context.Context, c domain.RetrievalConfig) error {
	_, err := s.ex.Exec(ctx, `
		INSERT INTO retrieval_configs (brand_id, hybrid_weight, min_score, top_k, context_budget_tokens)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (brand_id) DO UPDATE SET
			hybrid_weight = EXCLUDED.hybrid_weight,
			min_score = EXCLUDED.min_score,
			top_k = EXCLUDED.top_k,
			context_budget_tokens = EXCLUDED.context_budget_tokens,
			updated_at = now()`,
		c.BrandID, c.HybridWeight, c.MinScore, c.TopK, c.ContextBudgetTokens)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, true, "retrieval_config_upsert_failed", err)
	}
	return nil
}

// Get returns the brand's retrieval tuning, or built-in defaults
// (hybrid_weight 0.7, min_score 0.2, top_k 8, 4000-token budget) if the
// brand has never configured one.
func (s *RetrievalConfigStore) Get(ctx context.Context, brandID uuid.UUID) (domain.RetrievalConfig, error) {
	var c domain.RetrievalConfig
	err := s.ex.QueryRow(ctx, `
		SELECT brand_id, hybrid_weight, min_score, top_k, context_budget_tokens, updated_at
		FROM retrieval_configs WHERE brand_id = $1`, brandID,
	).Scan(&c.BrandID, &c.HybridWeight, &c.MinScore, &c.TopK, &c.ContextBudgetTokens, &c.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return defaultRetrievalConfig(brandID), nil
		}
		return domain.RetrievalConfig{}, apperr.Wrap(apperr.KindTransient, true, "retrieval_config_query_failed", err)
	}
	return c, nil
}

func defaultRetrievalConfig(brandID uuid.UUID) domain.RetrievalConfig {
	return domain.RetrievalConfig{
		BrandID:             brandID,
		HybridWeight:        0.7,
		MinScore:            0.2,
		TopK:                8,
		ContextBudgetTokens: 4000,
	}
}
