package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/memoh-platform/convoy/internal/apperr"
	"github.com/memoh-platform/convoy/internal/domain"
)

type PolicyStore struct{ base }

func (s *PolicyStore) CreateDraft(ctx context.Context, p domain.PolicyVersion) (domain.PolicyVersion, error) {
	body, err := json.Marshal(p.PolicyJSON)
	if err != nil {
		return domain.PolicyVersion{}, apperr.Validation("policy_json_invalid", "encode policy: %v", err)
	}
	var nextVersion int
	err = s.ex.QueryRow(ctx, `
		SELECT COALESCE(MAX(version), 0) + 1 FROM policy_versions WHERE brand_id = $1`, p.BrandID,
	).Scan(&nextVersion)
	if err != nil {
		return domain.PolicyVersion{}, apperr.Wrap(apperr.KindTransient, true, "policy_version_alloc_failed", err)
	}

	p.PolicyVersionID = uuid.New()
	p.Version = nextVersion
	p.Status = domain.PolicyDraft
	_, err = s.ex.Exec(ctx, `
		INSERT INTO policy_versions (policy_version_id, tenant_id, brand_id, version, policy_json, status)
		VALUES ($1, $2, $3, $4, $5, 'draft')`,
		p.PolicyVersionID, p.TenantID, p.BrandID, p.Version, body)
	if err != nil {
		return domain.PolicyVersion{}, apperr.Wrap(apperr.KindTransient, true, "policy_draft_create_failed", err)
	}
	return p, nil
}

// Publish flips the given draft to published and archives whatever was
// previously published for the brand. Both statements run on the store's
// executor, so on a Store bound by WithTx they share one transaction and the
// "at most one published version per brand" invariant never has a window
// where zero or two versions are published.
func (s *PolicyStore) Publish(ctx context.Context, policyVersionID uuid.UUID) error {
	_, err := s.ex.Exec(ctx, `
		UPDATE policy_versions SET status = 'archived'
		WHERE brand_id = (SELECT brand_id FROM policy_versions WHERE policy_version_id = $1) AND status = 'published'`,
		policyVersionID)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, true, "policy_archive_failed", err)
	}
	tag, err := s.ex.Exec(ctx, `
		UPDATE policy_versions SET status = 'published', published_at = now()
		WHERE policy_version_id = $1 AND status = 'draft'`, policyVersionID)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, true, "policy_publish_failed", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("policy_not_draft", "policy version %s is not a publishable draft", policyVersionID)
	}
	return nil
}

// Published returns the single active policy for a brand, or a
// apperr.KindNotFound error if the brand has never published one — callers
// fall back to the built-in conservative-refusal policy in that case.
func (s *PolicyStore) Published(ctx context.Context, brandID uuid.UUID) (domain.PolicyVersion, error) {
	return s.scanOne(ctx, `
		SELECT policy_version_id, tenant_id, brand_id, version, policy_json, status, created_at, published_at
		FROM policy_versions WHERE brand_id = $1 AND status = 'published'`, brandID)
}

func (s *PolicyStore) Get(ctx context.Context, policyVersionID uuid.UUID) (domain.PolicyVersion, error) {
	return s.scanOne(ctx, `
		SELECT policy_version_id, tenant_id, brand_id, version, policy_json, status, created_at, published_at
		FROM policy_versions WHERE policy_version_id = $1`, policyVersionID)
}

func (s *PolicyStore) scanOne(ctx context.Context, sql string, arg any) (domain.PolicyVersion, error) {
	var p domain.PolicyVersion
	var status string
	var body []byte
	var publishedAt *time.Time
	err := s.ex.QueryRow(ctx, sql, arg).Scan(&p.PolicyVersionID, &p.TenantID, &p.BrandID, &p.Version, &body, &status, &p.CreatedAt, &publishedAt)
	if err != nil {
		return domain.PolicyVersion{}, notFoundOr(err, "policy_version", arg)
	}
	p.Status = domain.PolicyStatus(status)
	p.PublishedAt = publishedAt
	if len(body) > 0 {
		_ = json.Unmarshal(body, &p.PolicyJSON)
	}
	return p, nil
}
