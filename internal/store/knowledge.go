package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/memoh-platform/convoy/internal/apperr"
	"github.com/memoh-platform/convoy/internal/domain"
)

type KnowledgeAssetStore struct{ base }

func (s *KnowledgeAssetStore) Create(ctx context.Context, a domain.KnowledgeAsset) error {
	_, err := s.ex.Exec(ctx, `
		INSERT INTO knowledge_assets (asset_id, tenant_id, brand_id, filename, content_type, sha256, object_key, size_bytes, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.AssetID, a.TenantID, a.BrandID, a.Filename, a.ContentType, a.SHA256, a.ObjectKey, a.SizeBytes, orDefault(string(a.Status), string(domain.AssetUploaded)))
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, true, "asset_create_failed", err)
	}
	return nil
}

func (s *KnowledgeAssetStore) Get(ctx context.Context, assetID uuid.UUID) (domain.KnowledgeAsset, error) {
	var a domain.KnowledgeAsset
	var status string
	err := s.ex.QueryRow(ctx, `
		SELECT asset_id, tenant_id, brand_id, filename, content_type, sha256, object_key, size_bytes, status, created_at
		FROM knowledge_assets WHERE asset_id = $1`, assetID,
	).Scan(&a.AssetID, &a.TenantID, &a.BrandID, &a.Filename, &a.ContentType, &a.SHA256, &a.ObjectKey, &a.SizeBytes, &status, &a.CreatedAt)
	if err != nil {
		return domain.KnowledgeAsset{}, notFoundOr(err, "knowledge_asset", assetID)
	}
	a.Status = domain.AssetStatus(status)
	return a, nil
}

func (s *KnowledgeAssetStore) SetStatus(ctx context.Context, assetID uuid.UUID, status domain.AssetStatus) error {
	_, err := s.ex.Exec(ctx, `UPDATE knowledge_assets SET status = $2 WHERE asset_id = $1`, assetID, string(status))
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, true, "asset_status_update_failed", err)
	}
	return nil
}
