package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/memoh-platform/convoy/internal/apperr"
	"github.com/memoh-platform/convoy/internal/domain"
)

type BrandStore struct{ base }

func (s *BrandStore) Create(ctx context.Context, b domain.Brand) error {
	_, err := s.ex.Exec(ctx, `
		INSERT INTO brands (brand_id, tenant_id, name)
		VALUES ($1, $2, $3)`,
		b.BrandID, b.TenantID, b.Name)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, true, "brand_create_failed", err)
	}
	return nil
}

func (s *BrandStore) Get(ctx context.Context, brandID uuid.UUID) (domain.Brand, error) {
	var b domain.Brand
	err := s.ex.QueryRow(ctx, `
		SELECT brand_id, tenant_id, name, created_at, updated_at
		FROM brands WHERE brand_id = $1`, brandID,
	).Scan(&b.BrandID, &b.TenantID, &b.Name, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return domain.Brand{}, notFoundOr(err, "brand", brandID)
	}
	return b, nil
}

func (s *BrandStore) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]domain.Brand, error) {
	rows, err := s.ex.Query(ctx, `
		SELECT brand_id, tenant_id, name, created_at, updated_at
		FROM brands WHERE tenant_id = $1 ORDER BY created_at`, tenantID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, true, "brand_list_failed", err)
	}
	defer rows.Close()

	var out []domain.Brand
	for rows.Next() {
		var b domain.Brand
		if err := rows.Scan(&b.BrandID, &b.TenantID, &b.Name, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, apperr.Wrap(apperr.KindTransient, true, "brand_scan_failed", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
