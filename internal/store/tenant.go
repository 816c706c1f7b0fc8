package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/memoh-platform/convoy/internal/apperr"
	"github.com/memoh-platform/convoy/internal/domain"
)

type TenantStore struct{ base }

func (s *TenantStore) Create(ctx context.Context, t domain.Tenant) error {
	_, err := s.ex.Exec(ctx, `
		INSERT INTO tenants (tenant_id, name, status)
		VALUES ($1, $2, $3)`,
		t.TenantID, t.Name, orDefault(t.Status, "active"))
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, true, "tenant_create_failed", err)
	}
	return nil
}

func (s *TenantStore) Get(ctx context.Context, tenantID uuid.UUID) (domain.Tenant, error) {
	var t domain.Tenant
	err := s.ex.QueryRow(ctx, `
		SELECT tenant_id, name, status, created_at, updated_at
		FROM tenants WHERE tenant_id = $1`, tenantID,
	).Scan(&t.TenantID, &t.Name, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return domain.Tenant{}, notFoundOr(err, "tenant", tenantID)
	}
	return t, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func notFoundOr(err error, resource string, id any) error {
	if err == nil {
		return nil
	}
	if isNoRows(err) {
		return apperr.NotFound("not_found", "%s %v not found", resource, id)
	}
	return apperr.Wrap(apperr.KindTransient, true, fmt.Sprintf("%s_query_failed", resource), err)
}
