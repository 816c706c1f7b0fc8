package store

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/memoh-platform/convoy/internal/apperr"
	"github.com/memoh-platform/convoy/internal/domain"
)

type AuditStore struct{ base }

// Record appends an audit row. Every admin-surface mutation calls this
// alongside its own write, inside the same transaction where one is open.
func (s *AuditStore) Record(ctx context.Context, e domain.AuditEntry) error {
	detail, err := json.Marshal(e.Detail)
	if err != nil {
		return apperr.Validation("audit_detail_invalid", "encode audit detail: %v", err)
	}
	if e.AuditID == uuid.Nil {
		e.AuditID = uuid.New()
	}
	_, err = s.ex.Exec(ctx, `
		INSERT INTO audit_entries (audit_id, tenant_id, actor, action, resource, detail)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.AuditID, e.TenantID, e.Actor, e.Action, e.Resource, detail)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, true, "audit_record_failed", err)
	}
	return nil
}

func (s *AuditStore) ListByTenant(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]domain.AuditEntry, error) {
	rows, err := s.ex.Query(ctx, `
		SELECT audit_id, tenant_id, actor, action, resource, detail, created_at
		FROM audit_entries WHERE tenant_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		tenantID, limit, offset)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, true, "audit_list_failed", err)
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var detail []byte
		if err := rows.Scan(&e.AuditID, &e.TenantID, &e.Actor, &e.Action, &e.Resource, &detail, &e.CreatedAt); err != nil {
			return nil, apperr.Wrap(apperr.KindTransient, true, "audit_scan_failed", err)
		}
		if len(detail) > 0 {
			_ = json.Unmarshal(detail, &e.Detail)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
