package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/memoh-platform/convoy/internal/apperr"
	"github.com/memoh-platform/convoy/internal/domain"
)

type EscalationStore struct{ base }

func (s *EscalationStore) Create(ctx context.Context, e domain.EscalationRecord) error {
	if e.EscalationID == uuid.Nil {
		e.EscalationID = uuid.New()
	}
	_, err := s.ex.Exec(ctx, `
		INSERT INTO escalation_records (escalation_id, tenant_id, conversation_id, message_id, reason, status)
		VALUES ($1, $2, $3, $4, $5, 'open')`,
		e.EscalationID, e.TenantID, e.ConversationID, e.MessageID, e.Reason)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, true, "escalation_create_failed", err)
	}
	return nil
}

func (s *EscalationStore) Resolve(ctx context.Context, escalationID uuid.UUID) error {
	_, err := s.ex.Exec(ctx, `
		UPDATE escalation_records SET status = 'resolved', resolved_at = now() WHERE escalation_id = $1`, escalationID)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, true, "escalation_resolve_failed", err)
	}
	return nil
}

func (s *EscalationStore) ListOpenByTenant(ctx context.Context, tenantID uuid.UUID) ([]domain.EscalationRecord, error) {
	rows, err := s.ex.Query(ctx, `
		SELECT escalation_id, tenant_id, conversation_id, message_id, reason, status, created_at, resolved_at
		FROM escalation_records WHERE tenant_id = $1 AND status != 'resolved' ORDER BY created_at`, tenantID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, true, "escalation_list_failed", err)
	}
	defer rows.Close()

	var out []domain.EscalationRecord
	for rows.Next() {
		var e domain.EscalationRecord
		var status string
		if err := rows.Scan(&e.EscalationID, &e.TenantID, &e.ConversationID, &e.MessageID, &e.Reason, &status, &e.CreatedAt, &e.ResolvedAt); err != nil {
			return nil, apperr.Wrap(apperr.KindTransient, true, "escalation_scan_failed", err)
		}
		e.Status = domain.EscalationStatus(status)
		out = append(out, e)
	}
	return out, rows.Err()
}
