package store

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/memoh-platform/convoy/internal/apperr"
	"github.com/memoh-platform/convoy/internal/domain"
)

type MessageLogStore struct{ base }

// InsertInbound records an inbound message keyed by EventID; a second
// delivery of the same event_id for the same conversation is a no-op that
// returns the original row, implementing the platform's inbound dedupe rule.
func (s *MessageLogStore) InsertInbound(ctx context.Context, m domain.MessageLog) (domain.MessageLog, bool, error) {
	meta, err := json.Marshal(m.Metadata)
	if err != nil {
		return domain.MessageLog{}, false, apperr.Validation("message_metadata_invalid", "encode metadata: %v", err)
	}
	row := s.ex.QueryRow(ctx, `
		INSERT INTO message_logs (message_id, tenant_id, conversation_id, direction, event_id, body, metadata, status)
		VALUES ($1, $2, $3, 'inbound', $4, $5, $6, $7)
		ON CONFLICT (conversation_id, event_id) WHERE event_id IS NOT NULL
		DO UPDATE SET event_id = message_logs.event_id
		RETURNING message_id, tenant_id, conversation_id, direction, event_id, delivery_id, body, metadata, status, created_at, (xmax = 0) AS inserted`,
		m.MessageID, m.TenantID, m.ConversationID, nullableString(m.EventID), m.Body, meta, orDefault(m.Status, "received"))

	var out domain.MessageLog
	var direction, eventID, deliveryID string
	var rawMeta []byte
	var inserted bool
	if err := row.Scan(&out.MessageID, &out.TenantID, &out.ConversationID, &direction, &eventID, &deliveryID, &out.Body, &rawMeta, &out.Status, &out.CreatedAt, &inserted); err != nil {
		return domain.MessageLog{}, false, apperr.Wrap(apperr.KindTransient, true, "message_insert_failed", err)
	}
	out.Direction = domain.Direction(direction)
	out.EventID = eventID
	out.DeliveryID = deliveryID
	if len(rawMeta) > 0 {
		_ = json.Unmarshal(rawMeta, &out.Metadata)
	}
	return out, inserted, nil
}

// InsertOutbound records an outbound message keyed by DeliveryID, the
// idempotency key the outbound worker's consumer-group ack relies on.
func (s *MessageLogStore) InsertOutbound(ctx context.Context, m domain.MessageLog) error {
	meta, err := json.Marshal(m.Metadata)
	if err != nil {
		return apperr.Validation("message_metadata_invalid", "encode metadata: %v", err)
	}
	_, err = s.ex.Exec(ctx, `
		INSERT INTO message_logs (message_id, tenant_id, conversation_id, direction, delivery_id, body, metadata, status)
		VALUES ($1, $2, $3, 'outbound', $4, $5, $6, $7)
		ON CONFLICT (conversation_id, delivery_id) WHERE delivery_id IS NOT NULL DO NOTHING`,
		m.MessageID, m.TenantID, m.ConversationID, nullableString(m.DeliveryID), m.Body, meta, orDefault(m.Status, "queued"))
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, true, "message_outbound_insert_failed", err)
	}
	return nil
}

func (s *MessageLogStore) UpdateStatus(ctx context.Context, messageID uuid.UUID, status string) error {
	_, err := s.ex.Exec(ctx, `UPDATE message_logs SET status = $2 WHERE message_id = $1`, messageID, status)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, true, "message_status_update_failed", err)
	}
	return nil
}

// RecentByConversation returns up to limit messages, newest first, for
// building LLM context windows.
func (s *MessageLogStore) RecentByConversation(ctx context.Context, conversationID uuid.UUID, limit int) ([]domain.MessageLog, error) {
	rows, err := s.ex.Query(ctx, `
		SELECT message_id, tenant_id, conversation_id, direction, COALESCE(event_id,''), COALESCE(delivery_id,''), body, metadata, status, created_at
		FROM message_logs WHERE conversation_id = $1 ORDER BY created_at DESC LIMIT $2`,
		conversationID, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, true, "message_history_query_failed", err)
	}
	defer rows.Close()

	var out []domain.MessageLog
	for rows.Next() {
		var m domain.MessageLog
		var direction string
		var rawMeta []byte
		if err := rows.Scan(&m.MessageID, &m.TenantID, &m.ConversationID, &direction, &m.EventID, &m.DeliveryID, &m.Body, &rawMeta, &m.Status, &m.CreatedAt); err != nil {
			return nil, apperr.Wrap(apperr.KindTransient, true, "message_history_scan_failed", err)
		}
		m.Direction = domain.Direction(direction)
		if len(rawMeta) > 0 {
			_ = json.Unmarshal(rawMeta, &m.Metadata)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
