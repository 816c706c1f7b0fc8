package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/memoh-platform/convoy/internal/apperr"
	"github.com/memoh-platform/convoy/internal/domain"
)

type ConversationStore struct{ base }

// UpsertByExternalSender finds or creates the one conversation for
// (channelID, externalSenderID), locking the existing row with FOR UPDATE so
// two concurrent inbound messages from the same sender serialize on the same
// conversation rather than racing to create duplicates.
func (s *ConversationStore) UpsertByExternalSender(ctx context.Context, tenantID, brandID, channelID uuid.UUID, externalSenderID string) (domain.Conversation, error) {
	var c domain.Conversation
	var state string
	err := s.ex.QueryRow(ctx, `
		SELECT conversation_id, tenant_id, brand_id, channel_id, external_sender_id, state, context_summary, last_message_at, created_at, updated_at
		FROM conversations
		WHERE channel_id = $1 AND external_sender_id = $2
		FOR UPDATE`, channelID, externalSenderID,
	).Scan(&c.ConversationID, &c.TenantID, &c.BrandID, &c.ChannelID, &c.ExternalSenderID, &state, &c.ContextSummary, &c.LastMessageAt, &c.CreatedAt, &c.UpdatedAt)
	if err == nil {
		c.State = domain.ConversationState(state)
		return c, nil
	}
	if !isNoRows(err) {
		return domain.Conversation{}, apperr.Wrap(apperr.KindTransient, true, "conversation_lookup_failed", err)
	}

	c = domain.Conversation{
		ConversationID:   uuid.New(),
		TenantID:         tenantID,
		BrandID:          brandID,
		ChannelID:        channelID,
		ExternalSenderID: externalSenderID,
		State:            domain.ConversationOpen,
	}
	row := s.ex.QueryRow(ctx, `
		INSERT INTO conversations (conversation_id, tenant_id, brand_id, channel_id, external_sender_id, state)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (channel_id, external_sender_id) DO UPDATE SET updated_at = conversations.updated_at
		RETURNING conversation_id, tenant_id, brand_id, channel_id, external_sender_id, state, context_summary, last_message_at, created_at, updated_at`,
		c.ConversationID, c.TenantID, c.BrandID, c.ChannelID, c.ExternalSenderID, string(c.State))
	var resolved domain.Conversation
	var resolvedState string
	if err := row.Scan(&resolved.ConversationID, &resolved.TenantID, &resolved.BrandID, &resolved.ChannelID, &resolved.ExternalSenderID, &resolvedState, &resolved.ContextSummary, &resolved.LastMessageAt, &resolved.CreatedAt, &resolved.UpdatedAt); err != nil {
		return domain.Conversation{}, apperr.Wrap(apperr.KindTransient, true, "conversation_create_failed", err)
	}
	resolved.State = domain.ConversationState(resolvedState)
	return resolved, nil
}

func (s *ConversationStore) Get(ctx context.Context, conversationID uuid.UUID) (domain.Conversation, error) {
	var c domain.Conversation
	var state string
	err := s.ex.QueryRow(ctx, `
		SELECT conversation_id, tenant_id, brand_id, channel_id, external_sender_id, state, context_summary, last_message_at, created_at, updated_at
		FROM conversations WHERE conversation_id = $1`, conversationID,
	).Scan(&c.ConversationID, &c.TenantID, &c.BrandID, &c.ChannelID, &c.ExternalSenderID, &state, &c.ContextSummary, &c.LastMessageAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return domain.Conversation{}, notFoundOr(err, "conversation", conversationID)
	}
	c.State = domain.ConversationState(state)
	return c, nil
}

func (s *ConversationStore) TouchLastMessage(ctx context.Context, conversationID uuid.UUID, at time.Time) error {
	_, err := s.ex.Exec(ctx, `
		UPDATE conversations SET last_message_at = $2, updated_at = now() WHERE conversation_id = $1`,
		conversationID, at)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, true, "conversation_touch_failed", err)
	}
	return nil
}

func (s *ConversationStore) SetState(ctx context.Context, conversationID uuid.UUID, state domain.ConversationState) error {
	_, err := s.ex.Exec(ctx, `
		UPDATE conversations SET state = $2, updated_at = now() WHERE conversation_id = $1`,
		conversationID, string(state))
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, true, "conversation_state_update_failed", err)
	}
	return nil
}

func (s *ConversationStore) UpdateContextSummary(ctx context.Context, conversationID uuid.UUID, summary string) error {
	_, err := s.ex.Exec(ctx, `
		UPDATE conversations SET context_summary = $2, updated_at = now() WHERE conversation_id = $1`,
		conversationID, summary)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, true, "conversation_summary_update_failed", err)
	}
	return nil
}
