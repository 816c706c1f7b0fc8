package store

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/memoh-platform/convoy/internal/apperr"
	"github.com/memoh-platform/convoy/internal/domain"
)

type ChannelStore struct{ base }

func (s *ChannelStore) Create(ctx context.Context, c domain.Channel) error {
	creds, err := json.Marshal(c.Credentials)
	if err != nil {
		return apperr.Validation("channel_credentials_invalid", "encode credentials: %v", err)
	}
	_, err = s.ex.Exec(ctx, `
		INSERT INTO channels (channel_id, tenant_id, brand_id, channel_type, external_account_id, credentials, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ChannelID, c.TenantID, c.BrandID, string(c.ChannelType), c.ExternalAccountID, creds, orDefault(c.Status, "active"))
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, true, "channel_create_failed", err)
	}
	return nil
}

func (s *ChannelStore) Get(ctx context.Context, channelID uuid.UUID) (domain.Channel, error) {
	var c domain.Channel
	var channelType string
	var creds []byte
	err := s.ex.QueryRow(ctx, `
		SELECT channel_id, tenant_id, brand_id, channel_type, external_account_id, credentials, status, created_at, updated_at
		FROM channels WHERE channel_id = $1`, channelID,
	).Scan(&c.ChannelID, &c.TenantID, &c.BrandID, &channelType, &c.ExternalAccountID, &creds, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return domain.Channel{}, notFoundOr(err, "channel", channelID)
	}
	c.ChannelType = domain.ChannelType(channelType)
	if len(creds) > 0 {
		if err := json.Unmarshal(creds, &c.Credentials); err != nil {
			return domain.Channel{}, apperr.Wrap(apperr.KindPermanent, false, "channel_credentials_corrupt", err)
		}
	}
	return c, nil
}

// Resolve looks up the channel owning an inbound webhook by its provider
// account id and type, the join key every inbound adapter needs before it
// can forward a message to the Orchestrator.
func (s *ChannelStore) Resolve(ctx context.Context, channelType domain.ChannelType, externalAccountID string) (domain.Channel, error) {
	var c domain.Channel
	var ct string
	var creds []byte
	err := s.ex.QueryRow(ctx, `
		SELECT channel_id, tenant_id, brand_id, channel_type, external_account_id, credentials, status, created_at, updated_at
		FROM channels WHERE channel_type = $1 AND external_account_id = $2`,
		string(channelType), externalAccountID,
	).Scan(&c.ChannelID, &c.TenantID, &c.BrandID, &ct, &c.ExternalAccountID, &creds, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return domain.Channel{}, notFoundOr(err, "channel", externalAccountID)
	}
	c.ChannelType = domain.ChannelType(ct)
	if len(creds) > 0 {
		if err := json.Unmarshal(creds, &c.Credentials); err != nil {
			return domain.Channel{}, apperr.Wrap(apperr.KindPermanent, false, "channel_credentials_corrupt", err)
		}
	}
	return c, nil
}

func (s *ChannelStore) UpdateCredentials(ctx context.Context, channelID uuid.UUID, credentials map[string]any) error {
	creds, err := json.Marshal(credentials)
	if err != nil {
		return apperr.Validation("channel_credentials_invalid", "encode credentials: %v", err)
	}
	_, err = s.ex.Exec(ctx, `
		UPDATE channels SET credentials = $2, updated_at = now() WHERE channel_id = $1`,
		channelID, creds)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, true, "channel_update_failed", err)
	}
	return nil
}
