// Package web adapts the first-party web-chat widget's webhook format:
// plain JSON in, plain JSON POST to an opaque per-channel webhook_url out
// (the Open Question in spec §9 resolved this way — the web channel's
// "send" target is just the delivery URL stored in its own credentials,
// not a provider API this platform calls with a shared base URL).
package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/memoh-platform/convoy/internal/channel"
	"github.com/memoh-platform/convoy/internal/domain"
)

const (
	sendTimeout    = 10 * time.Second
	credWebhookURL = "webhook_url"
)

type Adapter struct {
	httpClient *http.Client
}

func New() *Adapter {
	return &Adapter{httpClient: channel.HTTPClientFor(sendTimeout)}
}

func (a *Adapter) Name() string                   { return "web" }
func (a *Adapter) ChannelType() domain.ChannelType { return domain.ChannelWeb }

func (a *Adapter) HealthCheck(ctx context.Context) error { return nil }

// VerifyHandshake is a no-op: the web widget has no subscription step.
func (a *Adapter) VerifyHandshake(query map[string]string, verifyTokens []string) channel.Handshake {
	return channel.Handshake{OK: false}
}

type webInbound struct {
	AccountID string `json:"account_id"`
	SessionID string `json:"session_id"`
	MessageID string `json:"message_id"`
	Text      string `json:"text"`
	Locale    string `json:"locale"`
}

// ResolveAccountID reads the widget's own account_id field, set at embed
// time and unique per brand's web channel.
func (a *Adapter) ResolveAccountID(_ http.Header, body []byte) (string, error) {
	var in webInbound
	if err := json.Unmarshal(body, &in); err != nil {
		return "", fmt.Errorf("decode web webhook body: %w", err)
	}
	if in.AccountID == "" {
		return "", fmt.Errorf("web webhook: account_id is required")
	}
	return in.AccountID, nil
}

func (a *Adapter) Normalize(_ context.Context, _ domain.Channel, body []byte) (channel.NormalizedInbound, error) {
	var in webInbound
	if err := json.Unmarshal(body, &in); err != nil {
		return channel.NormalizedInbound{}, fmt.Errorf("decode web webhook body: %w", err)
	}
	if in.SessionID == "" || in.Text == "" {
		return channel.NormalizedInbound{}, fmt.Errorf("web webhook: session_id and text are required")
	}
	eventID := in.MessageID
	if eventID == "" {
		eventID = uuid.NewString()
	}
	return channel.NormalizedInbound{
		EventID:    eventID,
		SenderID:   in.SessionID,
		Text:       in.Text,
		Locale:     in.Locale,
		OccurredAt: time.Now().UTC(),
	}, nil
}

// Send POSTs the reply to the channel's own opaque webhook_url, the
// delivery endpoint the widget's own backend exposed when the channel was
// registered.
func (a *Adapter) Send(ctx context.Context, ch domain.Channel, rec channel.OutboundRecord) error {
	webhookURL, _ := ch.Credentials[credWebhookURL].(string)
	if webhookURL == "" {
		return fmt.Errorf("web channel %s missing %s credential", ch.ChannelID, credWebhookURL)
	}
	payload := map[string]any{
		"session_id": rec.ExternalSenderID,
		"text":       rec.Content,
		"metadata":   rec.Metadata,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode web send payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build web send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send web message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("web webhook_url returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
