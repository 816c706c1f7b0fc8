// Package whatsapp adapts the WhatsApp Cloud API webhook format to the
// gateway's canonical channel.Adapter surface.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/memoh-platform/convoy/internal/channel"
	"github.com/memoh-platform/convoy/internal/channel/adapters/graphapi"
	"github.com/memoh-platform/convoy/internal/domain"
)

const (
	graphAPIBase  = "https://graph.facebook.com/v19.0"
	sendTimeout   = 10 * time.Second
	credAccessKey = "access_token"
)

type Adapter struct {
	httpClient *http.Client
}

func New() *Adapter {
	return &Adapter{httpClient: channel.HTTPClientFor(sendTimeout)}
}

func (a *Adapter) Name() string                   { return "whatsapp" }
func (a *Adapter) ChannelType() domain.ChannelType { return domain.ChannelWhatsApp }

func (a *Adapter) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, graphAPIBase+"/", nil)
	if err != nil {
		return err
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

func (a *Adapter) VerifyHandshake(query map[string]string, verifyTokens []string) channel.Handshake {
	if query["hub.mode"] != "subscribe" {
		return channel.Handshake{OK: false}
	}
	token := query["hub.verify_token"]
	for _, candidate := range verifyTokens {
		if candidate != "" && candidate == token {
			return channel.Handshake{Challenge: query["hub.challenge"], OK: true}
		}
	}
	return channel.Handshake{OK: false}
}

// ResolveAccountID pulls the business phone_number_id Meta attaches to
// every change event, which is how this platform's channels.external_account_id
// for a whatsapp channel is keyed.
func (a *Adapter) ResolveAccountID(_ http.Header, body []byte) (string, error) {
	doc, err := graphapi.Decode(body)
	if err != nil {
		return "", err
	}
	id, ok, err := graphapi.QueryString(doc, ".entry[0].changes[0].value.metadata.phone_number_id")
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("whatsapp webhook: phone_number_id not found")
	}
	return id, nil
}

func (a *Adapter) Normalize(_ context.Context, _ domain.Channel, body []byte) (channel.NormalizedInbound, error) {
	doc, err := graphapi.Decode(body)
	if err != nil {
		return channel.NormalizedInbound{}, err
	}
	senderID, ok, err := graphapi.QueryString(doc, ".entry[0].changes[0].value.messages[0].from")
	if err != nil {
		return channel.NormalizedInbound{}, err
	}
	if !ok || senderID == "" {
		return channel.NormalizedInbound{}, fmt.Errorf("whatsapp webhook: no inbound message")
	}
	text, _, err := graphapi.QueryString(doc, ".entry[0].changes[0].value.messages[0].text.body")
	if err != nil {
		return channel.NormalizedInbound{}, err
	}
	eventID, _, err := graphapi.QueryString(doc, ".entry[0].changes[0].value.messages[0].id")
	if err != nil {
		return channel.NormalizedInbound{}, err
	}
	tsRaw, _, err := graphapi.QueryString(doc, ".entry[0].changes[0].value.messages[0].timestamp")
	if err != nil {
		return channel.NormalizedInbound{}, err
	}
	occurredAt := time.Now().UTC()
	if tsRaw != "" {
		var unixSeconds int64
		if _, scanErr := fmt.Sscanf(tsRaw, "%d", &unixSeconds); scanErr == nil && unixSeconds > 0 {
			occurredAt = time.Unix(unixSeconds, 0).UTC()
		}
	}
	if eventID == "" {
		eventID = senderID + ":" + tsRaw
	}
	return channel.NormalizedInbound{
		EventID:    eventID,
		SenderID:   senderID,
		Text:       text,
		OccurredAt: occurredAt,
	}, nil
}

// Send posts a text message via the WhatsApp Cloud API messages endpoint,
// scoped to the channel's own phone_number_id.
func (a *Adapter) Send(ctx context.Context, ch domain.Channel, rec channel.OutboundRecord) error {
	accessToken, _ := ch.Credentials[credAccessKey].(string)
	if accessToken == "" {
		return fmt.Errorf("whatsapp channel %s missing %s credential", ch.ChannelID, credAccessKey)
	}
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                rec.ExternalSenderID,
		"type":              "text",
		"text":              map[string]string{"body": rec.Content},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode whatsapp send payload: %w", err)
	}
	endpoint := fmt.Sprintf("%s/%s/messages", graphAPIBase, ch.ExternalAccountID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build whatsapp send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send whatsapp message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("whatsapp send API returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
