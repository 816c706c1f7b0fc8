// Package instagram adapts Meta's Instagram Messaging webhook format to
// the gateway's canonical channel.Adapter surface.
package instagram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/memoh-platform/convoy/internal/channel"
	"github.com/memoh-platform/convoy/internal/channel/adapters/graphapi"
	"github.com/memoh-platform/convoy/internal/domain"
)

const (
	graphAPIBase   = "https://graph.facebook.com/v19.0"
	sendTimeout    = 10 * time.Second
	credAccessKey  = "page_access_token"
	credVerifyKey  = "verify_token"
	credAccountKey = "ig_account_id"
)

type Adapter struct {
	httpClient *http.Client
}

func New() *Adapter {
	return &Adapter{httpClient: channel.HTTPClientFor(sendTimeout)}
}

func (a *Adapter) Name() string                       { return "instagram" }
func (a *Adapter) ChannelType() domain.ChannelType     { return domain.ChannelInstagram }
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

// VerifyHandshake answers Meta's subscription verification GET:
// ?hub.mode=subscribe&hub.verify_token=...&hub.challenge=...
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

// ResolveAccountID pulls entry[0].id, the IG-scoped business account id
// Meta's webhook always attaches to a messaging event.
func (a *Adapter) ResolveAccountID(_ http.Header, body []byte) (string, error) {
	doc, err := graphapi.Decode(body)
	if err != nil {
		return "", err
	}
	id, ok, err := graphapi.QueryString(doc, ".entry[0].id")
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("instagram webhook: entry[0].id not found")
	}
	return id, nil
}

func (a *Adapter) Normalize(_ context.Context, _ domain.Channel, body []byte) (channel.NormalizedInbound, error) {
	doc, err := graphapi.Decode(body)
	if err != nil {
		return channel.NormalizedInbound{}, err
	}
	senderID, ok, err := graphapi.QueryString(doc, ".entry[0].messaging[0].sender.id")
	if err != nil {
		return channel.NormalizedInbound{}, err
	}
	if !ok || senderID == "" {
		return channel.NormalizedInbound{}, fmt.Errorf("instagram webhook: no messaging event")
	}
	text, _, err := graphapi.QueryString(doc, ".entry[0].messaging[0].message.text")
	if err != nil {
		return channel.NormalizedInbound{}, err
	}
	mid, _, err := graphapi.QueryString(doc, ".entry[0].messaging[0].message.mid")
	if err != nil {
		return channel.NormalizedInbound{}, err
	}
	if mid == "" {
		mid = senderID + ":" + strconv.FormatInt(time.Now().UnixNano(), 10)
	}
	ts, _, err := graphapi.Query(doc, ".entry[0].messaging[0].timestamp")
	if err != nil {
		return channel.NormalizedInbound{}, err
	}
	occurredAt := time.Now().UTC()
	if f, ok := ts.(float64); ok && f > 0 {
		occurredAt = time.UnixMilli(int64(f)).UTC()
	}
	return channel.NormalizedInbound{
		EventID:    mid,
		SenderID:   senderID,
		Text:       text,
		OccurredAt: occurredAt,
	}, nil
}

// Send posts a text message via the Instagram Send API.
func (a *Adapter) Send(ctx context.Context, ch domain.Channel, rec channel.OutboundRecord) error {
	accessToken, _ := ch.Credentials[credAccessKey].(string)
	if accessToken == "" {
		return fmt.Errorf("instagram channel %s missing %s credential", ch.ChannelID, credAccessKey)
	}
	payload := map[string]any{
		"recipient": map[string]string{"id": rec.ExternalSenderID},
		"message":   map[string]string{"text": rec.Content},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode instagram send payload: %w", err)
	}
	endpoint := fmt.Sprintf("%s/me/messages?access_token=%s", graphAPIBase, url.QueryEscape(accessToken))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build instagram send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send instagram message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("instagram send API returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
