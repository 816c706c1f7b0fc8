// Package connectors implements the three outbound actions an
// AutomationRule can dispatch to: webhook, email, and CRM.
package connectors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/memoh-platform/convoy/internal/automation"
	"github.com/memoh-platform/convoy/internal/channel"
	"github.com/memoh-platform/convoy/internal/domain"
)

const webhookTimeout = 10 * time.Second

// Webhook posts the trigger's event and payload as a signed JSON body to
// the URL named in the rule's action_config, using the same HMAC scheme
// the Channel Gateway verifies inbound webhooks with so the receiving
// system can authenticate delivery the same way this platform does.
type Webhook struct {
	httpClient *http.Client
}

func NewWebhook() *Webhook {
	return &Webhook{httpClient: &http.Client{Timeout: webhookTimeout}}
}

func (w *Webhook) ActionType() domain.ActionType { return domain.ActionWebhook }

func (w *Webhook) Execute(ctx context.Context, rule domain.AutomationRule, trigger automation.TriggerContext) (map[string]any, error) {
	url, _ := rule.ActionConfig["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("webhook action missing url")
	}

	body, err := json.Marshal(map[string]any{
		"rule_id": rule.RuleID,
		"rule":    rule.Name,
		"event":   trigger.Event,
		"payload": trigger.Payload,
	})
	if err != nil {
		return nil, fmt.Errorf("encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if secret, _ := rule.ActionConfig["secret"].(string); secret != "" {
		req.Header.Set("X-Convoy-Signature", channel.Sign(body, secret))
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("webhook target returned %d: %s", resp.StatusCode, string(respBody))
	}
	return map[string]any{"status_code": resp.StatusCode}, nil
}
