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
	"github.com/memoh-platform/convoy/internal/domain"
)

const crmTimeout = 10 * time.Second

// CRM posts the trigger's event and payload to a generic CRM ingestion
// endpoint named in the rule's action_config. No CRM SDK appears anywhere
// in the example pack, so this speaks plain JSON over net/http rather than
// fabricating a vendor client.
type CRM struct {
	httpClient *http.Client
}

func NewCRM() *CRM {
	return &CRM{httpClient: &http.Client{Timeout: crmTimeout}}
}

func (c *CRM) ActionType() domain.ActionType { return domain.ActionCRM }

func (c *CRM) Execute(ctx context.Context, rule domain.AutomationRule, trigger automation.TriggerContext) (map[string]any, error) {
	endpoint, _ := rule.ActionConfig["endpoint"].(string)
	if endpoint == "" {
		return nil, fmt.Errorf("crm action missing endpoint")
	}

	body, err := json.Marshal(map[string]any{
		"rule":    rule.Name,
		"event":   trigger.Event,
		"payload": trigger.Payload,
	})
	if err != nil {
		return nil, fmt.Errorf("encode crm payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build crm request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey, _ := rule.ActionConfig["api_key"].(string); apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post to crm: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("crm endpoint returned %d: %s", resp.StatusCode, string(respBody))
	}
	return map[string]any{"status_code": resp.StatusCode}, nil
}
