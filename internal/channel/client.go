package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/memoh-platform/convoy/internal/apperr"
)

// Ack is the Orchestrator's response to a forwarded InboundMessage.
type Ack struct {
	ConversationID string `json:"conversation_id"`
	DeliveryID     string `json:"delivery_id"`
}

// OrchestratorClient is how the gateway forwards a normalized inbound
// message to the Orchestrator's POST /v1/messages/inbound (spec §4.1/§6).
type OrchestratorClient interface {
	ProcessInbound(ctx context.Context, msg InboundMessage) (Ack, error)
}

// HTTPOrchestratorClient is the only implementation: a plain HTTP POST,
// since the Orchestrator is always a separate process reachable over the
// network in this platform's deployment model.
type HTTPOrchestratorClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPOrchestratorClient(baseURL string, timeout time.Duration) *HTTPOrchestratorClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPOrchestratorClient{baseURL: baseURL, httpClient: &http.Client{Timeout: timeout}}
}

func (c *HTTPOrchestratorClient) ProcessInbound(ctx context.Context, msg InboundMessage) (Ack, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return Ack{}, apperr.Validation("inbound_message_invalid", "encode inbound message: %v", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages/inbound", bytes.NewReader(body))
	if err != nil {
		return Ack{}, fmt.Errorf("build inbound request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if msg.CorrelationID != "" {
		req.Header.Set("X-Request-ID", msg.CorrelationID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Ack{}, apperr.Transient("orchestrator_unreachable", "forward inbound message: %v", err)
	}
	defer resp.Body.Close()

	payload, _ := io.ReadAll(resp.Body)
	switch {
	case resp.StatusCode == http.StatusAccepted:
		var ack Ack
		_ = json.Unmarshal(payload, &ack)
		return ack, nil
	case resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode >= 500:
		return Ack{}, apperr.Transient("orchestrator_unavailable", "orchestrator returned %d: %s", resp.StatusCode, string(payload))
	default:
		return Ack{}, apperr.Permanent("orchestrator_rejected", "orchestrator returned %d: %s", resp.StatusCode, string(payload))
	}
}
