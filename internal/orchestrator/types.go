// Package orchestrator implements the Orchestrator: the synchronous request
// pipeline that turns one inbound message into a policy-governed, retrieval-
// augmented, guardrail-checked reply, plus the admin operations the
// Ingestion and Automation workers' control surfaces expose through it.
package orchestrator

import (
	"time"

	"github.com/google/uuid"
)

// InboundMessage is the Orchestrator's own wire shape for its primary
// operation, field-compatible with channel.InboundMessage but declared
// independently so this package never imports internal/channel — the
// Channel Gateway and the Orchestrator each own their half of the contract.
type InboundMessage struct {
	EventID       string         `json:"event_id"`
	TenantID      uuid.UUID      `json:"tenant_id"`
	BrandID       uuid.UUID      `json:"brand_id"`
	ChannelID     uuid.UUID      `json:"channel_id"`
	SenderID      string         `json:"sender_id"`
	Message       string         `json:"message"`
	Locale        string         `json:"locale,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	OccurredAt    time.Time      `json:"occurred_at"`
	CorrelationID string         `json:"-"`
}

// Ack is ProcessInbound's result: the conversation the message landed in and
// the delivery_id of the reply now queued on the outbound stream.
type Ack struct {
	ConversationID string `json:"conversation_id"`
	DeliveryID     string `json:"delivery_id,omitempty"`
}
