// Package channel implements the Channel Gateway: inbound webhook
// termination/normalization for instagram, whatsapp, telegram, and web, and
// the outbound worker that dispatches queued replies back through the
// originating provider. Both directions share one Adapter capability set and
// one Registry, generalized from the teacher's channel-adapter registry
// pattern but narrowed to this platform's closed channel_type enum.
package channel

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/memoh-platform/convoy/internal/domain"
)

// InboundMessage is the canonical envelope every provider webhook is
// normalized into before it is forwarded to the Orchestrator (spec §4.1).
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

// OutboundRecord is one entry on the outbound stream (spec §6): the
// delivery worker loads the owning channel, resolves an adapter, and
// dispatches content to external_sender_id.
type OutboundRecord struct {
	DeliveryID       string         `json:"delivery_id"`
	ChannelID        uuid.UUID      `json:"channel_id"`
	ExternalSenderID string         `json:"external_sender_id"`
	Content          string         `json:"content"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	Attempt          int            `json:"attempt"`
	CorrelationID    string         `json:"correlation_id,omitempty"`
}

// Handshake is returned by adapters that need to answer a provider's
// subscription verification GET (Meta's hub.challenge) before it will start
// delivering webhooks.
type Handshake struct {
	Challenge string
	OK        bool
}

// Adapter is the capability set every channel plugin implements: normalize
// an inbound webhook body into canonical fields, answer any verification
// handshake, dispatch one outbound message, and report health — mirroring
// the teacher's Adapter/Sender interface split but collapsed onto a single
// interface since no adapter in this platform needs streaming or binding
// resolution.
type Adapter interface {
	Name() string
	ChannelType() domain.ChannelType
	HealthCheck(ctx context.Context) error

	// VerifyHandshake answers a provider subscription challenge (GET with
	// query params). Adapters without a handshake step return OK=false.
	VerifyHandshake(query map[string]string, verifyTokens []string) Handshake

	// ResolveAccountID extracts the provider account id a raw webhook
	// targets (e.g. the Meta page id from the body, or the Telegram bot id
	// carried in a per-bot secret-token header) so the gateway can look up
	// the owning Channel before it can verify the signature or normalize
	// the body.
	ResolveAccountID(headers http.Header, body []byte) (string, error)

	// Normalize parses a raw webhook body already matched to ch (by
	// external account id and signature) into the fields Gateway needs to
	// build an InboundMessage: EventID, SenderID, Message text, Locale,
	// OccurredAt, and any extra Metadata.
	Normalize(ctx context.Context, ch domain.Channel, body []byte) (NormalizedInbound, error)

	// Send dispatches one outbound record through the provider API.
	Send(ctx context.Context, ch domain.Channel, rec OutboundRecord) error
}

// NormalizedInbound is what an Adapter extracts from a raw webhook body.
type NormalizedInbound struct {
	EventID    string
	SenderID   string
	Text       string
	Locale     string
	OccurredAt time.Time
	Metadata   map[string]any
}

// Registry holds the statically registered adapter for each channel type.
// Registration happens once at process start in cmd/gateway; no dynamic
// loading is required (spec §9 plugin surfaces).
type Registry struct {
	mu       sync.RWMutex
	adapters map[domain.ChannelType]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[domain.ChannelType]Adapter)}
}

func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.ChannelType()] = a
}

func (r *Registry) Get(ct domain.ChannelType) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[ct]
	return a, ok
}

// HTTPClientFor returns an *http.Client with a sane default timeout for
// adapters that speak to a provider over plain HTTP; shared so every
// adapter's outbound call honors the same default SLA (spec §4.2, 10s).
func HTTPClientFor(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// ErrUnknownChannel names the condition of a channel type with no
// registered adapter; no function in this package returns it.
var ErrUnknownChannel = fmt.Errorf("no adapter registered for channel type")
