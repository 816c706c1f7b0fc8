// Package domain defines the entities shared by every component: tenants,
// brands, channels, conversations, messages, policies, knowledge assets,
// ingestion jobs, automation rules/jobs, and audit records.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// ChannelType is the closed set of channels this platform speaks.
type ChannelType string

const (
	ChannelInstagram ChannelType = "instagram"
	ChannelWhatsApp  ChannelType = "whatsapp"
	ChannelTelegram  ChannelType = "telegram"
	ChannelWeb       ChannelType = "web"
)

func (c ChannelType) Valid() bool {
	switch c {
	case ChannelInstagram, ChannelWhatsApp, ChannelTelegram, ChannelWeb:
		return true
	default:
		return false
	}
}

// Direction distinguishes inbound (user -> platform) from outbound
// (platform -> user) message log entries.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

type ConversationState string

const (
	ConversationOpen      ConversationState = "open"
	ConversationEscalated ConversationState = "escalated"
	ConversationClosed    ConversationState = "closed"
)

type PolicyStatus string

const (
	PolicyDraft     PolicyStatus = "draft"
	PolicyPublished PolicyStatus = "published"
	PolicyArchived  PolicyStatus = "archived"
)

type AssetStatus string

const (
	AssetUploaded  AssetStatus = "uploaded"
	AssetIngesting AssetStatus = "ingesting"
	AssetReady     AssetStatus = "ready"
	AssetFailed    AssetStatus = "failed"
)

// JobStatus is shared by IngestionJob and AutomationJob: both progress
// queued -> running -> {succeeded, failed, cancelled}, matching spec.md §3's
// IngestionJob.status enum. Poison-message handling (spec §4.4, a retry
// budget exhausted) moves the underlying queue record to a dead-letter
// stream partition; the job itself simply settles at the terminal "failed"
// status, so that move is not a distinct JobStatus value.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
	// JobSkipped is an AutomationJob-only terminal state: the rule's throttle
	// window had not elapsed when the job was claimed (spec §4.5 step 1), or
	// its condition did not match.
	JobSkipped JobStatus = "skipped"
)

type TriggerType string

const (
	TriggerCron  TriggerType = "cron"
	TriggerEvent TriggerType = "event"
)

type ActionType string

const (
	ActionWebhook ActionType = "webhook"
	ActionEmail   ActionType = "email"
	ActionCRM     ActionType = "crm"
)

type EscalationStatus string

const (
	EscalationOpen         EscalationStatus = "open"
	EscalationAcknowledged EscalationStatus = "acknowledged"
	EscalationResolved     EscalationStatus = "resolved"
)

type Tenant struct {
	TenantID  uuid.UUID
	Name      string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Brand struct {
	BrandID   uuid.UUID
	TenantID  uuid.UUID
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Channel binds a tenant/brand to one external account on one ChannelType,
// carrying provider credentials (access tokens, webhook secrets) as opaque
// JSON interpreted by the matching adapter.
type Channel struct {
	ChannelID          uuid.UUID
	TenantID           uuid.UUID
	BrandID            uuid.UUID
	ChannelType        ChannelType
	ExternalAccountID  string
	Credentials        map[string]any
	Status             string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Conversation is the unique (channel_id, external_sender_id) thread that
// every inbound message is upserted against.
type Conversation struct {
	ConversationID   uuid.UUID
	TenantID         uuid.UUID
	BrandID          uuid.UUID
	ChannelID        uuid.UUID
	ExternalSenderID string
	State            ConversationState
	ContextSummary   string
	LastMessageAt    *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// MessageLog is an immutable record of one inbound or outbound message.
// EventID dedupes inbound delivery; DeliveryID dedupes outbound delivery.
type MessageLog struct {
	MessageID      uuid.UUID
	TenantID       uuid.UUID
	ConversationID uuid.UUID
	Direction      Direction
	EventID        string
	DeliveryID     string
	Body           string
	Metadata       map[string]any
	Status         string
	CreatedAt      time.Time
}

// PolicyVersion holds one immutable revision of a brand's behavior policy.
// At most one version per brand may carry PolicyPublished at a time.
type PolicyVersion struct {
	PolicyVersionID uuid.UUID
	TenantID        uuid.UUID
	BrandID         uuid.UUID
	Version         int
	PolicyJSON      map[string]any
	Status          PolicyStatus
	CreatedAt       time.Time
	PublishedAt     *time.Time
}

// RetrievalConfig tunes a brand's retrieval-augmented generation pipeline.
type RetrievalConfig struct {
	BrandID             uuid.UUID
	HybridWeight        float64
	MinScore            float64
	TopK                int
	ContextBudgetTokens int
	UpdatedAt           time.Time
}

// KnowledgeAsset is a content-addressed object uploaded to the object store
// at s3://<bucket>/<tenant_id>/<brand_id>/<asset_id>/<sha256>.<ext>.
type KnowledgeAsset struct {
	AssetID     uuid.UUID
	TenantID    uuid.UUID
	BrandID     uuid.UUID
	Filename    string
	ContentType string
	SHA256      string
	ObjectKey   string
	SizeBytes   int64
	Status      AssetStatus
	CreatedAt   time.Time
}

type IngestionJob struct {
	JobID           uuid.UUID
	TenantID        uuid.UUID
	BrandID         uuid.UUID
	AssetID         uuid.UUID
	Status          JobStatus
	Attempts        int
	ProcessedChunks int
	TotalChunks     int
	ErrorMessage    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
}

// AutomationRule is either cron-triggered (TriggerSpec is a 5-field cron
// expression) or event-triggered (TriggerSpec names an event-bus topic),
// gated by ConditionExpr, an expr-lang program evaluated against the
// triggering context.
type AutomationRule struct {
	RuleID        uuid.UUID
	TenantID      uuid.UUID
	BrandID       uuid.UUID
	Name          string
	TriggerType   TriggerType
	TriggerSpec   string
	ConditionExpr string
	ActionType      ActionType
	ActionConfig    map[string]any
	ThrottleSeconds int
	MaxRetries      int
	LastRunAt       *time.Time
	Paused          bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type AutomationJob struct {
	AutomationJobID uuid.UUID
	RuleID          uuid.UUID
	TenantID        uuid.UUID
	Status          JobStatus
	Attempts        int
	Outcome         map[string]any
	ErrorMessage    string
	ScheduledAt     time.Time
	CompletedAt     *time.Time
}

// AuditEntry records every admin-surface mutation: who did what to which
// resource, for compliance review and incident reconstruction.
type AuditEntry struct {
	AuditID   uuid.UUID
	TenantID  uuid.UUID
	Actor     string
	Action    string
	Resource  string
	Detail    map[string]any
	CreatedAt time.Time
}

// EscalationRecord is raised by the guardrail pipeline when a conversation
// needs human attention; it survives independently of the conversation's
// own state so escalation history is queryable after the thread closes.
type EscalationRecord struct {
	EscalationID   uuid.UUID
	TenantID       uuid.UUID
	ConversationID uuid.UUID
	MessageID      *uuid.UUID
	Reason         string
	Status         EscalationStatus
	CreatedAt      time.Time
	ResolvedAt     *time.Time
}
