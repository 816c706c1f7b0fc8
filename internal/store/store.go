// Package store holds the Postgres repositories backing every entity in
// internal/domain, written as hand-written SQL over pgx rather than
// generated code, since no code-generation step runs in this environment.
package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/memoh-platform/convoy/internal/dbx"
)

// Executor is satisfied by both *dbx.Pool and pgx.Tx, letting every
// repository method run standalone or bound to a caller's transaction.
type Executor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// base is embedded by every repository; bind rebinds it to a transaction.
type base struct {
	ex Executor
}

func (b base) bind(ex Executor) base {
	return base{ex: ex}
}

// Store bundles every repository behind one handle built from a single pool.
type Store struct {
	pool *dbx.Pool

	Tenants          *TenantStore
	Brands           *BrandStore
	Channels         *ChannelStore
	Conversations    *ConversationStore
	Messages         *MessageLogStore
	Policies         *PolicyStore
	RetrievalConfigs *RetrievalConfigStore
	Assets           *KnowledgeAssetStore
	IngestionJobs    *IngestionJobStore
	AutomationRules  *AutomationRuleStore
	AutomationJobs   *AutomationJobStore
	Audit            *AuditStore
	Escalations      *EscalationStore
}

func New(pool *dbx.Pool) *Store {
	b := base{ex: pool}
	return &Store{
		pool:             pool,
		Tenants:          &TenantStore{base: b},
		Brands:           &BrandStore{base: b},
		Channels:         &ChannelStore{base: b},
		Conversations:    &ConversationStore{base: b},
		Messages:         &MessageLogStore{base: b},
		Policies:         &PolicyStore{base: b},
		RetrievalConfigs: &RetrievalConfigStore{base: b},
		Assets:           &KnowledgeAssetStore{base: b},
		IngestionJobs:    &IngestionJobStore{base: b},
		AutomationRules:  &AutomationRuleStore{base: b},
		AutomationJobs:   &AutomationJobStore{base: b},
		Audit:            &AuditStore{base: b},
		Escalations:      &EscalationStore{base: b},
	}
}

// WithTx runs fn with a Store whose repositories are all bound to the same
// transaction, for operations that must persist across several entities
// atomically (the Orchestrator's single-transaction PERSISTED stage).
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore *Store) error) error {
	return s.pool.WithTx(ctx, func(tx pgx.Tx) error {
		b := base{ex: tx}
		txStore := &Store{
			pool:             s.pool,
			Tenants:          &TenantStore{base: b},
			Brands:           &BrandStore{base: b},
			Channels:         &ChannelStore{base: b},
			Conversations:    &ConversationStore{base: b},
			Messages:         &MessageLogStore{base: b},
			Policies:         &PolicyStore{base: b},
			RetrievalConfigs: &RetrievalConfigStore{base: b},
			Assets:           &KnowledgeAssetStore{base: b},
			IngestionJobs:    &IngestionJobStore{base: b},
			AutomationRules:  &AutomationRuleStore{base: b},
			AutomationJobs:   &AutomationJobStore{base: b},
			Audit:            &AuditStore{base: b},
			Escalations:      &EscalationStore{base: b},
		}
		return fn(ctx, txStore)
	})
}
