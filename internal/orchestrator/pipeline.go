package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/memoh-platform/convoy/internal/apperr"
	"github.com/memoh-platform/convoy/internal/config"
	"github.com/memoh-platform/convoy/internal/domain"
	"github.com/memoh-platform/convoy/internal/embeddings"
	"github.com/memoh-platform/convoy/internal/guardrails"
	"github.com/memoh-platform/convoy/internal/llm"
	"github.com/memoh-platform/convoy/internal/metrics"
	"github.com/memoh-platform/convoy/internal/policy"
	"github.com/memoh-platform/convoy/internal/retrieval"
	"github.com/memoh-platform/convoy/internal/store"
	"github.com/memoh-platform/convoy/internal/streams"
)

// Deps bundles everything ProcessInbound needs, named so cmd/orchestrator's
// fx providers can construct a Pipeline with fx.In-style injection.
type Deps struct {
	Store      *store.Store
	Policies   *policy.Cache
	Vectors    *retrieval.VectorStore
	Budget     *retrieval.BudgetSelector
	Embeddings *embeddings.Resolver
	LLM        *llm.FallbackClient
	Guardrails *guardrails.Evaluator
	Outbound   *streams.Stream
	Dedup      *Dedup
	Metrics    *metrics.Recorder
	Config     config.Config
	Log        *slog.Logger
}

// Pipeline implements the Orchestrator's primary operation, the linear
// state machine described in spec §4.3: RECEIVED -> DEDUPED ->
// CONVERSATION_READY -> POLICY_RESOLVED -> CONTEXT_READY -> LLM_CALLED ->
// GUARDRAILED -> PERSISTED -> PUBLISHED -> DONE.
type Pipeline struct {
	store      *store.Store
	policies   *policy.Cache
	vectors    *retrieval.VectorStore
	budget     *retrieval.BudgetSelector
	embeddings *embeddings.Resolver
	llmClient  *llm.FallbackClient
	guardrails *guardrails.Evaluator
	outbound   *streams.Stream
	dedup      *Dedup
	metrics    *metrics.Recorder
	cfg        config.Config
	log        *slog.Logger
}

func NewPipeline(d Deps) *Pipeline {
	return &Pipeline{
		store:      d.Store,
		policies:   d.Policies,
		vectors:    d.Vectors,
		budget:     d.Budget,
		embeddings: d.Embeddings,
		llmClient:  d.LLM,
		guardrails: d.Guardrails,
		outbound:   d.Outbound,
		dedup:      d.Dedup,
		metrics:    d.Metrics,
		cfg:        d.Config,
		log:        d.Log.With(slog.String("component", "orchestrator")),
	}
}

func validateInbound(msg InboundMessage) error {
	if msg.TenantID == uuid.Nil {
		return apperr.Validation("inbound_tenant_required", "tenant_id is required")
	}
	if msg.BrandID == uuid.Nil {
		return apperr.Validation("inbound_brand_required", "brand_id is required")
	}
	if msg.ChannelID == uuid.Nil {
		return apperr.Validation("inbound_channel_required", "channel_id is required")
	}
	if strings.TrimSpace(msg.SenderID) == "" {
		return apperr.Validation("inbound_sender_required", "sender_id is required")
	}
	if strings.TrimSpace(msg.Message) == "" {
		return apperr.Validation("inbound_message_required", "message body is required")
	}
	return nil
}

// ProcessInbound runs the full request pipeline for one inbound message and
// returns the Ack the caller (Channel Gateway or a retry) should treat as
// the durable outcome of this event_id.
func (p *Pipeline) ProcessInbound(ctx context.Context, msg InboundMessage) (Ack, error) {
	if err := validateInbound(msg); err != nil {
		return Ack{}, err
	}

	start := time.Now()
	log := p.log.With(slog.String("event_id", msg.EventID), slog.String("correlation_id", msg.CorrelationID))

	// DEDUPED
	claimed, cached, err := p.dedup.Claim(ctx, msg.EventID)
	if err != nil {
		return Ack{}, err
	}
	if !claimed {
		log.Info("inbound event already processed, replaying prior ack")
		return *cached, nil
	}

	persisted := false
	defer func() {
		if !persisted {
			if relErr := p.dedup.Release(context.WithoutCancel(ctx), msg.EventID); relErr != nil {
				log.Warn("failed to release dedup claim after aborted pipeline", slog.Any("error", relErr))
			}
		}
		if p.metrics != nil {
			p.metrics.ObserveInboundLatency(time.Since(start))
		}
	}()

	// CONVERSATION_READY
	conv, inserted, err := p.upsertConversationAndInbound(ctx, msg)
	if err != nil {
		return Ack{}, err
	}
	if !inserted {
		log.Warn("inbound event_id already recorded in message_logs; dedup cache entry likely expired, continuing for at-least-once delivery")
	}

	if err := ctx.Err(); err != nil {
		return Ack{}, apperr.Wrap(apperr.KindTransient, true, "inbound_cancelled", err)
	}

	// POLICY_RESOLVED
	pol, err := p.policies.Resolve(ctx, msg.BrandID)
	if err != nil {
		return Ack{}, err
	}

	// CONTEXT_READY
	contextBlock, contextDegraded := p.resolveContext(ctx, msg, log)

	// LLM_CALLED
	replyText, llmMeta, llmDegraded := p.callLLM(ctx, msg, conv, pol, contextBlock, log)

	// GUARDRAILED
	verdict, err := p.guardrails.Evaluate(pol.Guardrail, guardrails.Context{
		ReplyText:        replyText,
		InboundText:      msg.Message,
		ConversationTurn: llmMeta.turn,
		Metadata:         msg.Metadata,
	})
	if err != nil {
		return Ack{}, apperr.Wrap(apperr.KindTransient, true, "guardrail_eval_failed", err)
	}
	if p.metrics != nil {
		p.metrics.ObserveGuardrailOutcome(string(verdict.Outcome))
	}

	finalText := verdict.Text
	escalated := false
	switch verdict.Outcome {
	case guardrails.OutcomeRewrite:
		// A rewrite outcome means the reply itself is unsafe to deliver even
		// after redaction; the canned policy fallback replaces it entirely.
		finalText = pol.FallbackText
	case guardrails.OutcomeEscalate:
		escalated = true
	}

	outboundMeta := map[string]any{
		"provider":         llmMeta.provider,
		"model":            llmMeta.model,
		"input_tokens":     llmMeta.inputTokens,
		"output_tokens":    llmMeta.outputTokens,
		"latency_ms":       llmMeta.latencyMs,
		"context_degraded": contextDegraded || llmDegraded,
		"guardrail_outcome": string(verdict.Outcome),
		"escalated":        escalated,
	}

	deliveryID := uuid.NewString()

	// PERSISTED
	err = p.store.WithTx(ctx, func(ctx context.Context, tx *store.Store) error {
		if txErr := tx.Messages.InsertOutbound(ctx, domain.MessageLog{
			MessageID:      uuid.New(),
			TenantID:       msg.TenantID,
			ConversationID: conv.ConversationID,
			Direction:      domain.DirectionOutbound,
			DeliveryID:     deliveryID,
			Body:           finalText,
			Metadata:       outboundMeta,
			Status:         "queued",
		}); txErr != nil {
			return txErr
		}
		if txErr := tx.Conversations.TouchLastMessage(ctx, conv.ConversationID, time.Now().UTC()); txErr != nil {
			return txErr
		}
		if escalated {
			if txErr := tx.Escalations.Create(ctx, domain.EscalationRecord{
				TenantID:       msg.TenantID,
				ConversationID: conv.ConversationID,
				Reason:         verdict.Reason,
			}); txErr != nil {
				return txErr
			}
			if txErr := tx.Audit.Record(ctx, domain.AuditEntry{
				TenantID: msg.TenantID,
				Actor:    "orchestrator",
				Action:   "escalation.raised",
				Resource: "conversation:" + conv.ConversationID.String(),
				Detail:   map[string]any{"reason": verdict.Reason, "event_id": msg.EventID},
			}); txErr != nil {
				return txErr
			}
		}
		return nil
	})
	if err != nil {
		return Ack{}, err
	}
	persisted = true

	ack := Ack{ConversationID: conv.ConversationID.String(), DeliveryID: deliveryID}

	// PUBLISHED — cancellation is ignored from here on (spec §4.3.8).
	pubCtx := context.WithoutCancel(ctx)
	if err := p.publish(pubCtx, msg, conv, deliveryID, finalText, outboundMeta); err != nil {
		log.Error("outbound publish failed after commit; the reply is persisted but was not queued for delivery", slog.Any("error", err))
	}

	if err := p.dedup.Complete(pubCtx, msg.EventID, ack); err != nil {
		log.Warn("failed to record dedup completion", slog.Any("error", err))
	}

	return ack, nil
}

func (p *Pipeline) upsertConversationAndInbound(ctx context.Context, msg InboundMessage) (domain.Conversation, bool, error) {
	var conv domain.Conversation
	var inserted bool
	err := p.store.WithTx(ctx, func(ctx context.Context, tx *store.Store) error {
		var txErr error
		conv, txErr = tx.Conversations.UpsertByExternalSender(ctx, msg.TenantID, msg.BrandID, msg.ChannelID, msg.SenderID)
		if txErr != nil {
			return txErr
		}
		_, inserted, txErr = tx.Messages.InsertInbound(ctx, domain.MessageLog{
			MessageID:      uuid.New(),
			TenantID:       msg.TenantID,
			ConversationID: conv.ConversationID,
			Direction:      domain.DirectionInbound,
			EventID:        msg.EventID,
			Body:           msg.Message,
			Metadata:       msg.Metadata,
			Status:         "received",
		})
		return txErr
	})
	return conv, inserted, err
}

// resolveContext embeds the inbound message, searches the vector store, and
// selects the highest-scored chunks that fit the brand's token budget. Any
// failure degrades to an empty context rather than aborting the pipeline
// (spec §4.3.4 edge cases).
func (p *Pipeline) resolveContext(ctx context.Context, msg InboundMessage, log *slog.Logger) (string, bool) {
	retrievalCfg, err := p.store.RetrievalConfigs.Get(ctx, msg.BrandID)
	if err != nil {
		log.Warn("retrieval config lookup failed, proceeding with empty context", slog.Any("error", err))
		return "", true
	}

	result, err := p.embeddings.Embed(ctx, msg.TenantID.String(), msg.Message)
	if err != nil {
		log.Warn("embedding failed on both providers, proceeding with empty context", slog.Any("error", err))
		return "", true
	}

	hits, err := p.vectors.Search(ctx, msg.TenantID, msg.BrandID, msg.Message, result.Embedding, retrievalCfg.TopK, retrievalCfg.HybridWeight, retrievalCfg.MinScore)
	if err != nil {
		log.Warn("vector search failed, proceeding with empty context", slog.Any("error", err))
		return "", true
	}
	if len(hits) == 0 {
		return "", false
	}

	selected := p.budget.Select(hits, retrievalCfg.ContextBudgetTokens)
	return retrieval.JoinContext(selected), false
}

type llmOutcome struct {
	provider     string
	model        string
	inputTokens  int
	outputTokens int
	latencyMs    int64
	turn         int
}

// callLLM assembles the prompt (persona, numbered retrieved context, recent
// turns, current message) and calls the fallback-aware LLM client under the
// configured per-request deadline. A failure on both providers degrades to
// the policy's fallback text rather than aborting.
func (p *Pipeline) callLLM(ctx context.Context, msg InboundMessage, conv domain.Conversation, pol policy.Policy, contextBlock string, log *slog.Logger) (string, llmOutcome, bool) {
	history, err := p.store.Messages.RecentByConversation(ctx, conv.ConversationID, pol.HistoryTurns)
	if err != nil {
		log.Warn("failed to load conversation history, proceeding with no prior turns", slog.Any("error", err))
		history = nil
	}

	turn := len(history) + 1
	req := llm.Request{
		SystemPrompt: buildSystemPrompt(pol, contextBlock),
		History:      append(toLLMHistory(history), llm.Message{Role: "user", Content: msg.Message}),
		MaxTokens:    1024,
		Temperature:  0.7,
	}

	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.RequestDeadline())
	defer cancel()

	start := time.Now()
	resp, err := p.llmClient.Complete(reqCtx, msg.TenantID.String(), req)
	latency := time.Since(start)

	if err != nil {
		log.Error("llm call failed on both providers, using policy fallback text", slog.Any("error", err))
		return pol.FallbackText, llmOutcome{provider: "none", latencyMs: latency.Milliseconds(), turn: turn}, true
	}

	return resp.Text, llmOutcome{
		provider:     p.llmClient.Name(),
		model:        resp.Model,
		inputTokens:  resp.InputTokens,
		outputTokens: resp.OutputTokens,
		latencyMs:    latency.Milliseconds(),
		turn:         turn,
	}, false
}

// buildSystemPrompt assembles the persona/tone directive and a numbered
// context block from retrieved chunks (spec §4.3.5).
func buildSystemPrompt(pol policy.Policy, contextBlock string) string {
	var b strings.Builder
	tone := pol.Tone
	if tone == "" {
		tone = "helpful and professional"
	}
	fmt.Fprintf(&b, "You are a %s assistant speaking on behalf of this brand.", tone)
	if pol.Greeting != "" {
		fmt.Fprintf(&b, " Greet new conversations with: %q.", pol.Greeting)
	}
	if contextBlock != "" {
		b.WriteString("\n\nRelevant knowledge:\n")
		for i, snippet := range strings.Split(contextBlock, "\n---\n") {
			fmt.Fprintf(&b, "[%d] %s\n", i+1, snippet)
		}
	}
	return b.String()
}

// toLLMHistory reverses RecentByConversation's newest-first order into
// chronological order and maps each row's direction onto an LLM role.
func toLLMHistory(rows []domain.MessageLog) []llm.Message {
	out := make([]llm.Message, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		role := "user"
		if rows[i].Direction == domain.DirectionOutbound {
			role = "assistant"
		}
		out = append(out, llm.Message{Role: role, Content: rows[i].Body})
	}
	return out
}

func (p *Pipeline) publish(ctx context.Context, msg InboundMessage, conv domain.Conversation, deliveryID, content string, meta map[string]any) error {
	_, err := p.outbound.Publish(ctx, map[string]any{
		"delivery_id":        deliveryID,
		"channel_id":         msg.ChannelID.String(),
		"external_sender_id": msg.SenderID,
		"content":            content,
		"correlation_id":     msg.CorrelationID,
		"attempt":            1,
		"context_degraded":   fmt.Sprint(meta["context_degraded"]),
	})
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, true, "outbound_publish_failed", err)
	}
	return nil
}
