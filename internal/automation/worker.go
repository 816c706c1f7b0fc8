package automation

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/memoh-platform/convoy/internal/domain"
	"github.com/memoh-platform/convoy/internal/store"
	"github.com/memoh-platform/convoy/internal/streams"
)

// refreshInterval bounds how stale the cron scheduler's and event
// consumer's in-memory rule sets can get after an admin edit.
const refreshInterval = time.Minute

// Worker owns both trigger sources named in the component design: a cron
// scheduler for TriggerCron rules and a consumer-group reader on the
// cross-component event bus for TriggerEvent rules. Both funnel into the
// same Dispatcher, bounded by a per-tenant concurrency limit.
type Worker struct {
	rules      *store.AutomationRuleStore
	dispatcher *Dispatcher
	eventBus   *streams.Stream
	log        *slog.Logger
	maxPerTenant int

	cron *cron.Cron

	mu        sync.Mutex
	sem       map[string]chan struct{}
}

func NewWorker(rules *store.AutomationRuleStore, dispatcher *Dispatcher, eventBus *streams.Stream, log *slog.Logger, maxConcurrencyPerTenant int) *Worker {
	if maxConcurrencyPerTenant <= 0 {
		maxConcurrencyPerTenant = 4
	}
	return &Worker{
		rules:        rules,
		dispatcher:   dispatcher,
		eventBus:     eventBus,
		log:          log.With(slog.String("component", "automation_worker")),
		maxPerTenant: maxConcurrencyPerTenant,
		cron:         cron.New(),
		sem:          make(map[string]chan struct{}),
	}
}

// Run starts the cron scheduler and blocks consuming the event bus until
// ctx is cancelled.
func (w *Worker) Run(ctx context.Context, consumer string) {
	w.cron.Start()
	defer w.cron.Stop()

	go w.refreshCronLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		msgs, err := w.eventBus.Read(ctx, consumer, 10, 2*time.Second)
		if err != nil {
			w.log.Error("read event bus failed", slog.Any("error", err))
			time.Sleep(time.Second)
			continue
		}
		for _, m := range msgs {
			w.handleEvent(ctx, m)
		}
	}
}

func (w *Worker) handleEvent(ctx context.Context, m streams.Message) {
	event, _ := m.Values["event"].(string)
	var payload map[string]any
	if raw, ok := m.Values["payload"].(string); ok && raw != "" {
		_ = json.Unmarshal([]byte(raw), &payload)
	}

	rules, err := w.rules.ListActiveByTrigger(ctx, domain.TriggerEvent)
	if err != nil {
		w.log.Error("list event-triggered rules failed", slog.Any("error", err))
		_ = w.eventBus.Ack(ctx, m.ID)
		return
	}

	for _, rule := range rules {
		if rule.TriggerSpec != event {
			continue
		}
		w.runBounded(ctx, rule, TriggerContext{RuleName: rule.Name, Event: event, Payload: payload})
	}
	_ = w.eventBus.Ack(ctx, m.ID)
}

// runBounded gates concurrent dispatches to the tenant's configured limit,
// matching the component design's "bounded worker pool, concurrency
// capped per tenant" requirement.
func (w *Worker) runBounded(ctx context.Context, rule domain.AutomationRule, trigger TriggerContext) {
	tenantKey := rule.TenantID.String()
	w.mu.Lock()
	gate, ok := w.sem[tenantKey]
	if !ok {
		gate = make(chan struct{}, w.maxPerTenant)
		w.sem[tenantKey] = gate
	}
	w.mu.Unlock()

	gate <- struct{}{}
	go func() {
		defer func() { <-gate }()
		if err := w.dispatcher.Dispatch(ctx, rule, trigger); err != nil {
			w.log.Error("dispatch automation rule failed",
				slog.String("rule_id", rule.RuleID.String()), slog.Any("error", err))
		}
	}()
}

// refreshCronLoop (re)registers every active cron-triggered rule on an
// interval so a rule created or paused through the admin surface takes
// effect without a process restart.
func (w *Worker) refreshCronLoop(ctx context.Context) {
	w.applyCronRules(ctx)
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.applyCronRules(ctx)
		}
	}
}

func (w *Worker) applyCronRules(ctx context.Context) {
	for _, entry := range w.cron.Entries() {
		w.cron.Remove(entry.ID)
	}

	rules, err := w.rules.ListActiveByTrigger(ctx, domain.TriggerCron)
	if err != nil {
		w.log.Error("list cron-triggered rules failed", slog.Any("error", err))
		return
	}
	for _, rule := range rules {
		rule := rule
		if _, err := w.cron.AddFunc(rule.TriggerSpec, func() {
			w.runBounded(ctx, rule, TriggerContext{RuleName: rule.Name})
		}); err != nil {
			w.log.Error("invalid cron spec, skipping rule",
				slog.String("rule_id", rule.RuleID.String()), slog.String("spec", rule.TriggerSpec), slog.Any("error", err))
		}
	}
}
