// Package automation runs the Automation Worker: cron and event triggered
// rules, throttling, condition evaluation, and the webhook/email/CRM
// connectors a matched rule dispatches to.
package automation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/memoh-platform/convoy/internal/apperr"
	"github.com/memoh-platform/convoy/internal/backoffx"
	"github.com/memoh-platform/convoy/internal/domain"
	"github.com/memoh-platform/convoy/internal/metrics"
	"github.com/memoh-platform/convoy/internal/store"
)

// Dispatcher runs one AutomationRule to completion: throttle check,
// condition evaluation, connector execution with retry, and persisting the
// resulting AutomationJob.
type Dispatcher struct {
	store      *store.Store
	connectors map[domain.ActionType]Connector
	condition  *ConditionEvaluator
	metrics    *metrics.Recorder
	log        *slog.Logger
}

func NewDispatcher(st *store.Store, rec *metrics.Recorder, log *slog.Logger, connectors ...Connector) *Dispatcher {
	byType := make(map[domain.ActionType]Connector, len(connectors))
	for _, c := range connectors {
		byType[c.ActionType()] = c
	}
	return &Dispatcher{
		store:      st,
		connectors: byType,
		condition:  NewConditionEvaluator(),
		metrics:    rec,
		log:        log.With(slog.String("component", "automation_dispatcher")),
	}
}

// Dispatch evaluates and, if due, runs rule against trigger. It always
// persists an AutomationJob row: skipped (throttled or condition false),
// succeeded, or failed.
func (d *Dispatcher) Dispatch(ctx context.Context, rule domain.AutomationRule, trigger TriggerContext) error {
	job := domain.AutomationJob{
		AutomationJobID: uuid.New(),
		RuleID:          rule.RuleID,
		TenantID:        rule.TenantID,
		ScheduledAt:     time.Now().UTC(),
	}
	if err := d.store.AutomationJobs.Create(ctx, job); err != nil {
		return fmt.Errorf("create automation job: %w", err)
	}

	if rule.ThrottleSeconds > 0 && rule.LastRunAt != nil {
		if time.Since(*rule.LastRunAt) < time.Duration(rule.ThrottleSeconds)*time.Second {
			return d.store.AutomationJobs.Skip(ctx, job.AutomationJobID, "throttle window not elapsed")
		}
	}

	matched, err := d.condition.Evaluate(rule.ConditionExpr, trigger)
	if err != nil {
		d.metrics.IncAutomationFailure(string(rule.ActionType))
		_ = d.store.AutomationJobs.Complete(ctx, job.AutomationJobID, false, nil, err.Error())
		return err
	}
	if !matched {
		return d.store.AutomationJobs.Skip(ctx, job.AutomationJobID, "condition did not match")
	}

	connector, ok := d.connectors[rule.ActionType]
	if !ok {
		msg := fmt.Sprintf("no connector registered for action type %s", rule.ActionType)
		_ = d.store.AutomationJobs.Complete(ctx, job.AutomationJobID, false, nil, msg)
		d.metrics.IncAutomationFailure(string(rule.ActionType))
		return apperr.Permanent("automation_connector_missing", "%s", msg)
	}

	started := time.Now()
	maxTries := rule.MaxRetries
	if maxTries <= 0 {
		maxTries = backoffx.DefaultMaxTries
	}
	var outcome map[string]any
	runErr := backoffx.Retry(ctx, uint64(maxTries), func() error {
		out, err := connector.Execute(ctx, rule, trigger)
		if err != nil {
			return err
		}
		outcome = out
		return nil
	})
	d.metrics.ObserveAutomationJob(string(rule.ActionType), time.Since(started))

	if runErr != nil {
		d.metrics.IncAutomationFailure(string(rule.ActionType))
		_ = d.store.AutomationJobs.Complete(ctx, job.AutomationJobID, false, outcome, runErr.Error())
		return fmt.Errorf("execute automation rule %s: %w", rule.RuleID, runErr)
	}

	if err := d.store.AutomationJobs.Complete(ctx, job.AutomationJobID, true, outcome, ""); err != nil {
		return fmt.Errorf("complete automation job: %w", err)
	}
	return d.store.AutomationRules.MarkRan(ctx, rule.RuleID, time.Now().UTC())
}
