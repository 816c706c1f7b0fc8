package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/memoh-platform/convoy/internal/apperr"
	"github.com/memoh-platform/convoy/internal/domain"
)

type AutomationRuleStore struct{ base }

func (s *AutomationRuleStore) Create(ctx context.Context, r domain.AutomationRule) error {
	actionConfig, err := json.Marshal(r.ActionConfig)
	if err != nil {
		return apperr.Validation("automation_action_config_invalid", "encode action config: %v", err)
	}
	_, err = s.ex.Exec(ctx, `
		INSERT INTO automation_rules (rule_id, tenant_id, brand_id, name, trigger_type, trigger_spec, condition_expr, action_type, action_config, throttle_seconds, max_retries, paused)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		r.RuleID, r.TenantID, r.BrandID, r.Name, string(r.TriggerType), r.TriggerSpec, orDefault(r.ConditionExpr, "true"), string(r.ActionType), actionConfig, r.ThrottleSeconds, orDefaultInt(r.MaxRetries, 3), r.Paused)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, true, "automation_rule_create_failed", err)
	}
	return nil
}

func orDefaultInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func (s *AutomationRuleStore) Get(ctx context.Context, ruleID uuid.UUID) (domain.AutomationRule, error) {
	return s.scanOne(ctx, `
		SELECT rule_id, tenant_id, brand_id, name, trigger_type, trigger_spec, condition_expr, action_type, action_config, throttle_seconds, max_retries, last_run_at, paused, created_at, updated_at
		FROM automation_rules WHERE rule_id = $1`, ruleID)
}

// ListActiveByTrigger returns every non-paused rule of the given trigger
// type, for the scheduler (cron) and event consumer (event) to load at
// startup and on each refresh interval.
func (s *AutomationRuleStore) ListActiveByTrigger(ctx context.Context, triggerType domain.TriggerType) ([]domain.AutomationRule, error) {
	rows, err := s.ex.Query(ctx, `
		SELECT rule_id, tenant_id, brand_id, name, trigger_type, trigger_spec, condition_expr, action_type, action_config, throttle_seconds, max_retries, last_run_at, paused, created_at, updated_at
		FROM automation_rules WHERE trigger_type = $1 AND paused = false`, string(triggerType))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, true, "automation_rule_list_failed", err)
	}
	defer rows.Close()

	var out []domain.AutomationRule
	for rows.Next() {
		r, err := scanAutomationRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *AutomationRuleStore) SetPaused(ctx context.Context, ruleID uuid.UUID, paused bool) error {
	_, err := s.ex.Exec(ctx, `UPDATE automation_rules SET paused = $2, updated_at = now() WHERE rule_id = $1`, ruleID, paused)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, true, "automation_rule_pause_failed", err)
	}
	return nil
}

// MarkRan stamps last_run_at, used only after a succeeded dispatch so the
// throttle window is measured from genuine runs, not skipped ones.
func (s *AutomationRuleStore) MarkRan(ctx context.Context, ruleID uuid.UUID, at time.Time) error {
	_, err := s.ex.Exec(ctx, `UPDATE automation_rules SET last_run_at = $2, updated_at = now() WHERE rule_id = $1`, ruleID, at)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, true, "automation_rule_mark_ran_failed", err)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanAutomationRule(row scannable) (domain.AutomationRule, error) {
	var r domain.AutomationRule
	var triggerType, actionType string
	var actionConfig []byte
	if err := row.Scan(&r.RuleID, &r.TenantID, &r.BrandID, &r.Name, &triggerType, &r.TriggerSpec, &r.ConditionExpr, &actionType, &actionConfig, &r.ThrottleSeconds, &r.MaxRetries, &r.LastRunAt, &r.Paused, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return domain.AutomationRule{}, apperr.Wrap(apperr.KindTransient, true, "automation_rule_scan_failed", err)
	}
	r.TriggerType = domain.TriggerType(triggerType)
	r.ActionType = domain.ActionType(actionType)
	if len(actionConfig) > 0 {
		_ = json.Unmarshal(actionConfig, &r.ActionConfig)
	}
	return r, nil
}

func (s *AutomationRuleStore) scanOne(ctx context.Context, sql string, arg any) (domain.AutomationRule, error) {
	row := s.ex.QueryRow(ctx, sql, arg)
	r, err := scanAutomationRule(row)
	if err != nil {
		return domain.AutomationRule{}, notFoundOr(err, "automation_rule", arg)
	}
	return r, nil
}

type AutomationJobStore struct{ base }

func (s *AutomationJobStore) Create(ctx context.Context, j domain.AutomationJob) error {
	_, err := s.ex.Exec(ctx, `
		INSERT INTO automation_jobs (automation_job_id, rule_id, tenant_id, status, scheduled_at)
		VALUES ($1, $2, $3, 'queued', $4)`,
		j.AutomationJobID, j.RuleID, j.TenantID, orNow(j.ScheduledAt))
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, true, "automation_job_create_failed", err)
	}
	return nil
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

func (s *AutomationJobStore) MarkRunning(ctx context.Context, jobID uuid.UUID) error {
	_, err := s.ex.Exec(ctx, `UPDATE automation_jobs SET status = 'running', attempts = attempts + 1 WHERE automation_job_id = $1`, jobID)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, true, "automation_job_mark_running_failed", err)
	}
	return nil
}

func (s *AutomationJobStore) Complete(ctx context.Context, jobID uuid.UUID, succeeded bool, outcome map[string]any, errMsg string) error {
	status := "succeeded"
	if !succeeded {
		status = "failed"
	}
	body, err := json.Marshal(outcome)
	if err != nil {
		return apperr.Validation("automation_outcome_invalid", "encode outcome: %v", err)
	}
	_, err = s.ex.Exec(ctx, `
		UPDATE automation_jobs SET status = $2, outcome = $3, error_message = $4, completed_at = now() WHERE automation_job_id = $1`,
		jobID, status, body, errMsg)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, true, "automation_job_complete_failed", err)
	}
	return nil
}

// Skip records a no-op dispatch (throttled, or condition not matched),
// leaving the rule's last_run_at
// untouched so the next genuine run is still measured from the prior one.
func (s *AutomationJobStore) Skip(ctx context.Context, jobID uuid.UUID, reason string) error {
	_, err := s.ex.Exec(ctx, `
		UPDATE automation_jobs SET status = 'skipped', error_message = $2, completed_at = now() WHERE automation_job_id = $1`,
		jobID, reason)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, true, "automation_job_skip_failed", err)
	}
	return nil
}

// ListByRule returns jobs newest-first for the admin /automation/jobs listing.
func (s *AutomationJobStore) ListByRule(ctx context.Context, ruleID uuid.UUID, limit, offset int) ([]domain.AutomationJob, error) {
	rows, err := s.ex.Query(ctx, `
		SELECT automation_job_id, rule_id, tenant_id, status, attempts, outcome, COALESCE(error_message,''), scheduled_at, completed_at
		FROM automation_jobs WHERE rule_id = $1 ORDER BY scheduled_at DESC LIMIT $2 OFFSET $3`,
		ruleID, limit, offset)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, true, "automation_job_list_failed", err)
	}
	defer rows.Close()

	var out []domain.AutomationJob
	for rows.Next() {
		var j domain.AutomationJob
		var status string
		var outcome []byte
		if err := rows.Scan(&j.AutomationJobID, &j.RuleID, &j.TenantID, &status, &j.Attempts, &outcome, &j.ErrorMessage, &j.ScheduledAt, &j.CompletedAt); err != nil {
			return nil, apperr.Wrap(apperr.KindTransient, true, "automation_job_scan_failed", err)
		}
		j.Status = domain.JobStatus(status)
		if len(outcome) > 0 {
			_ = json.Unmarshal(outcome, &j.Outcome)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
