package orchestrator

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/memoh-platform/convoy/internal/apperr"
	"github.com/memoh-platform/convoy/internal/auth"
	"github.com/memoh-platform/convoy/internal/automation"
	"github.com/memoh-platform/convoy/internal/domain"
	"github.com/memoh-platform/convoy/internal/objectstore"
	"github.com/memoh-platform/convoy/internal/policy"
	"github.com/memoh-platform/convoy/internal/store"
	"github.com/memoh-platform/convoy/internal/streams"
)

const defaultListLimit = 50

// AdminHandler exposes the platform's management surface: knowledge asset
// upload, ingestion job visibility, automation rule CRUD and dry-run
// testing, and policy draft/publish/diff. Every mutation is authenticated
// by a platform_admin or tenant_operator scoped JWT and recorded to the
// audit log.
type AdminHandler struct {
	store     *store.Store
	objects   *objectstore.Store
	ingestQ   *streams.Stream
	policies  *policy.Cache
	condition *automation.ConditionEvaluator
}

func NewAdminHandler(st *store.Store, objects *objectstore.Store, ingestQueue *streams.Stream, policies *policy.Cache) *AdminHandler {
	return &AdminHandler{
		store:     st,
		objects:   objects,
		ingestQ:   ingestQueue,
		policies:  policies,
		condition: automation.NewConditionEvaluator(),
	}
}

func (h *AdminHandler) Register(e *echo.Echo) {
	g := e.Group("/admin")
	g.POST("/knowledge_assets/upload", h.uploadKnowledgeAsset, auth.RequireScope(auth.ScopeTenantOperator))
	g.GET("/ingestion_jobs", h.listIngestionJobs, auth.RequireScope(auth.ScopeTenantOperator))
	g.POST("/ingestion_jobs/:id/cancel", h.cancelIngestionJob, auth.RequireScope(auth.ScopeTenantOperator))

	g.POST("/automation/rules", h.createAutomationRule, auth.RequireScope(auth.ScopeTenantOperator))
	g.POST("/automation/test", h.testAutomationCondition, auth.RequireScope(auth.ScopeTenantOperator))
	g.POST("/automation/rules/:id/pause", h.pauseAutomationRule, auth.RequireScope(auth.ScopeTenantOperator))
	g.POST("/automation/rules/:id/resume", h.resumeAutomationRule, auth.RequireScope(auth.ScopeTenantOperator))
	g.GET("/automation/jobs", h.listAutomationJobs, auth.RequireScope(auth.ScopeTenantOperator))

	g.POST("/policies/:tenant_id/draft", h.draftPolicy, auth.RequireScope(auth.ScopeTenantOperator))
	g.POST("/policies/:tenant_id/publish", h.publishPolicy, auth.RequireScope(auth.ScopeTenantOperator))
	g.GET("/policies/:tenant_id/diff/:version", h.diffPolicy, auth.RequireScope(auth.ScopeTenantOperator))
}

func (h *AdminHandler) actor(c echo.Context) string {
	claims, err := auth.FromContext(c)
	if err != nil || claims.Subject == "" {
		return "unknown"
	}
	return claims.Subject
}

func (h *AdminHandler) audit(c echo.Context, tenantID uuid.UUID, action, resource string, detail map[string]any) {
	_ = h.store.Audit.Record(c.Request().Context(), domain.AuditEntry{
		TenantID: tenantID,
		Actor:    h.actor(c),
		Action:   action,
		Resource: resource,
		Detail:   detail,
	})
}

// --- knowledge assets ---

func (h *AdminHandler) uploadKnowledgeAsset(c echo.Context) error {
	ctx := c.Request().Context()

	tenantID, err := uuid.Parse(c.FormValue("tenant_id"))
	if err != nil {
		return writeAppErr(c, apperr.Validation("upload_invalid_tenant", "bad tenant_id: %v", err))
	}
	brandID, err := uuid.Parse(c.FormValue("brand_id"))
	if err != nil {
		return writeAppErr(c, apperr.Validation("upload_invalid_brand", "bad brand_id: %v", err))
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return writeAppErr(c, apperr.Validation("upload_missing_file", "file form field is required: %v", err))
	}
	content, err := readMultipartFile(fileHeader)
	if err != nil {
		return writeAppErr(c, apperr.Validation("upload_unreadable_file", "could not read uploaded file: %v", err))
	}

	assetID := uuid.New()
	ext := strings.TrimPrefix(path.Ext(fileHeader.Filename), ".")
	if ext == "" {
		ext = "bin"
	}
	objectKey, sha256Hex, err := h.objects.Put(ctx, tenantID, brandID, assetID, ext, content)
	if err != nil {
		return writeAppErr(c, err)
	}

	asset := domain.KnowledgeAsset{
		AssetID:     assetID,
		TenantID:    tenantID,
		BrandID:     brandID,
		Filename:    fileHeader.Filename,
		ContentType: fileHeader.Header.Get("Content-Type"),
		SHA256:      sha256Hex,
		ObjectKey:   objectKey,
		SizeBytes:   fileHeader.Size,
		Status:      domain.AssetUploaded,
	}
	if err := h.store.Assets.Create(ctx, asset); err != nil {
		return writeAppErr(c, err)
	}

	jobID := uuid.New()
	job := domain.IngestionJob{JobID: jobID, TenantID: tenantID, BrandID: brandID, AssetID: assetID}
	if err := h.store.IngestionJobs.Create(ctx, job); err != nil {
		return writeAppErr(c, err)
	}
	if _, err := h.ingestQ.Publish(ctx, map[string]any{
		"job_id":    jobID.String(),
		"tenant_id": tenantID.String(),
		"brand_id":  brandID.String(),
		"asset_id":  assetID.String(),
	}); err != nil {
		return writeAppErr(c, apperr.Wrap(apperr.KindTransient, true, "ingest_enqueue_failed", err))
	}

	h.audit(c, tenantID, "knowledge_asset.upload", assetID.String(), map[string]any{"filename": asset.Filename, "job_id": jobID})
	return c.JSON(http.StatusAccepted, asset)
}

func readMultipartFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (h *AdminHandler) listIngestionJobs(c echo.Context) error {
	tenantID, err := uuid.Parse(c.QueryParam("tenant_id"))
	if err != nil {
		return writeAppErr(c, apperr.Validation("jobs_invalid_tenant", "bad tenant_id: %v", err))
	}
	limit, offset := pagination(c)
	jobs, err := h.store.IngestionJobs.ListByTenant(c.Request().Context(), tenantID, limit, offset)
	if err != nil {
		return writeAppErr(c, err)
	}
	return c.JSON(http.StatusOK, jobs)
}

// cancelIngestionJob moves a still-pending job straight to the terminal
// "cancelled" state, e.g. when an operator uploaded the wrong asset and
// wants to stop it being indexed before it reaches a vector store.
func (h *AdminHandler) cancelIngestionJob(c echo.Context) error {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return writeAppErr(c, apperr.Validation("jobs_invalid_id", "bad job id: %v", err))
	}
	ctx := c.Request().Context()
	job, err := h.store.IngestionJobs.Get(ctx, jobID)
	if err != nil {
		return writeAppErr(c, err)
	}
	if err := h.store.IngestionJobs.Cancel(ctx, jobID); err != nil {
		return writeAppErr(c, err)
	}
	h.audit(c, job.TenantID, "ingestion_job.cancel", jobID.String(), nil)
	return c.JSON(http.StatusOK, map[string]any{"job_id": jobID, "status": domain.JobCancelled})
}

// --- automation ---

type createRuleRequest struct {
	TenantID        uuid.UUID        `json:"tenant_id"`
	BrandID         uuid.UUID        `json:"brand_id"`
	Name            string           `json:"name"`
	TriggerType     domain.TriggerType `json:"trigger_type"`
	TriggerSpec     string           `json:"trigger_spec"`
	ConditionExpr   string           `json:"condition_expr"`
	ActionType      domain.ActionType `json:"action_type"`
	ActionConfig    map[string]any   `json:"action_config"`
	ThrottleSeconds int              `json:"throttle_seconds"`
	MaxRetries      int              `json:"max_retries"`
}

func (h *AdminHandler) createAutomationRule(c echo.Context) error {
	var req createRuleRequest
	if err := c.Bind(&req); err != nil {
		return writeAppErr(c, apperr.Validation("rule_decode_failed", "invalid request body: %v", err))
	}
	if req.Name == "" || req.TriggerSpec == "" {
		return writeAppErr(c, apperr.Validation("rule_missing_fields", "name and trigger_spec are required"))
	}

	rule := domain.AutomationRule{
		RuleID:          uuid.New(),
		TenantID:        req.TenantID,
		BrandID:         req.BrandID,
		Name:            req.Name,
		TriggerType:     req.TriggerType,
		TriggerSpec:     req.TriggerSpec,
		ConditionExpr:   req.ConditionExpr,
		ActionType:      req.ActionType,
		ActionConfig:    req.ActionConfig,
		ThrottleSeconds: req.ThrottleSeconds,
		MaxRetries:      req.MaxRetries,
	}
	if err := h.store.AutomationRules.Create(c.Request().Context(), rule); err != nil {
		return writeAppErr(c, err)
	}
	h.audit(c, req.TenantID, "automation_rule.create", rule.RuleID.String(), map[string]any{"name": rule.Name})
	return c.JSON(http.StatusCreated, rule)
}

type testRuleRequest struct {
	ConditionExpr string         `json:"condition_expr"`
	Event         string         `json:"event"`
	Payload       map[string]any `json:"payload"`
	RuleName      string         `json:"rule_name"`
}

// testAutomationCondition dry-runs a condition_expr against a sample
// trigger without creating a rule or an AutomationJob, for admins to
// validate expressions before saving them.
func (h *AdminHandler) testAutomationCondition(c echo.Context) error {
	var req testRuleRequest
	if err := c.Bind(&req); err != nil {
		return writeAppErr(c, apperr.Validation("rule_test_decode_failed", "invalid request body: %v", err))
	}
	matched, err := h.condition.Evaluate(req.ConditionExpr, automation.TriggerContext{
		RuleName: req.RuleName,
		Event:    req.Event,
		Payload:  req.Payload,
	})
	if err != nil {
		return writeAppErr(c, apperr.Validation("rule_test_invalid_expr", "%v", err))
	}
	return c.JSON(http.StatusOK, map[string]any{"matched": matched})
}

func (h *AdminHandler) pauseAutomationRule(c echo.Context) error {
	return h.setRulePaused(c, true, "automation_rule.pause")
}

func (h *AdminHandler) resumeAutomationRule(c echo.Context) error {
	return h.setRulePaused(c, false, "automation_rule.resume")
}

func (h *AdminHandler) setRulePaused(c echo.Context, paused bool, action string) error {
	ruleID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return writeAppErr(c, apperr.Validation("rule_invalid_id", "bad rule id: %v", err))
	}
	ctx := c.Request().Context()
	rule, err := h.store.AutomationRules.Get(ctx, ruleID)
	if err != nil {
		return writeAppErr(c, err)
	}
	if err := h.store.AutomationRules.SetPaused(ctx, ruleID, paused); err != nil {
		return writeAppErr(c, err)
	}
	h.audit(c, rule.TenantID, action, ruleID.String(), nil)
	return c.JSON(http.StatusOK, map[string]any{"rule_id": ruleID, "paused": paused})
}

func (h *AdminHandler) listAutomationJobs(c echo.Context) error {
	ruleID, err := uuid.Parse(c.QueryParam("rule_id"))
	if err != nil {
		return writeAppErr(c, apperr.Validation("jobs_invalid_rule", "bad rule_id: %v", err))
	}
	limit, offset := pagination(c)
	jobs, err := h.store.AutomationJobs.ListByRule(c.Request().Context(), ruleID, limit, offset)
	if err != nil {
		return writeAppErr(c, err)
	}
	return c.JSON(http.StatusOK, jobs)
}

// --- policies ---

type draftPolicyRequest struct {
	BrandID    uuid.UUID      `json:"brand_id"`
	PolicyJSON map[string]any `json:"policy_json"`
}

func (h *AdminHandler) draftPolicy(c echo.Context) error {
	tenantID, err := uuid.Parse(c.Param("tenant_id"))
	if err != nil {
		return writeAppErr(c, apperr.Validation("policy_invalid_tenant", "bad tenant_id: %v", err))
	}
	var req draftPolicyRequest
	if err := c.Bind(&req); err != nil {
		return writeAppErr(c, apperr.Validation("policy_decode_failed", "invalid request body: %v", err))
	}
	draft, err := h.store.Policies.CreateDraft(c.Request().Context(), domain.PolicyVersion{
		TenantID:   tenantID,
		BrandID:    req.BrandID,
		PolicyJSON: req.PolicyJSON,
	})
	if err != nil {
		return writeAppErr(c, err)
	}
	h.audit(c, tenantID, "policy.draft", draft.PolicyVersionID.String(), map[string]any{"brand_id": req.BrandID, "version": draft.Version})
	return c.JSON(http.StatusCreated, draft)
}

type publishPolicyRequest struct {
	PolicyVersionID uuid.UUID `json:"policy_version_id"`
	BrandID         uuid.UUID `json:"brand_id"`
}

func (h *AdminHandler) publishPolicy(c echo.Context) error {
	tenantID, err := uuid.Parse(c.Param("tenant_id"))
	if err != nil {
		return writeAppErr(c, apperr.Validation("policy_invalid_tenant", "bad tenant_id: %v", err))
	}
	var req publishPolicyRequest
	if err := c.Bind(&req); err != nil {
		return writeAppErr(c, apperr.Validation("policy_decode_failed", "invalid request body: %v", err))
	}
	err = h.store.WithTx(c.Request().Context(), func(ctx context.Context, tx *store.Store) error {
		return tx.Policies.Publish(ctx, req.PolicyVersionID)
	})
	if err != nil {
		return writeAppErr(c, err)
	}
	h.policies.Invalidate(req.BrandID)
	h.audit(c, tenantID, "policy.publish", req.PolicyVersionID.String(), map[string]any{"brand_id": req.BrandID})
	return c.JSON(http.StatusOK, map[string]any{"policy_version_id": req.PolicyVersionID, "status": "published"})
}

// diffPolicy compares the requested version against the brand's currently
// published version, reporting which top-level policy_json keys changed so
// an admin can review a draft before publishing it.
func (h *AdminHandler) diffPolicy(c echo.Context) error {
	brandID, err := uuid.Parse(c.QueryParam("brand_id"))
	if err != nil {
		return writeAppErr(c, apperr.Validation("policy_diff_invalid_brand", "brand_id query param is required: %v", err))
	}
	versionParam := c.Param("version")
	versionID, err := uuid.Parse(versionParam)
	if err != nil {
		return writeAppErr(c, apperr.Validation("policy_diff_invalid_version", "bad version: %v", err))
	}

	ctx := c.Request().Context()
	target, err := h.store.Policies.Get(ctx, versionID)
	if err != nil {
		return writeAppErr(c, err)
	}
	published, err := h.store.Policies.Published(ctx, brandID)
	if err != nil && !apperr.OfKind(err, apperr.KindNotFound) {
		return writeAppErr(c, err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"target_version":    target.Version,
		"published_version": published.Version,
		"changed_keys":      diffKeys(published.PolicyJSON, target.PolicyJSON),
	})
}

func diffKeys(a, b map[string]any) []string {
	seen := make(map[string]bool)
	var changed []string
	for k, v := range a {
		if bv, ok := b[k]; !ok || fmt.Sprint(bv) != fmt.Sprint(v) {
			if !seen[k] {
				changed = append(changed, k)
				seen[k] = true
			}
		}
	}
	for k, v := range b {
		if av, ok := a[k]; !ok || fmt.Sprint(av) != fmt.Sprint(v) {
			if !seen[k] {
				changed = append(changed, k)
				seen[k] = true
			}
		}
	}
	sort.Strings(changed)
	return changed
}

func pagination(c echo.Context) (limit, offset int) {
	limit = defaultListLimit
	offset = 0
	if v, err := strconv.Atoi(c.QueryParam("limit")); err == nil && v > 0 {
		limit = v
	}
	if v, err := strconv.Atoi(c.QueryParam("offset")); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}
