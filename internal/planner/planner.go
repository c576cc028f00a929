// Package planner is the second pipeline stage: it turns a classified intent
// into a validated, permission-checked, risk-scored action plan. Plans are
// immutable after construction and carry a content hash so any later holder
// can prove they were not tampered with.
package planner

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hearcrm/assistant-svc/internal/assist"
	"github.com/hearcrm/assistant-svc/internal/circuitbreaker"
	"github.com/hearcrm/assistant-svc/internal/llm"
	"github.com/hearcrm/assistant-svc/internal/metrics"
	"github.com/hearcrm/assistant-svc/internal/registry"
	"github.com/hearcrm/assistant-svc/internal/session"
)

// Config bounds the planning model call and the plan validity window.
type Config struct {
	ModelTimeout time.Duration
	MaxTokens    int
	Temperature  float64

	// PlanTTL is how long a plan stays executable after construction.
	PlanTTL time.Duration

	// Phase is the deployment's rollout phase. Tools above it never appear
	// in anyone's surface regardless of permissions.
	Phase registry.RolloutPhase
}

func DefaultConfig() Config {
	return Config{
		ModelTimeout: 10 * time.Second,
		MaxTokens:    1024,
		Temperature:  0.0,
		PlanTTL:      5 * time.Minute,
		Phase:        registry.PhaseAssist,
	}
}

// PlanRequest is one planning call.
type PlanRequest struct {
	Intent          *assist.Intent
	TenantID        string
	UserID          string
	UserPermissions []string

	// Context is optional conversation state; its entities do not feed the
	// plan directly, only the intent's entities do.
	Context *session.Context

	// UseModel routes planning through the model. False keeps planning
	// fully deterministic, which is how record-creation intents run in
	// production today.
	UseModel bool
}

// Planner builds action plans. Stateless over its inputs; all collaborators
// are injected at construction.
type Planner struct {
	model    llm.Client
	breaker  *circuitbreaker.CircuitBreaker
	registry *registry.Registry
	cfg      Config
	metrics  *metrics.Metrics
	logger   *log.Logger

	// now is swappable for expiry tests.
	now func() time.Time
}

// New constructs the planner with its collaborators. metrics may be nil.
func New(
	model llm.Client,
	breaker *circuitbreaker.CircuitBreaker,
	reg *registry.Registry,
	cfg Config,
	m *metrics.Metrics,
) *Planner {
	return &Planner{
		model:    model,
		breaker:  breaker,
		registry: reg,
		cfg:      cfg,
		metrics:  m,
		logger:   log.New(log.Writer(), "[PLANNER] ", log.LstdFlags),
		now:      time.Now,
	}
}

// Plan turns a classified intent into a PlannerResult. Like the classifier
// it never returns a Go error and never panics outward.
func (p *Planner) Plan(ctx context.Context, req PlanRequest) (result assist.PlannerResult) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			result = assist.PlannerResult{
				Status:       assist.PlannerError,
				ErrorMessage: fmt.Sprintf("internal error: %v", rec),
			}
			p.logger.Printf("panic recovered in Plan: %v", rec)
		}
		result.ProcessingTime = time.Since(start)
		p.metrics.ObservePlan(string(result.Status), result.ProcessingTime)
	}()

	if req.TenantID == "" {
		return assist.PlannerResult{
			Status:       assist.PlannerTenantViolation,
			ErrorMessage: "request carries no tenant",
		}
	}
	if req.Intent == nil {
		return assist.PlannerResult{
			Status:       assist.PlannerInvalidIntent,
			ErrorMessage: "no intent to plan from",
		}
	}
	if err := req.Intent.Validate(); err != nil {
		return assist.PlannerResult{
			Status:       assist.PlannerInvalidIntent,
			ErrorMessage: err.Error(),
		}
	}
	if !req.Intent.Type.IsActionable() {
		return assist.PlannerResult{Status: assist.PlannerNoActionsNeeded}
	}

	allowed := p.registry.AllowedToolNames(req.UserPermissions, p.cfg.Phase)

	var (
		proposed []stepWire
		res      *assist.PlannerResult
	)
	if req.UseModel {
		proposed, res = p.planWithModel(ctx, req.Intent, allowed)
	} else {
		proposed = p.planDeterministic(req.Intent)
	}
	if res != nil {
		return *res
	}

	steps := p.buildSteps(proposed)
	if len(steps) == 0 {
		return assist.PlannerResult{Status: assist.PlannerNoActionsNeeded}
	}

	// Permission check runs over the constructed steps, not the allowed
	// surface: buildSteps already enforced the phase bound, and checking
	// permissions here yields the exact missing list instead of a silent
	// drop.
	if missing := p.missingPermissions(steps, req.UserPermissions); len(missing) > 0 {
		return assist.PlannerResult{
			Status:            assist.PlannerPermissionDenied,
			ErrorMessage:      fmt.Sprintf("missing permissions: %s", strings.Join(missing, ", ")),
			DeniedPermissions: missing,
		}
	}

	plan := p.finalize(req, steps)
	return assist.PlannerResult{
		Status: assist.PlannerSuccess,
		Plan:   plan,
	}
}

// planWithModel runs the planning prompt under the breaker. Unlike the
// classifier there is no heuristic fallback here: a plan the model garbled
// is an ERROR, because guessing write operations is worse than refusing.
func (p *Planner) planWithModel(ctx context.Context, intent *assist.Intent, allowed []string) ([]stepWire, *assist.PlannerResult) {
	toolList := p.registry.DescriptionsForLLM(allowed)
	if toolList == "" {
		return nil, &assist.PlannerResult{Status: assist.PlannerNoActionsNeeded}
	}

	out, err := p.breaker.Execute(ctx, func(ctx context.Context) (any, error) {
		return p.model.Generate(ctx, llm.GenerateRequest{
			Prompt:          buildPlanPrompt(intent, toolList),
			SystemPrompt:    planSystemPrompt,
			MaxTokens:       p.cfg.MaxTokens,
			Temperature:     p.cfg.Temperature,
			TimeoutOverride: p.cfg.ModelTimeout,
		})
	})

	if err != nil {
		if retryAfter, open := circuitbreaker.IsOpen(err); open {
			p.metrics.SetBreakerState(p.breaker.Name(), int(circuitbreaker.StateOpen))
			return nil, &assist.PlannerResult{
				Status:       assist.PlannerCircuitOpen,
				ErrorMessage: err.Error(),
				RetryAfter:   retryAfter,
			}
		}
		return nil, &assist.PlannerResult{
			Status:       assist.PlannerError,
			ErrorMessage: err.Error(),
		}
	}

	resp := out.(*llm.GenerateResponse)
	proposed, perr := parseModelPlan(resp.Content)
	if perr != nil {
		return nil, &assist.PlannerResult{
			Status:       assist.PlannerError,
			ErrorMessage: perr.Error(),
		}
	}
	return proposed, nil
}

// planDeterministic maps actionable intents onto pre-built steps without a
// model call. Today that is one mapping: a record-creation intent carrying
// name and phone becomes a single createParty step.
func (p *Planner) planDeterministic(intent *assist.Intent) []stepWire {
	name, hasName := intent.Entity("name")
	phone, hasPhone := intent.Entity("phone")
	if !hasName && !hasPhone {
		return nil
	}

	params := map[string]any{}
	if hasName {
		params["name"] = name
	}
	if hasPhone {
		params["phone"] = phone
	}
	return []stepWire{{
		ToolName:    "createParty",
		Parameters:  params,
		Description: fmt.Sprintf("Yeni hasta kaydı oluştur: %s", name),
	}}
}

// buildSteps resolves proposed steps against the registry. Unknown tools are
// dropped, not failed: models hallucinate tool names and one bad step should
// not void an otherwise sound plan. Tools above the deployment's rollout
// phase are dropped the same way, so nothing outside the phase surface ever
// reaches a plan no matter which path proposed it. Surviving steps are
// renumbered densely.
func (p *Planner) buildSteps(proposed []stepWire) []assist.ActionStep {
	steps := make([]assist.ActionStep, 0, len(proposed))
	for _, w := range proposed {
		tool, ok := p.registry.Get(w.ToolName)
		if !ok {
			p.logger.Printf("dropping step with unknown tool %q", w.ToolName)
			continue
		}
		if tool.MinPhase > p.cfg.Phase {
			p.logger.Printf("dropping step with tool %q above rollout phase %s", w.ToolName, p.cfg.Phase)
			continue
		}
		params := w.Parameters
		if params == nil {
			params = map[string]any{}
		}
		steps = append(steps, assist.ActionStep{
			StepNumber:        len(steps) + 1,
			ToolName:          tool.Name,
			ToolSchemaVersion: tool.SchemaVersion,
			Parameters:        params,
			Description:       w.Description,
			RiskLevel:         tool.RiskLevel,
			RequiresApproval:  tool.RiskLevel.RequiresApproval(),
			RollbackProcedure: tool.RollbackProcedure,
		})
	}
	return steps
}

// missingPermissions returns the sorted union of permissions the referenced
// tools require and the caller does not hold.
func (p *Planner) missingPermissions(steps []assist.ActionStep, granted []string) []string {
	held := make(map[string]bool, len(granted))
	for _, g := range granted {
		held[g] = true
	}

	missing := make(map[string]bool)
	for _, s := range steps {
		tool, ok := p.registry.Get(s.ToolName)
		if !ok {
			continue
		}
		for _, perm := range tool.RequiresPermissions {
			if !held[perm] {
				missing[perm] = true
			}
		}
	}
	if len(missing) == 0 {
		return nil
	}

	out := make([]string, 0, len(missing))
	for perm := range missing {
		out = append(out, perm)
	}
	sort.Strings(out)
	return out
}

// finalize assembles the immutable plan: risk aggregation, slot-filling
// analysis, hash, identity, and the validity window.
func (p *Planner) finalize(req PlanRequest, steps []assist.ActionStep) *assist.ActionPlan {
	overall := assist.RiskLow
	versions := make(map[string]string, len(steps))
	for _, s := range steps {
		overall = assist.MaxRisk(overall, s.RiskLevel)
		versions[s.ToolName] = s.ToolSchemaVersion
	}

	missing := p.missingParameters(req.Intent, steps)

	now := p.now()
	plan := &assist.ActionPlan{
		PlanID:             uuid.New().String(),
		TenantID:           req.TenantID,
		UserID:             req.UserID,
		Intent:             req.Intent,
		Steps:              steps,
		OverallRiskLevel:   overall,
		RequiresApproval:   overall.RequiresApproval(),
		PlanHash:           assist.HashSteps(steps),
		ToolSchemaVersions: versions,
		MissingParameters:  missing,
		CreatedAt:          now,
		ExpiresAt:          now.Add(p.cfg.PlanTTL),
	}
	if len(missing) > 0 {
		plan.SlotFillingPrompt = slotPrompt(missing[0])
	}
	return plan
}

// missingParameters diffs each step's required parameters against what the
// intent's entities and the step's own parameters resolve. Registry order is
// preserved so the first gap drives the slot-filling question.
func (p *Planner) missingParameters(intent *assist.Intent, steps []assist.ActionStep) []string {
	seen := make(map[string]bool)
	var missing []string
	for _, s := range steps {
		tool, ok := p.registry.Get(s.ToolName)
		if !ok {
			continue
		}
		for _, name := range tool.RequiredParameters {
			if seen[name] {
				continue
			}
			if v, ok := s.Parameters[name]; ok && !emptyParam(v) {
				continue
			}
			if _, ok := intent.Entity(name); ok {
				continue
			}
			seen[name] = true
			missing = append(missing, name)
		}
	}
	return missing
}

func emptyParam(v any) bool {
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

// slotPrompts maps parameter names onto the question the assistant asks
// when that parameter is the first gap.
var slotPrompts = map[string]string{
	"name":         "Hastanın adı ve soyadı nedir?",
	"phone":        "Hastanın telefon numarası nedir?",
	"party_id":     "Hangi hasta kaydı için işlem yapılacak?",
	"date":         "Randevu hangi tarih ve saatte olsun?",
	"device_model": "Hangi cihaz modeli satılacak?",
	"message":      "Gönderilecek mesaj metni nedir?",
	"query":        "Neyi aramak istiyorsunuz?",
}

func slotPrompt(param string) string {
	if q, ok := slotPrompts[param]; ok {
		return q
	}
	return fmt.Sprintf("Lütfen %s bilgisini girin.", param)
}

// ValidateIntegrity recomputes the step hash and compares it against the
// recorded one. Read only; a tampered plan is reported, never repaired.
func (p *Planner) ValidateIntegrity(plan *assist.ActionPlan) bool {
	if plan == nil || plan.PlanHash == "" {
		return false
	}
	return assist.HashSteps(plan.Steps) == plan.PlanHash
}

// CheckSchemaDrift reports, per tool recorded in the plan, whether the
// registry's current schema version differs from the one the plan was built
// against. A tool that disappeared from the registry counts as drifted.
func (p *Planner) CheckSchemaDrift(plan *assist.ActionPlan) map[string]bool {
	drift := make(map[string]bool, len(plan.ToolSchemaVersions))
	for name, recorded := range plan.ToolSchemaVersions {
		current, ok := p.registry.SchemaVersion(name)
		drift[name] = !ok || current != recorded
	}
	return drift
}

// IsExpired reports whether the plan's validity window has closed at the
// given instant. A zero ExpiresAt never expires.
func (p *Planner) IsExpired(plan *assist.ActionPlan, now time.Time) bool {
	return !plan.ExpiresAt.IsZero() && now.After(plan.ExpiresAt)
}
