package planner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearcrm/assistant-svc/internal/assist"
	"github.com/hearcrm/assistant-svc/internal/circuitbreaker"
	"github.com/hearcrm/assistant-svc/internal/llm"
	"github.com/hearcrm/assistant-svc/internal/registry"
)

type mockModel struct {
	content string
	err     error
	calls   int
}

func (m *mockModel) Generate(context.Context, llm.GenerateRequest) (*llm.GenerateResponse, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return &llm.GenerateResponse{Content: m.content}, nil
}

func newBreaker() *circuitbreaker.CircuitBreaker {
	cfg := circuitbreaker.ModelConfig()
	cfg.OnStateChange = nil
	return circuitbreaker.New(cfg)
}

func newPlanner(model llm.Client) *Planner {
	return New(model, newBreaker(), registry.New(), DefaultConfig(), nil)
}

func actionIntent(entities map[string]string) *assist.Intent {
	return &assist.Intent{
		Type:       assist.IntentAction,
		Confidence: 0.9,
		Entities:   entities,
	}
}

var clinicPermissions = []string{"party:read", "party:write", "sale:write", "appointment:write"}

func TestPlanEmptyTenantIsViolation(t *testing.T) {
	p := newPlanner(&mockModel{})

	res := p.Plan(context.Background(), PlanRequest{
		Intent: actionIntent(map[string]string{"name": "Ahmet Yılmaz", "phone": "5551234567"}),
	})
	assert.Equal(t, assist.PlannerTenantViolation, res.Status)
	assert.Nil(t, res.Plan)
}

func TestPlanNilIntentIsInvalid(t *testing.T) {
	p := newPlanner(&mockModel{})

	res := p.Plan(context.Background(), PlanRequest{TenantID: "clinic-a"})
	assert.Equal(t, assist.PlannerInvalidIntent, res.Status)
}

func TestPlanInvalidIntentIsInvalid(t *testing.T) {
	p := newPlanner(&mockModel{})

	res := p.Plan(context.Background(), PlanRequest{
		TenantID: "clinic-a",
		Intent:   &assist.Intent{Type: "SOMETHING", Confidence: 0.5},
	})
	assert.Equal(t, assist.PlannerInvalidIntent, res.Status)
}

func TestPlanNonActionableIntents(t *testing.T) {
	model := &mockModel{}
	p := newPlanner(model)

	for _, typ := range []assist.IntentType{
		assist.IntentQuery,
		assist.IntentClarification,
		assist.IntentGreeting,
		assist.IntentCancellation,
		assist.IntentCapabilityInquiry,
		assist.IntentUnknown,
	} {
		res := p.Plan(context.Background(), PlanRequest{
			TenantID: "clinic-a",
			UserID:   "u1",
			Intent:   &assist.Intent{Type: typ, Confidence: 0.8},
		})
		assert.Equal(t, assist.PlannerNoActionsNeeded, res.Status, typ)
		assert.Nil(t, res.Plan, typ)
	}
	assert.Zero(t, model.calls)
}

func TestPlanDeterministicCreateParty(t *testing.T) {
	model := &mockModel{}
	p := newPlanner(model)

	res := p.Plan(context.Background(), PlanRequest{
		Intent:          actionIntent(map[string]string{"name": "Ahmet Yılmaz", "phone": "5551234567"}),
		TenantID:        "clinic-a",
		UserID:          "u1",
		UserPermissions: clinicPermissions,
	})
	require.Equal(t, assist.PlannerSuccess, res.Status)
	require.NotNil(t, res.Plan)
	assert.Zero(t, model.calls)

	plan := res.Plan
	require.Len(t, plan.Steps, 1)
	step := plan.Steps[0]
	assert.Equal(t, 1, step.StepNumber)
	assert.Equal(t, "createParty", step.ToolName)
	assert.Equal(t, "1.2.0", step.ToolSchemaVersion)
	assert.Equal(t, "Ahmet Yılmaz", step.Parameters["name"])
	assert.Equal(t, "5551234567", step.Parameters["phone"])

	assert.Equal(t, assist.RiskMedium, plan.OverallRiskLevel)
	assert.False(t, plan.RequiresApproval)
	assert.False(t, res.NeedsApproval())

	assert.Equal(t, "clinic-a", plan.TenantID)
	assert.Equal(t, "u1", plan.UserID)
	assert.NotEmpty(t, plan.PlanID)
	assert.Equal(t, map[string]string{"createParty": "1.2.0"}, plan.ToolSchemaVersions)
	assert.Empty(t, plan.MissingParameters)
	assert.Equal(t, plan.CreatedAt.Add(5*time.Minute), plan.ExpiresAt)
}

func TestPlanIntegrityAfterConstruction(t *testing.T) {
	p := newPlanner(&mockModel{})

	res := p.Plan(context.Background(), PlanRequest{
		Intent:          actionIntent(map[string]string{"name": "Ahmet Yılmaz", "phone": "5551234567"}),
		TenantID:        "clinic-a",
		UserID:          "u1",
		UserPermissions: clinicPermissions,
	})
	require.Equal(t, assist.PlannerSuccess, res.Status)

	assert.True(t, p.ValidateIntegrity(res.Plan))

	// Any mutation of a step breaks the hash.
	res.Plan.Steps[0].Parameters["phone"] = "5559999999"
	assert.False(t, p.ValidateIntegrity(res.Plan))
}

func TestPlanValidateIntegrityDegenerate(t *testing.T) {
	p := newPlanner(&mockModel{})

	assert.False(t, p.ValidateIntegrity(nil))
	assert.False(t, p.ValidateIntegrity(&assist.ActionPlan{}))
}

func TestPlanPermissionDenied(t *testing.T) {
	p := newPlanner(&mockModel{})

	res := p.Plan(context.Background(), PlanRequest{
		Intent:          actionIntent(map[string]string{"name": "Ahmet Yılmaz", "phone": "5551234567"}),
		TenantID:        "clinic-a",
		UserID:          "u1",
		UserPermissions: []string{"party:read"},
	})
	assert.Equal(t, assist.PlannerPermissionDenied, res.Status)
	// The plan is withheld; only the exact missing set is surfaced.
	assert.Nil(t, res.Plan)
	assert.Equal(t, []string{"party:write"}, res.DeniedPermissions)
	assert.Contains(t, res.ErrorMessage, "party:write")
}

func TestPlanDeniedPermissionsExactAndSorted(t *testing.T) {
	model := &mockModel{content: `{"steps":[
		{"tool_name":"deleteRecord","parameters":{"record_type":"party","record_id":"42"},"description":"Kaydı sil"}
	]}`}
	// Full phase keeps deleteRecord in surface so the permission check is
	// what rejects it.
	cfg := DefaultConfig()
	cfg.Phase = registry.PhaseFull
	p := New(model, newBreaker(), registry.New(), cfg, nil)

	res := p.Plan(context.Background(), PlanRequest{
		Intent:          actionIntent(map[string]string{"record_id": "42"}),
		TenantID:        "clinic-a",
		UserID:          "u1",
		UserPermissions: []string{"party:read", "party:write"},
		UseModel:        true,
	})
	assert.Equal(t, assist.PlannerPermissionDenied, res.Status)
	assert.Equal(t, []string{"admin:write", "record:delete"}, res.DeniedPermissions)
}

func TestPlanModelPath(t *testing.T) {
	model := &mockModel{content: "```json\n" + `{"steps":[
		{"tool_name":"createParty","parameters":{"name":"Ahmet Yılmaz","phone":"5551234567"},"description":"Kayıt oluştur"},
		{"tool_name":"createAppointment","parameters":{"party_id":"p-1","date":"2026-09-01 10:00"},"description":"Randevu oluştur"}
	]}` + "\n```"}
	p := newPlanner(model)

	res := p.Plan(context.Background(), PlanRequest{
		Intent:          actionIntent(map[string]string{"name": "Ahmet Yılmaz", "phone": "5551234567"}),
		TenantID:        "clinic-a",
		UserID:          "u1",
		UserPermissions: clinicPermissions,
		UseModel:        true,
	})
	require.Equal(t, assist.PlannerSuccess, res.Status)
	require.Len(t, res.Plan.Steps, 2)
	assert.Equal(t, 1, model.calls)
	assert.Equal(t, []int{1, 2}, []int{res.Plan.Steps[0].StepNumber, res.Plan.Steps[1].StepNumber})
	assert.Equal(t, assist.RiskMedium, res.Plan.OverallRiskLevel)
}

func TestPlanUnknownToolsDroppedDenseNumbering(t *testing.T) {
	model := &mockModel{content: `{"steps":[
		{"tool_name":"searchParty","parameters":{"query":"Ahmet"},"description":"Ara"},
		{"tool_name":"frobnicateRecord","parameters":{},"description":"?"},
		{"tool_name":"createAppointment","parameters":{"party_id":"p-1","date":"yarın 14:00"},"description":"Randevu"}
	]}`}
	p := newPlanner(model)

	res := p.Plan(context.Background(), PlanRequest{
		Intent:          actionIntent(nil),
		TenantID:        "clinic-a",
		UserID:          "u1",
		UserPermissions: clinicPermissions,
		UseModel:        true,
	})
	require.Equal(t, assist.PlannerSuccess, res.Status)
	require.Len(t, res.Plan.Steps, 2)
	assert.Equal(t, "searchParty", res.Plan.Steps[0].ToolName)
	assert.Equal(t, 1, res.Plan.Steps[0].StepNumber)
	assert.Equal(t, "createAppointment", res.Plan.Steps[1].ToolName)
	assert.Equal(t, 2, res.Plan.Steps[1].StepNumber)
	assert.NotContains(t, res.Plan.ToolSchemaVersions, "frobnicateRecord")
}

func TestPlanAllToolsUnknownIsNoActions(t *testing.T) {
	model := &mockModel{content: `{"steps":[{"tool_name":"launchMissiles","parameters":{},"description":"no"}]}`}
	p := newPlanner(model)

	res := p.Plan(context.Background(), PlanRequest{
		Intent:          actionIntent(nil),
		TenantID:        "clinic-a",
		UserID:          "u1",
		UserPermissions: clinicPermissions,
		UseModel:        true,
	})
	assert.Equal(t, assist.PlannerNoActionsNeeded, res.Status)
	assert.Nil(t, res.Plan)
}

func TestPlanPilotPhaseExcludesWriteTools(t *testing.T) {
	model := &mockModel{}
	cfg := DefaultConfig()
	cfg.Phase = registry.PhasePilot
	p := New(model, newBreaker(), registry.New(), cfg, nil)

	res := p.Plan(context.Background(), PlanRequest{
		Intent:          actionIntent(map[string]string{"name": "Ahmet Yılmaz", "phone": "5551234567"}),
		TenantID:        "clinic-a",
		UserID:          "u1",
		UserPermissions: clinicPermissions,
	})
	assert.Equal(t, assist.PlannerNoActionsNeeded, res.Status)
	assert.Nil(t, res.Plan)
	assert.Equal(t, 0, model.calls)
}

func TestPlanPhaseBoundDropsModelSteps(t *testing.T) {
	model := &mockModel{content: `{"steps":[
		{"tool_name":"createParty","parameters":{"name":"Ahmet Yılmaz","phone":"5551234567"},"description":"Kayıt oluştur"},
		{"tool_name":"sendSMS","parameters":{"phone":"5551234567","message":"Hoş geldiniz"},"description":"SMS gönder"}
	]}`}
	p := newPlanner(model)

	res := p.Plan(context.Background(), PlanRequest{
		Intent:          actionIntent(map[string]string{"name": "Ahmet Yılmaz", "phone": "5551234567"}),
		TenantID:        "clinic-a",
		UserID:          "u1",
		UserPermissions: append([]string{"sms:send"}, clinicPermissions...),
		UseModel:        true,
	})
	require.Equal(t, assist.PlannerSuccess, res.Status)
	require.Len(t, res.Plan.Steps, 1)
	assert.Equal(t, "createParty", res.Plan.Steps[0].ToolName)
	assert.Equal(t, 1, res.Plan.Steps[0].StepNumber)
	assert.NotContains(t, res.Plan.ToolSchemaVersions, "sendSMS")
}

func TestPlanEmptyStepsIsNoActions(t *testing.T) {
	model := &mockModel{content: `{"steps":[]}`}
	p := newPlanner(model)

	res := p.Plan(context.Background(), PlanRequest{
		Intent:          actionIntent(nil),
		TenantID:        "clinic-a",
		UserID:          "u1",
		UserPermissions: clinicPermissions,
		UseModel:        true,
	})
	assert.Equal(t, assist.PlannerNoActionsNeeded, res.Status)
}

func TestPlanMalformedModelOutputIsError(t *testing.T) {
	model := &mockModel{content: "sure, here is what I would do: create the record"}
	p := newPlanner(model)

	res := p.Plan(context.Background(), PlanRequest{
		Intent:          actionIntent(nil),
		TenantID:        "clinic-a",
		UserID:          "u1",
		UserPermissions: clinicPermissions,
		UseModel:        true,
	})
	// No heuristic fallback on the planning side.
	assert.Equal(t, assist.PlannerError, res.Status)
	assert.Nil(t, res.Plan)
}

func TestPlanUnknownModelFieldIsError(t *testing.T) {
	model := &mockModel{content: `{"steps":[{"tool_name":"searchParty","parameters":{},"description":"","confidence":0.9}]}`}
	p := newPlanner(model)

	res := p.Plan(context.Background(), PlanRequest{
		Intent:          actionIntent(nil),
		TenantID:        "clinic-a",
		UserID:          "u1",
		UserPermissions: clinicPermissions,
		UseModel:        true,
	})
	assert.Equal(t, assist.PlannerError, res.Status)
}

func TestPlanModelTimeoutIsError(t *testing.T) {
	model := &mockModel{err: llm.ErrTimeout}
	p := newPlanner(model)

	res := p.Plan(context.Background(), PlanRequest{
		Intent:          actionIntent(nil),
		TenantID:        "clinic-a",
		UserID:          "u1",
		UserPermissions: clinicPermissions,
		UseModel:        true,
	})
	assert.Equal(t, assist.PlannerError, res.Status)
}

func TestPlanCircuitOpen(t *testing.T) {
	cfg := circuitbreaker.ModelConfig()
	cfg.OnStateChange = nil
	cfg.Timeout = 30 * time.Second
	breaker := circuitbreaker.New(cfg)

	model := &mockModel{err: errors.New("down")}
	p := New(model, breaker, registry.New(), DefaultConfig(), nil)

	req := PlanRequest{
		Intent:          actionIntent(nil),
		TenantID:        "clinic-a",
		UserID:          "u1",
		UserPermissions: clinicPermissions,
		UseModel:        true,
	}
	for i := 0; i < 3; i++ {
		p.Plan(context.Background(), req)
	}

	callsBefore := model.calls
	res := p.Plan(context.Background(), req)
	assert.Equal(t, assist.PlannerCircuitOpen, res.Status)
	assert.Contains(t, res.ErrorMessage, "Retry after 30s")
	assert.Equal(t, 30*time.Second, res.RetryAfter)
	assert.Equal(t, callsBefore, model.calls)
}

func TestPlanSlotFilling(t *testing.T) {
	p := newPlanner(&mockModel{})

	res := p.Plan(context.Background(), PlanRequest{
		Intent:          actionIntent(map[string]string{"name": "Ahmet Yılmaz"}),
		TenantID:        "clinic-a",
		UserID:          "u1",
		UserPermissions: clinicPermissions,
	})
	require.Equal(t, assist.PlannerSuccess, res.Status)
	require.NotNil(t, res.Plan)
	assert.Equal(t, []string{"phone"}, res.Plan.MissingParameters)
	assert.Equal(t, "Hastanın telefon numarası nedir?", res.Plan.SlotFillingPrompt)
}

func TestPlanSlotFillingFirstGapAsksFirst(t *testing.T) {
	model := &mockModel{content: `{"steps":[
		{"tool_name":"createSale","parameters":{},"description":"Satış aç"}
	]}`}
	p := newPlanner(model)

	res := p.Plan(context.Background(), PlanRequest{
		Intent:          actionIntent(nil),
		TenantID:        "clinic-a",
		UserID:          "u1",
		UserPermissions: clinicPermissions,
		UseModel:        true,
	})
	require.Equal(t, assist.PlannerSuccess, res.Status)
	// createSale requires party_id then device_model, in that order.
	assert.Equal(t, []string{"party_id", "device_model"}, res.Plan.MissingParameters)
	assert.Equal(t, "Hangi hasta kaydı için işlem yapılacak?", res.Plan.SlotFillingPrompt)
}

func TestPlanSlotFillingGenericPrompt(t *testing.T) {
	assert.Equal(t, "Lütfen fax bilgisini girin.", slotPrompt("fax"))
}

func TestPlanIntentEntitiesSatisfySlots(t *testing.T) {
	model := &mockModel{content: `{"steps":[
		{"tool_name":"createAppointment","parameters":{"party_id":"p-1"},"description":"Randevu"}
	]}`}
	p := newPlanner(model)

	res := p.Plan(context.Background(), PlanRequest{
		Intent:          actionIntent(map[string]string{"date": "2026-09-01 10:00"}),
		TenantID:        "clinic-a",
		UserID:          "u1",
		UserPermissions: clinicPermissions,
		UseModel:        true,
	})
	require.Equal(t, assist.PlannerSuccess, res.Status)
	// date comes from the intent, party_id from the step; nothing missing.
	assert.Empty(t, res.Plan.MissingParameters)
	assert.Empty(t, res.Plan.SlotFillingPrompt)
}

func TestPlanRiskAggregationAndApproval(t *testing.T) {
	model := &mockModel{content: `{"steps":[
		{"tool_name":"searchParty","parameters":{"query":"Ahmet"},"description":"Ara"},
		{"tool_name":"createSale","parameters":{"party_id":"p-1","device_model":"Phonak P90"},"description":"Satış aç"}
	]}`}
	p := newPlanner(model)

	res := p.Plan(context.Background(), PlanRequest{
		Intent:          actionIntent(nil),
		TenantID:        "clinic-a",
		UserID:          "u1",
		UserPermissions: clinicPermissions,
		UseModel:        true,
	})
	require.Equal(t, assist.PlannerSuccess, res.Status)

	plan := res.Plan
	assert.Equal(t, assist.RiskHigh, plan.OverallRiskLevel)
	assert.True(t, plan.RequiresApproval)
	assert.True(t, res.NeedsApproval())

	// Per-step approval follows the step's own risk.
	assert.False(t, plan.Steps[0].RequiresApproval)
	assert.True(t, plan.Steps[1].RequiresApproval)
}

func TestPlanExpiry(t *testing.T) {
	p := newPlanner(&mockModel{})
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return base }

	res := p.Plan(context.Background(), PlanRequest{
		Intent:          actionIntent(map[string]string{"name": "Ahmet Yılmaz", "phone": "5551234567"}),
		TenantID:        "clinic-a",
		UserID:          "u1",
		UserPermissions: clinicPermissions,
	})
	require.Equal(t, assist.PlannerSuccess, res.Status)

	plan := res.Plan
	assert.False(t, p.IsExpired(plan, base))
	assert.False(t, p.IsExpired(plan, base.Add(5*time.Minute)))
	assert.True(t, p.IsExpired(plan, base.Add(5*time.Minute+time.Second)))
}

func TestPlanSchemaDrift(t *testing.T) {
	reg := registry.New()
	p := New(&mockModel{}, newBreaker(), reg, DefaultConfig(), nil)

	res := p.Plan(context.Background(), PlanRequest{
		Intent:          actionIntent(map[string]string{"name": "Ahmet Yılmaz", "phone": "5551234567"}),
		TenantID:        "clinic-a",
		UserID:          "u1",
		UserPermissions: clinicPermissions,
	})
	require.Equal(t, assist.PlannerSuccess, res.Status)
	plan := res.Plan

	assert.Equal(t, map[string]bool{"createParty": false}, p.CheckSchemaDrift(plan))

	tool, ok := reg.Get("createParty")
	require.True(t, ok)
	tool.SchemaVersion = "1.3.0"
	require.NoError(t, reg.Register(tool))
	assert.Equal(t, map[string]bool{"createParty": true}, p.CheckSchemaDrift(plan))

	require.NoError(t, reg.Delete("createParty"))
	assert.Equal(t, map[string]bool{"createParty": true}, p.CheckSchemaDrift(plan))
}

func TestPlanHashKeyOrderIndependent(t *testing.T) {
	p := newPlanner(&mockModel{})
	req := PlanRequest{
		Intent:          actionIntent(map[string]string{"name": "Ahmet Yılmaz", "phone": "5551234567"}),
		TenantID:        "clinic-a",
		UserID:          "u1",
		UserPermissions: clinicPermissions,
	}

	a := p.Plan(context.Background(), req)
	b := p.Plan(context.Background(), req)
	require.Equal(t, assist.PlannerSuccess, a.Status)
	require.Equal(t, assist.PlannerSuccess, b.Status)
	assert.Equal(t, a.Plan.PlanHash, b.Plan.PlanHash)
	assert.NotEqual(t, a.Plan.PlanID, b.Plan.PlanID)
}

func TestPlanReportsProcessingTime(t *testing.T) {
	p := newPlanner(&mockModel{})

	res := p.Plan(context.Background(), PlanRequest{
		TenantID: "clinic-a",
		Intent:   &assist.Intent{Type: assist.IntentQuery, Confidence: 0.7},
	})
	assert.GreaterOrEqual(t, res.ProcessingTime, time.Duration(0))
}
