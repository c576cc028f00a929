package assist

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// ActionStep is one tool invocation inside a plan. The schema version is
// captured at plan-build time and never re-read, so the plan records which
// tool contract version governed it.
type ActionStep struct {
	StepNumber        int            `json:"step_number"`
	ToolName          string         `json:"tool_name"`
	ToolSchemaVersion string         `json:"tool_schema_version"`
	Parameters        map[string]any `json:"parameters"`
	Description       string         `json:"description"`
	RiskLevel         RiskLevel      `json:"risk_level"`
	RequiresApproval  bool           `json:"requires_approval"`
	RollbackProcedure string         `json:"rollback_procedure,omitempty"`
}

// ActionPlan is the unit handed to an executor. It is immutable after
// construction; integrity, drift, and expiry checks are pure reads.
type ActionPlan struct {
	PlanID             string            `json:"plan_id"`
	TenantID           string            `json:"tenant_id"`
	UserID             string            `json:"user_id"`
	Intent             *Intent           `json:"intent"`
	Steps              []ActionStep      `json:"steps"`
	OverallRiskLevel   RiskLevel         `json:"overall_risk_level"`
	RequiresApproval   bool              `json:"requires_approval"`
	PlanHash           string            `json:"plan_hash"`
	ToolSchemaVersions map[string]string `json:"tool_schema_versions"`
	MissingParameters  []string          `json:"missing_parameters,omitempty"`
	SlotFillingPrompt  string            `json:"slot_filling_prompt,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	ExpiresAt          time.Time         `json:"expires_at"`
}

// StepCount returns the number of steps in the plan.
func (p *ActionPlan) StepCount() int {
	return len(p.Steps)
}

// canonicalStep fixes the serialized field set and order-independence of
// a step for hashing. Maps marshal with sorted keys, so two structurally
// equal step sequences serialize identically regardless of how they were
// built.
func canonicalStep(s ActionStep) map[string]any {
	params := s.Parameters
	if params == nil {
		params = map[string]any{}
	}
	return map[string]any{
		"step_number":         s.StepNumber,
		"tool_name":           s.ToolName,
		"tool_schema_version": s.ToolSchemaVersion,
		"parameters":          params,
		"description":         s.Description,
		"risk_level":          string(s.RiskLevel),
		"requires_approval":   s.RequiresApproval,
		"rollback_procedure":  s.RollbackProcedure,
	}
}

// HashSteps computes the integrity digest over an ordered step sequence.
// The digest is a pure function of the steps: any validator recomputes it
// from the plan alone and compares against PlanHash.
func HashSteps(steps []ActionStep) string {
	canon := make([]map[string]any, len(steps))
	for i, s := range steps {
		canon[i] = canonicalStep(s)
	}
	data, err := json.Marshal(canon)
	if err != nil {
		// Canonical steps contain only JSON-encodable values; a failure
		// here means a step carried something an executor could not see
		// either, so an unusable digest is the safe answer.
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
