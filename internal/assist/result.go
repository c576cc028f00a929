package assist

import (
	"encoding/json"
	"time"
)

// RefinerStatus is the outcome of one classification call.
type RefinerStatus string

const (
	RefinerSuccess            RefinerStatus = "SUCCESS"
	RefinerNeedsClarification RefinerStatus = "NEEDS_CLARIFICATION"
	RefinerBlocked            RefinerStatus = "BLOCKED"
	RefinerError              RefinerStatus = "ERROR"
	RefinerCircuitOpen        RefinerStatus = "CIRCUIT_OPEN"
)

// PlannerStatus is the outcome of one planning call.
type PlannerStatus string

const (
	PlannerSuccess          PlannerStatus = "SUCCESS"
	PlannerNoActionsNeeded  PlannerStatus = "NO_ACTIONS_NEEDED"
	PlannerPermissionDenied PlannerStatus = "PERMISSION_DENIED"
	PlannerTenantViolation  PlannerStatus = "TENANT_VIOLATION"
	PlannerInvalidIntent    PlannerStatus = "INVALID_INTENT"
	PlannerError            PlannerStatus = "ERROR"
	PlannerCircuitOpen      PlannerStatus = "CIRCUIT_OPEN"
)

// RefinerResult is the envelope every classification call returns. Expected
// conditions (blocked input, open breaker) are statuses, never Go errors.
type RefinerResult struct {
	Status         RefinerStatus
	Intent         *Intent
	ErrorMessage   string
	ProcessingTime time.Duration
	RetryAfter     time.Duration // set only for CIRCUIT_OPEN
}

// MarshalJSON renders the wire envelope: {status, payload?, errorMessage?,
// processingTimeMs, retryAfterSeconds?}.
func (r RefinerResult) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"status":           string(r.Status),
		"processingTimeMs": r.ProcessingTime.Milliseconds(),
	}
	if r.Intent != nil {
		out["payload"] = r.Intent
	}
	if r.ErrorMessage != "" {
		out["errorMessage"] = r.ErrorMessage
	}
	if r.RetryAfter > 0 {
		out["retryAfterSeconds"] = int64(r.RetryAfter.Seconds())
	}
	return json.Marshal(out)
}

// PlannerResult is the envelope every planning call returns.
type PlannerResult struct {
	Status            PlannerStatus
	Plan              *ActionPlan
	ErrorMessage      string
	DeniedPermissions []string
	ProcessingTime    time.Duration
	RetryAfter        time.Duration // set only for CIRCUIT_OPEN
}

// NeedsApproval reports whether the contained plan demands human approval.
func (r PlannerResult) NeedsApproval() bool {
	return r.Plan != nil && r.Plan.RequiresApproval
}

// MarshalJSON renders the wire envelope: {status, payload?, errorMessage?,
// processingTimeMs, deniedPermissions?, needsApproval, retryAfterSeconds?}.
func (r PlannerResult) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"status":           string(r.Status),
		"processingTimeMs": r.ProcessingTime.Milliseconds(),
		"needsApproval":    r.NeedsApproval(),
	}
	if r.Plan != nil {
		out["payload"] = r.Plan
	}
	if r.ErrorMessage != "" {
		out["errorMessage"] = r.ErrorMessage
	}
	if len(r.DeniedPermissions) > 0 {
		out["deniedPermissions"] = r.DeniedPermissions
	}
	if r.RetryAfter > 0 {
		out["retryAfterSeconds"] = int64(r.RetryAfter.Seconds())
	}
	return json.Marshal(out)
}
