// Package assist defines the value types exchanged between the intent
// classification and action planning stages of the assistant pipeline.
// All types are constructed once and never mutated afterwards; every
// post-construction check is a pure read over them.
package assist

import (
	"fmt"
	"strings"
)

// IntentType is the classified meaning of one user message.
type IntentType string

const (
	IntentQuery             IntentType = "QUERY"
	IntentAction            IntentType = "ACTION"
	IntentClarification     IntentType = "CLARIFICATION"
	IntentConfirmation      IntentType = "CONFIRMATION"
	IntentCancellation      IntentType = "CANCELLATION"
	IntentCapabilityInquiry IntentType = "CAPABILITY_INQUIRY"
	IntentSlotFill          IntentType = "SLOT_FILL"
	IntentGreeting          IntentType = "GREETING"
	IntentUnknown           IntentType = "UNKNOWN"
)

var intentTypes = map[IntentType]bool{
	IntentQuery:             true,
	IntentAction:            true,
	IntentClarification:     true,
	IntentConfirmation:      true,
	IntentCancellation:      true,
	IntentCapabilityInquiry: true,
	IntentSlotFill:          true,
	IntentGreeting:          true,
	IntentUnknown:           true,
}

// ParseIntentType converts a raw string into an IntentType. Unknown names
// are rejected rather than coerced, so malformed model output fails loudly.
func ParseIntentType(s string) (IntentType, error) {
	it := IntentType(strings.ToUpper(strings.TrimSpace(s)))
	if !intentTypes[it] {
		return "", fmt.Errorf("invalid intent type %q", s)
	}
	return it, nil
}

// IsActionable reports whether the planner should attempt to build a plan
// for this intent type.
func (it IntentType) IsActionable() bool {
	switch it {
	case IntentAction, IntentConfirmation, IntentSlotFill:
		return true
	default:
		return false
	}
}

// RiskLevel is the coarse severity rating attached to a tool, ordered
// LOW < MEDIUM < HIGH < CRITICAL.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// Rank returns the position of the risk level in the total order.
// Unrecognized values rank below LOW so they can never raise a plan's risk.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	case RiskCritical:
		return 4
	default:
		return 0
	}
}

// MaxRisk returns the higher of two risk levels.
func MaxRisk(a, b RiskLevel) RiskLevel {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// ParseRiskLevel converts a raw string into a RiskLevel, rejecting
// anything outside the four known levels.
func ParseRiskLevel(s string) (RiskLevel, error) {
	r := RiskLevel(strings.ToUpper(strings.TrimSpace(s)))
	switch r {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return r, nil
	}
	return "", fmt.Errorf("invalid risk level %q", s)
}

// RequiresApproval reports whether a risk level demands human approval
// before execution.
func (r RiskLevel) RequiresApproval() bool {
	return r == RiskHigh || r == RiskCritical
}

// Intent is the validated result of classifying one user message.
// ConversationalResponse and Reasoning are advisory free text; downstream
// logic never parses them.
type Intent struct {
	Type                  IntentType        `json:"intent_type"`
	Confidence            float64           `json:"confidence"`
	Entities              map[string]string `json:"entities"`
	ClarificationNeeded   bool              `json:"clarification_needed"`
	ClarificationQuestion string            `json:"clarification_question,omitempty"`
	ConversationalResponse string           `json:"conversational_response,omitempty"`
	Reasoning             string            `json:"reasoning,omitempty"`

	// RawModelResponse is empty when the deterministic fallback produced
	// this intent. It is the only way a caller can tell the two paths apart.
	RawModelResponse string `json:"raw_model_response,omitempty"`
}

// Validate enforces the Intent schema strictly. It is applied to every
// intent decoded from model output: one bad field rejects the whole payload.
func (in *Intent) Validate() error {
	if in == nil {
		return fmt.Errorf("intent is nil")
	}
	if !intentTypes[in.Type] {
		return fmt.Errorf("invalid intent type %q", in.Type)
	}
	if in.Confidence < 0 || in.Confidence > 1 {
		return fmt.Errorf("confidence %.3f outside [0,1]", in.Confidence)
	}
	if in.ClarificationNeeded && strings.TrimSpace(in.ClarificationQuestion) == "" {
		return fmt.Errorf("clarification_needed set without clarification_question")
	}
	for k := range in.Entities {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("entity with empty name")
		}
	}
	return nil
}

// Entity returns the named entity value and whether it is present and non-empty.
func (in *Intent) Entity(name string) (string, bool) {
	if in == nil || in.Entities == nil {
		return "", false
	}
	v, ok := in.Entities[name]
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}
