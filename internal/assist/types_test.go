package assist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIntentType(t *testing.T) {
	it, err := ParseIntentType("action")
	require.NoError(t, err)
	assert.Equal(t, IntentAction, it)

	it, err = ParseIntentType("  SLOT_FILL ")
	require.NoError(t, err)
	assert.Equal(t, IntentSlotFill, it)

	_, err = ParseIntentType("DELETE_EVERYTHING")
	assert.Error(t, err)

	_, err = ParseIntentType("")
	assert.Error(t, err)
}

func TestIntentTypeIsActionable(t *testing.T) {
	assert.True(t, IntentAction.IsActionable())
	assert.True(t, IntentConfirmation.IsActionable())
	assert.True(t, IntentSlotFill.IsActionable())
	assert.False(t, IntentQuery.IsActionable())
	assert.False(t, IntentGreeting.IsActionable())
	assert.False(t, IntentCancellation.IsActionable())
}

func TestRiskLevelOrder(t *testing.T) {
	order := []RiskLevel{RiskLow, RiskMedium, RiskHigh, RiskCritical}
	for i := 1; i < len(order); i++ {
		assert.Greater(t, order[i].Rank(), order[i-1].Rank(),
			"%s should rank above %s", order[i], order[i-1])
	}

	assert.Equal(t, RiskCritical, MaxRisk(RiskLow, RiskCritical))
	assert.Equal(t, RiskCritical, MaxRisk(RiskCritical, RiskLow))
	assert.Equal(t, RiskMedium, MaxRisk(RiskMedium, RiskMedium))

	// Unknown levels never outrank a known one.
	assert.Equal(t, RiskLow, MaxRisk(RiskLow, RiskLevel("WILD")))
}

func TestRiskLevelRequiresApproval(t *testing.T) {
	assert.False(t, RiskLow.RequiresApproval())
	assert.False(t, RiskMedium.RequiresApproval())
	assert.True(t, RiskHigh.RequiresApproval())
	assert.True(t, RiskCritical.RequiresApproval())
}

func TestParseRiskLevel(t *testing.T) {
	r, err := ParseRiskLevel("high")
	require.NoError(t, err)
	assert.Equal(t, RiskHigh, r)

	_, err = ParseRiskLevel("EXTREME")
	assert.Error(t, err)
}

func TestIntentValidate(t *testing.T) {
	valid := &Intent{
		Type:       IntentAction,
		Confidence: 0.8,
		Entities:   map[string]string{"name": "Ahmet Yılmaz", "phone": "5551234567"},
	}
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		intent *Intent
	}{
		{"nil intent", nil},
		{"bad type", &Intent{Type: "SOMETHING", Confidence: 0.5}},
		{"confidence above 1", &Intent{Type: IntentQuery, Confidence: 1.2}},
		{"negative confidence", &Intent{Type: IntentQuery, Confidence: -0.1}},
		{"clarification without question", &Intent{
			Type: IntentUnknown, Confidence: 0.3, ClarificationNeeded: true,
		}},
		{"empty entity name", &Intent{
			Type: IntentAction, Confidence: 0.5,
			Entities: map[string]string{" ": "x"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.intent.Validate())
		})
	}
}

func TestIntentEntity(t *testing.T) {
	in := &Intent{
		Type:       IntentAction,
		Confidence: 0.9,
		Entities:   map[string]string{"name": "Ayşe Demir", "phone": "  "},
	}

	v, ok := in.Entity("name")
	assert.True(t, ok)
	assert.Equal(t, "Ayşe Demir", v)

	// Whitespace-only values count as absent.
	_, ok = in.Entity("phone")
	assert.False(t, ok)

	_, ok = in.Entity("missing")
	assert.False(t, ok)
}
