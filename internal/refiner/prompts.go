package refiner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hearcrm/assistant-svc/internal/assist"
	"github.com/hearcrm/assistant-svc/internal/session"
)

// classifySystemPrompt pins the response language and the exact JSON shape.
// Kept short: classification runs under a tight token budget.
const classifySystemPrompt = `Sen bir işitme cihazı kliniği CRM asistanısın. Kullanıcı mesajını sınıflandır.

SADECE şu JSON formatında yanıt ver, başka hiçbir şey yazma:
{
  "intent_type": "QUERY|ACTION|CLARIFICATION|CONFIRMATION|CANCELLATION|CAPABILITY_INQUIRY|SLOT_FILL|GREETING|UNKNOWN",
  "confidence": 0.0,
  "entities": {"name": "...", "phone": "..."},
  "clarification_needed": false,
  "clarification_question": "",
  "conversational_response": "",
  "reasoning": ""
}

Kurallar:
- ACTION: kullanıcı bir kayıt oluşturmak veya değiştirmek istiyor
- Yeni hasta kaydı için isim ve telefon zorunludur; eksikse clarification_needed=true yap
- Telefon numaralarını 10 haneli olarak çıkar (başında 0 olmadan)
- Emin değilsen UNKNOWN seç ve açıklayıcı bir soru sor`

// buildClassifyPrompt renders the user prompt with recent conversation
// history so follow-up messages classify in context.
func buildClassifyPrompt(message string, convCtx *session.Context) string {
	var b strings.Builder
	if convCtx != nil && len(convCtx.History) > 0 {
		b.WriteString("Önceki konuşma:\n")
		for _, m := range convCtx.History {
			role := "Kullanıcı"
			if m.Role == "assistant" {
				role = "Asistan"
			}
			fmt.Fprintf(&b, "%s: %s\n", role, m.Content)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Mesaj: %s", message)
	return b.String()
}

// intentWire is the strict decoding target for model output. Any field
// outside this set rejects the whole payload.
type intentWire struct {
	IntentType             string            `json:"intent_type"`
	Confidence             float64           `json:"confidence"`
	Entities               map[string]string `json:"entities"`
	ClarificationNeeded    bool              `json:"clarification_needed"`
	ClarificationQuestion  string            `json:"clarification_question"`
	ConversationalResponse string            `json:"conversational_response"`
	Reasoning              string            `json:"reasoning"`
}

// extractJSON strips Markdown code fences and trims to the outermost JSON
// object. Models decorate their output; the decoration is not trusted.
func extractJSON(content string) string {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return ""
	}
	return s[start : end+1]
}

// parseModelIntent decodes and validates model output into an Intent.
// Unknown or malformed fields reject the whole response rather than
// partially trusting it.
func parseModelIntent(content string) (*assist.Intent, error) {
	raw := extractJSON(content)
	if raw == "" {
		return nil, fmt.Errorf("no JSON object in model response")
	}

	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()

	var wire intentWire
	if err := dec.Decode(&wire); err != nil {
		return nil, fmt.Errorf("malformed intent JSON: %w", err)
	}

	intentType, err := assist.ParseIntentType(wire.IntentType)
	if err != nil {
		return nil, err
	}

	entities := wire.Entities
	if entities == nil {
		entities = map[string]string{}
	}
	// Drop empty-valued entities the model emitted as placeholders.
	for k, v := range entities {
		if strings.TrimSpace(v) == "" {
			delete(entities, k)
		}
	}

	intent := &assist.Intent{
		Type:                   intentType,
		Confidence:             wire.Confidence,
		Entities:               entities,
		ClarificationNeeded:    wire.ClarificationNeeded,
		ClarificationQuestion:  wire.ClarificationQuestion,
		ConversationalResponse: wire.ConversationalResponse,
		Reasoning:              wire.Reasoning,
		RawModelResponse:       content,
	}
	if err := intent.Validate(); err != nil {
		return nil, err
	}
	return intent, nil
}
