package planner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hearcrm/assistant-svc/internal/assist"
)

// planSystemPrompt pins the output contract for the planning call. The tool
// list is appended per request so the model only ever sees tools the caller
// is allowed to use.
const planSystemPrompt = `Sen bir işitme cihazı kliniği CRM asistanısın. Kullanıcının niyetini
aşağıdaki araçlardan oluşan adımlara dönüştür.

SADECE şu JSON formatında yanıt ver, başka hiçbir şey yazma:
{
  "steps": [
    {"tool_name": "...", "parameters": {"...": "..."}, "description": "..."}
  ]
}

Kurallar:
- Yalnızca listedeki araçları kullan
- Parametreleri niyetteki varlıklardan doldur, uydurma
- Gerekli bir parametre eksikse adımı yine de üret, parametreyi boş bırakma, hiç yazma
- Hiçbir araç uygun değilse boş steps listesi döndür`

// buildPlanPrompt renders the user prompt: the classified intent, its
// entities, and the allowed tool descriptions.
func buildPlanPrompt(intent *assist.Intent, toolList string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Niyet: %s (güven: %.2f)\n", intent.Type, intent.Confidence)
	if intent.Reasoning != "" {
		fmt.Fprintf(&b, "Gerekçe: %s\n", intent.Reasoning)
	}
	if len(intent.Entities) > 0 {
		b.WriteString("Varlıklar:\n")
		for k, v := range intent.Entities {
			fmt.Fprintf(&b, "  %s: %s\n", k, v)
		}
	}
	b.WriteString("\nKullanılabilir araçlar:\n")
	b.WriteString(toolList)
	return b.String()
}

// stepWire and planWire are the strict decoding targets for model output.
type stepWire struct {
	ToolName    string         `json:"tool_name"`
	Parameters  map[string]any `json:"parameters"`
	Description string         `json:"description"`
}

type planWire struct {
	Steps []stepWire `json:"steps"`
}

// extractJSON strips Markdown code fences and trims to the outermost JSON
// object, same lenient envelope handling as the classifier.
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

// parseModelPlan decodes model output strictly. The envelope is lenient
// (fences tolerated) but the payload is not: an unknown field anywhere
// rejects the whole response.
func parseModelPlan(content string) ([]stepWire, error) {
	raw := extractJSON(content)
	if raw == "" {
		return nil, fmt.Errorf("no JSON object in model response")
	}

	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()

	var wire planWire
	if err := dec.Decode(&wire); err != nil {
		return nil, fmt.Errorf("malformed plan JSON: %w", err)
	}

	for i, s := range wire.Steps {
		if strings.TrimSpace(s.ToolName) == "" {
			return nil, fmt.Errorf("step %d has no tool_name", i)
		}
	}
	return wire.Steps, nil
}
