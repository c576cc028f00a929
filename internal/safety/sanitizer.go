package safety

import (
	"regexp"
)

// Verdict is the result of scoring a message for prompt injection.
// IsSafe=false is a hard stop: the message never reaches the model.
type Verdict struct {
	IsSafe         bool     `json:"is_safe"`
	RiskScore      float64  `json:"risk_score"`
	InjectionTypes []string `json:"injection_types,omitempty"`
}

// Sanitizer scores text for prompt-injection attempts.
type Sanitizer interface {
	Sanitize(text string) Verdict
}

type injectionPattern struct {
	name    string
	pattern *regexp.Regexp
	weight  float64
}

// PatternSanitizer is the default sanitizer: a weighted pattern list for
// instruction-override, prompt-leak, and role-hijack attempts in Turkish
// and English.
type PatternSanitizer struct {
	patterns  []injectionPattern
	threshold float64
}

// NewPatternSanitizer builds the default sanitizer. Scores at or above
// threshold (default 0.5) mark the text unsafe.
func NewPatternSanitizer() *PatternSanitizer {
	return &PatternSanitizer{
		threshold: 0.5,
		patterns: []injectionPattern{
			{
				name:    "instruction_override",
				pattern: regexp.MustCompile(`(?i)(ignore|disregard|forget)\s+(all\s+)?(previous|prior|above|earlier)\s+(instructions?|prompts?|rules?)`),
				weight:  0.9,
			},
			{
				name:    "instruction_override",
				pattern: regexp.MustCompile(`(?i)(önceki|yukarıdaki)\s+(tüm\s+)?(talimatları|komutları|kuralları)\s+(unut|yoksay|görmezden gel)`),
				weight:  0.9,
			},
			{
				name:    "prompt_leak",
				pattern: regexp.MustCompile(`(?i)(reveal|show|print|repeat)\s+(your\s+)?(system\s+prompt|instructions|initial prompt)`),
				weight:  0.8,
			},
			{
				name:    "prompt_leak",
				pattern: regexp.MustCompile(`(?i)(sistem\s+komutunu|talimatlarını)\s+(göster|söyle|yaz)`),
				weight:  0.8,
			},
			{
				name:    "role_hijack",
				pattern: regexp.MustCompile(`(?i)you\s+are\s+(now|no\s+longer)\s+`),
				weight:  0.6,
			},
			{
				name:    "role_hijack",
				pattern: regexp.MustCompile(`(?i)(artık|bundan sonra)\s+sen\s+.*(asistan|bot)\s+değilsin`),
				weight:  0.6,
			},
			{
				name:    "delimiter_abuse",
				pattern: regexp.MustCompile("(?i)(```|<\\|im_start\\|>|<system>|\\[INST\\])"),
				weight:  0.4,
			},
		},
	}
}

// Sanitize scores the text. The score is the maximum matched weight plus a
// small increment per additional distinct pattern family, capped at 1.
func (s *PatternSanitizer) Sanitize(text string) Verdict {
	var maxWeight float64
	seen := map[string]bool{}
	var types []string

	for _, p := range s.patterns {
		if p.pattern.MatchString(text) {
			if p.weight > maxWeight {
				maxWeight = p.weight
			}
			if !seen[p.name] {
				seen[p.name] = true
				types = append(types, p.name)
			}
		}
	}

	score := maxWeight
	if len(types) > 1 {
		score += 0.1 * float64(len(types)-1)
	}
	if score > 1 {
		score = 1
	}

	return Verdict{
		IsSafe:         score < s.threshold,
		RiskScore:      score,
		InjectionTypes: types,
	}
}
