// Package safety provides the pure safety functions consumed by the intent
// classifier: PII/PHI redaction and prompt-injection scoring. Both are
// deterministic over their input and hold no state.
package safety

import (
	"regexp"
	"strings"
)

// Redaction is the verdict of one redaction pass. RedactedText is safe to
// log; the original text never appears in it.
type Redaction struct {
	RedactedText string   `json:"redacted_text"`
	HasPII       bool     `json:"has_pii"`
	HasPHI       bool     `json:"has_phi"`
	PIITypes     []string `json:"pii_types,omitempty"`
	PHITypes     []string `json:"phi_types,omitempty"`
}

// Redactor detects and masks PII/PHI in free text.
type Redactor interface {
	Redact(text string) Redaction
}

type piiPattern struct {
	name    string
	pattern *regexp.Regexp
	mask    string
}

// RegexRedactor is the default redactor: regex detectors for Turkish PII
// formats plus a PHI keyword list for the hearing-care domain.
type RegexRedactor struct {
	pii []piiPattern
	phi map[string][]string // category -> keywords, matched case-insensitively
}

// NewRegexRedactor builds the default redactor.
func NewRegexRedactor() *RegexRedactor {
	return &RegexRedactor{
		pii: []piiPattern{
			{
				name: "tc_national_id",
				// 11 digits not embedded in a longer digit run.
				pattern: regexp.MustCompile(`\b[1-9][0-9]{10}\b`),
				mask:    "[TC_KIMLIK]",
			},
			{
				name:    "phone",
				pattern: regexp.MustCompile(`\b0?5[0-9]{2}[\s.-]?[0-9]{3}[\s.-]?[0-9]{2}[\s.-]?[0-9]{2}\b`),
				mask:    "[TELEFON]",
			},
			{
				name:    "email",
				pattern: regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
				mask:    "[EPOSTA]",
			},
			{
				name:    "iban",
				pattern: regexp.MustCompile(`\bTR[0-9]{2}[\s]?([0-9]{4}[\s]?){5}[0-9]{2}\b`),
				mask:    "[IBAN]",
			},
		},
		phi: map[string][]string{
			"hearing_diagnosis": {
				"işitme kaybı", "isitme kaybi", "sensörinöral", "iletim tipi",
				"odyogram", "odyometri", "tinnitus", "kulak çınlaması",
			},
			"medical_history": {
				"ameliyat", "kronik", "diyabet", "tansiyon", "ilaç kullanıyor",
			},
		},
	}
}

// Redact masks every detected PII span and records PHI categories.
// PHI keywords are flagged but left in place: the category name is what
// must never leak into logs alongside an identity, not the keyword itself.
func (r *RegexRedactor) Redact(text string) Redaction {
	out := Redaction{RedactedText: text}

	// Phone before national ID would let an 11-digit phone with leading 0
	// match both; PII patterns run in declaration order and each operates
	// on the already-masked text, so overlaps collapse into the first mask.
	for _, p := range r.pii {
		if p.pattern.MatchString(out.RedactedText) {
			out.HasPII = true
			out.PIITypes = append(out.PIITypes, p.name)
			out.RedactedText = p.pattern.ReplaceAllString(out.RedactedText, p.mask)
		}
	}

	lower := strings.ToLower(text)
	for category, keywords := range r.phi {
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				out.HasPHI = true
				out.PHITypes = appendUnique(out.PHITypes, category)
				break
			}
		}
	}

	return out
}

func appendUnique(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}
