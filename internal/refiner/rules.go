package refiner

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/hearcrm/assistant-svc/internal/assist"
)

// Locale is the pluggable rule strategy behind the deterministic paths of
// the classifier: keyword fast paths and the total fallback classifier.
// Rules are locale-specific; the pipeline itself is not.
type Locale interface {
	// IsCancellation reports whether the message is a cancellation command.
	IsCancellation(message string) bool

	// IsCapabilityInquiry reports whether the message asks what the
	// assistant can do.
	IsCapabilityInquiry(message string) bool

	// Classify is the total rule-based classifier: it always returns a
	// valid Intent, defaulting to UNKNOWN with a clarification question.
	Classify(message string) *assist.Intent
}

// TurkishRules is the default Locale for the Turkish clinic domain.
type TurkishRules struct {
	phonePattern *regexp.Regexp
}

// NewTurkishRules builds the default rule set.
func NewTurkishRules() *TurkishRules {
	return &TurkishRules{
		phonePattern: regexp.MustCompile(`\b0?(5[0-9]{2})[\s.-]?([0-9]{3})[\s.-]?([0-9]{2})[\s.-]?([0-9]{2})\b`),
	}
}

var (
	cancellationKeywords = []string{
		"iptal", "vazgeç", "vazgec", "cancel", "dur", "stop", "bırak", "birak",
	}
	capabilityKeywords = []string{
		"neler yapabilirsin", "ne yapabilirsin", "what can you do",
		"yardım", "yardim", "help", "nasıl kullanılır", "komutlar",
	}
	creationKeywords = []string{
		"yeni kayıt", "yeni kayit", "kayıt oluştur", "kayit olustur",
		"kaydet", "yeni hasta", "hasta ekle", "kayıt aç", "kayit ac",
		"new record", "create",
	}
	confirmationKeywords = []string{
		"evet", "onayla", "onaylıyorum", "onayliyorum", "tamam", "doğru",
		"dogru", "confirm", "yes",
	}
	queryKeywords = []string{
		"listele", "göster", "goster", "kaç", "kac", "ara", "bul",
		"ne zaman", "hangi", "kimler", "raporu",
	}
	greetingKeywords = []string{
		"merhaba", "selam", "günaydın", "gunaydin", "iyi günler",
		"iyi gunler", "iyi akşamlar", "hello", "hi",
	}
)

func containsAny(lower string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// lowerTurkish lowercases with the Turkish dotted/dotless I rules so that
// "İPTAL" matches "iptal".
func lowerTurkish(s string) string {
	s = strings.ReplaceAll(s, "İ", "i")
	s = strings.ReplaceAll(s, "I", "ı")
	return strings.ToLower(s)
}

func (r *TurkishRules) IsCancellation(message string) bool {
	return containsAny(lowerTurkish(message), cancellationKeywords)
}

func (r *TurkishRules) IsCapabilityInquiry(message string) bool {
	return containsAny(lowerTurkish(message), capabilityKeywords)
}

// ExtractPhone returns the first Turkish mobile number in the message,
// normalized to ten digits without the leading zero.
func (r *TurkishRules) ExtractPhone(message string) (string, bool) {
	m := r.phonePattern.FindStringSubmatch(message)
	if m == nil {
		return "", false
	}
	return m[1] + m[2] + m[3] + m[4], true
}

// ExtractName looks for a name in the word window preceding the phone
// number (or anywhere when no phone is present): first a run of
// capitalized words, then a lowercase window as a weaker guess.
func (r *TurkishRules) ExtractName(message string) (string, bool) {
	head := message
	hasPhone := false
	if loc := r.phonePattern.FindStringIndex(message); loc != nil {
		head = message[:loc[0]]
		hasPhone = true
	}

	words := strings.Fields(head)

	// Capitalized window: the longest trailing run of capitalized words,
	// up to three, skipping creation keywords.
	var run []string
	for _, w := range words {
		clean := strings.Trim(w, ",.;:!?")
		if clean == "" {
			continue
		}
		first := []rune(clean)[0]
		if unicode.IsUpper(first) && !isKeywordWord(clean) {
			run = append(run, clean)
			if len(run) > 3 {
				run = run[1:]
			}
		} else {
			run = nil
		}
	}
	if len(run) >= 2 {
		return strings.Join(run, " "), true
	}

	// Lowercase window: two plausible words directly before the phone.
	// Without a phone anchor a lowercase pair is too weak a signal.
	if hasPhone && len(words) >= 2 {
		a := strings.Trim(words[len(words)-2], ",.;:!?")
		b := strings.Trim(words[len(words)-1], ",.;:!?")
		if isNameLike(a) && isNameLike(b) {
			return a + " " + b, true
		}
	}

	return "", false
}

func isKeywordWord(w string) bool {
	lw := lowerTurkish(w)
	for _, set := range [][]string{creationKeywords, queryKeywords, greetingKeywords} {
		for _, kw := range set {
			if lw == kw || strings.HasPrefix(kw, lw+" ") {
				return true
			}
		}
	}
	return false
}

func isNameLike(w string) bool {
	if len(w) < 2 {
		return false
	}
	for _, r := range w {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return !isKeywordWord(w)
}

const clarifyUnknown = "Ne yapmak istediğinizi tam anlayamadım. Yeni kayıt mı oluşturmak istiyorsunuz, yoksa bir bilgi mi arıyorsunuz?"

// Classify is the deterministic, total fallback classifier. It never
// returns nil and never errors, so the pipeline degrades gracefully with
// zero external dependencies.
func (r *TurkishRules) Classify(message string) *assist.Intent {
	trimmed := strings.TrimSpace(message)
	lower := lowerTurkish(trimmed)

	entities := map[string]string{}
	if phone, ok := r.ExtractPhone(trimmed); ok {
		entities["phone"] = phone
	}
	if name, ok := r.ExtractName(trimmed); ok {
		entities["name"] = name
	}

	switch {
	case trimmed == "":
		return &assist.Intent{
			Type:                  assist.IntentUnknown,
			Confidence:            0.3,
			Entities:              entities,
			ClarificationNeeded:   true,
			ClarificationQuestion: clarifyUnknown,
			Reasoning:             "empty message",
		}

	case containsAny(lower, greetingKeywords) && len(entities) == 0:
		return &assist.Intent{
			Type:                   assist.IntentGreeting,
			Confidence:             0.9,
			Entities:               entities,
			ConversationalResponse: "Merhaba! Size nasıl yardımcı olabilirim?",
			Reasoning:              "greeting keyword",
		}

	case containsAny(lower, creationKeywords) || (entities["name"] != "" && entities["phone"] != ""):
		intent := &assist.Intent{
			Type:       assist.IntentAction,
			Confidence: 0.85,
			Entities:   entities,
			Reasoning:  "record creation keywords or full entity set",
		}
		if entities["name"] == "" || entities["phone"] == "" {
			missing := "isim ve telefon"
			if entities["name"] != "" {
				missing = "telefon numarası"
			} else if entities["phone"] != "" {
				missing = "isim"
			}
			intent.Confidence = 0.7
			intent.ClarificationNeeded = true
			intent.ClarificationQuestion = fmt.Sprintf("Kayıt için %s bilgisine ihtiyacım var. Paylaşabilir misiniz?", missing)
		}
		return intent

	case containsAny(lower, confirmationKeywords):
		return &assist.Intent{
			Type:       assist.IntentConfirmation,
			Confidence: 0.8,
			Entities:   entities,
			Reasoning:  "confirmation keyword",
		}

	case containsAny(lower, queryKeywords) || strings.HasSuffix(trimmed, "?"):
		return &assist.Intent{
			Type:       assist.IntentQuery,
			Confidence: 0.7,
			Entities:   entities,
			Reasoning:  "query keyword or question form",
		}

	default:
		return &assist.Intent{
			Type:                  assist.IntentUnknown,
			Confidence:            0.3,
			Entities:              entities,
			ClarificationNeeded:   true,
			ClarificationQuestion: clarifyUnknown,
			Reasoning:             "no rule matched",
		}
	}
}
