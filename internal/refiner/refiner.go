// Package refiner implements the first pipeline stage: turning a raw user
// message into a typed Intent. Deterministic paths answer first; the model
// is consulted only behind the circuit breaker, and every model failure
// short of an open breaker degrades to the rule-based classifier.
package refiner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/hearcrm/assistant-svc/internal/assist"
	"github.com/hearcrm/assistant-svc/internal/circuitbreaker"
	"github.com/hearcrm/assistant-svc/internal/llm"
	"github.com/hearcrm/assistant-svc/internal/metrics"
	"github.com/hearcrm/assistant-svc/internal/safety"
	"github.com/hearcrm/assistant-svc/internal/session"
)

// Config bounds the model call. ModelTimeout is deliberately shorter than
// any caller-level budget so a slow backend degrades to the fallback
// instead of blowing the whole request.
type Config struct {
	ModelTimeout time.Duration
	MaxTokens    int
	Temperature  float64

	// MinActionEntities is the entity set an ACTION intent must carry for
	// the model's answer to be trusted without clarification.
	MinActionEntities []string
}

// DefaultConfig returns the production configuration.
func DefaultConfig() Config {
	return Config{
		ModelTimeout:      8 * time.Second,
		MaxTokens:         512,
		Temperature:       0.1,
		MinActionEntities: []string{"name", "phone"},
	}
}

// ClassifyRequest is one classification call.
type ClassifyRequest struct {
	Message  string
	TenantID string
	UserID   string

	// Context is the caller-supplied conversation state; nil means a
	// fresh conversation.
	Context *session.Context
}

// Refiner is the intent classification stage. It is stateless over its
// inputs; all collaborators are injected at construction.
type Refiner struct {
	model     llm.Client
	breaker   *circuitbreaker.CircuitBreaker
	redactor  safety.Redactor
	sanitizer safety.Sanitizer
	locale    Locale
	cfg       Config
	metrics   *metrics.Metrics
	logger    *log.Logger
}

// New constructs the refiner with its collaborators. metrics may be nil.
func New(
	model llm.Client,
	breaker *circuitbreaker.CircuitBreaker,
	redactor safety.Redactor,
	sanitizer safety.Sanitizer,
	locale Locale,
	cfg Config,
	m *metrics.Metrics,
) *Refiner {
	return &Refiner{
		model:     model,
		breaker:   breaker,
		redactor:  redactor,
		sanitizer: sanitizer,
		locale:    locale,
		cfg:       cfg,
		metrics:   m,
		logger:    log.New(log.Writer(), "[REFINER] ", log.LstdFlags),
	}
}

// Classify turns one message into a RefinerResult. It never returns a Go
// error and never panics outward: every outcome, expected or not, is a
// status in the envelope.
func (r *Refiner) Classify(ctx context.Context, req ClassifyRequest) (result assist.RefinerResult) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			result = assist.RefinerResult{
				Status:       assist.RefinerError,
				ErrorMessage: fmt.Sprintf("internal error: %v", rec),
			}
			r.logger.Printf("panic recovered in Classify: %v", rec)
		}
		result.ProcessingTime = time.Since(start)
		r.metrics.ObserveClassify(string(result.Status), result.ProcessingTime)
	}()

	message := strings.TrimSpace(req.Message)

	// Keyword fast paths: deterministic, model-independent handling of
	// safety-relevant commands. These must work with the backend down.
	if r.locale.IsCancellation(message) {
		return assist.RefinerResult{
			Status: assist.RefinerSuccess,
			Intent: &assist.Intent{
				Type:                   assist.IntentCancellation,
				Confidence:             0.95,
				Entities:               map[string]string{},
				ConversationalResponse: "İşlem iptal edildi.",
				Reasoning:              "cancellation keyword",
			},
		}
	}
	if r.locale.IsCapabilityInquiry(message) {
		return assist.RefinerResult{
			Status: assist.RefinerSuccess,
			Intent: &assist.Intent{
				Type:                   assist.IntentCapabilityInquiry,
				Confidence:             0.90,
				Entities:               map[string]string{},
				ConversationalResponse: "Hasta kaydı oluşturabilir, kayıt arayabilir ve randevu planlayabilirim.",
				Reasoning:              "capability inquiry keyword",
			},
		}
	}

	// Slot-filling continuation: the whole message is the pending slot's
	// value. Validation of the value belongs to the planner.
	if req.Context != nil && req.Context.AwaitingSlotFill && req.Context.PendingSlot != "" {
		slot := req.Context.PendingSlot
		return assist.RefinerResult{
			Status: assist.RefinerSuccess,
			Intent: &assist.Intent{
				Type:       assist.IntentSlotFill,
				Confidence: 0.9,
				Entities:   map[string]string{slot: message},
				Reasoning:  fmt.Sprintf("slot-fill continuation for %q", slot),
			},
		}
	}

	// Redaction: categories are logged, raw values never are. The
	// unredacted message still goes to the model; inference runs inside
	// the trusted boundary and needs entities like phone numbers.
	redaction := r.redactor.Redact(message)
	if redaction.HasPII || redaction.HasPHI {
		r.logger.Printf("tenant=%s user=%s pii=%v phi=%v", req.TenantID, req.UserID,
			redaction.PIITypes, redaction.PHITypes)
	}

	// Injection check over the redacted text. Unsafe is a hard stop, not
	// a fallback trigger.
	verdict := r.sanitizer.Sanitize(redaction.RedactedText)
	if !verdict.IsSafe {
		r.metrics.IncBlocked()
		return assist.RefinerResult{
			Status: assist.RefinerBlocked,
			ErrorMessage: fmt.Sprintf("message blocked by safety filter (risk=%.2f, types=%s)",
				verdict.RiskScore, strings.Join(verdict.InjectionTypes, ",")),
		}
	}

	intent, res := r.classifyWithModel(ctx, message, req.Context)
	if res != nil {
		return *res
	}

	return r.route(intent)
}

// classifyWithModel runs the model call under the breaker and applies the
// fallback and post-validation rules. It returns either an intent or a
// terminal result.
func (r *Refiner) classifyWithModel(ctx context.Context, message string, convCtx *session.Context) (*assist.Intent, *assist.RefinerResult) {
	out, err := r.breaker.Execute(ctx, func(ctx context.Context) (any, error) {
		return r.model.Generate(ctx, llm.GenerateRequest{
			Prompt:          buildClassifyPrompt(message, convCtx),
			SystemPrompt:    classifySystemPrompt,
			MaxTokens:       r.cfg.MaxTokens,
			Temperature:     r.cfg.Temperature,
			TimeoutOverride: r.cfg.ModelTimeout,
		})
	})

	if err != nil {
		if retryAfter, open := circuitbreaker.IsOpen(err); open {
			r.metrics.SetBreakerState(r.breaker.Name(), int(circuitbreaker.StateOpen))
			return nil, &assist.RefinerResult{
				Status:       assist.RefinerCircuitOpen,
				ErrorMessage: err.Error(),
				RetryAfter:   retryAfter,
			}
		}
		if errors.Is(err, llm.ErrTimeout) {
			r.logger.Printf("model timeout, using rule-based fallback")
			r.metrics.IncFallback()
			return r.locale.Classify(message), nil
		}
		return nil, &assist.RefinerResult{
			Status:       assist.RefinerError,
			ErrorMessage: err.Error(),
		}
	}

	resp := out.(*llm.GenerateResponse)
	intent, perr := parseModelIntent(resp.Content)
	if perr != nil {
		r.logger.Printf("unusable model response (%v), using rule-based fallback", perr)
		r.metrics.IncFallback()
		return r.locale.Classify(message), nil
	}

	// Post-validation override: an ACTION claim without the minimum
	// entity set and without a clarification request means the model
	// hallucinated completeness. Distrust it.
	if intent.Type == assist.IntentAction && !intent.ClarificationNeeded && !r.hasMinEntities(intent) {
		r.logger.Printf("model claimed complete ACTION without required entities, using rule-based fallback")
		r.metrics.IncFallback()
		return r.locale.Classify(message), nil
	}

	return intent, nil
}

func (r *Refiner) hasMinEntities(intent *assist.Intent) bool {
	for _, name := range r.cfg.MinActionEntities {
		if _, ok := intent.Entity(name); !ok {
			return false
		}
	}
	return true
}

// route maps a final intent onto SUCCESS or NEEDS_CLARIFICATION.
func (r *Refiner) route(intent *assist.Intent) assist.RefinerResult {
	if intent.ClarificationNeeded {
		return assist.RefinerResult{
			Status: assist.RefinerNeedsClarification,
			Intent: intent,
		}
	}
	return assist.RefinerResult{
		Status: assist.RefinerSuccess,
		Intent: intent,
	}
}
