// Package llm defines the model client consumed by both pipeline stages.
// The client is always invoked through the circuit breaker; it never
// retries on its own.
package llm

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout marks a per-call timeout. Callers distinguish it from other
// failures with errors.Is: the intent classifier absorbs it via fallback,
// the planner surfaces it as an error.
var ErrTimeout = errors.New("model call timed out")

// GenerateRequest is one bounded generation call.
type GenerateRequest struct {
	Prompt       string
	SystemPrompt string

	// MaxTokens bounds the response token budget (num_predict for Ollama).
	MaxTokens   int
	Temperature float64

	// TimeoutOverride, when positive, replaces the client's default
	// per-call timeout. Stages set it shorter than their own budget.
	TimeoutOverride time.Duration
}

// GenerateResponse is the raw model output.
type GenerateResponse struct {
	Content string
}

// Client is the inference backend interface.
type Client interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
}
