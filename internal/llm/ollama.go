package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
)

// OllamaClient implements Client against a local Ollama server.
type OllamaClient struct {
	model          *ollama.LLM
	defaultTimeout time.Duration
}

// NewOllamaClient connects to the Ollama server at serverURL using the
// named model. defaultTimeout applies when a request carries no override.
func NewOllamaClient(serverURL, modelName string, defaultTimeout time.Duration) (*OllamaClient, error) {
	model, err := ollama.New(
		ollama.WithServerURL(serverURL),
		ollama.WithModel(modelName),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ollama client: %w", err)
	}
	return &OllamaClient{
		model:          model,
		defaultTimeout: defaultTimeout,
	}, nil
}

// Generate runs one bounded completion. Deadline hits are reported as
// ErrTimeout so callers can tell them apart from hard failures.
func (c *OllamaClient) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	timeout := c.defaultTimeout
	if req.TimeoutOverride > 0 {
		timeout = req.TimeoutOverride
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	messages := make([]llms.MessageContent, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, req.SystemPrompt))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, req.Prompt))

	opts := []llms.CallOption{
		llms.WithTemperature(req.Temperature),
	}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}

	resp, err := c.model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("model generation failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return &GenerateResponse{Content: ""}, nil
	}

	return &GenerateResponse{Content: resp.Choices[0].Content}, nil
}
