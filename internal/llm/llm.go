// Package llm sends prompts to a completion model.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"seclens/internal/config"
	"seclens/internal/retry"
)

// Request is one completion call.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int
	Temperature  float64
	// JSON asks the provider to constrain output to JSON where supported.
	JSON bool
}

// Completer returns the model's text response to a request. Transient
// provider failures are retried inside Complete.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
	Model() string
}

// New builds the completer selected by cfg.
func New(ctx context.Context, cfg config.LLMConfig, policy retry.Policy, logger *zap.Logger) (Completer, error) {
	switch cfg.Provider {
	case "ollama":
		return NewOllamaChat(cfg.BaseURL, cfg.Model, policy, logger), nil
	case "gemini":
		return NewGemini(ctx, cfg.APIKey, cfg.Model, policy, logger)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// StatusError is a non-200 response from a provider.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned %d: %s", e.Provider, e.StatusCode, e.Body)
}

func classify(err error) error {
	var se *StatusError
	if errors.As(err, &se) && se.StatusCode >= 400 && se.StatusCode < 500 && se.StatusCode != http.StatusTooManyRequests {
		return retry.Permanent(err)
	}
	return err
}
