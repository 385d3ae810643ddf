// Package embedder turns text into vectors using an external model.
package embedder

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"seclens/internal/config"
	"seclens/internal/retry"
)

// Embedder produces embeddings. Embed returns one vector per input, in
// order. EmbedQuery embeds a search query, which some providers encode
// differently from stored documents.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// New builds the embedder selected by cfg.
func New(ctx context.Context, cfg config.EmbeddingConfig, policy retry.Policy, logger *zap.Logger) (Embedder, error) {
	switch cfg.Provider {
	case "ollama":
		return NewOllamaEmbedder(cfg.BaseURL, cfg.Model, policy, logger), nil
	case "genai":
		return NewGenAIEmbedder(ctx, cfg.APIKey, cfg.Model, cfg.Dimensions, policy, logger)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// EmbedAll embeds texts in batches of at most batchSize.
func EmbedAll(ctx context.Context, e Embedder, texts []string, batchSize int) ([][]float32, error) {
	if batchSize <= 0 {
		batchSize = len(texts)
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := min(start+batchSize, len(texts))
		vecs, err := e.Embed(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("expected %d embeddings, got %d", end-start, len(vecs))
		}
		out = append(out, vecs...)
	}
	return out, nil
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

// classify marks client errors other than rate limiting as permanent.
func classify(err error) error {
	var se *StatusError
	if errors.As(err, &se) && se.StatusCode >= 400 && se.StatusCode < 500 && se.StatusCode != http.StatusTooManyRequests {
		return retry.Permanent(err)
	}
	return err
}
