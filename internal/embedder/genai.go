package embedder

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"seclens/internal/retry"
)

const defaultGenAIModel = "gemini-embedding-001"

// GenAIEmbedder generates embeddings with the Gemini API. Stored chunks use
// the document task type and queries the code-retrieval query task type.
type GenAIEmbedder struct {
	client *genai.Client
	model  string
	dims   int32
	policy retry.Policy
	logger *zap.Logger
}

// NewGenAIEmbedder creates a Gemini embedder. dims, when positive, requests
// vectors of that size.
func NewGenAIEmbedder(ctx context.Context, apiKey, model string, dims int, policy retry.Policy, logger *zap.Logger) (*GenAIEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = defaultGenAIModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GenAIEmbedder{
		client: client,
		model:  model,
		dims:   int32(dims),
		policy: policy,
		logger: logger,
	}, nil
}

// Model returns the configured model name.
func (e *GenAIEmbedder) Model() string { return e.model }

// Embed embeds stored content.
func (e *GenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return e.embed(ctx, texts, "RETRIEVAL_DOCUMENT")
}

// EmbedQuery embeds a search query.
func (e *GenAIEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.embed(ctx, []string{text}, "CODE_RETRIEVAL_QUERY")
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *GenAIEmbedder) embed(ctx context.Context, texts []string, task string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}
	cfg := &genai.EmbedContentConfig{TaskType: task}
	if e.dims > 0 {
		dims := e.dims
		cfg.OutputDimensionality = &dims
	}

	var result *genai.EmbedContentResponse
	err := e.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		result, err = e.client.Models.EmbedContent(ctx, e.model, contents, cfg)
		if err != nil {
			e.logger.Debug("genai embed failed", zap.Error(err))
			return classifyAPIError(err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("GenAI embed failed: %w", err)
	}

	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(result.Embeddings))
	}
	out := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		out[i] = emb.Values
	}
	return out, nil
}

func classifyAPIError(err error) error {
	var apiErr *genai.APIError
	if errors.As(err, &apiErr) {
		return classify(&StatusError{Provider: "gemini", StatusCode: apiErr.Code, Body: apiErr.Message})
	}
	return err
}
