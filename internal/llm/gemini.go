package llm

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"seclens/internal/retry"
)

const defaultGeminiModel = "gemini-2.5-flash"

// Gemini wraps the genai client for text completion.
type Gemini struct {
	client *genai.Client
	model  string
	policy retry.Policy
	logger *zap.Logger
}

// NewGemini creates a Gemini completer with the given API key.
func NewGemini(ctx context.Context, apiKey, model string, policy retry.Policy, logger *zap.Logger) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required (set GEMINI_API_KEY)")
	}
	if model == "" {
		model = defaultGeminiModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Gemini{client: client, model: model, policy: policy, logger: logger}, nil
}

// Model returns the configured model name.
func (g *Gemini) Model() string { return g.model }

// Complete sends req to Gemini and returns the response text.
func (g *Gemini) Complete(ctx context.Context, req Request) (string, error) {
	contents := []*genai.Content{genai.NewContentFromText(req.UserPrompt, genai.RoleUser)}

	temp := float32(req.Temperature)
	cfg := &genai.GenerateContentConfig{Temperature: &temp}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.SystemPrompt}}}
	}
	if req.JSON {
		cfg.ResponseMIMEType = "application/json"
	}

	var text string
	err := g.policy.Do(ctx, func(ctx context.Context) error {
		result, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
		if err != nil {
			g.logger.Debug("gemini generate failed", zap.String("model", g.model), zap.Error(err))
			return wrapAPIError(err)
		}
		text = result.Text()
		return nil
	})
	if err != nil {
		return "", err
	}
	return text, nil
}

// wrapAPIError converts genai.APIError into a StatusError for retry handling.
func wrapAPIError(err error) error {
	var apiErr *genai.APIError
	if errors.As(err, &apiErr) {
		return classify(&StatusError{Provider: "gemini", StatusCode: apiErr.Code, Body: apiErr.Message})
	}
	return err
}
