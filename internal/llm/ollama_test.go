package llm_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"seclens/internal/llm"
	"seclens/internal/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaChat_Complete(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		var req struct {
			Model    string        `json:"model"`
			Messages []llm.Message `json:"messages"`
			Stream   bool          `json:"stream"`
			Format   string        `json:"format"`
			Options  struct {
				NumPredict int `json:"num_predict"`
			} `json:"options"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)
		assert.Equal(t, "json", req.Format)
		assert.Equal(t, 256, req.Options.NumPredict)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "be strict", req.Messages[0].Content)
		assert.Equal(t, "user", req.Messages[1].Role)

		_ = json.NewEncoder(w).Encode(map[string]any{"message": llm.Message{Role: "assistant", Content: `{"reviews":[]}`}})
	}))
	defer srv.Close()

	c := llm.NewOllamaChat(srv.URL, "qwen", retry.DefaultPolicy(), zap.NewNop())
	out, err := c.Complete(context.Background(), llm.Request{
		SystemPrompt: "be strict",
		UserPrompt:   "review this",
		MaxTokens:    256,
		JSON:         true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"reviews":[]}`, out)
}

func TestOllamaChat_GivesUpAfterPolicyAttempts(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "overloaded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	policy := retry.Policy{MaxAttempts: 2, InitialBackoff: time.Millisecond}
	c := llm.NewOllamaChat(srv.URL, "qwen", policy, zap.NewNop())
	_, err := c.Complete(context.Background(), llm.Request{UserPrompt: "hi"})

	var se *llm.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusTooManyRequests, se.StatusCode)
	assert.Equal(t, int32(2), calls.Load())
}
