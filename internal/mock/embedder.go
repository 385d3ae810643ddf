// Package mock provides function-field fakes of the pipeline's external
// capabilities for tests.
package mock

import (
	"context"
	"hash/fnv"
	"strings"
	"sync/atomic"

	"seclens/internal/embedder"
)

// Compile-time interface verification.
var _ embedder.Embedder = (*Embedder)(nil)

// Embedder is a mock implementation of embedder.Embedder. Calls counts
// Embed invocations and Texts the number of texts embedded.
type Embedder struct {
	EmbedFn      func(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQueryFn func(ctx context.Context, text string) ([]float32, error)
	ModelName    string

	Calls atomic.Int32
	Texts atomic.Int32
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.Calls.Add(1)
	e.Texts.Add(int32(len(texts)))
	return e.EmbedFn(ctx, texts)
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if e.EmbedQueryFn != nil {
		return e.EmbedQueryFn(ctx, text)
	}
	vecs, err := e.EmbedFn(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *Embedder) Model() string { return e.ModelName }

// NewHashEmbedder returns an Embedder whose vectors are bags of hashed
// lower-case words, so texts sharing words are similar.
func NewHashEmbedder(model string, dims int) *Embedder {
	return &Embedder{
		ModelName: model,
		EmbedFn: func(ctx context.Context, texts []string) ([][]float32, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			out := make([][]float32, len(texts))
			for i, t := range texts {
				out[i] = HashVector(t, dims)
			}
			return out, nil
		},
	}
}

// HashVector is the embedding NewHashEmbedder produces for text.
func HashVector(text string, dims int) []float32 {
	v := make([]float32, dims)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(w))
		v[h.Sum32()%uint32(dims)]++
	}
	v[dims-1] += 0.01
	return v
}
