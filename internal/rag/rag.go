// Package rag retrieves stored chunks and assembles them into a bounded
// context for the model.
package rag

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"seclens/internal/apperr"
	"seclens/internal/embedder"
	"seclens/internal/patch"
	"seclens/internal/store"
)

// Context is the retrieved context handed to a prompt.
type Context struct {
	Results []store.SearchResult
	Text    string
	// Dropped counts results left out because the budget was reached.
	Dropped int
}

// Empty reports whether no chunk was retrieved.
func (c *Context) Empty() bool { return len(c.Results) == 0 }

// Options configures an Engine.
type Options struct {
	CodeCollection string
	DocsCollection string
	TopK           int
	BudgetChars    int
}

// Engine runs similarity queries against the code and docs collections.
type Engine struct {
	store    store.VectorStore
	embedder embedder.Embedder
	opts     Options
	logger   *zap.Logger
}

// New builds an Engine. A zero BudgetChars means no budget.
func New(vs store.VectorStore, emb embedder.Embedder, opts Options, logger *zap.Logger) *Engine {
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.CodeCollection == "" {
		opts.CodeCollection = "code"
	}
	return &Engine{store: vs, embedder: emb, opts: opts, logger: logger}
}

// TopK is the configured default result count.
func (e *Engine) TopK() int { return e.opts.TopK }

// RequireIndex fails with apperr.ErrIndexMissing when the code collection
// has not been built.
func (e *Engine) RequireIndex(ctx context.Context) error {
	ok, err := e.store.CollectionExists(ctx, e.opts.CodeCollection)
	if err != nil {
		return fmt.Errorf("check collection: %w", err)
	}
	if !ok {
		return apperr.New(apperr.ErrIndexMissing, "retrieve",
			fmt.Errorf("collection %q does not exist; run index first", e.opts.CodeCollection))
	}
	return nil
}

// Search embeds query and returns the topK most similar chunks across the
// code and docs collections, ordered by descending score.
func (e *Engine) Search(ctx context.Context, query string, topK int) ([]store.SearchResult, error) {
	if topK <= 0 {
		topK = e.opts.TopK
	}
	if err := e.RequireIndex(ctx); err != nil {
		return nil, err
	}

	vec, err := e.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	results, err := e.store.Query(ctx, e.opts.CodeCollection, vec, topK)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", e.opts.CodeCollection, err)
	}
	if e.opts.DocsCollection != "" {
		ok, err := e.store.CollectionExists(ctx, e.opts.DocsCollection)
		if err != nil {
			return nil, fmt.Errorf("check collection: %w", err)
		}
		if ok {
			docs, err := e.store.Query(ctx, e.opts.DocsCollection, vec, topK)
			if err != nil {
				return nil, fmt.Errorf("query %s: %w", e.opts.DocsCollection, err)
			}
			results = append(results, docs...)
		}
	}

	store.SortResults(results)
	if len(results) > topK {
		results = results[:topK]
	}
	e.logger.Debug("retrieved chunks", zap.Int("results", len(results)), zap.Int("top_k", topK))
	return results, nil
}

// Retrieve runs Search and assembles the results within the budget.
func (e *Engine) Retrieve(ctx context.Context, query string, topK int) (*Context, error) {
	results, err := e.Search(ctx, query, topK)
	if err != nil {
		return nil, err
	}
	return Assemble(results, e.opts.BudgetChars), nil
}

// Neighbors returns the stored chunks of path that intersect any of ranges,
// in line order. These are the chunks surrounding a patch's hunks. A file
// that has never been indexed yields an empty context.
func (e *Engine) Neighbors(ctx context.Context, path string, ranges []patch.LineRange) (*Context, error) {
	chunks, err := e.store.ChunksForFile(ctx, e.opts.CodeCollection, path)
	if err != nil {
		return nil, fmt.Errorf("chunks for %s: %w", path, err)
	}

	var results []store.SearchResult
	for _, c := range chunks {
		if slices.ContainsFunc(ranges, func(r patch.LineRange) bool { return r.Intersects(c.StartLine, c.EndLine) }) {
			results = append(results, store.SearchResult{Chunk: c, Score: 1})
		}
	}
	store.SortResults(results)
	return Assemble(results, e.opts.BudgetChars), nil
}

// Merge combines contexts, dropping chunks already present, and
// re-assembles them within budget. Earlier contexts take precedence.
func (e *Engine) Merge(parts ...*Context) *Context {
	seen := make(map[string]bool)
	var merged []store.SearchResult
	for _, p := range parts {
		if p == nil {
			continue
		}
		for _, r := range p.Results {
			if seen[r.Chunk.ID] {
				continue
			}
			seen[r.Chunk.ID] = true
			merged = append(merged, r)
		}
	}
	return Assemble(merged, e.opts.BudgetChars)
}

// Assemble renders results in order until adding the next chunk would
// exceed budget characters. Chunks are never cut; the remainder is
// dropped. A budget of zero or less is unlimited.
func Assemble(results []store.SearchResult, budget int) *Context {
	c := &Context{}
	var b strings.Builder
	for i, r := range results {
		block := formatChunk(r.Chunk)
		if budget > 0 && b.Len()+len(block) > budget {
			c.Dropped = len(results) - i
			break
		}
		b.WriteString(block)
		c.Results = append(c.Results, r)
	}
	c.Text = b.String()
	return c
}

func formatChunk(c store.Chunk) string {
	var b strings.Builder
	fmt.Fprintf(&b, "--- %s (lines %d-%d, %s)", c.FilePath, c.StartLine, c.EndLine, c.Language)
	if s := c.Metadata["symbols"]; s != "" {
		fmt.Fprintf(&b, " [%s]", s)
	}
	b.WriteString(" ---\n")
	b.WriteString(c.Content)
	if !strings.HasSuffix(c.Content, "\n") {
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return b.String()
}
