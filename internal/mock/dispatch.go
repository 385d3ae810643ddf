package mock

import (
	"context"

	"seclens/internal/index"
	"seclens/internal/patch"
	"seclens/internal/review"
)

// Indexer is a mock of the dispatcher's index dependency.
type Indexer struct {
	IndexFn  func(ctx context.Context, root string) (*index.Stats, error)
	UpdateFn func(ctx context.Context, root string, p *patch.Patch) (*index.Stats, error)
}

func (m *Indexer) Index(ctx context.Context, root string) (*index.Stats, error) {
	return m.IndexFn(ctx, root)
}

func (m *Indexer) Update(ctx context.Context, root string, p *patch.Patch) (*index.Stats, error) {
	return m.UpdateFn(ctx, root, p)
}

// Reviewer is a mock of the dispatcher's review dependency.
type Reviewer struct {
	ReviewCodeFn  func(ctx context.Context) (*review.Result, error)
	ReviewFileFn  func(ctx context.Context, path string) (*review.Result, error)
	ReviewPatchFn func(ctx context.Context, p *patch.Patch, target string) (*review.Result, error)
	AskFn         func(ctx context.Context, question string) (*review.Answer, error)
}

func (m *Reviewer) ReviewCode(ctx context.Context) (*review.Result, error) {
	return m.ReviewCodeFn(ctx)
}

func (m *Reviewer) ReviewFile(ctx context.Context, path string) (*review.Result, error) {
	return m.ReviewFileFn(ctx, path)
}

func (m *Reviewer) ReviewPatch(ctx context.Context, p *patch.Patch, target string) (*review.Result, error) {
	return m.ReviewPatchFn(ctx, p, target)
}

func (m *Reviewer) Ask(ctx context.Context, question string) (*review.Answer, error) {
	return m.AskFn(ctx, question)
}
