package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"seclens/internal/apperr"
	"seclens/internal/retry"
)

// Retrying wraps a VectorStore so that every call is retried under a
// bounded backoff policy. A call that still fails surfaces
// apperr.ErrStoreUnavailable and cancellation surfaces apperr.ErrCancelled.
// ErrInvalidRequest failures are returned after one attempt.
type Retrying struct {
	next   VectorStore
	policy retry.Policy
	logger *zap.Logger
}

// WithRetry wraps vs.
func WithRetry(vs VectorStore, policy retry.Policy, logger *zap.Logger) *Retrying {
	return &Retrying{next: vs, policy: policy, logger: logger}
}

// Unwrap returns the wrapped store.
func (r *Retrying) Unwrap() VectorStore { return r.next }

func (r *Retrying) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempt := 0
	err := r.policy.Do(ctx, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err != nil && ctx.Err() == nil {
			r.logger.Warn("vector store call failed",
				zap.String("op", op), zap.Int("attempt", attempt), zap.Error(err))
		}
		return err
	})
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return apperr.FromContext(op, ctxErr)
	}
	if retry.IsPermanent(err) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return apperr.New(apperr.ErrStoreUnavailable, op, err).WithStage("store")
}

func (r *Retrying) EnsureCollection(ctx context.Context, name string) error {
	return r.do(ctx, "ensure collection", func(ctx context.Context) error {
		return r.next.EnsureCollection(ctx, name)
	})
}

func (r *Retrying) CollectionExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := r.do(ctx, "collection exists", func(ctx context.Context) error {
		var err error
		exists, err = r.next.CollectionExists(ctx, name)
		return err
	})
	return exists, err
}

func (r *Retrying) DropCollection(ctx context.Context, name string) error {
	return r.do(ctx, "drop collection", func(ctx context.Context) error {
		return r.next.DropCollection(ctx, name)
	})
}

func (r *Retrying) Upsert(ctx context.Context, collection string, entries []IndexEntry) error {
	return r.do(ctx, "upsert", func(ctx context.Context) error {
		return r.next.Upsert(ctx, collection, entries)
	})
}

func (r *Retrying) Delete(ctx context.Context, collection string, ids []string) error {
	return r.do(ctx, "delete", func(ctx context.Context) error {
		return r.next.Delete(ctx, collection, ids)
	})
}

func (r *Retrying) Query(ctx context.Context, collection string, embedding []float32, topK int) ([]SearchResult, error) {
	var results []SearchResult
	err := r.do(ctx, "query", func(ctx context.Context) error {
		var err error
		results, err = r.next.Query(ctx, collection, embedding, topK)
		return err
	})
	return results, err
}

func (r *Retrying) ChunksForFile(ctx context.Context, collection, path string) ([]Chunk, error) {
	var chunks []Chunk
	err := r.do(ctx, "chunks for file", func(ctx context.Context) error {
		var err error
		chunks, err = r.next.ChunksForFile(ctx, collection, path)
		return err
	})
	return chunks, err
}

func (r *Retrying) ListFiles(ctx context.Context, collection string) ([]string, error) {
	var files []string
	err := r.do(ctx, "list files", func(ctx context.Context) error {
		var err error
		files, err = r.next.ListFiles(ctx, collection)
		return err
	})
	return files, err
}

func (r *Retrying) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := r.do(ctx, "get meta", func(ctx context.Context) error {
		var err error
		value, err = r.next.GetMeta(ctx, key)
		return err
	})
	return value, err
}

func (r *Retrying) SetMeta(ctx context.Context, key, value string) error {
	return r.do(ctx, "set meta", func(ctx context.Context) error {
		return r.next.SetMeta(ctx, key, value)
	})
}

func (r *Retrying) Close() error { return r.next.Close() }
