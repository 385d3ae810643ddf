// Package store provides the vector store contract and its backends: an
// embedded SQLite database with sqlite-vec, a Postgres server with pgvector,
// and an in-memory store for tests.
package store

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"

	"seclens/internal/retry"
)

// ErrInvalidRequest marks calls that fail the same way on every attempt,
// such as a bad collection name or a vector of the wrong size.
var ErrInvalidRequest = errors.New("invalid store request")

func invalidRequest(format string, args ...any) error {
	return retry.Permanent(fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...)))
}

// Meta keys shared by backends.
const (
	MetaEmbeddingModel = "embedding_model"
	MetaDimensions     = "embedding_dimensions"
)

// VectorStore is the uniform contract over every backend. Upserting an
// entry whose id already exists in the collection replaces it.
type VectorStore interface {
	// EnsureCollection creates the collection if it does not exist.
	EnsureCollection(ctx context.Context, name string) error
	CollectionExists(ctx context.Context, name string) (bool, error)
	// DropCollection removes a collection and every entry in it.
	DropCollection(ctx context.Context, name string) error

	Upsert(ctx context.Context, collection string, entries []IndexEntry) error
	Delete(ctx context.Context, collection string, ids []string) error
	// Query returns at most topK chunks ordered by descending score.
	Query(ctx context.Context, collection string, embedding []float32, topK int) ([]SearchResult, error)

	// ChunksForFile returns the stored chunks of one file ordered by start line.
	ChunksForFile(ctx context.Context, collection, path string) ([]Chunk, error)
	// ListFiles returns every file path with at least one chunk, sorted.
	ListFiles(ctx context.Context, collection string) ([]string, error)

	GetMeta(ctx context.Context, key string) (string, error)
	SetMeta(ctx context.Context, key, value string) error

	Close() error
}

// SortResults orders results by descending score, breaking ties by file
// path then start line.
func SortResults(results []SearchResult) {
	slices.SortStableFunc(results, func(a, b SearchResult) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Chunk.FilePath, b.Chunk.FilePath); c != 0 {
			return c
		}
		return cmp.Compare(a.Chunk.StartLine, b.Chunk.StartLine)
	})
}

var validCollection = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,62}$`)

// ValidCollectionName reports whether name can be used as a collection. Names
// end up in table names, so they are restricted to identifiers.
func ValidCollectionName(name string) bool {
	return validCollection.MatchString(name)
}
