// Package index keeps the vector store consistent with a source tree.
//
// Every file is split into windows with deterministic ids. A file is synced
// by diffing the recomputed chunks against the chunks already stored for it:
// vanished ids are deleted, new or changed ids are upserted and unchanged
// ids are not touched. Re-indexing an unchanged tree therefore writes
// nothing.
package index

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"go.uber.org/zap"

	"seclens/internal/apperr"
	"seclens/internal/embedder"
	"seclens/internal/plugin"
	"seclens/internal/store"
)

// ProgressFunc is called as files complete. stage names the current step.
type ProgressFunc func(stage string, current, total int)

// Options configures a Manager.
type Options struct {
	CodeCollection string
	DocsCollection string
	Workers        int
	BatchSize      int
	Progress       ProgressFunc
}

// Stats reports what an Index or Update run did.
type Stats struct {
	FilesTotal      int                   `json:"files_total"`
	FilesChanged    int                   `json:"files_changed"`
	FilesUnchanged  int                   `json:"files_unchanged"`
	FilesRemoved    int                   `json:"files_removed"`
	ChunksUpserted  int                   `json:"chunks_upserted"`
	ChunksDeleted   int                   `json:"chunks_deleted"`
	ChunksUnchanged int                   `json:"chunks_unchanged"`
	Failures        []apperr.FileFailure  `json:"failures,omitempty"`
	Notices         []string              `json:"notices,omitempty"`
}

// Writes is the number of store mutations the run issued.
func (s *Stats) Writes() int { return s.ChunksUpserted + s.ChunksDeleted }

func (s *Stats) add(r fileResult) {
	switch {
	case r.removed:
		s.FilesRemoved++
	case r.upserted+r.deleted > 0:
		s.FilesChanged++
	default:
		s.FilesUnchanged++
	}
	s.ChunksUpserted += r.upserted
	s.ChunksDeleted += r.deleted
	s.ChunksUnchanged += r.unchanged
}

// Manager owns the lifecycle of stored chunks.
type Manager struct {
	store    store.VectorStore
	embedder embedder.Embedder
	code     plugin.Plugin
	docs     plugin.Plugin
	opts     Options
	logger   *zap.Logger

	// One lock per collection; writes to a collection are serialized.
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New builds a Manager that indexes code with the code plugin and
// documentation with the docs plugin. docs may be nil.
func New(vs store.VectorStore, emb embedder.Embedder, code, docs plugin.Plugin, opts Options, logger *zap.Logger) *Manager {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.CodeCollection == "" {
		opts.CodeCollection = "code"
	}
	if opts.DocsCollection == "" {
		opts.DocsCollection = "docs"
	}
	return &Manager{
		store:    vs,
		embedder: emb,
		code:     code,
		docs:     docs,
		opts:     opts,
		logger:   logger,
		locks:    make(map[string]*sync.Mutex),
	}
}

// Collections returns the code and docs collection names.
func (m *Manager) Collections() (code, docs string) {
	return m.opts.CodeCollection, m.opts.DocsCollection
}

// route returns the collection and plugin responsible for path.
func (m *Manager) route(path string) (string, plugin.Plugin, bool) {
	if m.code.Handles(path) {
		return m.opts.CodeCollection, m.code, true
	}
	if m.docs != nil && m.docs.Handles(path) {
		return m.opts.DocsCollection, m.docs, true
	}
	return "", nil, false
}

func (m *Manager) collections() []string {
	if m.docs == nil {
		return []string{m.opts.CodeCollection}
	}
	return []string{m.opts.CodeCollection, m.opts.DocsCollection}
}

func (m *Manager) lock(collection string) func() {
	m.locksMu.Lock()
	mu, ok := m.locks[collection]
	if !ok {
		mu = &sync.Mutex{}
		m.locks[collection] = mu
	}
	m.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// storedModel returns the embedding model the index was last built with,
// or "" for a fresh store.
func (m *Manager) storedModel(ctx context.Context) (string, error) {
	lastModel, err := m.store.GetMeta(ctx, store.MetaEmbeddingModel)
	if err != nil {
		return "", fmt.Errorf("get meta: %w", err)
	}
	return lastModel, nil
}

// checkModel clears every collection when the stored embedding model differs
// from the current one; vectors from different models are not comparable.
func (m *Manager) checkModel(ctx context.Context, lastModel string) error {
	if lastModel == "" || lastModel == m.embedder.Model() {
		return nil
	}

	m.logger.Warn("embedding model changed, re-indexing all files",
		zap.String("previous", lastModel), zap.String("current", m.embedder.Model()))
	for _, c := range m.collections() {
		if err := m.store.DropCollection(ctx, c); err != nil {
			return fmt.Errorf("drop collection %s: %w", c, err)
		}
	}
	return nil
}

// requireModel fails with apperr.ErrIndexStale when the stored embedding
// model differs from the current one. Incremental runs use it since they
// cannot rebuild files the patch does not touch.
func (m *Manager) requireModel(ctx context.Context, op string) (string, error) {
	lastModel, err := m.storedModel(ctx)
	if err != nil {
		return "", err
	}
	if lastModel == "" || lastModel == m.embedder.Model() {
		return lastModel, nil
	}
	return "", apperr.New(apperr.ErrIndexStale, op,
		fmt.Errorf("embedding model changed from %q to %q; run index to rebuild", lastModel, m.embedder.Model()))
}

// ensureCollections creates the collections that do not exist yet.
func (m *Manager) ensureCollections(ctx context.Context) error {
	for _, c := range m.collections() {
		exists, err := m.store.CollectionExists(ctx, c)
		if err != nil {
			return fmt.Errorf("check collection %s: %w", c, err)
		}
		if exists {
			continue
		}
		if err := m.store.EnsureCollection(ctx, c); err != nil {
			return fmt.Errorf("ensure collection %s: %w", c, err)
		}
	}
	return nil
}

func (m *Manager) recordModel(ctx context.Context, lastModel string) error {
	if lastModel == m.embedder.Model() {
		return nil
	}
	if err := m.store.SetMeta(ctx, store.MetaEmbeddingModel, m.embedder.Model()); err != nil {
		return fmt.Errorf("set meta: %w", err)
	}
	return nil
}

func (m *Manager) progress(stage string, current, total int) {
	if m.opts.Progress != nil {
		m.opts.Progress(stage, current, total)
	}
}
