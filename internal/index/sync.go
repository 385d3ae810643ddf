package index

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"seclens/internal/apperr"
	"seclens/internal/chunker"
	"seclens/internal/embedder"
	"seclens/internal/plugin"
	"seclens/internal/store"
)

// fileResult counts what syncing one file did.
type fileResult struct {
	upserted  int
	deleted   int
	unchanged int
	removed   bool
}

// buildChunks splits content with p and assigns deterministic ids.
func buildChunks(ctx context.Context, p plugin.Plugin, path string, content []byte) ([]store.Chunk, error) {
	pieces, err := p.Split(ctx, path, content)
	if err != nil {
		return nil, err
	}
	chunks := make([]store.Chunk, len(pieces))
	for i, piece := range pieces {
		c := store.Chunk{
			ID:          store.ChunkID(path, i),
			FilePath:    path,
			Language:    p.Name(),
			StartLine:   piece.StartLine,
			EndLine:     piece.EndLine,
			Content:     piece.Content,
			ContentHash: store.ContentHash(piece.Content),
		}
		if len(piece.Symbols) > 0 {
			c.Metadata = map[string]string{"symbols": chunker.Describe(piece.Symbols)}
		}
		chunks[i] = c
	}
	return chunks, nil
}

// embedText is the text sent to the embedder for a chunk. The path and
// enclosing symbols give the vector context the raw window lacks.
func embedText(c store.Chunk) string {
	var b strings.Builder
	fmt.Fprintf(&b, "// File: %s (lines %d-%d)\n", c.FilePath, c.StartLine, c.EndLine)
	if s := c.Metadata["symbols"]; s != "" {
		fmt.Fprintf(&b, "// Symbols: %s\n", s)
	}
	b.WriteString(c.Content)
	return b.String()
}

// syncFile makes the stored chunks of path equal to chunks.
func (m *Manager) syncFile(ctx context.Context, collection, path string, chunks []store.Chunk) (fileResult, error) {
	var res fileResult

	stored, err := m.store.ChunksForFile(ctx, collection, path)
	if err != nil {
		return res, apperr.New(apperr.ErrStoreUnavailable, "read stored chunks", err).WithFile(path).WithStage("store")
	}
	old := make(map[string]store.Chunk, len(stored))
	for _, c := range stored {
		old[c.ID] = c
	}

	var changed []store.Chunk
	for _, c := range chunks {
		prev, ok := old[c.ID]
		delete(old, c.ID)
		if ok && store.SameStored(prev, c) {
			res.unchanged++
			continue
		}
		changed = append(changed, c)
	}
	stale := make([]string, 0, len(old))
	for id := range old {
		stale = append(stale, id)
	}

	if len(changed) == 0 && len(stale) == 0 {
		return res, nil
	}

	var entries []store.IndexEntry
	if len(changed) > 0 {
		texts := make([]string, len(changed))
		for i, c := range changed {
			texts[i] = embedText(c)
		}
		vecs, err := embedder.EmbedAll(ctx, m.embedder, texts, m.opts.BatchSize)
		if err != nil {
			return res, wrapStage(err, path, "embed")
		}
		entries = make([]store.IndexEntry, len(changed))
		for i, c := range changed {
			entries[i] = store.IndexEntry{Chunk: c, Embedding: vecs[i]}
		}
	}

	unlock := m.lock(collection)
	defer unlock()

	if len(stale) > 0 {
		if err := m.store.Delete(ctx, collection, stale); err != nil {
			return res, wrapStage(err, path, "store")
		}
		res.deleted = len(stale)
	}
	if len(entries) > 0 {
		if err := m.store.Upsert(ctx, collection, entries); err != nil {
			return res, wrapStage(err, path, "store")
		}
		res.upserted = len(entries)
	}

	m.logger.Debug("synced file",
		zap.String("collection", collection),
		zap.String("file", path),
		zap.Int("upserted", res.upserted),
		zap.Int("deleted", res.deleted),
		zap.Int("unchanged", res.unchanged))
	return res, nil
}

// removeFile deletes every stored chunk of path.
func (m *Manager) removeFile(ctx context.Context, collection, path string) (fileResult, error) {
	res, err := m.syncFile(ctx, collection, path, nil)
	res.removed = true
	return res, err
}

// wrapStage annotates a per-file error with the file and the stage that
// failed. Cancellation passes through untouched.
func wrapStage(err error, path, stage string) error {
	if apperr.IsCancellation(err) {
		return err
	}
	if ae, ok := err.(*apperr.Error); ok {
		c := ae.WithFile(path)
		if c.Stage == "" {
			c = c.WithStage(stage)
		}
		return c
	}
	return apperr.New(apperr.ErrPartialIndexFailure, stage, err).WithFile(path).WithStage(stage)
}
