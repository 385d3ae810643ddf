package index

import (
	"context"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"seclens/internal/apperr"
	"seclens/internal/plugin"
	"seclens/internal/walker"
)

// Index brings the collections in line with every file under root. Files
// are processed by a bounded pool; a file that fails is recorded in the
// returned Stats and the run continues. Files stored in a collection but no
// longer present under root are removed.
func (m *Manager) Index(ctx context.Context, root string) (*Stats, error) {
	lastModel, err := m.storedModel(ctx)
	if err != nil {
		return nil, err
	}
	if err := m.checkModel(ctx, lastModel); err != nil {
		return nil, err
	}
	if err := m.ensureCollections(ctx); err != nil {
		return nil, err
	}

	exts := make(map[string]bool)
	for _, e := range m.code.Extensions() {
		exts[e] = true
	}
	if m.docs != nil {
		for _, e := range m.docs.Extensions() {
			exts[e] = true
		}
	}

	files, err := walker.Collect(ctx, root, exts)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperr.FromContext("walk", ctx.Err())
		}
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}

	stats := &Stats{FilesTotal: len(files)}
	var (
		mu   sync.Mutex
		done int
		seen = make(map[string]map[string]bool)
	)
	for _, c := range m.collections() {
		seen[c] = make(map[string]bool)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.Workers)

	for _, fi := range files {
		collection, p, _ := m.route(fi.RelPath)
		seen[collection][fi.RelPath] = true

		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			res, err := m.indexFile(gctx, collection, p, fi)

			mu.Lock()
			defer mu.Unlock()
			done++
			m.progress("Indexing files", done, len(files))
			if err != nil {
				if apperr.IsCancellation(err) || gctx.Err() != nil {
					return err
				}
				m.logger.Warn("index file failed", zap.String("file", fi.RelPath), zap.Error(err))
				stats.Failures = append(stats.Failures, apperr.NewFileFailure(fi.RelPath, "index", err))
				return nil
			}
			stats.add(res)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, apperr.FromContext("index", err)
	}
	if err := ctx.Err(); err != nil {
		return stats, apperr.FromContext("index", err)
	}

	for _, collection := range m.collections() {
		if err := m.removeStale(ctx, collection, seen[collection], stats); err != nil {
			return stats, err
		}
	}

	if err := m.recordModel(ctx, lastModel); err != nil {
		return stats, err
	}

	m.logger.Info("index complete",
		zap.Int("files", stats.FilesTotal),
		zap.Int("changed", stats.FilesChanged),
		zap.Int("unchanged", stats.FilesUnchanged),
		zap.Int("removed", stats.FilesRemoved),
		zap.Int("upserted", stats.ChunksUpserted),
		zap.Int("deleted", stats.ChunksDeleted),
		zap.Int("failures", len(stats.Failures)))
	return stats, nil
}

// indexFile reads, splits and syncs one file.
func (m *Manager) indexFile(ctx context.Context, collection string, p plugin.Plugin, fi walker.FileInfo) (fileResult, error) {
	src, err := os.ReadFile(fi.Path)
	if err != nil {
		return fileResult{}, wrapStage(err, fi.RelPath, "read")
	}
	chunks, err := buildChunks(ctx, p, fi.RelPath, src)
	if err != nil {
		return fileResult{}, wrapStage(err, fi.RelPath, "chunk")
	}
	return m.syncFile(ctx, collection, fi.RelPath, chunks)
}

// removeStale deletes the chunks of files that are stored but were not
// seen on disk.
func (m *Manager) removeStale(ctx context.Context, collection string, seen map[string]bool, stats *Stats) error {
	stored, err := m.store.ListFiles(ctx, collection)
	if err != nil {
		return fmt.Errorf("list files in %s: %w", collection, err)
	}
	for _, path := range stored {
		if seen[path] {
			continue
		}
		res, err := m.removeFile(ctx, collection, path)
		if err != nil {
			if apperr.IsCancellation(err) {
				return err
			}
			stats.Failures = append(stats.Failures, apperr.NewFileFailure(path, "remove", err))
			continue
		}
		stats.add(res)
	}
	return nil
}
