package index

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"seclens/internal/apperr"
	"seclens/internal/patch"
)

// Update re-syncs the files a patch touches. Post-patch content is read
// from disk under root; an added file that is not on disk is rebuilt from
// the patch's added lines. Deleted files lose all their chunks and renamed
// files are removed under their old path. Chunks whose content and range
// did not change keep their id and are not rewritten.
//
// The patch has already been parsed, so a malformed patch never reaches
// the store. An index built with another embedding model fails with
// apperr.ErrIndexStale and is left untouched.
func (m *Manager) Update(ctx context.Context, root string, p *patch.Patch) (*Stats, error) {
	exists, err := m.store.CollectionExists(ctx, m.opts.CodeCollection)
	if err != nil {
		return nil, fmt.Errorf("check collection: %w", err)
	}
	if !exists {
		return nil, apperr.New(apperr.ErrIndexMissing, "update",
			fmt.Errorf("collection %q does not exist; run index first", m.opts.CodeCollection))
	}
	lastModel, err := m.requireModel(ctx, "update")
	if err != nil {
		return nil, err
	}
	if err := m.ensureCollections(ctx); err != nil {
		return nil, err
	}

	stats := &Stats{}
	for _, n := range p.Notices {
		stats.Notices = append(stats.Notices, n.String())
	}

	var (
		mu   sync.Mutex
		done int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.Workers)

	for _, fc := range p.Files {
		collection, _, ok := m.route(fc.Path)
		oldCollection, _, oldOK := m.route(fc.OldPath)
		renamed := fc.OldPath != "" && fc.OldPath != fc.Path
		if !ok && !(renamed && oldOK) {
			stats.Notices = append(stats.Notices, fmt.Sprintf("%s: no plugin handles this file, skipped", fc.Path))
			continue
		}
		stats.FilesTotal++

		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			results, err := m.updateFile(gctx, root, fc, collection, ok, oldCollection, renamed && oldOK)

			mu.Lock()
			defer mu.Unlock()
			done++
			m.progress("Updating files", done, len(p.Files))
			for _, r := range results {
				stats.add(r)
			}
			if err != nil {
				if apperr.IsCancellation(err) || gctx.Err() != nil {
					return err
				}
				m.logger.Warn("update file failed", zap.String("file", fc.Path), zap.Error(err))
				stats.Failures = append(stats.Failures, apperr.NewFileFailure(fc.Path, "update", err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, apperr.FromContext("update", err)
	}
	if err := ctx.Err(); err != nil {
		return stats, apperr.FromContext("update", err)
	}
	if err := m.recordModel(ctx, lastModel); err != nil {
		return stats, err
	}

	m.logger.Info("update complete",
		zap.Int("files", stats.FilesTotal),
		zap.Int("upserted", stats.ChunksUpserted),
		zap.Int("deleted", stats.ChunksDeleted),
		zap.Int("unchanged", stats.ChunksUnchanged),
		zap.Int("failures", len(stats.Failures)))
	return stats, nil
}

// updateFile applies one FileChange. handled reports whether the new path
// belongs to a collection; removeOld asks for the old path of a rename to
// be cleared from oldCollection.
func (m *Manager) updateFile(ctx context.Context, root string, fc patch.FileChange, collection string, handled bool, oldCollection string, removeOld bool) ([]fileResult, error) {
	var results []fileResult

	if removeOld {
		res, err := m.removeFile(ctx, oldCollection, fc.OldPath)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	if !handled {
		return results, nil
	}

	if fc.Op == patch.OpDeleted {
		res, err := m.removeFile(ctx, collection, fc.Path)
		if err != nil {
			return results, err
		}
		return append(results, res), nil
	}

	src, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(fc.Path)))
	switch {
	case errors.Is(err, fs.ErrNotExist) && fc.Op == patch.OpAdded:
		src = []byte(fc.AddedContent())
	case err != nil:
		return results, wrapStage(err, fc.Path, "read")
	}

	_, p, _ := m.route(fc.Path)
	chunks, err := buildChunks(ctx, p, fc.Path, src)
	if err != nil {
		return results, wrapStage(err, fc.Path, "chunk")
	}
	res, err := m.syncFile(ctx, collection, fc.Path, chunks)
	if err != nil {
		return results, err
	}
	return append(results, res), nil
}
