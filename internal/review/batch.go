package review

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"seclens/internal/apperr"
	"seclens/internal/chunker"
	"seclens/internal/config"
	"seclens/internal/patch"
	"seclens/internal/rag"
	"seclens/internal/walker"
)

// maxSummaryChars bounds the change text sent for the patch summary.
const maxSummaryChars = 8000

// ReviewCode reviews every file of the plugin's language under the root.
// Files are reviewed by a bounded pool; a file that fails is recorded in
// Result.Failures and the others continue. On cancellation the issues of
// files that already finished are returned with apperr.ErrCancelled.
func (o *Orchestrator) ReviewCode(ctx context.Context) (*Result, error) {
	res := o.newResult("review_code", o.opts.Root)
	if err := o.retriever.RequireIndex(ctx); err != nil {
		return res, err
	}

	exts := make(map[string]bool)
	for _, e := range o.plugin.Extensions() {
		exts[e] = true
	}
	files, err := walker.Collect(ctx, o.opts.Root, exts)
	if err != nil {
		if ctx.Err() != nil {
			return res, apperr.FromContext("review code", ctx.Err())
		}
		return res, fmt.Errorf("walk %s: %w", o.opts.Root, err)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Workers)

	for _, fi := range files {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			issues, err := o.reviewFile(gctx, fi.RelPath, fi.Path)

			mu.Lock()
			defer mu.Unlock()
			res.Issues = append(res.Issues, issues...)
			if err != nil {
				if apperr.IsCancellation(err) || gctx.Err() != nil {
					return err
				}
				o.logger.Warn("review file failed", zap.String("file", fi.RelPath), zap.Error(err))
				res.Failures = append(res.Failures, apperr.NewFileFailure(fi.RelPath, "review", err))
			}
			return nil
		})
	}
	err = g.Wait()
	SortIssues(res.Issues)
	if err != nil {
		return res, apperr.FromContext("review code", err)
	}
	if err := ctx.Err(); err != nil {
		return res, apperr.FromContext("review code", err)
	}

	o.logger.Info("review complete",
		zap.Int("files", len(files)),
		zap.Int("issues", len(res.Issues)),
		zap.Int("failures", len(res.Failures)))
	return res, nil
}

// ReviewPatch reviews the changes of a parsed patch. Each changed file is
// reviewed with the stored chunks surrounding its hunks as context. Any
// file failing aborts the command; the Result keeps the issues already
// produced.
func (o *Orchestrator) ReviewPatch(ctx context.Context, p *patch.Patch, target string) (*Result, error) {
	res := o.newResult("review_patch", target)
	for _, n := range p.Notices {
		res.Notices = append(res.Notices, n.String())
	}
	if err := o.retriever.RequireIndex(ctx); err != nil {
		return res, err
	}

	var changes []patch.FileChange
	for _, fc := range p.Files {
		switch {
		case fc.Op == patch.OpDeleted:
			res.Notices = append(res.Notices, fc.Path+": deleted, not reviewed")
		case !o.plugin.Handles(fc.Path):
			res.Notices = append(res.Notices, fc.Path+": not handled by plugin "+o.plugin.Name())
		default:
			changes = append(changes, fc)
		}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Workers)
	for _, fc := range changes {
		g.Go(func() error {
			issues, err := o.reviewChange(gctx, fc)
			mu.Lock()
			res.Issues = append(res.Issues, issues...)
			mu.Unlock()
			return err
		})
	}
	err := g.Wait()
	SortIssues(res.Issues)
	if err != nil {
		if ctx.Err() != nil {
			return res, apperr.FromContext("review patch", ctx.Err())
		}
		return res, err
	}

	if len(changes) > 0 {
		summary, err := o.summarize(ctx, changes, res.Issues)
		if err != nil {
			if apperr.IsCancellation(err) {
				return res, apperr.FromContext("review patch", err)
			}
			o.logger.Warn("patch summary failed", zap.Error(err))
		}
		res.Summary = summary
	}
	return res, nil
}

// reviewChange reviews one file of a patch. The current file content is
// included when it fits the token limit; otherwise only the changed lines
// are sent.
func (o *Orchestrator) reviewChange(ctx context.Context, fc patch.FileChange) ([]Issue, error) {
	changed := fc.ChangedText()

	var current string
	src, err := os.ReadFile(filepath.Join(o.opts.Root, filepath.FromSlash(fc.Path)))
	switch {
	case err == nil:
		current = string(src)
	case errors.Is(err, fs.ErrNotExist):
		current = fc.AddedContent()
	default:
		return nil, (&apperr.Error{Op: "read file", Err: err}).WithFile(fc.Path).WithStage("read")
	}
	lines := chunker.Lines(current)

	rc, err := o.retriever.Neighbors(ctx, fc.Path, fc.ChangedRanges())
	if err != nil {
		return nil, (&apperr.Error{Op: "retrieve context", Err: err}).WithFile(fc.Path).WithStage("retrieve")
	}
	if rc.Empty() {
		// A file new to the index has no neighbours; fall back to similarity.
		rc, err = o.retriever.Retrieve(ctx, contextQuery(fc.Path, []byte(changed)), o.opts.TopK)
		if err != nil {
			return nil, (&apperr.Error{Op: "retrieve context", Err: err}).WithFile(fc.Path).WithStage("retrieve")
		}
	}

	var snippets []string
	if current != "" && EstimateTokens(current)+EstimateTokens(changed) <= o.opts.MaxTokenLength {
		snippets = []string{"CURRENT_FILE:\n" + current + "\n\nFILE_CHANGES:\n" + changed}
	} else {
		for _, part := range SplitByTokens(changed, o.opts.MaxTokenLength) {
			snippets = append(snippets, "FILE_CHANGES:\n"+part)
		}
	}

	var issues []Issue
	for _, snippet := range snippets {
		found, err := o.reviewSnippet(ctx, fc.Path, snippet, rc, config.PromptSecurityReview, lines)
		if err != nil {
			return issues, err
		}
		issues = append(issues, found...)
	}
	return issues, nil
}

// summarize asks the model for a short plain-text summary of the patch
// and its findings.
func (o *Orchestrator) summarize(ctx context.Context, changes []patch.FileChange, issues []Issue) (string, error) {
	paths := make([]string, len(changes))
	var text strings.Builder
	for i, fc := range changes {
		paths[i] = fc.Path
		fmt.Fprintf(&text, "### %s\n%s\n", fc.Path, fc.ChangedText())
	}
	body := truncate(text.String(), maxSummaryChars)

	system, err := o.render(config.PromptPatchSummary, map[string]string{"file_path": strings.Join(paths, ", ")})
	if err != nil {
		return "", err
	}
	reply, err := o.complete(ctx, system, "CHANGES:\n"+body+"\nISSUES:\n"+issueDigest(issues), false)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply), nil
}

// compile-time check that the rag engine satisfies Retriever.
var _ Retriever = (*rag.Engine)(nil)
