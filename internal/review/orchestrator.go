package review

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"seclens/internal/apperr"
	"seclens/internal/chunker"
	"seclens/internal/config"
	"seclens/internal/llm"
	"seclens/internal/patch"
	"seclens/internal/plugin"
	"seclens/internal/rag"
)

// Validation policies for issues the model does not confirm.
const (
	PolicyDrop       = "drop"
	PolicyDownweight = "downweight"
)

// maxQueryChars bounds the file content used as a retrieval query.
const maxQueryChars = 2000

// Retriever supplies context for prompts.
type Retriever interface {
	RequireIndex(ctx context.Context) error
	Retrieve(ctx context.Context, query string, topK int) (*rag.Context, error)
	Neighbors(ctx context.Context, path string, ranges []patch.LineRange) (*rag.Context, error)
}

// Options configures an Orchestrator.
type Options struct {
	// Root is the codebase directory relative paths are resolved against.
	Root             string
	Validate         bool
	ValidationPolicy string
	DownweightFactor float64
	// MaxTokenLength bounds the estimated tokens of one reviewed snippet.
	MaxTokenLength int
	MaxTokens      int
	Temperature    float64
	TopK           int
	Workers        int
	// Backend names the vector store recorded in results.
	Backend      string
	OnTransition TransitionFunc
}

// Orchestrator runs review and ask requests against the model.
type Orchestrator struct {
	llm       llm.Completer
	retriever Retriever
	plugin    plugin.Plugin
	opts      Options
	logger    *zap.Logger
}

// New builds an Orchestrator reviewing files of plugin p.
func New(completer llm.Completer, retriever Retriever, p plugin.Plugin, opts Options, logger *zap.Logger) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.ValidationPolicy == "" {
		opts.ValidationPolicy = PolicyDownweight
	}
	return &Orchestrator{llm: completer, retriever: retriever, plugin: p, opts: opts, logger: logger}
}

func (o *Orchestrator) newResult(command, target string) *Result {
	return &Result{
		RunID:     uuid.NewString(),
		Command:   command,
		Target:    target,
		Timestamp: time.Now().UTC(),
		Backend:   o.opts.Backend,
		Model:     o.llm.Model(),
		Issues:    []Issue{},
	}
}

// resolve returns the slash-separated path relative to the root and the
// path on disk.
func (o *Orchestrator) resolve(path string) (rel, abs string) {
	if filepath.IsAbs(path) {
		abs = path
		r, err := filepath.Rel(o.opts.Root, path)
		if err != nil || strings.HasPrefix(r, "..") {
			return filepath.ToSlash(path), abs
		}
		return filepath.ToSlash(r), abs
	}
	return filepath.ToSlash(filepath.Clean(path)), filepath.Join(o.opts.Root, path)
}

func (o *Orchestrator) render(key string, vars map[string]string) (string, error) {
	return o.plugin.Prompts().Render(key, vars)
}

// systemPrompt joins a review template with the language's checks.
func (o *Orchestrator) systemPrompt(key, file string) (string, error) {
	vars := map[string]string{"file_path": file}
	base, err := o.render(key, vars)
	if err != nil {
		return "", err
	}
	checks, err := o.render(config.PromptSecurityReviewChecks, vars)
	if err != nil {
		return "", err
	}
	return base + "\n\n" + checks, nil
}

func (o *Orchestrator) complete(ctx context.Context, system, user string, asJSON bool) (string, error) {
	return o.llm.Complete(ctx, llm.Request{
		SystemPrompt: system,
		UserPrompt:   user,
		MaxTokens:    o.opts.MaxTokens,
		Temperature:  o.opts.Temperature,
		JSON:         asJSON,
	})
}

func corrective(user, reply string, err error) string {
	reply = truncate(reply, 2000)
	return user + "\n\nYOUR PREVIOUS REPLY:\n" + reply +
		"\n\nThat reply could not be parsed (" + err.Error() + "). " +
		"Reply again with JSON only, exactly in the requested shape, with no other text."
}

// reviewSnippet sends one snippet through draft, prompt, parse and
// validation. lines is the file the snippet belongs to, used to recover
// issue line numbers.
func (o *Orchestrator) reviewSnippet(ctx context.Context, file, snippet string, rc *rag.Context, key string, lines []string) ([]Issue, error) {
	r := newRun(file, o.opts.OnTransition, o.logger)

	system, err := o.systemPrompt(key, file)
	if err != nil {
		return nil, r.fail("render prompt", err)
	}
	user := fmt.Sprintf("FILE: %s\nSNIPPET:\n%s\nCONTEXT:\n%s\n", file, snippet, rc.Text)

	r.to(StatePrompted)
	reply, err := o.complete(ctx, system, user, true)
	if err != nil {
		return nil, r.fail("complete", err)
	}

	raws, err := parseReviews(reply)
	if err != nil {
		o.logger.Warn("model output could not be parsed, re-prompting",
			zap.String("file", file), zap.Error(err))
		reply, err = o.complete(ctx, system, corrective(user, reply, err), true)
		if err != nil {
			return nil, r.fail("complete", err)
		}
		raws, err = parseReviews(reply)
		if err != nil {
			return nil, r.fail("parse review", apperr.New(apperr.ErrInvalidModelOutput, "parse review", err))
		}
	}
	r.to(StateParsed)

	issues := make([]Issue, 0, len(raws))
	for _, raw := range raws {
		issue := raw.normalize(file)
		issue.Line = recoverLine(issue, lines)
		issues = append(issues, issue)
	}

	if o.opts.Validate && len(issues) > 0 {
		issues, err = o.validate(ctx, file, snippet, rc, issues)
		if err != nil {
			return nil, r.fail("validate", err)
		}
		r.to(StateValidated)
	}

	r.to(StateDone)
	return issues, nil
}

// recoverLine prefers the line where the issue's snippet is found. A
// model-supplied line is kept only if it lies inside the file.
func recoverLine(issue Issue, lines []string) int {
	if issue.CodeSnippet != "" {
		if line := FindSnippetLine(issue.CodeSnippet, lines, SnippetThreshold); line > 0 {
			return line
		}
	}
	if issue.Line >= 1 && issue.Line <= len(lines) {
		return issue.Line
	}
	return 0
}

// validate asks the model to confirm each issue and applies the validation
// policy to the ones it does not confirm. Issues are never returned
// unchanged from the first pass: confirmed ones carry the validation
// reason, unconfirmed ones are dropped or down-weighted.
func (o *Orchestrator) validate(ctx context.Context, file, snippet string, rc *rag.Context, issues []Issue) ([]Issue, error) {
	system, err := o.render(config.PromptValidationReview, map[string]string{"file_path": file})
	if err != nil {
		return nil, err
	}
	user := fmt.Sprintf("SNIPPET:\n%s\nCONTEXT:\n%s\nREVIEW:\n%s\n", snippet, rc.Text, marshalIssues(issues))

	reply, err := o.complete(ctx, system, user, true)
	if err != nil {
		return nil, err
	}
	vals, err := parseValidations(reply)
	if err != nil {
		reply, err = o.complete(ctx, system, corrective(user, reply, err), true)
		if err != nil {
			return nil, err
		}
		vals, err = parseValidations(reply)
		if err != nil {
			o.logger.Warn("validation output could not be parsed, treating issues as unconfirmed",
				zap.String("file", file), zap.Error(err))
			vals = nil
		}
	}
	return o.applyPolicy(issues, vals), nil
}

func (o *Orchestrator) applyPolicy(issues []Issue, vals []rawValidation) []Issue {
	out := make([]Issue, 0, len(issues))
	for i, issue := range issues {
		v, ok := matchValidation(issue, i, len(issues), vals)
		if ok && v.Valid.Set && v.Valid.Value {
			issue.Validation = "confirmed"
			if v.Reason != "" {
				issue.Validation += ": " + v.Reason
			}
			out = append(out, issue)
			continue
		}
		if o.opts.ValidationPolicy == PolicyDrop {
			o.logger.Debug("dropping unconfirmed issue", zap.String("file", issue.File), zap.String("issue", issue.Title))
			continue
		}
		issue.Confidence = min(max(issue.Confidence*o.opts.DownweightFactor, 0), 1)
		reason := "not confirmed"
		if ok && v.Reason != "" {
			reason += ": " + v.Reason
		}
		issue.Validation = reason
		out = append(out, issue)
	}
	return out
}

// matchValidation pairs an issue with its validation by title, falling
// back to position when the model answered once per issue.
func matchValidation(issue Issue, idx, total int, vals []rawValidation) (rawValidation, bool) {
	for _, v := range vals {
		if strings.EqualFold(strings.TrimSpace(v.Issue), issue.Title) {
			return v, true
		}
	}
	if len(vals) == total && idx < len(vals) {
		return vals[idx], true
	}
	return rawValidation{}, false
}

// contextQuery builds the retrieval query for a file.
func contextQuery(file string, src []byte) string {
	body := truncate(string(src), maxQueryChars)
	return "Code related to " + file + ":\n" + body
}

// reviewFile reviews one file on disk, splitting it when it exceeds the
// token limit.
func (o *Orchestrator) reviewFile(ctx context.Context, rel, abs string) ([]Issue, error) {
	src, err := os.ReadFile(abs)
	if err != nil {
		return nil, (&apperr.Error{Op: "read file", Err: err}).WithFile(rel).WithStage("read")
	}
	if strings.TrimSpace(string(src)) == "" {
		return nil, nil
	}

	rc, err := o.retriever.Retrieve(ctx, contextQuery(rel, src), o.opts.TopK)
	if err != nil {
		return nil, (&apperr.Error{Op: "retrieve context", Err: err}).WithFile(rel).WithStage("retrieve")
	}

	lines := chunker.Lines(string(src))
	var issues []Issue
	for _, part := range SplitByTokens(string(src), o.opts.MaxTokenLength) {
		found, err := o.reviewSnippet(ctx, rel, part, rc, config.PromptSecurityReviewFile, lines)
		if err != nil {
			return issues, err
		}
		issues = append(issues, found...)
	}
	return issues, nil
}

// ReviewFile reviews a single file. On failure the returned Result holds
// the issues already produced.
func (o *Orchestrator) ReviewFile(ctx context.Context, path string) (*Result, error) {
	rel, abs := o.resolve(path)
	res := o.newResult("review_file", rel)

	if !o.plugin.Handles(rel) {
		return res, apperr.New(apperr.ErrUnsupportedLanguage, "review file",
			fmt.Errorf("plugin %q does not handle %s", o.plugin.Name(), rel))
	}
	if err := o.retriever.RequireIndex(ctx); err != nil {
		return res, err
	}

	issues, err := o.reviewFile(ctx, rel, abs)
	res.Issues = append(res.Issues, issues...)
	SortIssues(res.Issues)
	return res, err
}

// Ask answers a free-text question from retrieved context.
func (o *Orchestrator) Ask(ctx context.Context, question string) (*Answer, error) {
	if err := o.retriever.RequireIndex(ctx); err != nil {
		return nil, err
	}
	r := newRun("", o.opts.OnTransition, o.logger)

	rc, err := o.retriever.Retrieve(ctx, question, o.opts.TopK)
	if err != nil {
		return nil, r.fail("retrieve context", err)
	}
	prompt, err := o.render(config.PromptAsk, map[string]string{"context": rc.Text, "question": question})
	if err != nil {
		return nil, r.fail("render prompt", err)
	}

	r.to(StatePrompted)
	reply, err := o.complete(ctx, "", prompt, false)
	if err != nil {
		return nil, r.fail("complete", err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return nil, r.fail("ask", apperr.New(apperr.ErrInvalidModelOutput, "ask", fmt.Errorf("empty answer")))
	}
	r.to(StateDone)

	ans := &Answer{
		RunID:     uuid.NewString(),
		Question:  question,
		Text:      reply,
		Timestamp: time.Now().UTC(),
		Model:     o.llm.Model(),
	}
	for _, res := range rc.Results {
		ans.Sources = append(ans.Sources, fmt.Sprintf("%s:%d-%d", res.Chunk.FilePath, res.Chunk.StartLine, res.Chunk.EndLine))
	}
	return ans, nil
}

// issueDigest renders issues for the patch summary prompt.
func issueDigest(issues []Issue) string {
	if len(issues) == 0 {
		return "none"
	}
	var b strings.Builder
	for _, is := range issues {
		fmt.Fprintf(&b, "- [%s] %s (%s:%d)\n", is.Severity, is.Title, is.File, is.Line)
	}
	return b.String()
}

// marshalIssues renders normalized issues for the validator.
func marshalIssues(issues []Issue) string {
	b, err := json.Marshal(map[string][]Issue{"reviews": issues})
	if err != nil {
		return ""
	}
	return string(b)
}
