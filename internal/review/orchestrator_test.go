package review_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"go.uber.org/goleak"
	"go.uber.org/zap"

	"seclens/internal/apperr"
	"seclens/internal/config"
	"seclens/internal/llm"
	"seclens/internal/mock"
	"seclens/internal/patch"
	"seclens/internal/plugin"
	"seclens/internal/rag"
	"seclens/internal/review"
	"seclens/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

const vulnerableC = `#include <string.h>

int parse(char *in) {
	char buf[16];
	strcpy(buf, in);
	return strlen(buf);
}
`

type stubRetriever struct {
	missing   bool
	context   *rag.Context
	neighbors *rag.Context

	mu      sync.Mutex
	queries []string
}

func (s *stubRetriever) RequireIndex(context.Context) error {
	if s.missing {
		return apperr.New(apperr.ErrIndexMissing, "retrieve", errors.New("no index"))
	}
	return nil
}

func (s *stubRetriever) Retrieve(_ context.Context, query string, _ int) (*rag.Context, error) {
	s.mu.Lock()
	s.queries = append(s.queries, query)
	s.mu.Unlock()
	if s.context == nil {
		return &rag.Context{}, nil
	}
	return s.context, nil
}

func (s *stubRetriever) Neighbors(context.Context, string, []patch.LineRange) (*rag.Context, error) {
	if s.neighbors == nil {
		return &rag.Context{}, nil
	}
	return s.neighbors, nil
}

func cPlugin() plugin.Plugin {
	pc := config.DefaultPlugins()["c"]
	return plugin.New("c", pc, nil)
}

func setup(t *testing.T, completer *mock.Completer, opts review.Options) (*review.Orchestrator, string) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "parse.c"), []byte(vulnerableC), 0o644))
	opts.Root = root
	if opts.MaxTokenLength == 0 {
		opts.MaxTokenLength = 100000
	}
	retriever := &stubRetriever{context: rag.Assemble([]store.SearchResult{{
		Chunk: store.Chunk{FilePath: "main.c", StartLine: 1, EndLine: 3, Content: "parse(argv[1]);\n"},
		Score: 0.9,
	}}, 0)}
	return review.New(completer, retriever, cPlugin(), opts, zap.NewNop()), root
}

const overflowReply = "```json\n" + `{"reviews": [
	{"issue": "Stack buffer overflow", "code_snippet": "strcpy(buf, in);", "severity": "CRITICAL",
	 "confidence": 1.4, "reasoning": "in is unbounded", "mitigation": "bound the copy"},
	{"issue": "Unchecked length", "line_number": 6, "reasoning": "strlen on attacker data"}
]}` + "\n```"

func TestReviewFile_NormalizesFindings(t *testing.T) {
	t.Parallel()

	completer := &mock.Completer{ModelName: "qwen3:8b", CompleteFn: mock.Replies(overflowReply)}
	o, _ := setup(t, completer, review.Options{})

	res, err := o.ReviewFile(context.Background(), "parse.c")
	require.NoError(t, err)
	assert.Equal(t, "review_file", res.Command)
	assert.Equal(t, "parse.c", res.Target)
	assert.NotEmpty(t, res.RunID)
	require.Len(t, res.Issues, 2)

	first := res.Issues[0]
	assert.Equal(t, "Stack buffer overflow", first.Title)
	assert.Equal(t, 5, first.Line)
	assert.Equal(t, review.SeverityHigh, first.Severity)
	assert.Equal(t, 1.0, first.Confidence)
	assert.Equal(t, "bound the copy", first.Recommendation)

	second := res.Issues[1]
	assert.Equal(t, 6, second.Line)
	assert.Equal(t, review.SeverityMedium, second.Severity)
	assert.Equal(t, review.DefaultConfidence, second.Confidence)

	reqs := completer.Requests()
	require.Len(t, reqs, 1)
	assert.True(t, reqs[0].JSON)
	assert.Contains(t, reqs[0].SystemPrompt, "parse.c")
	assert.Contains(t, reqs[0].UserPrompt, "strcpy(buf, in);")
	assert.Contains(t, reqs[0].UserPrompt, "parse(argv[1]);")
}

func TestReviewFile_NonJSONTwiceIsInvalidModelOutput(t *testing.T) {
	t.Parallel()

	var (
		mu          sync.Mutex
		transitions []string
	)
	completer := &mock.Completer{CompleteFn: mock.Replies("Sorry, I cannot review this file.")}
	o, _ := setup(t, completer, review.Options{
		OnTransition: func(_ string, from, to review.State) {
			mu.Lock()
			defer mu.Unlock()
			transitions = append(transitions, from.String()+">"+to.String())
		},
	})

	res, err := o.ReviewFile(context.Background(), "parse.c")
	require.ErrorIs(t, err, apperr.ErrInvalidModelOutput)
	assert.Empty(t, res.Issues)

	reqs := completer.Requests()
	require.Len(t, reqs, 2)
	assert.Contains(t, reqs[1].UserPrompt, "could not be parsed")
	assert.Equal(t, []string{"draft>prompted", "prompted>failed"}, transitions)

	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "parse.c", ae.File)
}

func TestReviewFile_CorrectiveRetryRecovers(t *testing.T) {
	t.Parallel()

	completer := &mock.Completer{CompleteFn: mock.Replies("not json", `{"reviews": [{"issue": "Overflow", "line_number": 5}]}`)}
	o, _ := setup(t, completer, review.Options{})

	res, err := o.ReviewFile(context.Background(), "parse.c")
	require.NoError(t, err)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, 5, res.Issues[0].Line)
	assert.Len(t, completer.Requests(), 2)
}

func TestReviewFile_Validation(t *testing.T) {
	t.Parallel()

	validation := `{"validations": [
		{"issue": "Stack buffer overflow", "valid": true, "confidence": 0.9, "reason": "no bounds check"},
		{"issue": "Unchecked length", "valid": false, "reason": "buf is terminated"}
	]}`

	t.Run("drop", func(t *testing.T) {
		t.Parallel()
		completer := &mock.Completer{CompleteFn: mock.Replies(overflowReply, validation)}
		o, _ := setup(t, completer, review.Options{Validate: true, ValidationPolicy: review.PolicyDrop})

		res, err := o.ReviewFile(context.Background(), "parse.c")
		require.NoError(t, err)
		require.Len(t, res.Issues, 1)
		assert.Equal(t, "Stack buffer overflow", res.Issues[0].Title)
		assert.Equal(t, "confirmed: no bounds check", res.Issues[0].Validation)
	})

	t.Run("downweight", func(t *testing.T) {
		t.Parallel()
		completer := &mock.Completer{CompleteFn: mock.Replies(overflowReply, validation)}
		o, _ := setup(t, completer, review.Options{Validate: true, ValidationPolicy: review.PolicyDownweight, DownweightFactor: 0.5})

		res, err := o.ReviewFile(context.Background(), "parse.c")
		require.NoError(t, err)
		require.Len(t, res.Issues, 2)
		assert.Equal(t, 1.0, res.Issues[0].Confidence)
		assert.Equal(t, 0.25, res.Issues[1].Confidence)
		assert.Equal(t, "not confirmed: buf is terminated", res.Issues[1].Validation)
	})

	t.Run("unparseable validation", func(t *testing.T) {
		t.Parallel()
		completer := &mock.Completer{CompleteFn: mock.Replies(overflowReply, "hmm", "still no")}
		o, _ := setup(t, completer, review.Options{Validate: true, ValidationPolicy: review.PolicyDownweight, DownweightFactor: 0.5})

		res, err := o.ReviewFile(context.Background(), "parse.c")
		require.NoError(t, err)
		require.Len(t, res.Issues, 2)
		for _, is := range res.Issues {
			assert.Equal(t, "not confirmed", is.Validation)
		}
		assert.Equal(t, 0.5, res.Issues[0].Confidence)
		assert.Len(t, completer.Requests(), 3)
	})
}

func TestReviewFile_Errors(t *testing.T) {
	t.Parallel()

	completer := &mock.Completer{CompleteFn: mock.Replies(`{"reviews": []}`)}
	o, _ := setup(t, completer, review.Options{})

	_, err := o.ReviewFile(context.Background(), "script.py")
	assert.ErrorIs(t, err, apperr.ErrUnsupportedLanguage)

	_, err = o.ReviewFile(context.Background(), "missing.c")
	assert.Error(t, err)

	missing := review.New(completer, &stubRetriever{missing: true}, cPlugin(), review.Options{Root: t.TempDir()}, zap.NewNop())
	_, err = missing.ReviewFile(context.Background(), "parse.c")
	assert.ErrorIs(t, err, apperr.ErrIndexMissing)
	assert.Empty(t, completer.Requests())
}

func TestReviewFile_SplitsLargeFiles(t *testing.T) {
	t.Parallel()

	completer := &mock.Completer{CompleteFn: mock.Replies(`{"reviews": []}`)}
	o, _ := setup(t, completer, review.Options{MaxTokenLength: 10})

	_, err := o.ReviewFile(context.Background(), "parse.c")
	require.NoError(t, err)
	assert.Greater(t, len(completer.Requests()), 1)
}

func fileReply(req llm.Request) string {
	switch {
	case strings.Contains(req.UserPrompt, "FILE: b.c"):
		return `{"reviews": [{"issue": "B late", "line_number": 3}, {"issue": "B early", "line_number": 1}]}`
	case strings.Contains(req.UserPrompt, "FILE: a.c"):
		return `{"reviews": [{"issue": "A", "line_number": 2}]}`
	default:
		return `{"reviews": []}`
	}
}

func TestReviewCode_AggregatesAndSorts(t *testing.T) {
	t.Parallel()

	completer := &mock.Completer{CompleteFn: func(ctx context.Context, req llm.Request) (string, error) {
		if strings.Contains(req.UserPrompt, "FILE: bad.c") {
			return "", errors.New("provider unavailable")
		}
		return fileReply(req), nil
	}}
	o, root := setup(t, completer, review.Options{Workers: 3})
	for name, body := range map[string]string{"a.c": "a\nb\nc\n", "b.c": "a\nb\nc\n", "bad.c": "x\n", "notes.txt": "skip\n"} {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(body), 0o644))
	}

	res, err := o.ReviewCode(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "bad.c", res.Failures[0].Path)

	var got []string
	for _, is := range res.Issues {
		got = append(got, is.Title)
	}
	assert.Equal(t, []string{"A", "B early", "B late"}, got)
}

func TestReviewCode_CancelKeepsFinishedFiles(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	completer := &mock.Completer{CompleteFn: func(ctx context.Context, req llm.Request) (string, error) {
		if strings.Contains(req.UserPrompt, "FILE: a.c") {
			return fileReply(req), nil
		}
		cancel()
		return "", ctx.Err()
	}}
	o, root := setup(t, completer, review.Options{Workers: 1})
	require.NoError(t, os.Remove(filepath.Join(root, "parse.c")))
	for _, name := range []string{"a.c", "b.c"} {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte("a\nb\nc\n"), 0o644))
	}

	res, err := o.ReviewCode(ctx)
	require.ErrorIs(t, err, apperr.ErrCancelled)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, "A", res.Issues[0].Title)
}

const reviewDiff = `diff --git a/parse.c b/parse.c
--- a/parse.c
+++ b/parse.c
@@ -4,3 +4,3 @@ int parse(char *in) {
 	char buf[16];
-	strncpy(buf, in, sizeof(buf) - 1);
+	strcpy(buf, in);
 	return strlen(buf);
diff --git a/gone.c b/gone.c
deleted file mode 100644
--- a/gone.c
+++ /dev/null
@@ -1 +0,0 @@
-int gone;
diff --git a/README.md b/README.md
--- a/README.md
+++ b/README.md
@@ -1 +1 @@
-old
+new
`

func TestReviewPatch(t *testing.T) {
	t.Parallel()

	completer := &mock.Completer{CompleteFn: mock.Replies(
		`{"reviews": [{"issue": "Overflow reintroduced", "code_snippet": "strcpy(buf, in);", "severity": "high", "confidence": 0.9}]}`,
		"Replaces a bounded copy with strcpy, reintroducing an overflow.",
	)}
	o, _ := setup(t, completer, review.Options{})

	p, err := patch.Parse(reviewDiff)
	require.NoError(t, err)

	res, err := o.ReviewPatch(context.Background(), p, "fix.patch")
	require.NoError(t, err)
	assert.Equal(t, "review_patch", res.Command)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, 5, res.Issues[0].Line)
	assert.Equal(t, "Replaces a bounded copy with strcpy, reintroducing an overflow.", res.Summary)
	assert.Len(t, res.Notices, 2)

	reqs := completer.Requests()
	require.Len(t, reqs, 2)
	assert.Contains(t, reqs[0].UserPrompt, "CURRENT_FILE:")
	assert.Contains(t, reqs[0].UserPrompt, "FILE_CHANGES:\n-\tstrncpy")
	assert.False(t, reqs[1].JSON)
	assert.Contains(t, reqs[1].UserPrompt, "Overflow reintroduced")
}

func TestAsk(t *testing.T) {
	t.Parallel()

	completer := &mock.Completer{ModelName: "qwen3:8b", CompleteFn: mock.Replies("  parse copies argv[1] into a stack buffer.  ")}
	o, _ := setup(t, completer, review.Options{})

	ans, err := o.Ask(context.Background(), "where is user input copied?")
	require.NoError(t, err)
	assert.Equal(t, "parse copies argv[1] into a stack buffer.", ans.Text)
	assert.Equal(t, []string{"main.c:1-3"}, ans.Sources)

	reqs := completer.Requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].UserPrompt, "where is user input copied?")
	assert.Contains(t, reqs[0].UserPrompt, "parse(argv[1]);")
	assert.False(t, reqs[0].JSON)
}

func TestAsk_EmptyAnswerIsInvalid(t *testing.T) {
	t.Parallel()

	o, _ := setup(t, &mock.Completer{CompleteFn: mock.Replies("   ")}, review.Options{})
	_, err := o.Ask(context.Background(), "anything?")
	assert.ErrorIs(t, err, apperr.ErrInvalidModelOutput)
}
