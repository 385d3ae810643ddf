package dispatch_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/goleak"
	"go.uber.org/zap"

	"seclens/internal/apperr"
	"seclens/internal/dispatch"
	"seclens/internal/index"
	"seclens/internal/mock"
	"seclens/internal/patch"
	"seclens/internal/review"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

var fixedNow = time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)

func newDispatcher(t *testing.T, ix *mock.Indexer, rv *mock.Reviewer, resultsDir string) *dispatch.Dispatcher {
	t.Helper()
	if ix == nil {
		ix = &mock.Indexer{}
	}
	if rv == nil {
		rv = &mock.Reviewer{}
	}
	return dispatch.New(ix, rv, dispatch.Options{
		Root:       "/src",
		ResultsDir: resultsDir,
		Now:        func() time.Time { return fixedNow },
	}, zap.NewNop())
}

func TestDispatch_SingleFlight(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	rv := &mock.Reviewer{
		ReviewCodeFn: func(ctx context.Context) (*review.Result, error) {
			close(started)
			<-release
			return &review.Result{Command: "review_code"}, nil
		},
		AskFn: func(ctx context.Context, q string) (*review.Answer, error) {
			t.Error("ask must not run while busy")
			return nil, nil
		},
	}
	d := newDispatcher(t, nil, rv, "")

	done := make(chan dispatch.Outcome, 1)
	go func() { done <- d.Dispatch(context.Background(), dispatch.Command{Name: dispatch.CmdReviewCode}) }()
	<-started

	st := d.Status()
	assert.Equal(t, dispatch.StateBusy, st.State)
	assert.Equal(t, "review_code", st.Command)

	second := d.Dispatch(context.Background(), dispatch.Command{Name: dispatch.CmdAsk, Arg: "why?"})
	require.ErrorIs(t, second.Err, apperr.ErrCommandInProgress)
	assert.Equal(t, dispatch.ExitFatal, second.ExitCode())

	// help is answered even while busy.
	help := d.Dispatch(context.Background(), dispatch.Command{Name: dispatch.CmdHelp})
	require.NoError(t, help.Err)
	assert.Contains(t, help.Message, "review_patch")

	close(release)
	out := <-done
	require.NoError(t, out.Err)
	assert.Equal(t, dispatch.ExitOK, out.ExitCode())

	st = d.Status()
	assert.Equal(t, dispatch.StateIdle, st.State)
	assert.Equal(t, "review_code", st.Last)
	assert.Empty(t, st.LastError)
}

func TestDispatch_CancelKeepsPartialResult(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	rv := &mock.Reviewer{
		ReviewCodeFn: func(ctx context.Context) (*review.Result, error) {
			close(started)
			<-ctx.Done()
			res := &review.Result{Command: "review_code", Issues: []review.Issue{{Title: "done before cancel", File: "a.c"}}}
			return res, apperr.FromContext("review code", ctx.Err())
		},
	}
	results := t.TempDir()
	d := newDispatcher(t, nil, rv, results)
	assert.False(t, d.Cancel())

	done := make(chan dispatch.Outcome, 1)
	go func() { done <- d.Dispatch(context.Background(), dispatch.Command{Name: dispatch.CmdReviewCode}) }()
	<-started
	assert.True(t, d.Cancel())

	out := <-done
	require.ErrorIs(t, out.Err, apperr.ErrCancelled)
	assert.Equal(t, dispatch.ExitCancelled, out.ExitCode())
	require.NotNil(t, out.Result)
	assert.Len(t, out.Result.Issues, 1)

	assert.Equal(t, filepath.Join(results, "review_code_20250601_123000.json"), out.OutputPath)
	assert.FileExists(t, out.OutputPath)

	st := d.Status()
	assert.Equal(t, dispatch.StateError, st.State)
	assert.Contains(t, st.LastError, "cancelled")
}

func TestDispatch_ErrorStateAcceptsCommands(t *testing.T) {
	t.Parallel()

	calls := 0
	ix := &mock.Indexer{IndexFn: func(ctx context.Context, root string) (*index.Stats, error) {
		calls++
		if calls == 1 {
			return nil, apperr.New(apperr.ErrStoreUnavailable, "index", nil)
		}
		return &index.Stats{FilesTotal: 1}, nil
	}}
	d := newDispatcher(t, ix, nil, "")

	first := d.Dispatch(context.Background(), dispatch.Command{Name: dispatch.CmdIndex})
	require.ErrorIs(t, first.Err, apperr.ErrStoreUnavailable)
	assert.Equal(t, dispatch.StateError, d.Status().State)

	second := d.Dispatch(context.Background(), dispatch.Command{Name: dispatch.CmdIndex})
	require.NoError(t, second.Err)
	assert.Equal(t, 1, second.Stats.FilesTotal)
	assert.Equal(t, dispatch.StateIdle, d.Status().State)
}

func TestDispatch_Outputs(t *testing.T) {
	t.Parallel()

	rv := &mock.Reviewer{
		ReviewFileFn: func(ctx context.Context, path string) (*review.Result, error) {
			return &review.Result{
				Command:  "review_file",
				Target:   path,
				Failures: []apperr.FileFailure{{Path: path, Stage: "read"}},
			}, nil
		},
		AskFn: func(ctx context.Context, q string) (*review.Answer, error) {
			return &review.Answer{Question: q, Text: "in main.c"}, nil
		},
	}
	ix := &mock.Indexer{IndexFn: func(ctx context.Context, root string) (*index.Stats, error) {
		assert.Equal(t, "/src", root)
		return &index.Stats{}, nil
	}}
	results := t.TempDir()
	d := newDispatcher(t, ix, rv, results)

	out := d.Dispatch(context.Background(), dispatch.Command{Name: dispatch.CmdReviewFile, Arg: "a.c"})
	require.NoError(t, out.Err)
	assert.Equal(t, dispatch.ExitPartial, out.ExitCode())
	assert.Equal(t, filepath.Join(results, "review_file_20250601_123000.json"), out.OutputPath)

	// ask and index write only when asked to.
	out = d.Dispatch(context.Background(), dispatch.Command{Name: dispatch.CmdIndex})
	require.NoError(t, out.Err)
	assert.Empty(t, out.OutputPath)

	answerPath := filepath.Join(t.TempDir(), "answer.json")
	out = d.Dispatch(context.Background(), dispatch.Command{Name: dispatch.CmdAsk, Arg: "where?", OutputFile: answerPath})
	require.NoError(t, out.Err)
	assert.Equal(t, answerPath, out.OutputPath)

	data, err := os.ReadFile(answerPath)
	require.NoError(t, err)
	var ans review.Answer
	require.NoError(t, json.Unmarshal(data, &ans))
	assert.Equal(t, "in main.c", ans.Text)

	// SARIF cannot carry an answer.
	out = d.Dispatch(context.Background(), dispatch.Command{Name: dispatch.CmdAsk, Arg: "where?", OutputFile: filepath.Join(t.TempDir(), "a.sarif")})
	assert.Error(t, out.Err)
	assert.Empty(t, out.OutputPath)
}

const fixPatch = `--- a/a.c
+++ b/a.c
@@ -1,2 +1,2 @@
 int x;
-int y;
+long y;
`

func TestDispatch_Patches(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	good := filepath.Join(dir, "fix.diff")
	require.NoError(t, os.WriteFile(good, []byte(fixPatch), 0o644))
	bad := filepath.Join(dir, "bad.diff")
	require.NoError(t, os.WriteFile(bad, []byte("--- a/a.c\n+++ b/a.c\n@@ -1,5 +1,5 @@\n-x\n+y\n"), 0o644))

	var updated, reviewed *patch.Patch
	ix := &mock.Indexer{UpdateFn: func(ctx context.Context, root string, p *patch.Patch) (*index.Stats, error) {
		updated = p
		return &index.Stats{FilesChanged: 1}, nil
	}}
	rv := &mock.Reviewer{ReviewPatchFn: func(ctx context.Context, p *patch.Patch, target string) (*review.Result, error) {
		reviewed = p
		assert.Equal(t, good, target)
		return &review.Result{Command: "review_patch"}, nil
	}}
	d := newDispatcher(t, ix, rv, "")

	out := d.Dispatch(context.Background(), dispatch.Command{Name: dispatch.CmdUpdate, Arg: good})
	require.NoError(t, out.Err)
	require.NotNil(t, updated)
	assert.Equal(t, "a.c", updated.Files[0].Path)

	out = d.Dispatch(context.Background(), dispatch.Command{Name: dispatch.CmdReviewPatch, Arg: good})
	require.NoError(t, out.Err)
	require.NotNil(t, reviewed)

	updated = nil
	out = d.Dispatch(context.Background(), dispatch.Command{Name: dispatch.CmdUpdate, Arg: bad})
	require.ErrorIs(t, out.Err, apperr.ErrMalformedPatch)
	assert.Nil(t, updated)
	assert.Equal(t, dispatch.ExitFatal, out.ExitCode())

	out = d.Dispatch(context.Background(), dispatch.Command{Name: dispatch.CmdReviewPatch, Arg: filepath.Join(dir, "missing.diff")})
	assert.Error(t, out.Err)
}

func TestRun(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	ix := &mock.Indexer{IndexFn: func(ctx context.Context, root string) (*index.Stats, error) {
		close(started)
		<-ctx.Done()
		return &index.Stats{}, apperr.FromContext("index", ctx.Err())
	}}
	rv := &mock.Reviewer{AskFn: func(ctx context.Context, q string) (*review.Answer, error) {
		return &review.Answer{Text: "42"}, nil
	}}
	d := newDispatcher(t, ix, rv, "")

	reqs := make(chan dispatch.Request)
	finished := make(chan struct{})
	go func() {
		d.Run(context.Background(), reqs)
		close(finished)
	}()

	send := func(cmd dispatch.Command) <-chan dispatch.Outcome {
		reply := make(chan dispatch.Outcome, 1)
		reqs <- dispatch.Request{Command: cmd, Reply: reply}
		return reply
	}

	indexReply := send(dispatch.Command{Name: dispatch.CmdIndex})
	<-started

	busy := <-send(dispatch.Command{Name: dispatch.CmdAsk, Arg: "meaning?"})
	assert.ErrorIs(t, busy.Err, apperr.ErrCommandInProgress)

	// exit cancels the running index and waits for it.
	exit := <-send(dispatch.Command{Name: dispatch.CmdExit})
	assert.True(t, exit.Exit)

	indexed := <-indexReply
	assert.ErrorIs(t, indexed.Err, apperr.ErrCancelled)
	<-finished
}

func TestRun_StopsOnContextAndClose(t *testing.T) {
	t.Parallel()

	rv := &mock.Reviewer{AskFn: func(ctx context.Context, q string) (*review.Answer, error) {
		return &review.Answer{Text: q}, nil
	}}
	d := newDispatcher(t, nil, rv, "")

	reqs := make(chan dispatch.Request)
	finished := make(chan struct{})
	go func() {
		d.Run(context.Background(), reqs)
		close(finished)
	}()
	reply := make(chan dispatch.Outcome, 1)
	reqs <- dispatch.Request{Command: dispatch.Command{Name: dispatch.CmdAsk, Arg: "echo"}, Reply: reply}
	out := <-reply
	require.NoError(t, out.Err)
	assert.Equal(t, "echo", out.Answer.Text)
	close(reqs)
	<-finished

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		d.Run(ctx, make(chan dispatch.Request))
		close(stopped)
	}()
	cancel()
	<-stopped
}
