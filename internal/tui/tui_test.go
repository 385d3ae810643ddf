package tui

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"seclens/internal/dispatch"
	"seclens/internal/review"
	"seclens/internal/store"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckIndex(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	vs := store.NewMemory()
	cfg := Config{Store: vs, CodeCollection: "code", EmbeddingModel: "nomic-embed-text"}

	msg := checkIndex(cfg)().(checkIndexMsg)
	assert.Equal(t, indexNotFound, msg.status)

	require.NoError(t, vs.EnsureCollection(ctx, "code"))
	require.NoError(t, vs.SetMeta(ctx, store.MetaEmbeddingModel, "nomic-embed-text"))
	msg = checkIndex(cfg)().(checkIndexMsg)
	assert.Equal(t, indexReady, msg.status)

	require.NoError(t, vs.SetMeta(ctx, store.MetaEmbeddingModel, "mxbai-embed-large"))
	msg = checkIndex(cfg)().(checkIndexMsg)
	assert.Equal(t, indexStale, msg.status)
	assert.Contains(t, msg.staleReason, "mxbai-embed-large")
}

func TestCheckModels(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		_, _ = w.Write([]byte(`{"models":[{"name":"qwen3:8b","size":5200000000},{"name":"nomic-embed-text:latest","size":274000000}]}`))
	}))
	defer srv.Close()

	assert.Nil(t, checkModels(Config{}))

	msg := checkModels(Config{OllamaURL: srv.URL + "/", OllamaModels: []string{"qwen3:8b", "nomic-embed-text", "llama3"}})().(checkModelsMsg)
	require.NoError(t, msg.err)
	require.Len(t, msg.models, 3)
	assert.True(t, msg.models[0].found)
	assert.True(t, msg.models[1].found)
	assert.False(t, msg.models[2].found)

	var w welcomeModel
	w = w.Update(msg)
	w = w.Update(checkIndexMsg{status: indexReady})
	view := w.View(Config{Root: "/src"})
	assert.Contains(t, view, "Index ready")
	assert.Contains(t, view, "qwen3:8b (4.8 GB)")
	assert.Contains(t, view, "llama3 not pulled")
}

func TestListModels_Unavailable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := ListModels(context.Background(), srv.URL)
	assert.ErrorContains(t, err, "returned 500")
}

func TestFormatSize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "261 MB", formatSize(274000000))
	assert.Equal(t, "1.0 GB", formatSize(1<<30))
}

func enter(m shellModel, line string) (shellModel, tea.Cmd) {
	m.input.SetValue(line)
	return m.Update(tea.KeyMsg{Type: tea.KeyEnter})
}

// outcomeOf runs cmd and returns the dispatcher reply among its messages.
func outcomeOf(t *testing.T, cmd tea.Cmd) outcomeMsg {
	t.Helper()
	require.NotNil(t, cmd)
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		for _, c := range batch {
			if c == nil {
				continue
			}
			if out, ok := c().(outcomeMsg); ok {
				return out
			}
		}
		t.Fatal("no outcome in batch")
	}
	out, ok := msg.(outcomeMsg)
	require.True(t, ok, "got %T", msg)
	return out
}

func TestShell_SendsCommands(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	requests := make(chan dispatch.Request)
	go func() {
		for req := range requests {
			out := dispatch.Outcome{Command: req.Command}
			switch req.Command.Name {
			case dispatch.CmdAsk:
				out.Answer = &review.Answer{Question: req.Command.Arg, Text: "parse() copies argv"}
			case dispatch.CmdReviewFile:
				out.Result = &review.Result{Command: "review_file"}
				out.Err = errors.New("boom")
			case dispatch.CmdExit:
				out.Exit = true
			}
			req.Reply <- out
		}
	}()
	defer close(requests)

	m := newShellModel(ctx, requests, func() dispatch.Status { return dispatch.Status{} })
	m.initViewport(80, 24)

	m, cmd := enter(m, "frobnicate")
	assert.Nil(t, cmd)
	require.Len(t, m.entries, 2)
	assert.Equal(t, entryError, m.entries[1].kind)

	m, cmd = enter(m, `ask "who copies?"`)
	assert.True(t, m.busy())
	out := outcomeOf(t, cmd)
	m, _ = m.Update(out)
	assert.False(t, m.busy())
	last := m.entries[len(m.entries)-1]
	assert.Equal(t, entryOutput, last.kind)
	assert.Contains(t, last.content, "parse() copies argv")

	m, cmd = enter(m, "review_file a.c")
	m, _ = m.Update(outcomeOf(t, cmd))
	last = m.entries[len(m.entries)-1]
	assert.Equal(t, entryError, last.kind)
	assert.Equal(t, "boom", last.content)
	assert.Equal(t, entryOutput, m.entries[len(m.entries)-2].kind)

	m, cmd = enter(m, "clear")
	assert.Nil(t, cmd)
	assert.Empty(t, m.entries)

	m, cmd = enter(m, "exit")
	_, cmd = m.Update(outcomeOf(t, cmd))
	require.NotNil(t, cmd)
	assert.Equal(t, tea.QuitMsg{}, cmd())
}

func TestSendCommand_StopsOnContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	msg := sendCommand(ctx, make(chan dispatch.Request), dispatch.Command{Name: dispatch.CmdIndex})()
	out := msg.(outcomeMsg)
	assert.ErrorIs(t, out.Err, context.Canceled)
}

func TestProgress(t *testing.T) {
	t.Parallel()

	var h *Hooks
	h.Progress("code", 1, 2)

	var p progressModel
	assert.Equal(t, "working...", p.View())
	p = p.Update(progressMsg{stage: "code", current: 3, total: 10})
	assert.Equal(t, "code 3/10 files", p.View())
	p = p.Update(transitionMsg{file: "parse.c", to: review.StateValidated})
	assert.Equal(t, "parse.c: validated", p.View())
}
