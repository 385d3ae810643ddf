// Package tui is the interactive shell. It reads command lines, sends them
// to a dispatcher over its request channel and renders the outcomes.
package tui

import (
	"context"
	"errors"

	"seclens/internal/dispatch"
	"seclens/internal/store"

	tea "github.com/charmbracelet/bubbletea"
)

// ViewState represents which screen is active.
type ViewState int

const (
	ViewWelcome ViewState = iota
	ViewShell
)

// Config holds what the shell needs from the CLI layer.
type Config struct {
	Dispatcher *dispatch.Dispatcher
	Hooks      *Hooks

	// Store and CodeCollection back the welcome screen's index check.
	Store          store.VectorStore
	CodeCollection string
	EmbeddingModel string
	Root           string

	// OllamaURL enables the availability check for OllamaModels.
	OllamaURL    string
	OllamaModels []string
}

// Model is the top-level Bubble Tea model.
type Model struct {
	state  ViewState
	config Config
	width  int
	height int

	welcome welcomeModel
	shell   shellModel
}

// New creates the model. Commands are sent on requests.
func New(ctx context.Context, cfg Config, requests chan<- dispatch.Request) Model {
	return Model{
		state:  ViewWelcome,
		config: cfg,
		shell:  newShellModel(ctx, requests, cfg.Dispatcher.Status),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(checkIndex(m.config), checkModels(m.config))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if m.state == ViewShell {
			var c tea.Cmd
			m.shell, c = m.shell.Update(msg)
			return m, c
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			// Cancel the running command first; quit when there is none.
			if m.state == ViewShell && m.shell.busy() && m.config.Dispatcher.Cancel() {
				return m, nil
			}
			return m, tea.Quit
		case "q", "esc":
			if m.state == ViewWelcome {
				return m, tea.Quit
			}
		}
	}

	switch m.state {
	case ViewWelcome:
		m.welcome = m.welcome.Update(msg)
		if keyMsg, ok := msg.(tea.KeyMsg); ok && keyMsg.Type == tea.KeyEnter && m.welcome.ready {
			m.state = ViewShell
			m.shell.initViewport(m.width, m.height)
		}
		return m, nil

	case ViewShell:
		var cmd tea.Cmd
		m.shell, cmd = m.shell.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m Model) View() string {
	switch m.state {
	case ViewWelcome:
		return m.welcome.View(m.config)
	case ViewShell:
		return m.shell.View()
	}
	return ""
}

// Run starts the dispatcher loop and the program, and returns once both
// have stopped.
func Run(ctx context.Context, cfg Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	requests := make(chan dispatch.Request)
	p := tea.NewProgram(New(ctx, cfg, requests), tea.WithAltScreen(), tea.WithContext(ctx))
	cfg.Hooks.attach(p)

	stopped := make(chan struct{})
	go func() {
		cfg.Dispatcher.Run(ctx, requests)
		close(stopped)
	}()

	_, err := p.Run()
	cancel()
	<-stopped
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}
