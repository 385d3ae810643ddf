package tui

import (
	"fmt"
	"sync/atomic"

	"seclens/internal/review"

	tea "github.com/charmbracelet/bubbletea"
)

// Hooks forwards engine progress into the running program. It is created
// before the engine and attached once the program exists; until then, and
// on a nil Hooks, events are dropped.
type Hooks struct {
	p atomic.Pointer[tea.Program]
}

// NewHooks returns detached hooks.
func NewHooks() *Hooks { return &Hooks{} }

func (h *Hooks) attach(p *tea.Program) {
	if h != nil {
		h.p.Store(p)
	}
}

func (h *Hooks) send(msg tea.Msg) {
	if h == nil {
		return
	}
	if p := h.p.Load(); p != nil {
		p.Send(msg)
	}
}

// Progress has the shape of index.ProgressFunc.
func (h *Hooks) Progress(stage string, current, total int) {
	h.send(progressMsg{stage: stage, current: current, total: total})
}

// Transition has the shape of review.TransitionFunc.
func (h *Hooks) Transition(file string, from, to review.State) {
	h.send(transitionMsg{file: file, to: to})
}

type progressMsg struct {
	stage          string
	current, total int
}

type transitionMsg struct {
	file string
	to   review.State
}

// progressModel tracks the latest event of the running command.
type progressModel struct {
	stage          string
	current, total int

	file  string
	state review.State
}

func (m progressModel) Update(msg tea.Msg) progressModel {
	switch msg := msg.(type) {
	case progressMsg:
		m.stage = msg.stage
		m.current = msg.current
		m.total = msg.total
	case transitionMsg:
		m.file = msg.file
		m.state = msg.to
	}
	return m
}

func (m progressModel) View() string {
	switch {
	case m.file != "":
		return fmt.Sprintf("%s: %s", m.file, m.state)
	case m.total > 0:
		return fmt.Sprintf("%s %d/%d files", m.stage, m.current, m.total)
	case m.stage != "":
		return m.stage
	default:
		return "working..."
	}
}
