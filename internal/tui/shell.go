package tui

import (
	"context"
	"fmt"
	"strings"

	"seclens/internal/dispatch"
	"seclens/internal/output"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

type entryKind int

const (
	entryCommand entryKind = iota
	entryOutput
	entryError
	entrySystem
)

type entry struct {
	kind    entryKind
	content string
}

type shellModel struct {
	ctx      context.Context
	requests chan<- dispatch.Request
	status   func() dispatch.Status

	viewport    viewport.Model
	input       textinput.Model
	spinner     spinner.Model
	renderer    *glamour.TermRenderer
	progress    progressModel
	entries     []entry
	pending     int
	width       int
	height      int
	initialized bool
}

// outcomeMsg carries the dispatcher's reply to one request.
type outcomeMsg dispatch.Outcome

func newShellModel(ctx context.Context, requests chan<- dispatch.Request, status func() dispatch.Status) shellModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = busyStyle

	ti := textinput.New()
	ti.Placeholder = `index, review_code, review_file <path>, ask "question"...`
	ti.CharLimit = 2000
	ti.Focus()

	return shellModel{
		ctx:      ctx,
		requests: requests,
		status:   status,
		spinner:  sp,
		input:    ti,
	}
}

func (m *shellModel) initViewport(width, height int) {
	m.width = width
	m.height = height

	// viewport + status bar + input
	vpHeight := height - 3
	if vpHeight < 5 {
		vpHeight = 5
	}
	m.viewport = viewport.New(width, vpHeight)
	m.viewport.SetContent(dimStyle.Render("Type a command, help for a list, exit to quit. Ctrl+C cancels a running command."))

	m.input.Width = width - 4

	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width-2),
	)
	if err == nil {
		m.renderer = r
	}

	m.initialized = true
}

func sendCommand(ctx context.Context, requests chan<- dispatch.Request, cmd dispatch.Command) tea.Cmd {
	return func() tea.Msg {
		reply := make(chan dispatch.Outcome, 1)
		select {
		case requests <- dispatch.Request{Command: cmd, Reply: reply}:
		case <-ctx.Done():
			return outcomeMsg{Command: cmd, Err: ctx.Err()}
		}
		select {
		case out := <-reply:
			return outcomeMsg(out)
		case <-ctx.Done():
			return outcomeMsg{Command: cmd, Err: ctx.Err()}
		}
	}
}

func (m shellModel) busy() bool {
	return m.pending > 0
}

func (m shellModel) Update(msg tea.Msg) (shellModel, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.initViewport(msg.Width, msg.Height)
		m.refresh()
		return m, nil

	case outcomeMsg:
		m.pending--
		out := dispatch.Outcome(msg)
		if out.Exit {
			return m, tea.Quit
		}
		m.entries = append(m.entries, m.outcomeEntries(out)...)
		if !m.busy() {
			m.progress = progressModel{}
		}
		m.refresh()
		return m, nil

	case progressMsg, transitionMsg:
		m.progress = m.progress.Update(msg)
		return m, nil

	case spinner.TickMsg:
		if m.busy() {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyEnter {
			line := strings.TrimSpace(m.input.Value())
			if line == "" {
				return m, nil
			}
			m.input.Reset()
			m.entries = append(m.entries, entry{kind: entryCommand, content: line})

			if line == "clear" {
				m.entries = nil
				m.viewport.SetContent(dimStyle.Render("Cleared."))
				return m, nil
			}
			cmd, err := dispatch.ParseCommand(line)
			if err != nil {
				m.entries = append(m.entries, entry{kind: entryError, content: err.Error()})
				m.refresh()
				return m, nil
			}

			m.refresh()
			m.pending++
			send := sendCommand(m.ctx, m.requests, cmd)
			if m.pending == 1 {
				return m, tea.Batch(m.spinner.Tick, send)
			}
			return m, send
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m *shellModel) refresh() {
	if !m.initialized {
		return
	}
	m.viewport.SetContent(m.renderEntries())
	m.viewport.GotoBottom()
}

// outcomeEntries renders one outcome. A failed command that still carries a
// payload, such as a cancelled review, shows both.
func (m shellModel) outcomeEntries(out dispatch.Outcome) []entry {
	var entries []entry
	if out.Message != "" {
		entries = append(entries, entry{kind: entrySystem, content: out.Message})
	}
	if payload := out.Payload(); payload != nil {
		md, err := output.Markdown(payload)
		if err != nil {
			entries = append(entries, entry{kind: entryError, content: err.Error()})
		} else {
			entries = append(entries, entry{kind: entryOutput, content: md})
		}
	}
	if out.OutputPath != "" {
		entries = append(entries, entry{kind: entrySystem, content: "Results written to " + out.OutputPath})
	}
	if out.Err != nil {
		entries = append(entries, entry{kind: entryError, content: out.Err.Error()})
	}
	return entries
}

func (m shellModel) renderMarkdown(content string) string {
	if m.renderer == nil {
		return outputStyle.Render(content)
	}
	rendered, err := m.renderer.Render(content)
	if err != nil {
		return outputStyle.Render(content)
	}
	return strings.TrimRight(rendered, "\n")
}

func (m shellModel) renderEntries() string {
	var sb strings.Builder
	for _, e := range m.entries {
		switch e.kind {
		case entryCommand:
			sb.WriteString(commandStyle.Render("> ") + e.content + "\n\n")
		case entryOutput:
			sb.WriteString(m.renderMarkdown(e.content) + "\n\n")
		case entryError:
			sb.WriteString(errorStyle.Render("Error: "+e.content) + "\n\n")
		case entrySystem:
			sb.WriteString(dimStyle.Render(e.content) + "\n\n")
		}
	}
	return sb.String()
}

func (m shellModel) View() string {
	if !m.initialized {
		return ""
	}

	st := m.status()
	statusText := st.State.String()
	if m.busy() {
		statusText = fmt.Sprintf("%s %s • %s", m.spinner.View(), st.Command, m.progress.View())
	} else if st.LastError != "" {
		statusText += " • last: " + st.Last
	}
	statusBar := statusBarStyle.
		Width(m.width).
		Render(" seclens • " + statusText)

	return lipgloss.JoinVertical(
		lipgloss.Left,
		m.viewport.View(),
		statusBar,
		m.input.View(),
	)
}
