package tui

import (
	"context"
	"fmt"
	"time"

	"seclens/internal/store"

	tea "github.com/charmbracelet/bubbletea"
)

type indexStatus int

const (
	indexNotFound indexStatus = iota
	indexReady
	indexStale
)

type modelStatus struct {
	name  string
	size  int64
	found bool
}

type welcomeModel struct {
	status      indexStatus
	staleReason string
	indexErr    error
	ready       bool // true once the index check has completed

	models        []modelStatus
	modelErr      error
	modelsChecked bool
}

type checkIndexMsg struct {
	status      indexStatus
	staleReason string
	err         error
}

type checkModelsMsg struct {
	models []modelStatus
	err    error
}

func checkIndex(cfg Config) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		exists, err := cfg.Store.CollectionExists(ctx, cfg.CodeCollection)
		if err != nil {
			return checkIndexMsg{status: indexNotFound, err: err}
		}
		if !exists {
			return checkIndexMsg{status: indexNotFound}
		}

		lastModel, err := cfg.Store.GetMeta(ctx, store.MetaEmbeddingModel)
		if err != nil {
			return checkIndexMsg{status: indexNotFound, err: err}
		}
		if lastModel != "" && lastModel != cfg.EmbeddingModel {
			return checkIndexMsg{
				status:      indexStale,
				staleReason: fmt.Sprintf("model changed: %s → %s", lastModel, cfg.EmbeddingModel),
			}
		}
		return checkIndexMsg{status: indexReady}
	}
}

func checkModels(cfg Config) tea.Cmd {
	if cfg.OllamaURL == "" || len(cfg.OllamaModels) == 0 {
		return nil
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		available, err := ListModels(ctx, cfg.OllamaURL)
		if err != nil {
			return checkModelsMsg{err: err}
		}
		out := make([]modelStatus, 0, len(cfg.OllamaModels))
		for _, name := range cfg.OllamaModels {
			m, ok := findModel(available, name)
			out = append(out, modelStatus{name: name, size: m.Size, found: ok})
		}
		return checkModelsMsg{models: out}
	}
}

func (m welcomeModel) Update(msg tea.Msg) welcomeModel {
	switch msg := msg.(type) {
	case checkIndexMsg:
		m.status = msg.status
		m.staleReason = msg.staleReason
		m.indexErr = msg.err
		m.ready = true
	case checkModelsMsg:
		m.models = msg.models
		m.modelErr = msg.err
		m.modelsChecked = true
	}
	return m
}

func (m welcomeModel) View(cfg Config) string {
	s := "\n"
	s += titleStyle.Render("  ◆ seclens") + "\n"
	s += subtitleStyle.Render("  RAG-assisted security review of "+cfg.Root) + "\n\n"

	if !m.ready {
		s += dimStyle.Render("  Checking index...") + "\n"
		return s
	}

	switch m.status {
	case indexReady:
		s += successStyle.Render("  ✓ Index ready") + "\n"
	case indexNotFound:
		s += warnStyle.Render("  ✗ No index found") + "\n"
		if m.indexErr != nil {
			s += dimStyle.Render("    "+m.indexErr.Error()) + "\n"
		} else {
			s += dimStyle.Render("    run index before reviewing") + "\n"
		}
	case indexStale:
		s += warnStyle.Render("  ⚠ Index stale") + "\n"
		s += dimStyle.Render("    "+m.staleReason) + "\n"
	}

	switch {
	case m.modelErr != nil:
		s += errorStyle.Render("  ✗ "+m.modelErr.Error()) + "\n"
	case m.modelsChecked:
		for _, ms := range m.models {
			if ms.found {
				s += successStyle.Render(fmt.Sprintf("  ✓ %s (%s)", ms.name, formatSize(ms.size))) + "\n"
			} else {
				s += warnStyle.Render(fmt.Sprintf("  ✗ %s not pulled", ms.name)) + "\n"
			}
		}
	}

	s += "\n"
	s += dimStyle.Render("  Press Enter to continue") + "\n"
	return s
}
