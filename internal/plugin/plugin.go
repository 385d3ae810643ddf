// Package plugin bundles the per-language capabilities the pipeline needs:
// which files belong to a language, how they are split into chunks, and the
// prompt templates used to review them.
package plugin

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"seclens/internal/apperr"
	"seclens/internal/chunker"
	"seclens/internal/config"
)

// DocsName is the key of the documentation plugin.
const DocsName = "docs"

// Piece is one window of a file before it is given an id.
type Piece struct {
	chunker.Window
	Symbols []chunker.Symbol
}

// Plugin is a language capability bundle. Implementations are stateless and
// safe for concurrent use across files.
type Plugin interface {
	Name() string
	Extensions() []string
	Handles(path string) bool
	Chunking() chunker.Config
	Split(ctx context.Context, path string, content []byte) ([]Piece, error)
	Prompts() Prompts
}

// Prompts is a named set of prompt templates.
type Prompts map[string]string

// Render substitutes vars into the named template. Placeholders are written
// as {name}; placeholders without a value are left as they are.
func (p Prompts) Render(key string, vars map[string]string) (string, error) {
	tmpl, ok := p[key]
	if !ok || tmpl == "" {
		return "", fmt.Errorf("prompt template %q is not defined", key)
	}
	if len(vars) == 0 {
		return tmpl, nil
	}
	pairs := make([]string, 0, 2*len(vars))
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl), nil
}

type languagePlugin struct {
	name     string
	exts     []string
	chunking chunker.Config
	prompts  Prompts
	symbols  *chunker.SymbolExtractor
}

// New builds a plugin from its configuration. symbols may be nil, in which
// case pieces carry no symbol annotations.
func New(name string, pc config.PluginConfig, symbols *chunker.SymbolExtractor) Plugin {
	exts := make([]string, 0, len(pc.Extensions))
	for _, e := range pc.Extensions {
		e = strings.ToLower(e)
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts = append(exts, e)
	}
	prompts := make(Prompts, len(pc.Prompts))
	for k, v := range pc.Prompts {
		prompts[k] = v
	}
	return &languagePlugin{
		name:  name,
		exts:  exts,
		chunking: chunker.Config{
			ChunkLines:        pc.Splitting.ChunkLines,
			ChunkLinesOverlap: pc.Splitting.ChunkLinesOverlap,
			MaxChars:          pc.Splitting.MaxChars,
		},
		prompts: prompts,
		symbols: symbols,
	}
}

func (p *languagePlugin) Name() string             { return p.name }
func (p *languagePlugin) Extensions() []string     { return slices.Clone(p.exts) }
func (p *languagePlugin) Chunking() chunker.Config { return p.chunking }
func (p *languagePlugin) Prompts() Prompts         { return p.prompts }

func (p *languagePlugin) Handles(path string) bool {
	return slices.Contains(p.exts, strings.ToLower(filepath.Ext(path)))
}

func (p *languagePlugin) Split(ctx context.Context, path string, content []byte) ([]Piece, error) {
	var syms []chunker.Symbol
	if p.symbols != nil {
		var err error
		syms, err = p.symbols.Extract(ctx, path, content)
		if err != nil {
			return nil, err
		}
	}

	var pieces []Piece
	for w := range chunker.Windows(string(content), p.chunking) {
		pieces = append(pieces, Piece{Window: w, Symbols: chunker.Overlapping(syms, w.StartLine, w.EndLine)})
	}
	return pieces, nil
}

// Registry maps plugin keys to plugins.
type Registry struct {
	plugins map[string]Plugin
}

// NewRegistry builds one plugin per configured language plus the docs plugin.
func NewRegistry(cfg config.Config, symbols *chunker.SymbolExtractor) *Registry {
	r := &Registry{plugins: make(map[string]Plugin, len(cfg.Plugins)+1)}
	for name, pc := range cfg.Plugins {
		r.Register(New(name, pc, symbols))
	}
	r.Register(New(DocsName, config.PluginConfig{
		Extensions: cfg.Docs.Extensions,
		Splitting:  cfg.Docs.Splitting,
	}, nil))
	return r
}

// Register adds or replaces a plugin under its name.
func (r *Registry) Register(p Plugin) {
	r.plugins[p.Name()] = p
}

// Get returns the plugin registered under key.
func (r *Registry) Get(key string) (Plugin, error) {
	p, ok := r.plugins[key]
	if !ok {
		return nil, apperr.New(apperr.ErrUnsupportedLanguage, "plugin lookup", fmt.Errorf("no plugin named %q", key))
	}
	return p, nil
}

// Names returns the registered plugin keys in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
