package chunker

import (
	"path/filepath"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
)

// Grammar defines the tree-sitter grammar and symbol query for a language.
type Grammar struct {
	Language *sitter.Language
	// Query is a tree-sitter S-expression query that captures top-level
	// definitions. It must use @chunk for the outer node and @name for the
	// identifier (optional).
	Query      string
	Extensions []string // without the leading dot
}

// Registry maps file extensions to grammars.
type Registry struct {
	mu     sync.RWMutex
	byExt  map[string]string   // extension (without dot) -> language
	byLang map[string]*Grammar // language -> grammar
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byExt:  make(map[string]string),
		byLang: make(map[string]*Grammar),
	}
}

// Register adds a grammar under the given language name.
func (r *Registry) Register(name string, g *Grammar) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byLang[name] = g
	for _, ext := range g.Extensions {
		r.byExt[strings.ToLower(ext)] = name
	}
}

// Lookup returns the grammar for a file path based on its extension, or nil.
func (r *Registry) Lookup(path string) (*Grammar, string) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.byExt[ext]
	if !ok {
		return nil, ""
	}
	return r.byLang[name], name
}

// Languages returns the registered language names.
func (r *Registry) Languages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byLang))
	for name := range r.byLang {
		names = append(names, name)
	}
	return names
}
