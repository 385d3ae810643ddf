// Package languages registers the tree-sitter grammars seclens understands.
package languages

import "seclens/internal/chunker"

// RegisterAll registers every built-in grammar.
func RegisterAll(r *chunker.Registry) {
	RegisterC(r)
	RegisterCPP(r)
	RegisterGo(r)
	RegisterJavaScript(r)
	RegisterPython(r)
	RegisterRust(r)
	RegisterTypeScript(r)
}

// NewRegistry returns a registry holding every built-in grammar.
func NewRegistry() *chunker.Registry {
	r := chunker.NewRegistry()
	RegisterAll(r)
	return r
}
