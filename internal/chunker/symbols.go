package chunker

import (
	"context"
	"fmt"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// Symbol is a top-level definition found in a source file.
type Symbol struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

// SymbolExtractor parses source files with tree-sitter and lists their
// top-level definitions. It is safe for concurrent use.
type SymbolExtractor struct {
	registry *Registry
}

// NewSymbolExtractor creates an extractor backed by the given registry.
func NewSymbolExtractor(r *Registry) *SymbolExtractor {
	return &SymbolExtractor{registry: r}
}

// Extract returns the symbols in src ordered by position. Files without a
// registered grammar yield no symbols and no error.
func (e *SymbolExtractor) Extract(ctx context.Context, path string, src []byte) ([]Symbol, error) {
	g, lang := e.registry.Lookup(path)
	if g == nil {
		return nil, nil
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(g.Language)
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	defer tree.Close()

	q, err := sitter.NewQuery([]byte(g.Query), g.Language)
	if err != nil {
		return nil, fmt.Errorf("compile query for %s: %w", lang, err)
	}
	defer q.Close()

	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(q, tree.RootNode())

	var captures []capture
	for {
		m, ok := qc.NextMatch()
		if !ok {
			break
		}
		var node *sitter.Node
		var name string
		for _, c := range m.Captures {
			switch q.CaptureNameForId(c.Index) {
			case "chunk":
				node = c.Node
			case "name":
				name = c.Node.Content(src)
			}
		}
		if node == nil {
			continue
		}
		captures = append(captures, capture{
			name:      name,
			kind:      node.Type(),
			startLine: int(node.StartPoint().Row) + 1,
			endLine:   int(node.EndPoint().Row) + 1,
			startByte: node.StartByte(),
			endByte:   node.EndByte(),
		})
	}

	captures = dedup(captures)

	symbols := make([]Symbol, 0, len(captures))
	for _, c := range captures {
		symbols = append(symbols, Symbol{Name: c.name, Kind: c.kind, StartLine: c.startLine, EndLine: c.endLine})
	}
	return symbols, nil
}

// Overlapping returns the symbols intersecting lines [start, end].
func Overlapping(symbols []Symbol, start, end int) []Symbol {
	var out []Symbol
	for _, s := range symbols {
		if s.StartLine <= end && s.EndLine >= start {
			out = append(out, s)
		}
	}
	return out
}

// Describe renders symbols as "kind name" pairs joined by ", ".
func Describe(symbols []Symbol) string {
	parts := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if s.Name == "" {
			parts = append(parts, s.Kind)
			continue
		}
		parts = append(parts, s.Kind+" "+s.Name)
	}
	return strings.Join(parts, ", ")
}

type capture struct {
	name      string
	kind      string
	startLine int
	endLine   int
	startByte uint32
	endByte   uint32
}

// dedup removes captures that are fully contained within a larger capture.
func dedup(caps []capture) []capture {
	if len(caps) <= 1 {
		return caps
	}
	// Start ascending, then larger first.
	sort.Slice(caps, func(i, j int) bool {
		if caps[i].startByte != caps[j].startByte {
			return caps[i].startByte < caps[j].startByte
		}
		return (caps[i].endByte - caps[i].startByte) > (caps[j].endByte - caps[j].startByte)
	})

	var result []capture
	var lastEnd uint32
	for _, c := range caps {
		if len(result) == 0 || c.startByte >= lastEnd {
			result = append(result, c)
			if c.endByte > lastEnd {
				lastEnd = c.endByte
			}
		}
	}
	return result
}
