package plugin_test

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"seclens/internal/apperr"
	"seclens/internal/chunker"
	"seclens/internal/chunker/languages"
	"seclens/internal/config"
	"seclens/internal/plugin"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_GetUnknownLanguage(t *testing.T) {
	t.Parallel()

	reg := plugin.NewRegistry(config.Default(), nil)

	_, err := reg.Get("cobol")
	assert.ErrorIs(t, err, apperr.ErrUnsupportedLanguage)

	p, err := reg.Get("rust")
	require.NoError(t, err)
	assert.True(t, p.Handles("src/Main.RS"))
	assert.False(t, p.Handles("src/main.c"))
	assert.Contains(t, reg.Names(), plugin.DocsName)
}

func TestPrompts_Render(t *testing.T) {
	t.Parallel()

	p := plugin.Prompts{"ask": "Q: {question}\nC: {context}\nkeep {other}"}

	out, err := p.Render("ask", map[string]string{"question": "why?", "context": "code"})
	require.NoError(t, err)
	assert.Equal(t, "Q: why?\nC: code\nkeep {other}", out)

	_, err = p.Render("missing", nil)
	assert.Error(t, err)
}

func TestPlugin_SplitAnnotatesSymbols(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	b.WriteString("package demo\n\n")
	for i := 0; i < 6; i++ {
		fmt.Fprintf(&b, "func f%d() {\n\t_ = %d\n}\n\n", i, i)
	}

	p := plugin.New("go", config.PluginConfig{
		Extensions: []string{"go"},
		Splitting:  config.SplittingConfig{ChunkLines: 10, ChunkLinesOverlap: 2},
	}, chunker.NewSymbolExtractor(languages.NewRegistry()))

	pieces, err := p.Split(context.Background(), "demo.go", []byte(b.String()))
	require.NoError(t, err)
	require.NotEmpty(t, pieces)

	assert.Equal(t, 1, pieces[0].StartLine)
	assert.Equal(t, 10, pieces[0].EndLine)
	require.NotEmpty(t, pieces[0].Symbols)
	assert.Equal(t, "f0", pieces[0].Symbols[0].Name)
	for _, piece := range pieces {
		for _, s := range piece.Symbols {
			assert.True(t, s.StartLine <= piece.EndLine && s.EndLine >= piece.StartLine)
		}
	}
}
