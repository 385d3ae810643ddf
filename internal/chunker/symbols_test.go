package chunker_test

import (
	"context"
	"testing"

	"seclens/internal/chunker"
	"seclens/internal/chunker/languages"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const goSource = `package demo

type Server struct {
	addr string
}

func (s *Server) Start() error {
	return nil
}

func helper() int {
	return 1
}
`

func TestSymbolExtractor_Go(t *testing.T) {
	t.Parallel()

	ex := chunker.NewSymbolExtractor(languages.NewRegistry())
	syms, err := ex.Extract(context.Background(), "demo/server.go", []byte(goSource))
	require.NoError(t, err)

	require.Len(t, syms, 3)
	assert.Equal(t, chunker.Symbol{Name: "Server", Kind: "type_declaration", StartLine: 3, EndLine: 5}, syms[0])
	assert.Equal(t, "Start", syms[1].Name)
	assert.Equal(t, "method_declaration", syms[1].Kind)
	assert.Equal(t, chunker.Symbol{Name: "helper", Kind: "function_declaration", StartLine: 11, EndLine: 13}, syms[2])

	in := chunker.Overlapping(syms, 6, 9)
	require.Len(t, in, 1)
	assert.Equal(t, "method_declaration Start", chunker.Describe(in))
}

func TestSymbolExtractor_C(t *testing.T) {
	t.Parallel()

	src := "#include <string.h>\n\nvoid copy(char *dst, const char *src) {\n    strcpy(dst, src);\n}\n"
	ex := chunker.NewSymbolExtractor(languages.NewRegistry())
	syms, err := ex.Extract(context.Background(), "copy.c", []byte(src))
	require.NoError(t, err)

	require.Len(t, syms, 1)
	assert.Equal(t, "copy", syms[0].Name)
	assert.Equal(t, 3, syms[0].StartLine)
	assert.Equal(t, 5, syms[0].EndLine)
}

func TestSymbolExtractor_UnknownExtension(t *testing.T) {
	t.Parallel()

	ex := chunker.NewSymbolExtractor(languages.NewRegistry())
	syms, err := ex.Extract(context.Background(), "README.md", []byte("# hi"))
	require.NoError(t, err)
	assert.Nil(t, syms)
}
