package chunker_test

import (
	"fmt"
	"strings"
	"testing"

	"seclens/internal/chunker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func numberedLines(n int) string {
	var b strings.Builder
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "line %d\n", i)
	}
	return b.String()
}

type span struct{ start, end int }

func spans(ws []chunker.Window) []span {
	out := make([]span, len(ws))
	for i, w := range ws {
		out[i] = span{w.StartLine, w.EndLine}
	}
	return out
}

func TestWindows_OverlappingRanges(t *testing.T) {
	t.Parallel()

	ws := chunker.Split(numberedLines(250), chunker.Config{ChunkLines: 100, ChunkLinesOverlap: 10})

	assert.Equal(t, []span{{1, 100}, {91, 190}, {181, 250}}, spans(ws))
	assert.True(t, strings.HasPrefix(ws[1].Content, "line 91\n"))
	assert.True(t, strings.HasSuffix(ws[2].Content, "line 250"))
}

func TestWindows_ShortFileIsOneWindow(t *testing.T) {
	t.Parallel()

	ws := chunker.Split("a\nb\nc", chunker.Config{ChunkLines: 100, ChunkLinesOverlap: 10})
	require.Len(t, ws, 1)
	assert.Equal(t, chunker.Window{StartLine: 1, EndLine: 3, Content: "a\nb\nc"}, ws[0])
}

func TestWindows_EmptyFile(t *testing.T) {
	t.Parallel()

	assert.Empty(t, chunker.Split("", chunker.Config{ChunkLines: 10}))
}

func TestWindows_OverlapIsClamped(t *testing.T) {
	t.Parallel()

	ws := chunker.Split(numberedLines(5), chunker.Config{ChunkLines: 2, ChunkLinesOverlap: 7})
	assert.Equal(t, []span{{1, 2}, {2, 3}, {3, 4}, {4, 5}}, spans(ws))
}

func TestWindows_MaxCharsSplitsAtLineBoundaries(t *testing.T) {
	t.Parallel()

	content := "aaaa\nbbbb\ncccc\n" + strings.Repeat("x", 30) + "\ndd\n"
	ws := chunker.Split(content, chunker.Config{ChunkLines: 10, MaxChars: 10})

	assert.Equal(t, []span{{1, 2}, {3, 3}, {4, 4}, {5, 5}}, spans(ws))
	assert.Equal(t, "aaaa\nbbbb", ws[0].Content)
	assert.Equal(t, strings.Repeat("x", 30), ws[2].Content, "an oversized line is never cut")
}

func TestWindows_CoverEveryLine(t *testing.T) {
	t.Parallel()

	configs := []chunker.Config{
		{ChunkLines: 100, ChunkLinesOverlap: 10},
		{ChunkLines: 7, ChunkLinesOverlap: 3, MaxChars: 40},
		{ChunkLines: 1},
		{ChunkLines: 33, ChunkLinesOverlap: 32},
	}
	for _, total := range []int{1, 9, 100, 101, 257} {
		content := numberedLines(total)
		for _, cfg := range configs {
			ws := chunker.Split(content, cfg)
			require.NotEmpty(t, ws)

			covered := make([]bool, total+1)
			for i, w := range ws {
				require.LessOrEqual(t, w.StartLine, w.EndLine)
				if i > 0 {
					assert.LessOrEqual(t, w.StartLine, ws[i-1].EndLine+1, "gap before window %d (cfg %+v)", i, cfg)
				}
				for l := w.StartLine; l <= w.EndLine; l++ {
					covered[l] = true
				}
			}
			assert.Equal(t, 1, ws[0].StartLine)
			assert.Equal(t, total, ws[len(ws)-1].EndLine)
			for l := 1; l <= total; l++ {
				assert.True(t, covered[l], "line %d uncovered (total %d, cfg %+v)", l, total, cfg)
			}
		}
	}
}

func TestWindows_IsRestartable(t *testing.T) {
	t.Parallel()

	seq := chunker.Windows(numberedLines(40), chunker.Config{ChunkLines: 15, ChunkLinesOverlap: 5})

	var first, second []chunker.Window
	for w := range seq {
		first = append(first, w)
	}
	for w := range seq {
		second = append(second, w)
	}
	assert.Equal(t, first, second)

	count := 0
	for range seq {
		count++
		break
	}
	assert.Equal(t, 1, count)
}
