// Package chunker splits file content into overlapping line windows and
// annotates them with the source symbols they cover.
package chunker

import (
	"iter"
	"strings"
)

// Config bounds the windows produced by Windows.
type Config struct {
	ChunkLines        int
	ChunkLinesOverlap int
	MaxChars          int // 0 disables the character cap
}

// Window is a contiguous 1-based, inclusive line range of a file.
type Window struct {
	StartLine int
	EndLine   int
	Content   string
}

// Lines splits content into lines. A trailing newline does not start a new
// line, so "a\nb\n" has two lines and "" has none.
func Lines(content string) []string {
	if content == "" {
		return nil
	}
	lines := strings.Split(content, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// Windows returns the windows covering content. Consecutive windows share
// ChunkLinesOverlap lines, clamped to ChunkLines-1. A window longer than
// MaxChars is cut further at line boundaries; a single line longer than
// MaxChars becomes its own window. The sequence can be ranged over any
// number of times and always yields the same windows.
func Windows(content string, cfg Config) iter.Seq[Window] {
	return func(yield func(Window) bool) {
		lines := Lines(content)
		total := len(lines)
		if total == 0 {
			return
		}

		size := cfg.ChunkLines
		if size <= 0 || size > total {
			size = total
		}
		overlap := cfg.ChunkLinesOverlap
		if overlap < 0 {
			overlap = 0
		}
		if overlap >= size {
			overlap = size - 1
		}

		for start := 1; ; {
			end := min(start+size-1, total)
			if !emit(lines, start, end, cfg.MaxChars, yield) {
				return
			}
			if end == total {
				return
			}
			start = end - overlap + 1
		}
	}
}

// Split collects Windows into a slice.
func Split(content string, cfg Config) []Window {
	var out []Window
	for w := range Windows(content, cfg) {
		out = append(out, w)
	}
	return out
}

// emit yields lines[start..end] (1-based), cut into pieces no longer than
// maxChars where possible.
func emit(lines []string, start, end, maxChars int, yield func(Window) bool) bool {
	if maxChars <= 0 {
		return yield(window(lines, start, end))
	}

	pieceStart := start
	size := 0
	for n := start; n <= end; n++ {
		lineLen := len(lines[n-1])
		if n > pieceStart {
			lineLen++ // separator
		}
		if n > pieceStart && size+lineLen > maxChars {
			if !yield(window(lines, pieceStart, n-1)) {
				return false
			}
			pieceStart = n
			size = len(lines[n-1])
			continue
		}
		size += lineLen
	}
	return yield(window(lines, pieceStart, end))
}

func window(lines []string, start, end int) Window {
	return Window{
		StartLine: start,
		EndLine:   end,
		Content:   strings.Join(lines[start-1:end], "\n"),
	}
}
