// Package output writes command results to files and renders them for the
// terminal.
//
// Three formats are supported:
//   - json     structured result document (default)
//   - sarif    SARIF v2.1.0 for code-scanning upload, review results only
//   - markdown human-readable report, rendered with glamour by the shell
package output

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Supported formats.
const (
	FormatJSON     = "json"
	FormatSARIF    = "sarif"
	FormatMarkdown = "markdown"
)

// Writer writes a payload in one format. Payloads are *review.Result,
// *review.Answer or *index.Stats.
type Writer interface {
	Write(w io.Writer, payload any) error
}

// Sink selects writers and carries what SARIF needs to locate sources.
type Sink struct {
	// Root is the codebase directory issue paths are relative to.
	Root    string
	Version string
}

// GetWriter returns a writer for the given format.
func (s Sink) GetWriter(format string) (Writer, error) {
	switch format {
	case "", FormatJSON:
		return &JSONWriter{}, nil
	case FormatSARIF:
		return &SARIFWriter{Root: s.Root, Version: s.Version}, nil
	case FormatMarkdown, "md":
		return &MarkdownWriter{}, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

// Write writes payload to path, creating parent directories, and returns
// the path written.
func (s Sink) Write(path, format string, payload any) (string, error) {
	w, err := s.GetWriter(FormatFor(path, format))
	if err != nil {
		return "", err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create output directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating output file: %w", err)
	}
	if err := w.Write(f, payload); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing output file: %w", err)
	}
	return path, nil
}

// Write writes payload to path with a zero Sink.
func Write(path, format string, payload any) (string, error) {
	return Sink{}.Write(path, format, payload)
}

// FormatFor picks the output format. An explicit format wins; otherwise a
// .sarif extension selects SARIF, .md selects markdown and anything else
// JSON.
func FormatFor(path, format string) string {
	if format != "" {
		return strings.ToLower(format)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".sarif":
		return FormatSARIF
	case ".md":
		return FormatMarkdown
	default:
		return FormatJSON
	}
}

// DefaultPath is where a command's result goes when no output file was
// given: <dir>/<command>_<YYYYMMDD_HHMMSS>.json.
func DefaultPath(dir, command string, now time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s.json", command, now.Format("20060102_150405")))
}
