package output

import (
	"fmt"
	"io"
	"strings"

	"seclens/internal/index"
	"seclens/internal/review"
)

// MarkdownWriter outputs a human-readable report.
type MarkdownWriter struct{}

func (m *MarkdownWriter) Write(w io.Writer, payload any) error {
	var b strings.Builder
	switch p := payload.(type) {
	case *review.Result:
		writeResult(&b, p)
	case *review.Answer:
		writeAnswer(&b, p)
	case *index.Stats:
		writeStats(&b, p)
	default:
		return fmt.Errorf("no markdown rendering for %T", payload)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// Markdown renders payload with MarkdownWriter.
func Markdown(payload any) (string, error) {
	var b strings.Builder
	if err := (&MarkdownWriter{}).Write(&b, payload); err != nil {
		return "", err
	}
	return b.String(), nil
}

func writeResult(b *strings.Builder, res *review.Result) {
	counts := map[review.Severity]int{}
	for _, is := range res.Issues {
		counts[is.Severity]++
	}

	fmt.Fprintf(b, "## %s: %s\n\n", res.Command, res.Target)
	fmt.Fprintf(b, "| Severity | Count |\n|----------|-------|\n")
	fmt.Fprintf(b, "| High | %d |\n| Medium | %d |\n| Low | %d |\n\n",
		counts[review.SeverityHigh], counts[review.SeverityMedium], counts[review.SeverityLow])

	if res.Summary != "" {
		fmt.Fprintf(b, "%s\n\n", res.Summary)
	}
	if len(res.Issues) == 0 {
		b.WriteString("No issues found.\n\n")
	}
	for _, is := range res.Issues {
		loc := is.File
		if is.Line > 0 {
			loc = fmt.Sprintf("%s:%d", is.File, is.Line)
		}
		fmt.Fprintf(b, "### %s\n\n", is.Title)
		fmt.Fprintf(b, "**`%s`** | %s | Confidence: %.0f%%\n\n", loc, strings.ToUpper(string(is.Severity)), is.Confidence*100)
		if is.Description != "" {
			fmt.Fprintf(b, "%s\n\n", is.Description)
		}
		if is.CodeSnippet != "" {
			fmt.Fprintf(b, "```\n%s\n```\n\n", is.CodeSnippet)
		}
		if is.Recommendation != "" {
			fmt.Fprintf(b, "> %s\n\n", strings.ReplaceAll(is.Recommendation, "\n", "\n> "))
		}
		if is.Validation != "" {
			fmt.Fprintf(b, "*Validation: %s*\n\n", is.Validation)
		}
	}
	writeFailures(b, res)
}

func writeFailures(b *strings.Builder, res *review.Result) {
	if len(res.Failures) > 0 {
		b.WriteString("#### Failed files\n\n")
		for _, f := range res.Failures {
			fmt.Fprintf(b, "- `%s` (%s): %s\n", f.Path, f.Stage, f.Message)
		}
		b.WriteString("\n")
	}
	if len(res.Notices) > 0 {
		b.WriteString("#### Notices\n\n")
		for _, n := range res.Notices {
			fmt.Fprintf(b, "- %s\n", n)
		}
		b.WriteString("\n")
	}
}

func writeAnswer(b *strings.Builder, a *review.Answer) {
	fmt.Fprintf(b, "%s\n\n", a.Text)
	if len(a.Sources) > 0 {
		b.WriteString("**Sources:** ")
		for i, s := range a.Sources {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(b, "`%s`", s)
		}
		b.WriteString("\n")
	}
}

func writeStats(b *strings.Builder, s *index.Stats) {
	fmt.Fprintf(b, "- Files: %d total, %d changed, %d unchanged, %d removed\n",
		s.FilesTotal, s.FilesChanged, s.FilesUnchanged, s.FilesRemoved)
	fmt.Fprintf(b, "- Chunks: %d upserted, %d deleted, %d unchanged\n",
		s.ChunksUpserted, s.ChunksDeleted, s.ChunksUnchanged)
	for _, f := range s.Failures {
		fmt.Fprintf(b, "- Failed `%s` (%s): %s\n", f.Path, f.Stage, f.Message)
	}
	for _, n := range s.Notices {
		fmt.Fprintf(b, "- %s\n", n)
	}
}
