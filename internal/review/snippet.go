package review

import (
	"strings"
	"unicode"

	"github.com/pmezard/go-difflib/difflib"
)

// SnippetThreshold is the minimum similarity for a snippet to match.
const SnippetThreshold = 0.80

// FindSnippetLine returns the 1-based line where snippet starts in lines,
// comparing whitespace-stripped text. The first window whose similarity
// ratio reaches threshold wins. It returns 0 when nothing matches.
func FindSnippetLine(snippet string, lines []string, threshold float64) int {
	snippetLines := strings.Split(strings.TrimSpace(snippet), "\n")
	want := squash(snippetLines)
	if want == "" || len(snippetLines) > len(lines) {
		return 0
	}
	wantChars := chars(want)

	for i := 0; i+len(snippetLines) <= len(lines); i++ {
		got := squash(lines[i : i+len(snippetLines)])
		if got == want {
			return i + 1
		}
		// Upper bound on the ratio from the lengths alone.
		total := len(got) + len(want)
		if total == 0 || 2*float64(min(len(got), len(want)))/float64(total) < threshold {
			continue
		}
		m := difflib.NewMatcher(chars(got), wantChars)
		if m.Ratio() >= threshold {
			return i + 1
		}
	}
	return 0
}

func squash(lines []string) string {
	var b strings.Builder
	for _, l := range lines {
		for _, r := range l {
			if !unicode.IsSpace(r) {
				b.WriteRune(r)
			}
		}
	}
	return b.String()
}

func chars(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}
