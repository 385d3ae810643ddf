package review

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReviews(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		text    string
		want    int
		wantErr bool
	}{
		{name: "plain", text: `{"reviews": [{"issue": "a"}]}`, want: 1},
		{name: "fenced", text: "```json\n{\"reviews\": [{\"issue\": \"a\"}, {\"issue\": \"b\"}]}\n```", want: 2},
		{name: "prose around", text: "Here you go:\n{\"reviews\": []}\nHope this helps.", want: 0},
		{name: "bare array", text: `[{"issue": "a"}]`, want: 1},
		{name: "no reviews field", text: `{"findings": []}`, wantErr: true},
		{name: "not json", text: "I could not find anything.", wantErr: true},
		{name: "broken json", text: `{"reviews": [{"issue": }`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := parseReviews(tt.text)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
		})
	}
}

func TestRawIssue_Normalize(t *testing.T) {
	t.Parallel()

	raws, err := parseReviews(`{"reviews": [
		{"issue": " Overflow ", "line_number": "12", "severity": "CRITICAL", "confidence": 1.7,
		 "reasoning": "unbounded copy", "mitigation": "use strncpy", "code_snippet": " strcpy(a, b); "},
		{"title": "Leak", "line_number": null, "confidence": "n/a"},
		{"severity": "weird", "confidence": -3, "line": 4}
	]}`)
	require.NoError(t, err)
	require.Len(t, raws, 3)

	a := raws[0].normalize("x.c")
	assert.Equal(t, Issue{
		Title:          "Overflow",
		File:           "x.c",
		Line:           12,
		Severity:       SeverityHigh,
		Confidence:     1,
		Description:    "unbounded copy",
		Recommendation: "use strncpy",
		CodeSnippet:    "strcpy(a, b);",
	}, a)

	b := raws[1].normalize("x.c")
	assert.Equal(t, "Leak", b.Title)
	assert.Zero(t, b.Line)
	assert.Equal(t, SeverityMedium, b.Severity)
	assert.Equal(t, DefaultConfidence, b.Confidence)

	c := raws[2].normalize("x.c")
	assert.Equal(t, "Untitled finding", c.Title)
	assert.Equal(t, 4, c.Line)
	assert.Equal(t, SeverityMedium, c.Severity)
	assert.Zero(t, c.Confidence)
}

func TestParseValidations(t *testing.T) {
	t.Parallel()

	vals, err := parseValidations("```\n{\"validations\": [{\"issue\": \"a\", \"valid\": \"yes\"}, {\"issue\": \"b\", \"valid\": false}]}\n```")
	require.NoError(t, err)
	require.Len(t, vals, 2)
	assert.True(t, vals[0].Valid.Set && vals[0].Valid.Value)
	assert.True(t, vals[1].Valid.Set)
	assert.False(t, vals[1].Valid.Value)

	_, err = parseValidations(`{"reviews": []}`)
	assert.Error(t, err)
}

func TestFindSnippetLine(t *testing.T) {
	t.Parallel()

	lines := strings.Split("int main(void) {\n  char buf[8];\n  strcpy(buf, argv[1]);\n  return 0;\n}", "\n")

	assert.Equal(t, 3, FindSnippetLine("strcpy(buf, argv[1]);", lines, SnippetThreshold))
	assert.Equal(t, 2, FindSnippetLine("char buf[8];\n    strcpy(buf,argv[1]);", lines, SnippetThreshold))
	// Close enough: one character differs.
	assert.Equal(t, 3, FindSnippetLine("strcpy(buf, argv[2]);", lines, SnippetThreshold))
	assert.Zero(t, FindSnippetLine("system(cmd);", lines, SnippetThreshold))
	assert.Zero(t, FindSnippetLine("", lines, SnippetThreshold))
}

func TestSplitByTokens(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("abcdefg\n", 10) // 80 chars, 20 tokens
	assert.Equal(t, []string{text}, SplitByTokens(text, 0))
	assert.Equal(t, []string{text}, SplitByTokens(text, 20))

	parts := SplitByTokens(text, 4) // two lines per part
	require.Len(t, parts, 5)
	for _, p := range parts {
		assert.Equal(t, "abcdefg\nabcdefg\n", p)
	}
	assert.Equal(t, text, strings.Join(parts, ""))
}

func TestNormalizeSeverityAndClamp(t *testing.T) {
	t.Parallel()

	assert.Equal(t, SeverityLow, NormalizeSeverity("Info"))
	assert.Equal(t, SeverityHigh, NormalizeSeverity(" high "))
	assert.Equal(t, SeverityMedium, NormalizeSeverity(""))

	f := 0.3
	assert.Equal(t, 0.3, ClampConfidence(&f))
	assert.Equal(t, DefaultConfidence, ClampConfidence(nil))
}

func TestTruncate_KeepsRunesWhole(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "ab", truncate("abcd", 2))

	// "é" is two bytes; cutting inside it drops the whole rune.
	s := "aé" + strings.Repeat("x", 5)
	assert.Equal(t, "a", truncate(s, 2))
	assert.Equal(t, "aé", truncate(s, 3))
	assert.True(t, utf8.ValidString(truncate("日本語", 4)))
	assert.Equal(t, "日", truncate("日本語", 4))

	q := contextQuery("a.c", []byte("x"+strings.Repeat("é", maxQueryChars)))
	assert.True(t, utf8.ValidString(q))
	assert.True(t, utf8.ValidString(corrective("u", "x"+strings.Repeat("ü", 1500), errors.New("bad"))))
}
