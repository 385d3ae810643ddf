package output_test

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"seclens/internal/apperr"
	"seclens/internal/index"
	"seclens/internal/output"
	"seclens/internal/review"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleResult() *review.Result {
	return &review.Result{
		RunID:   "run-1",
		Command: "review_file",
		Target:  "src/parse.c",
		Issues: []review.Issue{
			{
				Title:          "Stack buffer overflow",
				File:           "src/parse.c",
				Line:           5,
				Severity:       review.SeverityHigh,
				Confidence:     0.9,
				Description:    "in is copied without a bound",
				Recommendation: "use strlcpy",
				Validation:     "confirmed",
			},
			{
				Title:      "Unchecked return",
				File:       "src/parse.c",
				Severity:   review.SeverityLow,
				Confidence: 0.5,
			},
		},
		Failures: []apperr.FileFailure{{Path: "src/bad.c", Stage: "complete", Message: "boom"}},
	}
}

func TestFormatFor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, output.FormatJSON, output.FormatFor("out.json", ""))
	assert.Equal(t, output.FormatSARIF, output.FormatFor("out.SARIF", ""))
	assert.Equal(t, output.FormatMarkdown, output.FormatFor("report.md", ""))
	assert.Equal(t, output.FormatSARIF, output.FormatFor("out.json", "SARIF"))
	assert.Equal(t, output.FormatJSON, output.FormatFor("", ""))
}

func TestDefaultPath(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 9, 14, 5, 7, 0, time.UTC)
	assert.Equal(t, filepath.Join("results", "review_code_20250309_140507.json"),
		output.DefaultPath("results", "review_code", now))
}

func TestWrite_JSON(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "result.json")
	got, err := output.Write(path, "", sampleResult())
	require.NoError(t, err)
	assert.Equal(t, path, got)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var parsed review.Result
	require.NoError(t, json.Unmarshal(data, &parsed))
	assert.Equal(t, "run-1", parsed.RunID)
	require.Len(t, parsed.Issues, 2)
	assert.Equal(t, review.SeverityHigh, parsed.Issues[0].Severity)
	require.Len(t, parsed.Failures, 1)
}

func TestWrite_UnknownFormat(t *testing.T) {
	t.Parallel()

	_, err := output.Write(filepath.Join(t.TempDir(), "x"), "xml", sampleResult())
	assert.Error(t, err)
}

func TestSARIF(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0o755))
	src := "#include <string.h>\n\nint parse(char *in) {\n\tchar buf[16];\n\tstrcpy(buf, in);\n\treturn 0;\n}\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "parse.c"), []byte(src), 0o644))

	var buf bytes.Buffer
	w, err := output.Sink{Root: root, Version: "1.2.3"}.GetWriter(output.FormatSARIF)
	require.NoError(t, err)
	require.NoError(t, w.Write(&buf, sampleResult()))

	var log struct {
		Version string `json:"version"`
		Runs    []struct {
			Tool struct {
				Driver struct {
					Version string `json:"version"`
					Rules   []struct {
						ID string `json:"id"`
					} `json:"rules"`
				} `json:"driver"`
			} `json:"tool"`
			Results []struct {
				RuleID    string `json:"ruleId"`
				Level     string `json:"level"`
				Locations []struct {
					PhysicalLocation struct {
						ArtifactLocation struct {
							URI string `json:"uri"`
						} `json:"artifactLocation"`
						Region struct {
							StartLine int `json:"startLine"`
							Snippet   struct {
								Text string `json:"text"`
							} `json:"snippet"`
						} `json:"region"`
						ContextRegion struct {
							StartLine int `json:"startLine"`
							EndLine   int `json:"endLine"`
						} `json:"contextRegion"`
					} `json:"physicalLocation"`
				} `json:"locations"`
				Fixes []struct{} `json:"fixes"`
			} `json:"results"`
		} `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &log))

	assert.Equal(t, "2.1.0", log.Version)
	require.Len(t, log.Runs, 1)
	run := log.Runs[0]
	assert.Equal(t, "1.2.3", run.Tool.Driver.Version)
	require.Len(t, run.Tool.Driver.Rules, 1)
	assert.Equal(t, output.RuleID, run.Tool.Driver.Rules[0].ID)
	require.Len(t, run.Results, 2)

	first := run.Results[0]
	assert.Equal(t, "AI001", first.RuleID)
	assert.Equal(t, "error", first.Level)
	assert.Len(t, first.Fixes, 1)
	loc := first.Locations[0].PhysicalLocation
	assert.Equal(t, "src/parse.c", loc.ArtifactLocation.URI)
	assert.Equal(t, 5, loc.Region.StartLine)
	assert.Equal(t, "strcpy(buf, in);", loc.Region.Snippet.Text)
	assert.Equal(t, 2, loc.ContextRegion.StartLine)
	assert.Equal(t, 7, loc.ContextRegion.EndLine)

	second := run.Results[1]
	assert.Equal(t, "note", second.Level)
	assert.Equal(t, 1, second.Locations[0].PhysicalLocation.Region.StartLine)
}

func TestSARIF_RejectsNonReview(t *testing.T) {
	t.Parallel()

	w, err := output.Sink{}.GetWriter(output.FormatSARIF)
	require.NoError(t, err)
	assert.Error(t, w.Write(&bytes.Buffer{}, &review.Answer{Text: "x"}))
}

func TestMarkdown(t *testing.T) {
	t.Parallel()

	md, err := output.Markdown(sampleResult())
	require.NoError(t, err)
	assert.Contains(t, md, "### Stack buffer overflow")
	assert.Contains(t, md, "`src/parse.c:5`")
	assert.Contains(t, md, "| High | 1 |")
	assert.Contains(t, md, "`src/bad.c` (complete): boom")

	md, err = output.Markdown(&review.Answer{Text: "It is in parse.", Sources: []string{"a.c:1-3"}})
	require.NoError(t, err)
	assert.Contains(t, md, "`a.c:1-3`")

	md, err = output.Markdown(&index.Stats{FilesTotal: 3, ChunksUpserted: 7})
	require.NoError(t, err)
	assert.Contains(t, md, "3 total")
	assert.Contains(t, md, "7 upserted")

	_, err = output.Markdown(42)
	assert.Error(t, err)
}
