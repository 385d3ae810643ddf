package output

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"seclens/internal/chunker"
	"seclens/internal/review"
)

const (
	sarifVersion = "2.1.0"
	sarifSchema  = "https://json.schemastore.org/sarif-2.1.0.json"
	contextLines = 3
)

// RuleID is the single rule every finding is reported under.
const RuleID = "AI001"

// SARIFWriter outputs review findings in SARIF v2.1.0 format.
type SARIFWriter struct {
	Root    string
	Version string
}

func (s *SARIFWriter) Write(w io.Writer, payload any) error {
	res, ok := payload.(*review.Result)
	if !ok {
		return fmt.Errorf("SARIF output needs a review result, got %T", payload)
	}
	data, err := json.MarshalIndent(s.build(res), "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling SARIF: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing SARIF: %w", err)
	}
	_, err = fmt.Fprintln(w)
	return err
}

// SARIF schema types (v2.1.0)

type sarifLog struct {
	Version string     `json:"version"`
	Schema  string     `json:"$schema"`
	Runs    []sarifRun `json:"runs"`
}

type sarifRun struct {
	Tool              sarifTool       `json:"tool"`
	AutomationDetails sarifAutomation `json:"automationDetails"`
	Results           []sarifResult   `json:"results"`
}

type sarifAutomation struct {
	ID string `json:"id"`
}

type sarifTool struct {
	Driver sarifDriver `json:"driver"`
}

type sarifDriver struct {
	Name           string      `json:"name"`
	Version        string      `json:"version,omitempty"`
	InformationURI string      `json:"informationUri,omitempty"`
	Rules          []sarifRule `json:"rules"`
}

type sarifRule struct {
	ID               string             `json:"id"`
	Name             string             `json:"name"`
	ShortDescription sarifMessage       `json:"shortDescription"`
	FullDescription  sarifMessage       `json:"fullDescription"`
	DefaultConfig    sarifDefaultConfig `json:"defaultConfiguration"`
}

type sarifDefaultConfig struct {
	Level string `json:"level"`
}

type sarifResult struct {
	RuleID              string            `json:"ruleId"`
	Level               string            `json:"level"`
	Message             sarifMessage      `json:"message"`
	Locations           []sarifLocation   `json:"locations"`
	PartialFingerprints map[string]string `json:"partialFingerprints"`
	Fixes               []sarifFix        `json:"fixes,omitempty"`
	Properties          map[string]any    `json:"properties,omitempty"`
}

type sarifMessage struct {
	Text string `json:"text"`
}

type sarifLocation struct {
	PhysicalLocation sarifPhysicalLocation `json:"physicalLocation"`
}

type sarifPhysicalLocation struct {
	ArtifactLocation sarifArtifactLocation `json:"artifactLocation"`
	Region           sarifRegion           `json:"region"`
	ContextRegion    *sarifRegion          `json:"contextRegion,omitempty"`
}

type sarifArtifactLocation struct {
	URI string `json:"uri"`
}

type sarifRegion struct {
	StartLine int           `json:"startLine"`
	EndLine   int           `json:"endLine,omitempty"`
	Snippet   *sarifMessage `json:"snippet,omitempty"`
}

type sarifFix struct {
	Description sarifMessage `json:"description"`
}

var aiRule = sarifRule{
	ID:               RuleID,
	Name:             "AiSecurityRisk",
	ShortDescription: sarifMessage{Text: "AI-identified security vulnerability"},
	FullDescription: sarifMessage{Text: "A security issue detected by a language model. " +
		"Findings are heuristic and should be reviewed by a developer."},
	DefaultConfig: sarifDefaultConfig{Level: "warning"},
}

func (s *SARIFWriter) build(res *review.Result) sarifLog {
	files := make(map[string][]string)
	results := make([]sarifResult, 0, len(res.Issues))

	for _, is := range res.Issues {
		lines, ok := files[is.File]
		if !ok {
			lines = s.readLines(is.File)
			files[is.File] = lines
		}

		line := max(is.Line, 1)
		if len(lines) > 0 {
			line = min(line, len(lines))
		}
		loc := sarifPhysicalLocation{
			ArtifactLocation: sarifArtifactLocation{URI: is.File},
			Region:           sarifRegion{StartLine: line},
		}
		if snippet := strings.TrimSpace(is.CodeSnippet); snippet != "" {
			loc.Region.Snippet = &sarifMessage{Text: snippet}
		} else if line <= len(lines) {
			loc.Region.Snippet = &sarifMessage{Text: strings.TrimSpace(lines[line-1])}
		}
		if len(lines) > 0 {
			start := max(1, line-contextLines)
			end := min(len(lines), line+contextLines)
			loc.ContextRegion = &sarifRegion{
				StartLine: start,
				EndLine:   end,
				Snippet:   &sarifMessage{Text: strings.Join(lines[start-1:end], "\n")},
			}
		}

		text := is.Title
		if is.Description != "" {
			text += ": " + is.Description
		}
		r := sarifResult{
			RuleID:              RuleID,
			Level:               severityToLevel(is.Severity),
			Message:             sarifMessage{Text: text},
			Locations:           []sarifLocation{{PhysicalLocation: loc}},
			PartialFingerprints: map[string]string{"primaryLocationLineHash": fingerprint(is.File, line)},
			Properties: map[string]any{
				"severity":   string(is.Severity),
				"confidence": is.Confidence,
			},
		}
		if is.Validation != "" {
			r.Properties["validation"] = is.Validation
		}
		if is.Recommendation != "" {
			r.Fixes = []sarifFix{{Description: sarifMessage{Text: is.Recommendation}}}
		}
		results = append(results, r)
	}

	return sarifLog{
		Version: sarifVersion,
		Schema:  sarifSchema,
		Runs: []sarifRun{{
			Tool: sarifTool{Driver: sarifDriver{
				Name:    "seclens",
				Version: s.Version,
				Rules:   []sarifRule{aiRule},
			}},
			AutomationDetails: sarifAutomation{ID: res.Command + "/" + res.RunID},
			Results:           results,
		}},
	}
}

// readLines returns the lines of a file under Root, or nil when it cannot
// be read.
func (s *SARIFWriter) readLines(path string) []string {
	if s.Root == "" || path == "" {
		return nil
	}
	src, err := os.ReadFile(filepath.Join(s.Root, filepath.FromSlash(path)))
	if err != nil {
		return nil
	}
	return chunker.Lines(string(src))
}

func severityToLevel(s review.Severity) string {
	switch s {
	case review.SeverityHigh:
		return "error"
	case review.SeverityMedium:
		return "warning"
	default:
		return "note"
	}
}

func fingerprint(path string, line int) string {
	h := sha256.Sum256([]byte(path + ":" + strconv.Itoa(line) + ":" + RuleID))
	return hex.EncodeToString(h[:])
}
