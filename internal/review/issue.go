// Package review turns retrieved context and prompt templates into
// validated security findings.
package review

import (
	"cmp"
	"math"
	"slices"
	"strings"
	"time"

	"seclens/internal/apperr"
)

// Severity is the impact of an issue.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// DefaultConfidence is used when the model omits a confidence.
const DefaultConfidence = 0.5

// NormalizeSeverity maps free-form model output onto low, medium or high.
// Anything unrecognised, including an empty value, becomes medium.
func NormalizeSeverity(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low", "info", "informational", "minor", "note":
		return SeverityLow
	case "high", "critical", "severe", "major", "error":
		return SeverityHigh
	default:
		return SeverityMedium
	}
}

// ClampConfidence forces c into [0, 1]. A missing or NaN value becomes
// DefaultConfidence.
func ClampConfidence(c *float64) float64 {
	if c == nil || math.IsNaN(*c) {
		return DefaultConfidence
	}
	return min(max(*c, 0), 1)
}

// Issue is one security finding.
type Issue struct {
	Title          string   `json:"title"`
	File           string   `json:"file"`
	Line           int      `json:"line,omitempty"`
	Severity       Severity `json:"severity"`
	Confidence     float64  `json:"confidence"`
	Description    string   `json:"description"`
	Recommendation string   `json:"recommendation,omitempty"`
	CodeSnippet    string   `json:"code_snippet,omitempty"`
	Validation     string   `json:"validation,omitempty"`
}

// Result is the outcome of a review command.
type Result struct {
	RunID     string               `json:"run_id"`
	Command   string               `json:"command"`
	Target    string               `json:"target"`
	Timestamp time.Time            `json:"timestamp"`
	Backend   string               `json:"backend"`
	Model     string               `json:"model"`
	Issues    []Issue              `json:"issues"`
	Summary   string               `json:"summary,omitempty"`
	Failures  []apperr.FileFailure `json:"failures,omitempty"`
	Notices   []string             `json:"notices,omitempty"`
}

// Answer is the outcome of an ask command.
type Answer struct {
	RunID     string    `json:"run_id"`
	Question  string    `json:"question"`
	Text      string    `json:"answer"`
	Sources   []string  `json:"sources,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Model     string    `json:"model"`
}

// SortIssues orders issues by file then line, keeping the model's order
// for issues on the same line.
func SortIssues(issues []Issue) {
	slices.SortStableFunc(issues, func(a, b Issue) int {
		return cmp.Or(cmp.Compare(a.File, b.File), cmp.Compare(a.Line, b.Line))
	})
}
