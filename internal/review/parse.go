package review

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// rawIssue is an issue as the model writes it.
type rawIssue struct {
	Issue       string     `json:"issue"`
	Title       string     `json:"title"`
	CodeSnippet string     `json:"code_snippet"`
	LineNumber  flexNumber `json:"line_number"`
	Line        flexNumber `json:"line"`
	Severity    string     `json:"severity"`
	Confidence  flexNumber `json:"confidence"`
	Reasoning   string     `json:"reasoning"`
	Description string     `json:"description"`
	Mitigation  string     `json:"mitigation"`
	Recommend   string     `json:"recommendation"`
}

type rawValidation struct {
	Issue      string     `json:"issue"`
	Valid      flexBool   `json:"valid"`
	Confidence flexNumber `json:"confidence"`
	Reason     string     `json:"reason"`
}

// flexNumber accepts a JSON number, a numeric string or null.
type flexNumber struct {
	Value *float64
}

func (n *flexNumber) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var s string
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "%")
		if s == "" {
			return nil
		}
	} else {
		s = string(b)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		// Non-numeric values such as "unknown" are treated as absent.
		return nil
	}
	n.Value = &f
	return nil
}

// Int returns the value truncated to an int, or 0 when absent or negative.
func (n flexNumber) Int() int {
	if n.Value == nil || *n.Value < 0 {
		return 0
	}
	return int(*n.Value)
}

// flexBool accepts true/false, "true"/"false"/"yes"/"no" or null.
type flexBool struct {
	Set   bool
	Value bool
}

func (v *flexBool) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch t := raw.(type) {
	case bool:
		v.Set, v.Value = true, t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "valid":
			v.Set, v.Value = true, true
		case "false", "no", "invalid":
			v.Set, v.Value = true, false
		}
	}
	return nil
}

// extractJSON strips markdown fences and any prose around the outermost
// JSON object or array.
func extractJSON(text string) string {
	s := strings.TrimSpace(text)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	s = strings.TrimSpace(s)

	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end < start {
		return s[start:]
	}
	return s[start : end+1]
}

var errNoJSON = errors.New("response contains no JSON")

// parseReviews decodes a {"reviews": [...]} document. A bare array is
// accepted as the list itself.
func parseReviews(text string) ([]rawIssue, error) {
	body := extractJSON(text)
	if body == "" || (body[0] != '{' && body[0] != '[') {
		return nil, errNoJSON
	}
	if body[0] == '[' {
		var list []rawIssue
		if err := json.Unmarshal([]byte(body), &list); err != nil {
			return nil, fmt.Errorf("decode issue list: %w", err)
		}
		return list, nil
	}

	var doc struct {
		Reviews *[]rawIssue `json:"reviews"`
	}
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("decode review: %w", err)
	}
	if doc.Reviews == nil {
		return nil, errors.New(`response has no "reviews" field`)
	}
	return *doc.Reviews, nil
}

// parseValidations decodes a {"validations": [...]} document.
func parseValidations(text string) ([]rawValidation, error) {
	body := extractJSON(text)
	if body == "" || (body[0] != '{' && body[0] != '[') {
		return nil, errNoJSON
	}
	if body[0] == '[' {
		var list []rawValidation
		if err := json.Unmarshal([]byte(body), &list); err != nil {
			return nil, fmt.Errorf("decode validation list: %w", err)
		}
		return list, nil
	}

	var doc struct {
		Validations *[]rawValidation `json:"validations"`
	}
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("decode validation: %w", err)
	}
	if doc.Validations == nil {
		return nil, errors.New(`response has no "validations" field`)
	}
	return *doc.Validations, nil
}

// normalize converts a raw issue into an Issue for file.
func (r rawIssue) normalize(file string) Issue {
	title := strings.TrimSpace(r.Issue)
	if title == "" {
		title = strings.TrimSpace(r.Title)
	}
	if title == "" {
		title = "Untitled finding"
	}
	line := r.LineNumber.Int()
	if line == 0 {
		line = r.Line.Int()
	}
	return Issue{
		Title:          title,
		File:           file,
		Line:           line,
		Severity:       NormalizeSeverity(r.Severity),
		Confidence:     ClampConfidence(r.Confidence.Value),
		Description:    strings.TrimSpace(firstNonEmpty(r.Reasoning, r.Description)),
		Recommendation: strings.TrimSpace(firstNonEmpty(r.Mitigation, r.Recommend)),
		CodeSnippet:    strings.TrimSpace(r.CodeSnippet),
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
