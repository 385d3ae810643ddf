package review

import "strings"

// charsPerToken approximates how many characters make one model token.
const charsPerToken = 4

// EstimateTokens approximates the token count of text.
func EstimateTokens(text string) int {
	return (len(text) + charsPerToken - 1) / charsPerToken
}

// SplitByTokens splits text at line boundaries into parts of at most
// maxTokens estimated tokens. A single line longer than the limit becomes
// its own part. maxTokens <= 0 disables splitting.
func SplitByTokens(text string, maxTokens int) []string {
	if maxTokens <= 0 || EstimateTokens(text) <= maxTokens {
		return []string{text}
	}

	var (
		parts []string
		cur   strings.Builder
	)
	for _, line := range strings.SplitAfter(text, "\n") {
		if line == "" {
			continue
		}
		if cur.Len() > 0 && (cur.Len()+len(line)+charsPerToken-1)/charsPerToken > maxTokens {
			parts = append(parts, cur.String())
			cur.Reset()
		}
		cur.WriteString(line)
	}
	if cur.Len() > 0 {
		parts = append(parts, cur.String())
	}
	return parts
}
