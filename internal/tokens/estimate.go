// Package tokens provides token estimation utilities used to keep embedded
// text within an embedding model's context window.
package tokens

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// charsPerToken is the common heuristic of ~4 characters per token for English text.
const charsPerToken = 4

// EstimateTokens provides a rough token count estimate for text.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + charsPerToken - 1) / charsPerToken
}

// Truncate shortens text so EstimateTokens(result) <= maxTokens, cutting at the
// last whitespace inside the budget when there is one. A non-positive
// maxTokens disables truncation.
func Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 || EstimateTokens(text) <= maxTokens {
		return text
	}

	limit := maxTokens * charsPerToken
	// Back up to a rune boundary.
	for limit > 0 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	cut := text[:limit]

	if i := strings.LastIndexFunc(cut, unicode.IsSpace); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimRightFunc(cut, unicode.IsSpace)
}
