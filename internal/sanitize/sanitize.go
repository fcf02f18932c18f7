// Package sanitize cleans text crossing the boundary between the note source
// and the similarity index. It maps deck names onto index namespace names and
// strips the HTML markup note fields carry before their text is embedded.
package sanitize

import (
	"html"
	"regexp"
	"strings"
)

// Namespace length bounds accepted by the similarity index.
const (
	MinNamespaceLength = 3
	MaxNamespaceLength = 63
)

// Pre-compiled regular expressions for performance.
var (
	// reXMLTag matches XML/HTML tags including those with attributes and self-closing tags.
	// It also matches XML processing instructions like <?xml ...?>.
	// It also matches unclosed tags at end-of-string and space-after-slash closing variants.
	reXMLTag = regexp.MustCompile(`<[/?!]?[a-zA-Z][a-zA-Z0-9]*(?:\s+[^>]*)?/?\s*>|<\?[^?]*\?>|</\s+[a-zA-Z][^>]*>|<[/?!]?[a-zA-Z][^>]*$`)

	// reHTMLComment matches HTML comments like <!-- anything -->.
	reHTMLComment = regexp.MustCompile(`<!--[\s\S]*?-->`)

	// reCDATA matches CDATA sections like <![CDATA[anything]]>.
	reCDATA = regexp.MustCompile(`<!\[CDATA\[[\s\S]*?\]\]>`)

	// reLineBreak matches tags that end a visual line in rendered field HTML.
	reLineBreak = regexp.MustCompile(`(?i)<br\s*/?>|</(?:div|p|li|tr|h[1-6])\s*>`)

	// reHorizontalSpace matches runs of spaces and tabs.
	reHorizontalSpace = regexp.MustCompile(`[ \t]+`)

	// reExcessiveNewlines matches 3 or more consecutive newlines.
	reExcessiveNewlines = regexp.MustCompile(`\n{3,}`)
)

// Namespace maps a collection name onto an index namespace name:
//  1. Replace every character outside [A-Za-z0-9_-] with '_'
//  2. Strip leading and trailing non-alphanumeric characters
//  3. Right-pad with '_' to MinNamespaceLength
//  4. Truncate to MaxNamespaceLength
//
// The mapping is pure: the same name always yields the same namespace.
func Namespace(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if isAlphanumeric(r) || r == '_' || r == '-' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}

	s := strings.TrimFunc(b.String(), func(r rune) bool { return !isAlphanumeric(r) })

	if len(s) < MinNamespaceLength {
		s += strings.Repeat("_", MinNamespaceLength-len(s))
	}
	if len(s) > MaxNamespaceLength {
		s = s[:MaxNamespaceLength]
	}
	return s
}

// FieldText converts a note field's HTML into the plain text that gets embedded.
//
// The pipeline runs in this order:
//  1. Strip ASCII control characters (except \n, \t)
//  2. Strip HTML comments and CDATA sections
//  3. Turn line-ending tags (<br>, </div>, </p>, ...) into newlines
//  4. Strip remaining XML/HTML tags
//  5. Decode HTML entities (&nbsp; becomes a plain space)
//  6. Collapse horizontal whitespace and trim every line
//  7. Collapse excessive newlines (3+ -> 2) and trim the result
func FieldText(input string) string {
	if input == "" {
		return ""
	}

	s := stripControlChars(input)

	s = reHTMLComment.ReplaceAllString(s, "")
	s = reCDATA.ReplaceAllString(s, "")

	s = reLineBreak.ReplaceAllString(s, "\n")
	s = reXMLTag.ReplaceAllString(s, "")

	s = html.UnescapeString(s)
	s = strings.ReplaceAll(s, "\u00a0", " ")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(reHorizontalSpace.ReplaceAllString(line, " "))
	}
	s = strings.Join(lines, "\n")

	s = reExcessiveNewlines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func isAlphanumeric(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// stripControlChars removes ASCII control characters (0x00-0x1F) and DEL (0x7F) from
// the string, except for newline (0x0A) and tab (0x09) which are preserved.
func stripControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r < 0x20 || r == 0x7F) && r != '\n' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
