// Package importer reads bulk card files: plain-text records separated by a
// delimiter line, front on the first line and back on the rest.
package importer

import (
	"fmt"
	"io"
	"strings"
)

// Options controls parsing.
type Options struct {
	// Delimiter is a line that separates records. Empty means records are
	// separated by one or more blank lines.
	Delimiter string
}

// Card is one parsed record.
type Card struct {
	// Record is the 1-based position of the record in the file.
	Record int    `json:"record"`
	Front  string `json:"front"`
	Back   string `json:"back"`
}

// Result is the outcome of Parse.
type Result struct {
	Cards []Card `json:"cards"`
	// Skipped lists the record numbers that had no back text.
	Skipped []int `json:"skipped,omitempty"`
}

// Parse reads every record from r. Literal `\n` sequences are turned into
// line breaks before records are split.
func Parse(r io.Reader, opts Options) (Result, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return Result{}, fmt.Errorf("read import file: %w", err)
	}
	content := strings.ReplaceAll(string(raw), `\n`, "\n")
	content = strings.ReplaceAll(content, "\r\n", "\n")
	delim := strings.TrimSpace(opts.Delimiter)

	var (
		res     Result
		current []string
		number  int
	)
	flush := func() {
		if len(current) == 0 {
			return
		}
		number++
		if len(current) < 2 {
			res.Skipped = append(res.Skipped, number)
		} else {
			res.Cards = append(res.Cards, Card{
				Record: number,
				Front:  current[0],
				Back:   strings.Join(current[1:], "\n"),
			})
		}
		current = nil
	}

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case delim != "" && trimmed == delim:
			flush()
		case trimmed == "":
			if delim == "" {
				flush()
			}
		default:
			current = append(current, trimmed)
		}
	}
	flush()
	return res, nil
}
