package importer

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		opts        Options
		wantCards   []Card
		wantSkipped []int
	}{
		{
			name:  "blank line records",
			input: "What is 2+2?\n4\n\nCapital of Peru?\nLima\n",
			wantCards: []Card{
				{Record: 1, Front: "What is 2+2?", Back: "4"},
				{Record: 2, Front: "Capital of Peru?", Back: "Lima"},
			},
		},
		{
			name:        "multi-line back",
			input:       "Primary colors\nred\nyellow\n\nblue?\n",
			wantCards:   []Card{{Record: 1, Front: "Primary colors", Back: "red\nyellow"}},
			wantSkipped: []int{2},
		},
		{
			name:      "escaped newlines",
			input:     `Front\nBack line 1\nBack line 2`,
			wantCards: []Card{{Record: 1, Front: "Front", Back: "Back line 1\nBack line 2"}},
		},
		{
			name:  "custom delimiter keeps blank lines inside records",
			input: "Q1\n\nA1\n---\nQ2\nA2\n---\n",
			opts:  Options{Delimiter: "---"},
			wantCards: []Card{
				{Record: 1, Front: "Q1", Back: "A1"},
				{Record: 2, Front: "Q2", Back: "A2"},
			},
		},
		{
			name:        "front only records are skipped",
			input:       "lonely\n\n\n\nQ\nA\n\nalso lonely",
			wantCards:   []Card{{Record: 2, Front: "Q", Back: "A"}},
			wantSkipped: []int{1, 3},
		},
		{
			name:      "windows line endings",
			input:     "Q\r\nA\r\n\r\nQ2\r\nA2",
			wantCards: []Card{{Record: 1, Front: "Q", Back: "A"}, {Record: 2, Front: "Q2", Back: "A2"}},
		},
		{
			name:  "empty input",
			input: "\n\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(strings.NewReader(tt.input), tt.opts)
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if !reflect.DeepEqual(got.Cards, tt.wantCards) {
				t.Errorf("Parse() cards = %+v, want %+v", got.Cards, tt.wantCards)
			}
			if !reflect.DeepEqual(got.Skipped, tt.wantSkipped) {
				t.Errorf("Parse() skipped = %v, want %v", got.Skipped, tt.wantSkipped)
			}
		})
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk gone") }

func TestParse_ReadError(t *testing.T) {
	if _, err := Parse(failingReader{}, Options{}); err == nil {
		t.Error("Parse() expected error")
	}
}
