package models

import (
	"strings"

	"github.com/nvandessel/cardsync/internal/sanitize"
)

// Collection pairs a note source filter with one similarity index namespace.
type Collection struct {
	// Name is the human-readable deck name.
	Name string `json:"name"`
	// Namespace is the sanitized index namespace derived from Name.
	Namespace string `json:"namespace"`
	// Filter selects the collection's notes in the note source.
	Filter string `json:"filter"`
}

// NewCollection derives the namespace and note filter for a deck.
func NewCollection(deck string) Collection {
	return Collection{
		Name:      deck,
		Namespace: sanitize.Namespace(deck),
		Filter:    DeckFilter(deck),
	}
}

var deckEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, `*`, `\*`, `_`, `\_`)

// DeckFilter builds the search query selecting every note of a deck.
// Wildcard characters in the deck name are escaped so they match literally.
func DeckFilter(deck string) string {
	return `deck:"` + deckEscaper.Replace(deck) + `"`
}
