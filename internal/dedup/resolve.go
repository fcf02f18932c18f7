package dedup

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/nvandessel/cardsync/internal/models"
)

// ActionKind is what to do with a proposed note.
type ActionKind int

const (
	// AddNew creates the proposed note alongside any similar ones.
	AddNew ActionKind = iota
	// Overwrite replaces a similar note's fields with the proposal.
	Overwrite
	// Skip drops the proposal.
	Skip
	// Quit drops the proposal and stops a bulk import.
	Quit
)

func (k ActionKind) String() string {
	switch k {
	case AddNew:
		return "add"
	case Overwrite:
		return "overwrite"
	case Skip:
		return "skip"
	case Quit:
		return "quit"
	default:
		return fmt.Sprintf("ActionKind(%d)", int(k))
	}
}

// MarshalText renders the kind by name in JSON output.
func (k ActionKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ErrInvalidChoice is returned for choices that cannot be applied to the
// candidate list.
var ErrInvalidChoice = errors.New("invalid choice")

// Choice is the caller's decision. Index is the 1-based position of the
// candidate to overwrite and is ignored for other kinds.
type Choice struct {
	Kind  ActionKind
	Index int
}

// ParseChoice reads a choice in prompt form: "0" adds a new note, "1".."N"
// overwrite that candidate, "s" skips, "c" cancels (skip), "q" quits.
func ParseChoice(s string) (Choice, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "0", "a", "add", "new":
		return Choice{Kind: AddNew}, nil
	case "s", "skip", "c", "cancel":
		return Choice{Kind: Skip}, nil
	case "q", "quit":
		return Choice{Kind: Quit}, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return Choice{}, fmt.Errorf("%w: %q", ErrInvalidChoice, s)
	}
	return Choice{Kind: Overwrite, Index: n}, nil
}

// Action is a resolved decision. Target is set only for Overwrite.
type Action struct {
	Kind   ActionKind
	Target *models.DuplicateCandidate
}

// Resolve maps candidates and a choice to an action. It has no side effects.
// Without candidates there is nothing to overwrite and every choice other
// than Skip or Quit adds the note.
func Resolve(candidates []models.DuplicateCandidate, choice Choice) (Action, error) {
	switch choice.Kind {
	case Skip, Quit:
		return Action{Kind: choice.Kind}, nil
	case AddNew:
		return Action{Kind: AddNew}, nil
	case Overwrite:
		if len(candidates) == 0 {
			return Action{Kind: AddNew}, nil
		}
		if choice.Index < 1 || choice.Index > len(candidates) {
			return Action{}, fmt.Errorf("%w: overwrite #%d of %d candidates", ErrInvalidChoice, choice.Index, len(candidates))
		}
		target := candidates[choice.Index-1]
		return Action{Kind: Overwrite, Target: &target}, nil
	default:
		return Action{}, fmt.Errorf("%w: %v", ErrInvalidChoice, choice.Kind)
	}
}
