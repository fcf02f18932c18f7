package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/nvandessel/cardsync/internal/cards"
	"github.com/nvandessel/cardsync/internal/dedup"
	"github.com/nvandessel/cardsync/internal/importer"
	"github.com/nvandessel/cardsync/internal/models"
)

// threshold returns --threshold when given, else the configured default.
func threshold(cmd *cobra.Command, a *app) float64 {
	if cmd.Flags().Changed("threshold") {
		v, _ := cmd.Flags().GetFloat64("threshold")
		return v
	}
	return a.cfg.Dedup.Threshold
}

func addCardFlags(cmd *cobra.Command) {
	cmd.Flags().String("front", "", "Front text (required)")
	cmd.Flags().String("back", "", "Back text")
	cmd.Flags().Float64("threshold", 0.8, "Minimum similarity in [0, 1] to report a duplicate")
}

func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check <deck>",
		Short: "List indexed cards similar to a proposed card",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			front, _ := cmd.Flags().GetString("front")
			back, _ := cmd.Flags().GetString("back")
			if strings.TrimSpace(front) == "" {
				return errors.New("--front is required")
			}

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			found, err := a.cards.Check(cmd.Context(), models.NewCollection(args[0]), cards.Proposal{Front: front, Back: back}, threshold(cmd, a))
			if err != nil {
				return a.explain(fmt.Errorf("duplicate check failed: %w", err))
			}
			if jsonOut(cmd) {
				return printJSON(cmd, map[string]any{"duplicates": found})
			}
			if len(found) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("No similar cards."))
				return nil
			}
			printCandidates(cmd.OutOrStdout(), found)
			return nil
		},
	}
	addCardFlags(cmd)
	return cmd
}

func newAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add [deck]",
		Short: "Add a card after checking for near-duplicates",
		Long: `Add a card to a deck. When similar cards exist you are asked what to do:

  0  add it as a new card anyway
  N  overwrite similar card N with this one
  s  skip it

Pass --choice to answer without a prompt. Without a deck you pick one from
a numbered list.

Example:
  cardsync add Default --front "What is 2+2?" --back "4"`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := cards.Proposal{}
			p.Front, _ = cmd.Flags().GetString("front")
			p.Back, _ = cmd.Flags().GetString("back")
			if err := p.Validate(); err != nil {
				return err
			}
			choiceFlag, _ := cmd.Flags().GetString("choice")
			if err := requireDeck(cmd, args, 0); err != nil {
				return err
			}

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			pr := newPrompter(cmd.InOrStdin(), cmd.OutOrStdout())
			deck, err := deckArg(cmd, a, pr, args, 0)
			if err != nil {
				return err
			}
			coll := models.NewCollection(deck)
			found, err := a.cards.Check(ctx, coll, p, threshold(cmd, a))
			if err != nil {
				return a.explain(fmt.Errorf("duplicate check failed: %w", err))
			}

			choice := dedup.Choice{Kind: dedup.AddNew}
			if len(found) > 0 {
				switch {
				case choiceFlag != "":
					if choice, err = dedup.ParseChoice(choiceFlag); err != nil {
						return err
					}
				case jsonOut(cmd):
					return printJSON(cmd, map[string]any{"action": "needs_choice", "duplicates": found})
				default:
					if choice, err = pr.choose(ctx, p, found); err != nil {
						return err
					}
				}
			}

			action, err := dedup.Resolve(found, choice)
			if err != nil {
				return err
			}
			out, err := a.cards.Apply(ctx, coll, p, action)
			if err != nil {
				return a.explain(err)
			}
			if jsonOut(cmd) {
				return printJSON(cmd, out)
			}
			printOutcome(cmd.OutOrStdout(), out)
			return nil
		},
	}
	addCardFlags(cmd)
	cmd.Flags().String("choice", "", "Answer for the duplicate prompt: 0, N, s")
	return cmd
}

func newImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file> [deck]",
		Short: "Add cards from a text file, checking each for duplicates",
		Long: `Import cards from a text file. Records are separated by blank lines (or by
--delimiter lines); the first line of a record is the front and the remaining
lines are the back. Literal \n sequences become line breaks.

Example file:
  What is 2+2?
  4

  Capital of Peru?
  Lima`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			delimiter, _ := cmd.Flags().GetString("delimiter")
			choiceFlag, _ := cmd.Flags().GetString("choice")

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open import file: %w", err)
			}
			parsed, err := importer.Parse(f, importer.Options{Delimiter: delimiter})
			f.Close()
			if err != nil {
				return err
			}

			var fixed *dedup.Choice
			if choiceFlag != "" {
				c, err := dedup.ParseChoice(choiceFlag)
				if err != nil {
					return err
				}
				fixed = &c
			} else if jsonOut(cmd) {
				return errors.New("--choice is required with --json")
			}
			if err := requireDeck(cmd, args, 1); err != nil {
				return err
			}

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			pr := newPrompter(cmd.InOrStdin(), out)
			deck, err := deckArg(cmd, a, pr, args, 1)
			if err != nil {
				return err
			}
			if !jsonOut(cmd) {
				for _, n := range parsed.Skipped {
					fmt.Fprintf(out, "%s record %d has no back, skipped\n", color.YellowString("!"), n)
				}
			}

			proposals := make([]cards.Proposal, len(parsed.Cards))
			for i, c := range parsed.Cards {
				proposals[i] = cards.Proposal{Record: c.Record, Front: c.Front, Back: c.Back}
			}

			decide := func(ctx context.Context, p cards.Proposal, found []models.DuplicateCandidate) (dedup.Choice, error) {
				if fixed != nil {
					return *fixed, nil
				}
				fmt.Fprintf(out, "\nRecord %d\n  Front: %s\n  Back:  %s\n", p.Record, p.Front, p.Back)
				return pr.choose(ctx, p, found)
			}

			report, err := a.cards.Import(cmd.Context(), models.NewCollection(deck), proposals, threshold(cmd, a), decide)
			if err != nil {
				return a.explain(err)
			}
			if jsonOut(cmd) {
				return printJSON(cmd, map[string]any{"report": report, "unparsed": parsed.Skipped})
			}
			fmt.Fprintf(out, "\n%d cards: %s added, %d overwritten, %d skipped\n",
				report.Total, color.GreenString("%d", report.Added), report.Overwritten, report.Skipped)
			for _, f := range report.Failed {
				fmt.Fprintf(out, "  %s record %d: %s\n", color.RedString("x"), f.Record, f.Reason)
			}
			if report.NotIndexed > 0 {
				fmt.Fprintf(out, "  %s %d cards were written but not indexed; run 'cardsync sync'\n", color.YellowString("!"), report.NotIndexed)
			}
			return nil
		},
	}
	cmd.Flags().String("delimiter", "", "Line separating records (default: blank line)")
	cmd.Flags().String("choice", "", "Answer every duplicate prompt the same way: 0, N, s, q")
	cmd.Flags().Float64("threshold", 0.8, "Minimum similarity in [0, 1] to report a duplicate")
	return cmd
}

// prompter asks the user what to do with duplicates.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	return &prompter{in: bufio.NewReader(in), out: out}
}

// choose shows the candidates and reads a choice, asking again on invalid
// input. End of input quits.
func (p *prompter) choose(ctx context.Context, _ cards.Proposal, found []models.DuplicateCandidate) (dedup.Choice, error) {
	printCandidates(p.out, found)
	fmt.Fprintln(p.out, "\nOptions:")
	fmt.Fprintln(p.out, "  0. Add as new card")
	for i := range found {
		fmt.Fprintf(p.out, "  %d. Replace card #%d shown above\n", i+1, i+1)
	}
	fmt.Fprintln(p.out, "  s. Skip this card")
	fmt.Fprintln(p.out, "  q. Quit")

	for {
		if err := ctx.Err(); err != nil {
			return dedup.Choice{}, err
		}
		fmt.Fprint(p.out, "Choose action: ")
		line, err := p.in.ReadString('\n')
		if line == "" && err != nil {
			if errors.Is(err, io.EOF) {
				return dedup.Choice{Kind: dedup.Quit}, nil
			}
			return dedup.Choice{}, err
		}
		choice, perr := dedup.ParseChoice(line)
		if perr == nil && (choice.Kind != dedup.Overwrite || choice.Index <= len(found)) {
			return choice, nil
		}
		fmt.Fprintln(p.out, color.YellowString("Invalid choice. Please try again."))
		if err != nil {
			return dedup.Choice{Kind: dedup.Quit}, nil
		}
	}
}

// pickDeck shows decks as a numbered list and reads a selection, asking
// again on invalid input.
func (p *prompter) pickDeck(ctx context.Context, decks []string) (string, error) {
	if len(decks) == 0 {
		return "", errors.New("no decks found in Anki")
	}
	fmt.Fprintln(p.out, "Available decks:")
	for i, d := range decks {
		fmt.Fprintf(p.out, "  %d. %s\n", i+1, d)
	}

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		fmt.Fprint(p.out, "Select deck number: ")
		line, err := p.in.ReadString('\n')
		if n, convErr := strconv.Atoi(strings.TrimSpace(line)); convErr == nil && n >= 1 && n <= len(decks) {
			return decks[n-1], nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", errors.New("no deck selected")
			}
			return "", err
		}
		fmt.Fprintln(p.out, color.YellowString("Invalid deck number. Please try again."))
	}
}

// stdinIsTerminal reports whether the command reads from an interactive terminal.
var stdinIsTerminal = func(cmd *cobra.Command) bool {
	f, ok := cmd.InOrStdin().(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// requireDeck fails early when args has no deck at position i and no one is
// there to pick one.
func requireDeck(cmd *cobra.Command, args []string, i int) error {
	if len(args) > i || (!jsonOut(cmd) && stdinIsTerminal(cmd)) {
		return nil
	}
	return errors.New("name a deck")
}

// deckArg returns the deck at args[i], or asks the user to pick one of
// Anki's decks when it was left out.
func deckArg(cmd *cobra.Command, a *app, pr *prompter, args []string, i int) (string, error) {
	if len(args) > i {
		return args[i], nil
	}
	decks, err := a.anki.DeckNames(cmd.Context())
	if err != nil {
		return "", a.explain(err)
	}
	return pr.pickDeck(cmd.Context(), decks)
}

func printCandidates(w io.Writer, found []models.DuplicateCandidate) {
	fmt.Fprintln(w, color.YellowString("Similar cards found:"))
	for i, c := range found {
		fmt.Fprintf(w, "\n%d. Similarity: %.2f%%\n   Front: %s\n   Back:  %s\n", i+1, c.Similarity*100, c.Front, c.Back)
	}
}

func printOutcome(w io.Writer, out cards.Outcome) {
	switch out.Action {
	case dedup.AddNew:
		fmt.Fprintf(w, "%s note %d\n", color.GreenString("Added"), out.NoteID)
	case dedup.Overwrite:
		fmt.Fprintf(w, "%s note %d\n", color.GreenString("Overwrote"), out.NoteID)
	default:
		fmt.Fprintln(w, "Skipped.")
		return
	}
	if !out.Indexed {
		fmt.Fprintln(w, color.YellowString("The note was written but not indexed; run 'cardsync sync'."))
	}
}
