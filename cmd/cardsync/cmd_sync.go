package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nvandessel/cardsync/internal/index"
	"github.com/nvandessel/cardsync/internal/models"
	"github.com/nvandessel/cardsync/internal/reconcile"
	"github.com/nvandessel/cardsync/internal/store"
)

func newDecksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decks",
		Short: "List Anki decks",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			names, err := a.anki.DeckNames(cmd.Context())
			if err != nil {
				return a.explain(err)
			}
			if jsonOut(cmd) {
				return printJSON(cmd, map[string]any{"decks": names})
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}
}

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync [deck]",
		Short: "Index new notes and drop deleted ones",
		Long: `Reconcile the similarity index with Anki. Only notes added or deleted since
the last sync are processed; edited notes keep their old embedding until
'cardsync reindex'. Without a deck you pick one from a numbered list.

Examples:
  cardsync sync "Japanese::Vocab"
  cardsync sync --all`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			all, _ := cmd.Flags().GetBool("all")
			if !all {
				if err := requireDeck(cmd, args, 0); err != nil {
					return errors.New("name a deck or pass --all")
				}
			}

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			decks := args
			switch {
			case all:
				if decks, err = a.anki.DeckNames(cmd.Context()); err != nil {
					return a.explain(err)
				}
			case len(args) == 0:
				deck, err := deckArg(cmd, a, newPrompter(cmd.InOrStdin(), cmd.OutOrStdout()), args, 0)
				if err != nil {
					return err
				}
				decks = []string{deck}
			}

			var reports []reconcile.Report
			for _, deck := range decks {
				report, err := a.engine.Reconcile(cmd.Context(), models.NewCollection(deck))
				if all && errors.Is(err, store.ErrNamespaceCollision) {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s skipped %s: %v\n", color.YellowString("!"), deck, err)
					continue
				}
				if err != nil {
					return a.explain(err)
				}
				reports = append(reports, report)
				if !jsonOut(cmd) {
					printSyncReport(cmd, report)
				}
			}
			if jsonOut(cmd) {
				return printJSON(cmd, map[string]any{"reports": reports})
			}
			return nil
		},
	}
	cmd.Flags().Bool("all", false, "Sync every deck")
	return cmd
}

func printSyncReport(cmd *cobra.Command, r reconcile.Report) {
	out := cmd.OutOrStdout()
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	fmt.Fprintf(out, "%s: %s added, %s removed (%s)\n",
		color.New(color.Bold).Sprint(r.Collection), green(r.Added), red(r.Removed), r.Duration.Round(time.Millisecond))
	if r.NotRemoved > 0 {
		fmt.Fprintf(out, "  %s %d deleted notes are still indexed; the next sync retries\n", yellow("!"), r.NotRemoved)
	}
	for _, f := range r.FailedBatches {
		fmt.Fprintf(out, "  %s batch %d (%d notes) failed: %s\n", yellow("!"), f.Index, len(f.NoteIDs), f.Reason)
	}
	for _, m := range r.Malformed {
		fmt.Fprintf(out, "  %s %v\n", yellow("!"), m)
	}
}

func newReindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex <deck>",
		Short: "Drop a deck's index and rebuild it from Anki",
		Long: `Rebuild a deck's embeddings from scratch. Use this after editing notes in
Anki or after switching the embedding provider.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			coll := models.NewCollection(args[0])
			// Probe the source first so an unreachable Anki does not leave an
			// empty namespace behind.
			if _, err := a.anki.Version(cmd.Context()); err != nil {
				return a.explain(err)
			}
			if err := store.CheckNamespace(cmd.Context(), a.index, coll); err != nil {
				return a.explain(err)
			}
			if err := a.index.DropNamespace(cmd.Context(), coll.Namespace); err != nil {
				return err
			}
			report, err := a.engine.Reconcile(cmd.Context(), coll)
			if err != nil {
				return a.explain(err)
			}
			if jsonOut(cmd) {
				return printJSON(cmd, report)
			}
			printSyncReport(cmd, report)
			return nil
		},
	}
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats [deck]",
		Short: "Show what the index holds",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			var infos []index.NamespaceInfo
			if len(args) == 1 {
				info, err := a.index.Stats(cmd.Context(), models.NewCollection(args[0]).Namespace)
				if errors.Is(err, store.ErrUnknownNamespace) {
					return fmt.Errorf("deck %q has not been synced yet", args[0])
				}
				if err != nil {
					return err
				}
				infos = append(infos, info)
			} else {
				if infos, err = a.index.Namespaces(cmd.Context()); err != nil {
					return err
				}
			}

			if jsonOut(cmd) {
				return printJSON(cmd, map[string]any{"namespaces": infos})
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAMESPACE\tDECK\tNOTES\tENTRIES\tFACETS\tEMBEDDER")
			for _, info := range infos {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n", info.Name, info.Collection, info.Notes, info.Entries, info.FacetPolicy, info.Embedder)
			}
			return w.Flush()
		},
	}
}
