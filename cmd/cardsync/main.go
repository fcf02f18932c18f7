package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nvandessel/cardsync/internal/config"
	"github.com/nvandessel/cardsync/internal/store"
)

var version = "0.1.0-dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error:"), err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cardsync",
		Short: "Keep a similarity index of your Anki decks and stop duplicate cards",
		Long: `cardsync mirrors Anki decks into a local similarity index and uses it to
warn about near-duplicate cards before they are created.

Run 'cardsync sync' after editing decks in Anki; only new and deleted notes
are processed. Run 'cardsync add' or 'cardsync import' to add cards with a
duplicate check.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON (for agent consumption)")
	rootCmd.PersistentFlags().String("root", "", "Project root holding a .cardsync directory (default: ~/.cardsync)")
	rootCmd.PersistentFlags().String("config", "", "Config file (default: <data dir>/config.yaml)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newInitCmd(),
		newDecksCmd(),
		newSyncCmd(),
		newReindexCmd(),
		newStatsCmd(),
		newCheckCmd(),
		newAddCmd(),
		newImportCmd(),
		newMCPServerCmd(),
	)
	return rootCmd
}

// dataDir resolves the data directory from the --root flag.
func dataDir(cmd *cobra.Command) (string, error) {
	root, _ := cmd.Flags().GetString("root")
	if root != "" {
		return store.LocalDataPath(root), nil
	}
	return store.GlobalDataPath()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			if jsonOut(cmd) {
				return printJSON(cmd, map[string]string{"version": version})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cardsync version %s\n", version)
			return nil
		},
	}
}

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the data directory and a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := dataDir(cmd)
			if err != nil {
				return err
			}
			if err := store.EnsureDataDir(dir); err != nil {
				return err
			}
			if err := store.EnsureGitignore(dir); err != nil {
				return err
			}

			path, _ := cmd.Flags().GetString("config")
			if path == "" {
				path = filepath.Join(dir, config.FileName)
			}
			force, _ := cmd.Flags().GetBool("force")
			status := "exists"
			if _, err := os.Stat(path); os.IsNotExist(err) || force {
				cfg := config.Default(dir)
				cfg.Index.Path = store.IndexFileName
				if err := cfg.Write(path); err != nil {
					return err
				}
				status = "initialized"
			}

			if jsonOut(cmd) {
				return printJSON(cmd, map[string]string{"status": status, "path": dir, "config": path})
			}
			if status == "exists" {
				fmt.Fprintf(cmd.OutOrStdout(), "Config already exists at %s (use --force to overwrite)\n", path)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", color.GreenString("Initialized"), dir)
			return nil
		},
	}
	cmd.Flags().Bool("force", false, "Overwrite an existing config file")
	return cmd
}

func jsonOut(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
