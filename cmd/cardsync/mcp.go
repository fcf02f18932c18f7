package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvandessel/cardsync/internal/mcp"
)

func newMCPServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp-server",
		Short: "Run cardsync as an MCP (Model Context Protocol) server",
		Long: `Start an MCP server that exposes cardsync over stdio:

  • cardsync_sync   - Sync one deck or every deck with the index
  • cardsync_check  - List near-duplicates of a proposed card
  • cardsync_add    - Add a card, resolving duplicates with a choice

Example client config:

  {
    "mcpServers": {
      "cardsync": {
        "command": "cardsync",
        "args": ["mcp-server"]
      }
    }
  }
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}

			server, err := mcp.NewServer(&mcp.Config{
				Name:      "cardsync",
				Version:   version,
				Engine:    a.engine,
				Cards:     a.cards,
				Decks:     a.anki,
				Threshold: a.cfg.Dedup.Threshold,
				Closer:    a,
				Logger:    a.logger,
			})
			if err != nil {
				a.Close()
				return fmt.Errorf("failed to create MCP server: %w", err)
			}
			defer server.Close()

			// Run server (blocks until client disconnects or the context ends)
			if err := server.Run(cmd.Context()); err != nil {
				return fmt.Errorf("MCP server error: %w", err)
			}
			return nil
		},
	}
	return cmd
}
