// Package mcp exposes cardsync over the Model Context Protocol so assistants
// can sync decks and add cards without creating duplicates.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nvandessel/cardsync/internal/cards"
	"github.com/nvandessel/cardsync/internal/dedup"
	"github.com/nvandessel/cardsync/internal/reconcile"
)

// DeckLister lists the decks a sync of everything covers.
type DeckLister interface {
	DeckNames(ctx context.Context) ([]string, error)
}

// Config wires the server to the cardsync services.
type Config struct {
	Name    string
	Version string

	Engine *reconcile.Engine
	Cards  *cards.Service
	// Decks is optional; without it cardsync_sync requires a deck.
	Decks DeckLister

	// Threshold is the similarity used when a call does not pass one. Zero
	// means the detector default.
	Threshold float64

	// Closer releases resources owned by the services, such as the index.
	Closer io.Closer
	Logger *slog.Logger
}

// Server is a stdio MCP server.
type Server struct {
	server    *sdk.Server
	engine    *reconcile.Engine
	cards     *cards.Service
	decks     DeckLister
	threshold float64
	logger    *slog.Logger

	closer    io.Closer
	closeOnce sync.Once
	closeErr  error
}

// NewServer creates a server with every cardsync tool registered.
func NewServer(cfg *Config) (*Server, error) {
	if cfg.Engine == nil || cfg.Cards == nil {
		return nil, errors.New("mcp server needs a sync engine and a card service")
	}
	if cfg.Threshold < 0 || cfg.Threshold > 1 {
		return nil, fmt.Errorf("threshold must be between 0 and 1, got %v", cfg.Threshold)
	}
	threshold := cfg.Threshold
	if threshold == 0 {
		threshold = dedup.DefaultThreshold
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &Server{
		server: sdk.NewServer(&sdk.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		engine:    cfg.Engine,
		cards:     cfg.Cards,
		decks:     cfg.Decks,
		threshold: threshold,
		logger:    logger,
		closer:    cfg.Closer,
	}
	s.registerTools()
	return s, nil
}

// Run serves requests over stdin/stdout until the client disconnects or ctx
// is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("mcp: serving on stdio")
	return s.server.Run(ctx, &sdk.StdioTransport{})
}

// Close releases the configured resources. It is safe to call more than once.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		if s.closer != nil {
			s.closeErr = s.closer.Close()
		}
	})
	return s.closeErr
}
