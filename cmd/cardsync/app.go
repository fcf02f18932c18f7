package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/nvandessel/cardsync/internal/anki"
	"github.com/nvandessel/cardsync/internal/cards"
	"github.com/nvandessel/cardsync/internal/config"
	"github.com/nvandessel/cardsync/internal/dedup"
	"github.com/nvandessel/cardsync/internal/embedding"
	"github.com/nvandessel/cardsync/internal/index"
	"github.com/nvandessel/cardsync/internal/ingest"
	"github.com/nvandessel/cardsync/internal/logging"
	"github.com/nvandessel/cardsync/internal/reconcile"
	"github.com/nvandessel/cardsync/internal/store"
)

// app holds the services one command invocation needs.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	anki     *anki.Client
	index    *index.SQLiteIndex
	pipeline *ingest.Pipeline
	engine   *reconcile.Engine
	detector *dedup.Detector
	cards    *cards.Service

	logCloser io.Closer
}

// openApp loads configuration and wires every service.
func openApp(cmd *cobra.Command) (*app, error) {
	dir, err := dataDir(cmd)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureDataDir(dir); err != nil {
		return nil, err
	}
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path, dir)
	if err != nil {
		return nil, err
	}

	logOpts := cfg.LogOptions()
	logOpts.Stderr = cmd.ErrOrStderr()
	logger, logCloser, err := logging.New(logOpts)
	if err != nil {
		return nil, err
	}

	embedder, err := embedding.New(cfg.EmbeddingOptions())
	if err != nil {
		_ = logCloser.Close()
		return nil, err
	}
	idx, err := index.OpenSQLiteIndex(cfg.Index.Path, embedder, cfg.IndexOptions(logger))
	if err != nil {
		_ = logCloser.Close()
		return nil, err
	}

	a := &app{
		cfg:       cfg,
		logger:    logger,
		anki:      anki.New(cfg.AnkiOptions(logger)),
		index:     idx,
		logCloser: logCloser,
	}
	a.pipeline = ingest.New(idx, cfg.IngestConfig(), logger)
	a.engine = reconcile.New(a.anki, idx, a.pipeline, reconcile.Config{CallTimeout: cfg.Sync.CallTimeout.Std()}, logger)
	a.detector = dedup.New(idx, cfg.DedupConfig(), logger)
	a.cards = cards.New(a.anki, a.detector, a.pipeline, logger)
	logger.Debug("cardsync: ready",
		slog.String("index", cfg.Index.Path),
		slog.String("embedder", embedder.Name()),
		slog.String("facets", string(cfg.Index.FacetPolicy)))
	return a, nil
}

// Close releases the index and the log sink.
func (a *app) Close() error {
	return errors.Join(a.index.Close(), a.logCloser.Close())
}

// explain adds a hint to connectivity failures and namespace collisions.
func (a *app) explain(err error) error {
	if errors.Is(err, store.ErrNamespaceCollision) {
		return fmt.Errorf("%w\n(deck names that differ only in punctuation or non-ASCII characters share an index namespace; rename one of the decks)", err)
	}
	if err == nil || !store.IsConnectivity(err) {
		return err
	}
	return fmt.Errorf("%w\n(is Anki running with AnkiConnect at %s, and is the %s embedder reachable?)",
		err, a.cfg.Anki.URL, a.cfg.Embedding.Provider)
}
