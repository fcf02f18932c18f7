// Package config loads cardsync settings from a YAML file, an optional .env
// file and CARDSYNC_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/nvandessel/cardsync/internal/anki"
	"github.com/nvandessel/cardsync/internal/dedup"
	"github.com/nvandessel/cardsync/internal/embedding"
	"github.com/nvandessel/cardsync/internal/index"
	"github.com/nvandessel/cardsync/internal/ingest"
	"github.com/nvandessel/cardsync/internal/logging"
	"github.com/nvandessel/cardsync/internal/models"
	"github.com/nvandessel/cardsync/internal/store"
	"github.com/nvandessel/cardsync/internal/vectorindex"
)

// FileName is the config file looked up in the data directory.
const FileName = "config.yaml"

// Config is the full cardsync configuration.
type Config struct {
	Anki      AnkiConfig      `yaml:"anki"`
	Index     IndexConfig     `yaml:"index"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Sync      SyncConfig      `yaml:"sync"`
	Dedup     DedupConfig     `yaml:"dedup"`
	Log       LogConfig       `yaml:"log"`
}

// AnkiConfig locates AnkiConnect and names the note type used for new cards.
type AnkiConfig struct {
	URL        string   `yaml:"url"`
	Timeout    Duration `yaml:"timeout"`
	ModelName  string   `yaml:"model_name"`
	FrontField string   `yaml:"front_field"`
	BackField  string   `yaml:"back_field"`
}

// IndexConfig controls the local similarity index.
type IndexConfig struct {
	// Path is the SQLite file. Relative paths resolve against the data dir.
	Path          string             `yaml:"path"`
	FacetPolicy   models.FacetPolicy `yaml:"facet_policy"`
	TextPolicy    models.TextPolicy  `yaml:"text_policy"`
	TierThreshold int                `yaml:"tier_threshold"`
	MaxTokens     int                `yaml:"max_tokens"`
}

// EmbeddingConfig selects the embedding provider.
type EmbeddingConfig struct {
	Provider string   `yaml:"provider"`
	Model    string   `yaml:"model,omitempty"`
	Host     string   `yaml:"host,omitempty"`
	Dims     int      `yaml:"dims,omitempty"`
	APIKey   string   `yaml:"api_key,omitempty"`
	Timeout  Duration `yaml:"timeout,omitempty"`
}

// SyncConfig controls batch ingestion.
type SyncConfig struct {
	BatchSize   int      `yaml:"batch_size"`
	Workers     int      `yaml:"workers"`
	CallTimeout Duration `yaml:"call_timeout"`
}

// DedupConfig controls duplicate checks.
type DedupConfig struct {
	TopK      int     `yaml:"top_k"`
	Threshold float64 `yaml:"threshold"`
}

// Log formats.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// LogConfig controls the log sink.
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty"`
}

// Default returns the built-in configuration for a data directory.
func Default(dataDir string) Config {
	return Config{
		Anki: AnkiConfig{
			URL:        anki.DefaultURL,
			Timeout:    Duration(anki.DefaultTimeout),
			ModelName:  anki.DefaultModelName,
			FrontField: anki.DefaultFrontField,
			BackField:  anki.DefaultBackField,
		},
		Index: IndexConfig{
			Path:          filepath.Join(dataDir, store.IndexFileName),
			FacetPolicy:   models.FacetSingle,
			TextPolicy:    models.TextConcat,
			TierThreshold: vectorindex.DefaultTierThreshold,
			MaxTokens:     index.DefaultMaxTokens,
		},
		Embedding: EmbeddingConfig{
			Provider: embedding.ProviderHash,
		},
		Sync: SyncConfig{
			BatchSize:   ingest.DefaultBatchSize,
			Workers:     ingest.DefaultWorkers,
			CallTimeout: Duration(ingest.DefaultCallTimeout),
		},
		Dedup: DedupConfig{
			TopK:      dedup.DefaultTopK,
			Threshold: dedup.DefaultThreshold,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     LogFormatText,
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// Load builds the configuration for dataDir. path names the YAML file; empty
// means <dataDir>/config.yaml, which may be absent. A .env file in dataDir is
// loaded into the environment without overriding variables already set.
func Load(path, dataDir string) (Config, error) {
	cfg := Default(dataDir)

	explicit := path != ""
	if !explicit {
		path = filepath.Join(dataDir, FileName)
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := godotenv.Load(filepath.Join(dataDir, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	if err := cfg.normalize(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.Index.Path != "" && !filepath.IsAbs(cfg.Index.Path) {
		cfg.Index.Path = filepath.Join(dataDir, cfg.Index.Path)
	}
	if cfg.Log.File != "" && !filepath.IsAbs(cfg.Log.File) {
		cfg.Log.File = filepath.Join(dataDir, cfg.Log.File)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// normalize rewrites enumerated settings to their canonical spelling, so
// "Dual" in a file behaves exactly like "dual".
func (c *Config) normalize() error {
	facets, err := models.ParseFacetPolicy(string(c.Index.FacetPolicy))
	if err != nil {
		return fmt.Errorf("index.facet_policy: %w", err)
	}
	text, err := models.ParseTextPolicy(string(c.Index.TextPolicy))
	if err != nil {
		return fmt.Errorf("index.text_policy: %w", err)
	}
	c.Index.FacetPolicy = facets
	c.Index.TextPolicy = text
	c.Embedding.Provider = strings.ToLower(strings.TrimSpace(c.Embedding.Provider))
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	return nil
}

// Validate checks every setting.
func (c Config) Validate() error {
	if c.Anki.URL == "" {
		return errors.New("anki.url must be set")
	}
	if c.Anki.Timeout <= 0 {
		return fmt.Errorf("anki.timeout must be positive, got %s", c.Anki.Timeout)
	}
	if c.Anki.FrontField == "" || c.Anki.BackField == "" {
		return errors.New("anki.front_field and anki.back_field must be set")
	}
	if c.Index.Path == "" {
		return errors.New("index.path must be set")
	}
	if _, err := models.ParseFacetPolicy(string(c.Index.FacetPolicy)); err != nil {
		return fmt.Errorf("index.facet_policy: %w", err)
	}
	if _, err := models.ParseTextPolicy(string(c.Index.TextPolicy)); err != nil {
		return fmt.Errorf("index.text_policy: %w", err)
	}
	if c.Index.TierThreshold < 0 {
		return fmt.Errorf("index.tier_threshold must be non-negative, got %d", c.Index.TierThreshold)
	}
	switch c.Embedding.Provider {
	case embedding.ProviderHash, embedding.ProviderOllama:
	case embedding.ProviderOpenAI:
		if c.Embedding.APIKey == "" {
			return errors.New("embedding.api_key is required for the openai provider")
		}
	default:
		return fmt.Errorf("unknown embedding.provider %q", c.Embedding.Provider)
	}
	if c.Embedding.Dims < 0 {
		return fmt.Errorf("embedding.dims must be non-negative, got %d", c.Embedding.Dims)
	}
	if err := c.IngestConfig().Validate(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if c.Dedup.TopK < 1 || c.Dedup.TopK > 100 {
		return fmt.Errorf("dedup.top_k must be between 1 and 100, got %d", c.Dedup.TopK)
	}
	if c.Dedup.Threshold < 0 || c.Dedup.Threshold > 1 {
		return fmt.Errorf("dedup.threshold must be between 0 and 1, got %v", c.Dedup.Threshold)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch c.Log.Format {
	case "", LogFormatText, LogFormatJSON:
	default:
		return fmt.Errorf("log.format must be %q or %q, got %q", LogFormatText, LogFormatJSON, c.Log.Format)
	}
	return nil
}

// Write saves the configuration as YAML. The file may hold an API key, so it
// is only readable by the owner.
func (c Config) Write(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// AnkiOptions returns client options for the note source.
func (c Config) AnkiOptions(logger *slog.Logger) anki.Options {
	return anki.Options{
		URL:        c.Anki.URL,
		Timeout:    c.Anki.Timeout.Std(),
		ModelName:  c.Anki.ModelName,
		FrontField: c.Anki.FrontField,
		BackField:  c.Anki.BackField,
		Logger:     logger,
	}
}

// EmbeddingOptions returns the embedder settings.
func (c Config) EmbeddingOptions() embedding.Options {
	return embedding.Options{
		Provider: c.Embedding.Provider,
		Model:    c.Embedding.Model,
		Host:     c.Embedding.Host,
		Dims:     c.Embedding.Dims,
		APIKey:   c.Embedding.APIKey,
		Timeout:  c.Embedding.Timeout.Std(),
	}
}

// IndexOptions returns the similarity index settings.
func (c Config) IndexOptions(logger *slog.Logger) index.Options {
	return index.Options{
		FacetPolicy:   c.Index.FacetPolicy,
		MaxTokens:     c.Index.MaxTokens,
		TierThreshold: c.Index.TierThreshold,
		Logger:        logger,
	}
}

// IngestConfig returns the batch pipeline settings.
func (c Config) IngestConfig() ingest.Config {
	return ingest.Config{
		BatchSize:   c.Sync.BatchSize,
		Workers:     c.Sync.Workers,
		CallTimeout: c.Sync.CallTimeout.Std(),
		Facets:      c.Index.FacetPolicy,
		Text:        c.Index.TextPolicy,
	}
}

// LogOptions returns the log sink settings.
func (c Config) LogOptions() logging.Options {
	return logging.Options{
		Level:      c.Log.Level,
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		JSON:       c.Log.Format == LogFormatJSON,
	}
}

// DedupConfig returns the duplicate detector settings.
func (c Config) DedupConfig() dedup.Config {
	return dedup.Config{
		TopK:        c.Dedup.TopK,
		Facets:      c.Index.FacetPolicy,
		Text:        c.Index.TextPolicy,
		CallTimeout: c.Sync.CallTimeout.Std(),
	}
}
