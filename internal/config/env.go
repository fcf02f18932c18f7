package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/nvandessel/cardsync/internal/models"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CARDSYNC_"

func (c *Config) applyEnv() error {
	parsers := []error{
		parseEnvString("ANKI_URL", &c.Anki.URL),
		parseEnvDuration("ANKI_TIMEOUT", &c.Anki.Timeout),
		parseEnvString("ANKI_MODEL_NAME", &c.Anki.ModelName),
		parseEnvString("ANKI_FRONT_FIELD", &c.Anki.FrontField),
		parseEnvString("ANKI_BACK_FIELD", &c.Anki.BackField),
		parseEnvString("INDEX_PATH", &c.Index.Path),
		parseEnvInt("INDEX_TIER_THRESHOLD", &c.Index.TierThreshold),
		parseEnvInt("INDEX_MAX_TOKENS", &c.Index.MaxTokens),
		parseEnvString("EMBEDDING_PROVIDER", &c.Embedding.Provider),
		parseEnvString("EMBEDDING_MODEL", &c.Embedding.Model),
		parseEnvString("EMBEDDING_HOST", &c.Embedding.Host),
		parseEnvInt("EMBEDDING_DIMS", &c.Embedding.Dims),
		parseEnvString("EMBEDDING_API_KEY", &c.Embedding.APIKey),
		parseEnvDuration("EMBEDDING_TIMEOUT", &c.Embedding.Timeout),
		parseEnvInt("SYNC_BATCH_SIZE", &c.Sync.BatchSize),
		parseEnvInt("SYNC_WORKERS", &c.Sync.Workers),
		parseEnvDuration("SYNC_CALL_TIMEOUT", &c.Sync.CallTimeout),
		parseEnvInt("DEDUP_TOP_K", &c.Dedup.TopK),
		parseEnvFloat("DEDUP_THRESHOLD", &c.Dedup.Threshold),
		parseEnvString("LOG_LEVEL", &c.Log.Level),
		parseEnvString("LOG_FORMAT", &c.Log.Format),
		parseEnvString("LOG_FILE", &c.Log.File),
	}
	for _, err := range parsers {
		if err != nil {
			return err
		}
	}

	var facets, text string
	if err := parseEnvString("INDEX_FACET_POLICY", &facets); err != nil {
		return err
	}
	if facets != "" {
		c.Index.FacetPolicy = models.FacetPolicy(facets)
	}
	if err := parseEnvString("INDEX_TEXT_POLICY", &text); err != nil {
		return err
	}
	if text != "" {
		c.Index.TextPolicy = models.TextPolicy(text)
	}

	if c.Embedding.APIKey == "" {
		c.Embedding.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	return nil
}

func parseEnvString(key string, dest *string) error {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		*dest = value
	}
	return nil
}

func parseEnvInt(key string, dest *int) error {
	value := os.Getenv(EnvPrefix + key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s%s: %w", EnvPrefix, key, err)
	}
	*dest = parsed
	return nil
}

func parseEnvFloat(key string, dest *float64) error {
	value := os.Getenv(EnvPrefix + key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid value for %s%s: %w", EnvPrefix, key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvDuration accepts Go durations ("30s") or a bare number of seconds.
func parseEnvDuration(key string, dest *Duration) error {
	value := os.Getenv(EnvPrefix + key)
	if value == "" {
		return nil
	}
	parsed, err := parseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s%s: %w", EnvPrefix, key, err)
	}
	*dest = parsed
	return nil
}
