// Package embedding turns note text into vectors for the similarity index.
package embedding

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Embedder converts texts into fixed-length vectors.
// Implementations must be safe for concurrent use.
type Embedder interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Name identifies the model and dimensionality. Vectors from embedders with
	// different names are not comparable.
	Name() string
}

// Provider names accepted by New.
const (
	ProviderHash   = "hash"
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// Options selects and configures an embedding provider.
type Options struct {
	Provider string
	Model    string
	Host     string
	Dims     int
	APIKey   string
	Timeout  time.Duration
}

// New constructs the embedder named by opts.Provider.
func New(opts Options) (Embedder, error) {
	switch strings.ToLower(opts.Provider) {
	case "", ProviderHash:
		return NewHashEmbedder(opts.Dims), nil
	case ProviderOllama:
		return NewOllamaEmbedder(opts.Host, opts.Model, opts.Timeout), nil
	case ProviderOpenAI:
		if opts.APIKey == "" {
			return nil, fmt.Errorf("openai embedder requires an API key")
		}
		return NewOpenAIEmbedder(opts.APIKey, opts.Model, opts.Host, opts.Dims), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", opts.Provider)
	}
}
