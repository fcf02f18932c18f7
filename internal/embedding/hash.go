package embedding

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"

	"github.com/nvandessel/cardsync/internal/vecmath"
)

// DefaultHashDims is the vector length of HashEmbedder when none is configured.
const DefaultHashDims = 512

// HashEmbedder is an offline embedder using signed feature hashing over word
// unigrams and bigrams. It needs no model and is deterministic, which makes it
// the default for small collections and for tests. Similarity reflects shared
// wording, not meaning.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder creates a HashEmbedder producing dims-length vectors.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = DefaultHashDims
	}
	return &HashEmbedder{dims: dims}
}

// Name implements Embedder.
func (h *HashEmbedder) Name() string {
	return fmt.Sprintf("hash-%d", h.dims)
}

// Embed implements Embedder. Texts without any word produce a zero vector.
func (h *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.embed(text)
	}
	return out, nil
}

func (h *HashEmbedder) embed(text string) []float32 {
	v := make([]float32, h.dims)
	words := tokenize(text)
	for i, w := range words {
		h.add(v, "w:"+w)
		if i > 0 {
			h.add(v, "b:"+words[i-1]+" "+w)
		}
	}
	return vecmath.Normalize(v)
}

func (h *HashEmbedder) add(v []float32, feature string) {
	sum := xxhash.Sum64String(feature)
	bucket := sum % uint64(h.dims)
	if sum>>63 == 1 {
		v[bucket]--
	} else {
		v[bucket]++
	}
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
