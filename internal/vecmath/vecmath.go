// Package vecmath provides the vector arithmetic shared by the embedders and
// the vector indexes, and the conversion from index distances to similarity.
package vecmath

import (
	"fmt"
	"math"
)

// CosineSimilarity returns the cosine of the angle between a and b in [-1, 1].
// Mismatched lengths, empty vectors and zero vectors yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dot / denom
}

// CosineDistance returns 1 - CosineSimilarity(a, b), a value in [0, 2].
func CosineDistance(a, b []float32) float64 {
	return 1 - CosineSimilarity(a, b)
}

// Normalize scales v in place to unit length. Zero vectors are left untouched.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
	return v
}

// Metric names the distance an index reports for its query results.
type Metric string

const (
	// Cosine is 1 - cos(a, b), bounded in [0, 2].
	Cosine Metric = "cosine"
	// SquaredL2 is the squared euclidean distance between unit vectors,
	// bounded in [0, 4].
	SquaredL2 Metric = "l2sq"
	// Normalized is any distance already bounded in [0, 1] where 0 means identical.
	Normalized Metric = "normalized"
)

// ParseMetric validates a metric name.
func ParseMetric(s string) (Metric, error) {
	switch m := Metric(s); m {
	case Cosine, SquaredL2, Normalized:
		return m, nil
	default:
		return "", fmt.Errorf("unknown distance metric %q", s)
	}
}

// SimilarityFromDistance converts a distance reported under metric m into a
// similarity in [0, 1] where 1 means identical.
//
// For Cosine the similarity is the cosine itself, with anti-correlated vectors
// clamped to 0. For SquaredL2 over unit vectors d = 2 - 2cos, so the cosine is
// 1 - d/2. Only Normalized distances use 1 - d directly.
func SimilarityFromDistance(m Metric, d float64) float64 {
	if math.IsNaN(d) {
		return 0
	}
	switch m {
	case SquaredL2:
		return clamp01(1 - d/2)
	default:
		return clamp01(1 - d)
	}
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
