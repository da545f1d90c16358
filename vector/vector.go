// Package vector implements the similarity arithmetic used for duplicate
// detection: cosine similarity, its mapping onto a 0-100 score, and L2
// normalization.
package vector

import (
	"errors"
	"fmt"
	"math"

	"github.com/poiesic/riskdedup/core"
)

// ErrDimensionMismatch is returned when two vectors have different lengths.
var ErrDimensionMismatch = fmt.Errorf("%w: vector dimension mismatch", core.ErrInvalidArgument)

// CosineSimilarity returns the cosine of the angle between a and b, computed
// in float64. It returns 0 when either vector has zero magnitude.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d != %d", ErrDimensionMismatch, len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// MapToScore clamps a cosine similarity to [0,1] and scales it to an integer
// score in [0,100]. Negative similarity scores 0.
func MapToScore(cos float64) int {
	if math.IsNaN(cos) || cos <= 0 {
		return 0
	}
	if cos >= 1 {
		return 100
	}
	return int(math.Round(cos * 100))
}

// Score is MapToScore(CosineSimilarity(a, b)).
func Score(a, b []float32) (int, error) {
	cos, err := CosineSimilarity(a, b)
	if err != nil {
		return 0, err
	}
	return MapToScore(cos), nil
}

// Normalize returns a unit-length copy of v. A zero vector yields a zero
// vector of the same length.
func Normalize(v []float32) []float32 {
	if len(v) == 0 {
		return v
	}

	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	result := make([]float32, len(v))
	if sumSquares == 0 {
		return result
	}
	magnitude := math.Sqrt(sumSquares)
	for i, val := range v {
		result[i] = float32(float64(val) / magnitude)
	}
	return result
}

// IsDimensionMismatch reports whether err came from comparing vectors of
// different lengths.
func IsDimensionMismatch(err error) bool {
	return errors.Is(err, ErrDimensionMismatch)
}
