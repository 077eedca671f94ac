// Package embedding provides vector helpers for face identity embeddings.
package embedding

import (
	"errors"
	"math"
)

// ErrZeroNorm is returned when a vector with zero length cannot be normalized.
var ErrZeroNorm = errors.New("embedding has zero norm")

// Normalize returns a copy of v scaled to unit L2 norm.
func Normalize(v []float32) ([]float32, error) {
	norm := l2(v)
	if norm == 0 {
		return nil, ErrZeroNorm
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out, nil
}

// Norm returns the L2 norm of v.
func Norm(v []float32) float32 {
	return float32(l2(v))
}

// CosineSimilarity returns the cosine of the angle between a and b, clamped to
// [-1, 1]. Mismatched, empty or zero vectors yield 0.
func CosineSimilarity(a, b []float32) float32 {
	sim, ok := similarity(a, b)
	if !ok {
		return 0
	}
	return float32(sim)
}

// CosineDistance returns 1 - cosine similarity, in [0, 2].
// Return 1.0 (max distance) if a vector is zero to avoid division by zero.
func CosineDistance(a, b []float32) float32 {
	sim, ok := similarity(a, b)
	if !ok {
		return 1.0
	}
	return float32(1 - sim)
}

// Mean returns the normalized centroid of vs, or nil when vs is empty or the
// centroid collapses to zero.
func Mean(vs [][]float32) []float32 {
	if len(vs) == 0 {
		return nil
	}
	sum := make([]float32, len(vs[0]))
	for _, v := range vs {
		for i := range sum {
			if i < len(v) {
				sum[i] += v[i]
			}
		}
	}
	centroid, err := Normalize(sum)
	if err != nil {
		return nil
	}
	return centroid
}

func similarity(a, b []float32) (float64, bool) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, false
	}

	var dot, sumA, sumB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		sumA += float64(a[i]) * float64(a[i])
		sumB += float64(b[i]) * float64(b[i])
	}
	if sumA == 0 || sumB == 0 {
		return 0, false
	}

	sim := dot / (math.Sqrt(sumA) * math.Sqrt(sumB))
	// Clamp to [-1, 1] to handle floating point errors
	if sim > 1 {
		sim = 1
	}
	if sim < -1 {
		sim = -1
	}
	return sim, true
}

func l2(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
