package embedding

import (
	"errors"
	"math"
	"testing"
)

func TestNormalize(t *testing.T) {
	inputs := [][]float32{
		{3, 4},
		{1, 0, 0},
		{-2, 5, 0.5, 7},
		{1e-3, 1e-3},
	}
	for _, v := range inputs {
		got, err := Normalize(v)
		if err != nil {
			t.Fatalf("Normalize(%v) failed: %v", v, err)
		}
		if n := Norm(got); math.Abs(float64(n)-1) > 1e-6 {
			t.Errorf("Normalize(%v) has norm %v, want 1", v, n)
		}
	}

	orig := []float32{3, 4}
	Normalize(orig)
	if orig[0] != 3 || orig[1] != 4 {
		t.Error("Normalize modified its input")
	}

	if _, err := Normalize([]float32{0, 0, 0}); !errors.Is(err, ErrZeroNorm) {
		t.Errorf("Expected ErrZeroNorm for zero vector, got %v", err)
	}
	if _, err := Normalize(nil); !errors.Is(err, ErrZeroNorm) {
		t.Errorf("Expected ErrZeroNorm for empty vector, got %v", err)
	}
}

func TestCosineDistance(t *testing.T) {
	tests := []struct {
		name string
		a    []float32
		b    []float32
		want float32
	}{
		{"Identical vectors", []float32{1, 0}, []float32{1, 0}, 0},
		{"Orthogonal vectors", []float32{1, 0}, []float32{0, 1}, 1},
		{"Opposite vectors", []float32{1, 0}, []float32{-1, 0}, 2},
		{"B is unnormalized (scaled)", []float32{1, 0}, []float32{5, 0}, 0},
		{"Zero vector", []float32{0, 0}, []float32{1, 0}, 1},
		{"Empty vectors", []float32{}, []float32{}, 1},
		{"Length mismatch", []float32{1, 0}, []float32{1, 0, 0}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineDistance(tt.a, tt.b)
			if math.Abs(float64(got-tt.want)) > 1e-6 {
				t.Errorf("CosineDistance() = %v, want %v", got, tt.want)
			}
			if got < 0 || got > 2 {
				t.Errorf("CosineDistance() = %v is outside [0, 2]", got)
			}
		})
	}
}

func TestCosineDistanceSelf(t *testing.T) {
	v, _ := Normalize([]float32{0.3, -0.7, 0.2, 0.9, -0.1})
	if d := CosineDistance(v, v); d != 0 {
		t.Errorf("CosineDistance(v, v) = %v, want exactly 0", d)
	}
	if s := CosineSimilarity(v, v); s != 1 {
		t.Errorf("CosineSimilarity(v, v) = %v, want exactly 1", s)
	}
}

func TestMean(t *testing.T) {
	got := Mean([][]float32{{1, 0}, {0, 1}})
	want := float32(1 / math.Sqrt2)
	if len(got) != 2 || math.Abs(float64(got[0]-want)) > 1e-6 || math.Abs(float64(got[1]-want)) > 1e-6 {
		t.Errorf("Mean() = %v, want [%v %v]", got, want, want)
	}
	if Mean(nil) != nil {
		t.Error("Expected nil mean for no vectors")
	}
	if Mean([][]float32{{1, 0}, {-1, 0}}) != nil {
		t.Error("Expected nil mean when centroid collapses to zero")
	}
}
