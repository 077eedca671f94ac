package search

import (
	"errors"
	"testing"

	"github.com/andresmejia3/facesift/internal/embedding"
	"github.com/andresmejia3/facesift/internal/types"
)

func faces() []types.PersistedFace {
	person := int64(7)
	return []types.PersistedFace{
		{ID: 1, FileID: 10, Embedding: []float32{1, 0.05, 0, 0}, PersonID: &person},
		{ID: 2, FileID: 11, Embedding: []float32{1, 0, 0.05, 0}, PersonID: &person},
		{ID: 3, FileID: 12, Embedding: []float32{0, 1, 0, 0}},
		{ID: 4, FileID: 13, Embedding: []float32{0, 0, 0, 1}},
		{ID: 5, FileID: 14, Embedding: []float32{0, 0, 0, 0}},
		{ID: 6, FileID: 15, Embedding: []float32{1, 0}},
	}
}

func TestBuild(t *testing.T) {
	ix := NewIndex()
	if n := ix.Build(faces()); n != 4 {
		t.Errorf("Expected 4 faces indexed, got %d", n)
	}
	if ix.Len() != 4 {
		t.Errorf("Expected Len 4, got %d", ix.Len())
	}

	// Rebuilding replaces the contents.
	ix.Build(faces()[:1])
	if ix.Len() != 1 {
		t.Errorf("Expected Len 1 after rebuild, got %d", ix.Len())
	}
}

func TestSearch(t *testing.T) {
	ix := NewIndex()
	ix.Build(faces())

	tests := []struct {
		name        string
		k           int
		maxDistance float32
		wantIDs     []int64
	}{
		{"within threshold", 4, 0.1, []int64{1, 2}},
		{"k limits results", 1, 0.1, []int64{1}},
		{"no threshold", 4, 0, []int64{1, 2, 3, 4}},
		{"zero k", 0, 0.1, []int64{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matches, err := ix.Search([]float32{2, 0.1, 0, 0}, tt.k, tt.maxDistance)
			if err != nil {
				t.Fatalf("Search failed: %v", err)
			}
			if len(matches) != len(tt.wantIDs) {
				t.Fatalf("Expected %d matches, got %+v", len(tt.wantIDs), matches)
			}
			for i, m := range matches {
				if m.FaceID != tt.wantIDs[i] {
					t.Errorf("Match %d: expected face %d, got %d", i, tt.wantIDs[i], m.FaceID)
				}
				if i > 0 && m.Distance < matches[i-1].Distance {
					t.Errorf("Matches not sorted by distance: %+v", matches)
				}
			}
		})
	}
}

func TestSearchMatchFields(t *testing.T) {
	ix := NewIndex()
	ix.Build(faces())

	matches, err := ix.Search([]float32{1, 0.05, 0, 0}, 1, 0.1)
	if err != nil || len(matches) != 1 {
		t.Fatalf("Expected 1 match, got %v, %v", matches, err)
	}
	m := matches[0]
	if m.FaceID != 1 || m.FileID != 10 || m.PersonID == nil || *m.PersonID != 7 {
		t.Errorf("Unexpected match %+v", m)
	}
	if m.Distance > 1e-6 {
		t.Errorf("Expected identical face at distance 0, got %v", m.Distance)
	}
}

func TestSearchErrors(t *testing.T) {
	empty := NewIndex()
	if _, err := empty.Search([]float32{1, 0}, 1, 0); !errors.Is(err, ErrEmptyIndex) {
		t.Errorf("Expected ErrEmptyIndex, got %v", err)
	}

	ix := NewIndex()
	ix.Build(faces())
	if _, err := ix.Search([]float32{0, 0, 0, 0}, 1, 0); !errors.Is(err, embedding.ErrZeroNorm) {
		t.Errorf("Expected ErrZeroNorm, got %v", err)
	}
	if _, err := ix.Search([]float32{1, 0}, 1, 0); err == nil {
		t.Error("Expected dimension mismatch error")
	}
}
