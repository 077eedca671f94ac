// Package search finds stored faces that look like a query face using an
// in-memory HNSW graph over the face embeddings.
package search

import (
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/andresmejia3/facesift/internal/embedding"
	"github.com/andresmejia3/facesift/internal/types"
	"github.com/coder/hnsw"
)

// MaxNeighbors is the HNSW M parameter.
const MaxNeighbors = 16

// ErrEmptyIndex is returned when searching before any face was indexed.
var ErrEmptyIndex = errors.New("search index is empty")

// Match is one stored face close to the query.
type Match struct {
	FaceID   int64   `json:"face_id"`
	FileID   int64   `json:"file_id"`
	PersonID *int64  `json:"person_id,omitempty"`
	Distance float32 `json:"distance"`
}

// Index is a nearest-neighbor index over persisted faces.
type Index struct {
	mu    sync.RWMutex
	graph *hnsw.Graph[int64]
	faces map[int64]types.PersistedFace
	dim   int
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{faces: make(map[int64]types.PersistedFace)}
}

// Build replaces the index contents with faces. Zero-norm embeddings and
// embeddings whose dimension differs from the first face are skipped.
func (ix *Index) Build(faces []types.PersistedFace) int {
	g := hnsw.NewGraph[int64]()
	g.M = MaxNeighbors
	g.Ml = 1.0 / float64(MaxNeighbors)
	g.Distance = hnsw.CosineDistance

	byID := make(map[int64]types.PersistedFace, len(faces))
	dim := 0
	for _, f := range faces {
		v, err := embedding.Normalize(f.Embedding)
		if err != nil {
			continue
		}
		if dim == 0 {
			dim = len(v)
		}
		if len(v) != dim {
			slog.Warn("face skipped for search", "face_id", f.ID, "dim", len(v), "expected", dim)
			continue
		}
		g.Add(hnsw.MakeNode(f.ID, v))
		f.Embedding = v
		byID[f.ID] = f
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.graph, ix.faces, ix.dim = g, byID, dim
	return len(byID)
}

// Len returns the number of indexed faces.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.faces)
}

// Search returns up to k faces within maxDistance of query, closest first.
// Distances are exact cosine distances, the graph only picks candidates.
// maxDistance <= 0 disables the distance filter.
func (ix *Index) Search(query []float32, k int, maxDistance float32) ([]Match, error) {
	q, err := embedding.Normalize(query)
	if err != nil {
		return nil, err
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if len(ix.faces) == 0 {
		return nil, ErrEmptyIndex
	}
	if len(q) != ix.dim {
		return nil, errors.New("query dimension does not match the index")
	}
	if k <= 0 {
		return []Match{}, nil
	}

	neighbors := ix.graph.Search(q, k)
	matches := make([]Match, 0, len(neighbors))
	for _, n := range neighbors {
		f, ok := ix.faces[n.Key]
		if !ok {
			continue
		}
		d := embedding.CosineDistance(q, f.Embedding)
		if maxDistance > 0 && d > maxDistance {
			continue
		}
		matches = append(matches, Match{FaceID: f.ID, FileID: f.FileID, PersonID: f.PersonID, Distance: d})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].FaceID < matches[j].FaceID
	})
	return matches, nil
}
