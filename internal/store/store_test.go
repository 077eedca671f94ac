package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/andresmejia3/facesift/internal/types"
)

// exerciseStore runs the same scenario against any Store implementation.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	idA, err := s.RegisterFile(ctx, "/photos/a.jpg", "fp-a")
	if err != nil {
		t.Fatalf("RegisterFile failed: %v", err)
	}
	idB, _ := s.RegisterFile(ctx, "/photos/b.jpg", "fp-b")
	idC, _ := s.RegisterFile(ctx, "/photos/c.jpg", "fp-c")
	if idA <= 0 || idB <= idA || idC <= idB {
		t.Fatalf("Expected ascending positive IDs, got %d %d %d", idA, idB, idC)
	}

	// Re-registering an unchanged file is a no-op
	again, err := s.RegisterFile(ctx, "/photos/a.jpg", "fp-a")
	if err != nil || again != idA {
		t.Fatalf("Expected same ID %d on re-register, got %d (%v)", idA, again, err)
	}

	pending, err := s.GetUnprocessedImageFiles(ctx)
	if err != nil {
		t.Fatalf("GetUnprocessedImageFiles failed: %v", err)
	}
	if len(pending) != 3 || pending[0].ID != idA || pending[0].Path != "/photos/a.jpg" {
		t.Fatalf("Unexpected pending files: %+v", pending)
	}

	// --- Indexing ---

	vecA := make([]float32, 512)
	vecA[0] = 1.0 // Vector A points along X axis
	vecB := make([]float32, 512)
	vecB[1] = 1.0 // Vector B points along Y axis (Orthogonal to A)

	face1, err := s.AddFace(ctx, idA, `{"x":1,"y":2,"width":100,"height":120,"confidence":0.9}`, vecA)
	if err != nil {
		t.Fatalf("AddFace failed: %v", err)
	}
	face2, _ := s.AddFace(ctx, idA, `{"x":300,"y":2,"width":100,"height":120,"confidence":0.8}`, vecB)
	if err := s.MarkScanned(ctx, idA, types.ScanHasFaces); err != nil {
		t.Fatalf("MarkScanned failed: %v", err)
	}
	if err := s.MarkScanned(ctx, idB, types.ScanNoFacesFound); err != nil {
		t.Fatalf("MarkScanned failed: %v", err)
	}

	stats, err := s.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.ProcessedCount != 2 || stats.FaceCount != 2 {
		t.Errorf("Expected stats {2 2}, got %+v", stats)
	}

	pending, _ = s.GetUnprocessedImageFiles(ctx)
	if len(pending) != 1 || pending[0].ID != idC {
		t.Errorf("Expected only file %d pending, got %+v", idC, pending)
	}

	f, err := s.GetFile(ctx, idA)
	if err != nil || f.Status != types.ScanHasFaces {
		t.Errorf("Expected file %d to be has_faces, got %+v (%v)", idA, f, err)
	}
	if _, err := s.GetFile(ctx, 99999); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	faces, err := s.GetAllFaces(ctx)
	if err != nil {
		t.Fatalf("GetAllFaces failed: %v", err)
	}
	if len(faces) != 2 || faces[0].ID != face1 || faces[1].ID != face2 {
		t.Fatalf("Unexpected faces: %+v", faces)
	}
	if len(faces[0].Embedding) != 512 || faces[0].Embedding[0] != 1.0 {
		t.Errorf("Embedding did not round-trip")
	}
	if faces[0].PersonID != nil {
		t.Errorf("Expected no person assignment yet")
	}

	// --- Clustering ---

	pid, err := s.CreatePerson(ctx, "Person 1")
	if err != nil {
		t.Fatalf("CreatePerson failed: %v", err)
	}
	if err := s.AssignToPerson(ctx, face1, pid); err != nil {
		t.Fatalf("AssignToPerson failed: %v", err)
	}
	if err := s.RenamePerson(ctx, pid, "Grandma"); err != nil {
		t.Fatalf("RenamePerson failed: %v", err)
	}
	if err := s.RenamePerson(ctx, pid+1000, "Nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound renaming a missing person, got %v", err)
	}

	persons, err := s.ListPersons(ctx)
	if err != nil {
		t.Fatalf("ListPersons failed: %v", err)
	}
	if len(persons) != 1 || persons[0].Name != "Grandma" || persons[0].FaceCount != 1 {
		t.Errorf("Unexpected persons: %+v", persons)
	}

	if err := s.ResetAllAssignments(ctx); err != nil {
		t.Fatalf("ResetAllAssignments failed: %v", err)
	}
	if n, _ := s.CountPersons(ctx); n != 0 {
		t.Errorf("Expected 0 persons after reset, got %d", n)
	}
	faces, _ = s.GetAllFaces(ctx)
	for _, f := range faces {
		if f.PersonID != nil {
			t.Errorf("Face %d still assigned after reset", f.ID)
		}
	}

	// A changed photo loses its faces and becomes pending again
	if _, err := s.RegisterFile(ctx, "/photos/a.jpg", "fp-a2"); err != nil {
		t.Fatalf("RegisterFile failed: %v", err)
	}
	stats, _ = s.GetStats(ctx)
	if stats.ProcessedCount != 1 || stats.FaceCount != 0 {
		t.Errorf("Expected stats {1 0} after fingerprint change, got %+v", stats)
	}

	// A retried scan replaces whatever an earlier attempt left behind
	if _, err := s.AddFace(ctx, idA, `{"x":1}`, vecA); err != nil {
		t.Fatalf("AddFace failed: %v", err)
	}
	scanned := []NewFace{
		{BBoxJSON: `{"x":1}`, Embedding: vecA},
		{BBoxJSON: `{"x":300}`, Embedding: vecB},
	}
	if err := s.SaveScan(ctx, idA, types.ScanHasFaces, scanned); err != nil {
		t.Fatalf("SaveScan failed: %v", err)
	}
	if err := s.SaveScan(ctx, idA, types.ScanHasFaces, scanned); err != nil {
		t.Fatalf("SaveScan retry failed: %v", err)
	}
	stats, _ = s.GetStats(ctx)
	if stats.ProcessedCount != 2 || stats.FaceCount != 2 {
		t.Errorf("Expected stats {2 2} after SaveScan, got %+v", stats)
	}
	if f, _ := s.GetFile(ctx, idA); f.Status != types.ScanHasFaces {
		t.Errorf("Expected file %d to be has_faces, got %q", idA, f.Status)
	}

	if err := s.SaveScan(ctx, 99999, types.ScanHasFaces, scanned); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound saving a scan for a missing file, got %v", err)
	}
	if stats, _ = s.GetStats(ctx); stats.FaceCount != 2 {
		t.Errorf("Expected a failed SaveScan to store nothing, got %+v", stats)
	}
}

func TestMemoryStore(t *testing.T) {
	s := NewMemory()
	exerciseStore(t, s)

	ctx := context.Background()
	if _, err := s.AddFace(ctx, 12345, "{}", []float32{1}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown file, got %v", err)
	}
	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if files, _ := s.GetUnprocessedImageFiles(ctx); len(files) != 0 {
		t.Errorf("Expected empty store after reset, got %d files", len(files))
	}
}

func TestMemoryStore_FacesAreCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	id, _ := s.RegisterFile(ctx, "/p.jpg", "")
	vec := []float32{1, 2}
	s.AddFace(ctx, id, "{}", vec)
	vec[0] = 99

	faces, _ := s.GetAllFaces(ctx)
	if faces[0].Embedding[0] != 1 {
		t.Error("Stored embedding aliases the caller's slice")
	}
}

// TestStoreIntegration runs the same scenario against a real Postgres container.
// It requires Docker to be running.
func TestStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	// Explicitly check for Docker availability and fail hard if missing
	// We wrap this in a function to recover from panics inside testcontainers (e.g. socket not found)
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("testcontainers panicked: %v", r)
			}
		}()
		_, err = testcontainers.NewDockerClientWithOpts(ctx)
		return
	}()
	if err != nil {
		t.Fatalf("Docker not available, cannot run integration test: %v", err)
	}

	// Start Postgres Container with pgvector
	// We use the official pgvector image to ensure the extension is available.
	pgContainer, err := postgres.Run(ctx,
		"pgvector/pgvector:pg16",
		postgres.WithDatabase("facesift_test"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("Failed to terminate container: %v", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	// Initialize Store (runs migrations)
	s, err := New(ctx, connStr)
	if err != nil {
		t.Fatalf("Failed to connect to store: %v", err)
	}
	defer s.Close(ctx)

	exerciseStore(t, s)

	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
}
