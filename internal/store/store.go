package store

import (
	"context"
	"errors"

	"github.com/andresmejia3/facesift/internal/types"
)

// ErrNotFound is returned when a file or person does not exist.
var ErrNotFound = errors.New("not found")

// NewFace is a detected face waiting to be stored by SaveScan.
type NewFace struct {
	BBoxJSON  string
	Embedding []float32
}

// Store is the persistent face/person store used by indexing and clustering.
type Store interface {
	// RegisterFile adds a photo to the library. Re-registering a path whose
	// fingerprint changed drops its faces and clears its scan status.
	RegisterFile(ctx context.Context, path, fingerprint string) (int64, error)
	GetFile(ctx context.Context, id int64) (types.ImageFile, error)
	// GetUnprocessedImageFiles returns files without a scan status, by ascending ID.
	GetUnprocessedImageFiles(ctx context.Context) ([]types.ImageFile, error)
	// GetStats returns the number of scanned files and of stored faces.
	GetStats(ctx context.Context) (types.Stats, error)
	MarkScanned(ctx context.Context, fileID int64, status types.ScanStatus) error
	// SaveScan stores the outcome of scanning one file as a single unit: faces
	// left over from an earlier attempt are replaced by faces and the scan
	// status is set. On error nothing is changed.
	SaveScan(ctx context.Context, fileID int64, status types.ScanStatus, faces []NewFace) error

	AddFace(ctx context.Context, fileID int64, bboxJSON string, embedding []float32) (int64, error)
	// GetAllFaces returns every stored face by ascending ID.
	GetAllFaces(ctx context.Context) ([]types.PersistedFace, error)

	// ResetAllAssignments clears every face's person and deletes all persons.
	ResetAllAssignments(ctx context.Context) error
	CreatePerson(ctx context.Context, name string) (int64, error)
	AssignToPerson(ctx context.Context, faceID, personID int64) error
	ListPersons(ctx context.Context) ([]types.Person, error)
	RenamePerson(ctx context.Context, id int64, name string) error
	CountPersons(ctx context.Context) (int, error)

	// Reset removes all stored data.
	Reset(ctx context.Context) error
	Close(ctx context.Context)
}
