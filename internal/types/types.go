package types

// Point is a 2D point in original-image pixel space.
type Point struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
}

// FaceBox is a detected face in original-image pixel space (top-left origin).
type FaceBox struct {
	X          float32 `json:"x"`
	Y          float32 `json:"y"`
	Width      float32 `json:"width"`
	Height     float32 `json:"height"`
	Confidence float32 `json:"confidence"`
	Landmarks  []Point `json:"landmarks,omitempty"`
}

// X2 returns the right edge of the box.
func (b FaceBox) X2() float32 { return b.X + b.Width }

// Y2 returns the bottom edge of the box.
func (b FaceBox) Y2() float32 { return b.Y + b.Height }

// Area returns the box area, or 0 for degenerate boxes.
func (b FaceBox) Area() float32 {
	if b.Width <= 0 || b.Height <= 0 {
		return 0
	}
	return b.Width * b.Height
}

// Center returns the center point of the box.
func (b FaceBox) Center() Point {
	return Point{X: b.X + b.Width/2, Y: b.Y + b.Height/2}
}

// FaceRecord is one accepted face of a photo with its unit-length embedding.
type FaceRecord struct {
	Box       FaceBox
	Embedding []float32
}

// ScanStatus is the per-file outcome of face indexing. An empty status means
// the file has not been indexed yet.
type ScanStatus string

const (
	ScanHasFaces     ScanStatus = "has_faces"
	ScanNoFacesFound ScanStatus = "no_faces_found"
)

// ImageFile is a photo registered in the library.
type ImageFile struct {
	ID     int64
	Path   string
	Status ScanStatus
}

// PersistedFace is a face row as stored by the store.
type PersistedFace struct {
	ID        int64
	FileID    int64
	BBoxJSON  string
	Embedding []float32
	PersonID  *int64
}

// Person is a cluster of faces believed to belong to the same individual.
type Person struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	FaceCount int    `json:"face_count"`
}

// Stats summarizes what earlier runs already indexed.
type Stats struct {
	ProcessedCount int `json:"processed_count"`
	FaceCount      int `json:"face_count"`
}
