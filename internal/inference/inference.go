// Package inference defines the boundary between the face engine and the
// neural network backends that run detection and embedding models.
package inference

import "errors"

// StrideOutput is a detector's raw output for one feature-map stride.
// Scores holds one value per anchor, Distances four (l, t, r, b) per anchor
// and Landmarks, when the model provides them, ten (five x/y pairs) per anchor.
type StrideOutput struct {
	Stride    int
	Scores    []float32
	Distances []float32
	Landmarks []float32
}

// Detector runs the face detection model on a CHW tensor of the
// manifest's input size.
type Detector interface {
	Detect(input []float32) ([]StrideOutput, error)
	Close() error
}

// Embedder runs the identity model on a CHW face crop tensor.
type Embedder interface {
	Embed(input []float32) ([]float32, error)
	Close() error
}

// Models bundles a loaded detector/embedder pair with the manifest that
// describes their tensor layout.
type Models struct {
	Detector Detector
	Embedder Embedder
	Manifest Manifest
}

// Close releases both models.
func (m *Models) Close() error {
	if m == nil {
		return nil
	}
	var errs []error
	if m.Detector != nil {
		errs = append(errs, m.Detector.Close())
	}
	if m.Embedder != nil {
		errs = append(errs, m.Embedder.Close())
	}
	return errors.Join(errs...)
}

// Loader loads both models from a models directory.
type Loader interface {
	Load(dir string) (*Models, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(dir string) (*Models, error)

func (f LoaderFunc) Load(dir string) (*Models, error) { return f(dir) }
