// Package engine owns the loaded face models and turns a photo into
// face records: detection, quality gating, cropping and embedding.
package engine

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"github.com/andresmejia3/facesift/internal/detector"
	"github.com/andresmejia3/facesift/internal/embedding"
	"github.com/andresmejia3/facesift/internal/imaging"
	"github.com/andresmejia3/facesift/internal/inference"
	"github.com/andresmejia3/facesift/internal/types"
)

// ErrModelLoad wraps any failure to load the models. It is fatal to a job.
var ErrModelLoad = errors.New("failed to load face models")

// DefaultCropPadding is the fraction of the box added on each side before embedding.
const DefaultCropPadding float32 = 0.2

// Engine is the single owner of the detector/embedder pair. Models are
// loaded lazily on first use and reused afterwards.
type Engine struct {
	loader    inference.Loader
	modelsDir string
	gate      detector.Gate
	padding   float32

	mu     sync.Mutex
	models *inference.Models
	post   *detector.Postprocessor
}

// Option configures an Engine.
type Option func(*Engine)

// WithGate replaces the default quality gate.
func WithGate(g detector.Gate) Option {
	return func(e *Engine) { e.gate = g }
}

// WithCropPadding sets the padding applied around each face before embedding.
func WithCropPadding(p float32) Option {
	return func(e *Engine) { e.padding = p }
}

// New creates an Engine that loads models from modelsDir on first use.
func New(loader inference.Loader, modelsDir string, opts ...Option) *Engine {
	e := &Engine{
		loader:    loader,
		modelsDir: modelsDir,
		gate:      detector.DefaultGate(),
		padding:   DefaultCropPadding,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Load loads both models unless they are already loaded.
func (e *Engine) Load(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.models != nil {
		return nil
	}

	models, err := e.loader.Load(e.modelsDir)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrModelLoad, err)
	}
	if models == nil || models.Detector == nil || models.Embedder == nil {
		models.Close()
		return fmt.Errorf("%w: loader returned incomplete models", ErrModelLoad)
	}

	m := models.Manifest.Detector
	post := detector.NewPostprocessor(m.InputSize, m.AnchorsPerCell)
	if len(m.Strides) > 0 {
		post.Strides = m.Strides
	}

	e.models = models
	e.post = post
	slog.Info("face models loaded", "dir", e.modelsDir, "detector", m.File, "embedder", models.Manifest.Embedder.File)
	return nil
}

// IsLoaded reports whether both models are loaded.
func (e *Engine) IsLoaded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.models != nil
}

// Close releases the models. The engine can be loaded again afterwards.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.models == nil {
		return nil
	}
	err := e.models.Close()
	e.models = nil
	e.post = nil
	return err
}

// ProcessImage returns one record per face that passes the quality gate.
// A photo without qualifying faces yields an empty slice and no error.
func (e *Engine) ProcessImage(ctx context.Context, path string) ([]types.FaceRecord, error) {
	if err := e.Load(ctx); err != nil {
		return nil, err
	}

	img, err := imaging.Open(path)
	if err != nil {
		return nil, err
	}
	return e.ProcessDecoded(ctx, img)
}

// ProcessDecoded runs the face pipeline on an already decoded image.
func (e *Engine) ProcessDecoded(ctx context.Context, img image.Image) ([]types.FaceRecord, error) {
	if err := e.Load(ctx); err != nil {
		return nil, err
	}

	boxes, err := e.detect(img)
	if err != nil {
		return nil, err
	}

	b := img.Bounds()
	boxes = e.gate.Filter(boxes, b.Dx(), b.Dy())

	records := make([]types.FaceRecord, 0, len(boxes))
	for _, box := range boxes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vec, err := e.embed(img, box)
		if err != nil {
			return nil, err
		}
		records = append(records, types.FaceRecord{Box: box, Embedding: vec})
	}
	return records, nil
}

func (e *Engine) detect(img image.Image) ([]types.FaceBox, error) {
	e.mu.Lock()
	models, post := e.models, e.post
	if models == nil {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: engine was closed", ErrModelLoad)
	}
	size := models.Manifest.Detector.InputSize
	resized, lb := imaging.LetterboxResize(img, size)
	outputs, err := models.Detector.Detect(imaging.ToCHW(resized, imaging.PixelMean, imaging.PixelStd))
	e.mu.Unlock()

	if err != nil {
		return nil, fmt.Errorf("detection failed: %w", err)
	}
	return post.Process(outputs, lb)
}

func (e *Engine) embed(img image.Image, box types.FaceBox) ([]float32, error) {
	crop, err := imaging.CropPadded(img, box, e.padding)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	models := e.models
	if models == nil {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: engine was closed", ErrModelLoad)
	}
	size := models.Manifest.Embedder.InputSize
	face := imaging.Resize(crop, size, size)
	raw, err := models.Embedder.Embed(imaging.ToCHW(face, imaging.PixelMean, imaging.PixelStd))
	e.mu.Unlock()

	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}
	return embedding.Normalize(raw)
}
