package inference

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	runtimeMu          sync.Mutex
	runtimeInitialized bool
)

// InitRuntime sets up the ONNX Runtime environment once per process.
// An empty libPath leaves the library lookup to onnxruntime_go's default.
func InitRuntime(libPath string) error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if runtimeInitialized {
		return nil
	}
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX Runtime: %w", err)
	}
	runtimeInitialized = true
	return nil
}

// ShutdownRuntime tears down the ONNX Runtime environment.
func ShutdownRuntime() error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if !runtimeInitialized {
		return nil
	}
	if err := ort.DestroyEnvironment(); err != nil {
		return err
	}
	runtimeInitialized = false
	return nil
}

// ONNXLoader loads both models with onnxruntime.
type ONNXLoader struct {
	LibraryPath string
}

func (l ONNXLoader) Load(dir string) (*Models, error) {
	manifest, err := LoadManifest(dir)
	if err != nil {
		return nil, err
	}
	if err := InitRuntime(l.LibraryPath); err != nil {
		return nil, err
	}

	det, err := newONNXDetector(filepath.Join(dir, manifest.Detector.File), manifest.Detector)
	if err != nil {
		return nil, err
	}
	emb, err := newONNXEmbedder(filepath.Join(dir, manifest.Embedder.File), manifest.Embedder)
	if err != nil {
		det.Close()
		return nil, err
	}
	return &Models{Detector: det, Embedder: emb, Manifest: manifest}, nil
}

type onnxDetector struct {
	session   *ort.AdvancedSession
	input     *ort.Tensor[float32]
	scores    []*ort.Tensor[float32]
	bboxes    []*ort.Tensor[float32]
	landmarks []*ort.Tensor[float32]
	strides   []int
}

func newONNXDetector(modelPath string, m DetectorManifest) (*onnxDetector, error) {
	size := int64(m.InputSize)
	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, size, size))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	d := &onnxDetector{input: input, strides: m.Strides}
	var names []string
	var values []ort.Value

	alloc := func(name string, n, width int) (*ort.Tensor[float32], error) {
		t, err := ort.NewEmptyTensor[float32](ort.NewShape(int64(n), int64(width)))
		if err != nil {
			return nil, fmt.Errorf("create output tensor %s: %w", name, err)
		}
		names = append(names, name)
		values = append(values, t)
		return t, nil
	}

	for i, stride := range m.Strides {
		n := m.AnchorCount(stride)

		t, err := alloc(m.ScoreOutputs[i], n, 1)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.scores = append(d.scores, t)

		if t, err = alloc(m.BBoxOutputs[i], n, 4); err != nil {
			d.Close()
			return nil, err
		}
		d.bboxes = append(d.bboxes, t)

		if len(m.LandmarkOutputs) > 0 {
			if t, err = alloc(m.LandmarkOutputs[i], n, 10); err != nil {
				d.Close()
				return nil, err
			}
			d.landmarks = append(d.landmarks, t)
		}
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{m.InputName},
		names,
		[]ort.Value{input},
		values,
		nil,
	)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("create detector session: %w", err)
	}
	d.session = session
	return d, nil
}

func (d *onnxDetector) Detect(input []float32) ([]StrideOutput, error) {
	dst := d.input.GetData()
	if len(input) != len(dst) {
		return nil, fmt.Errorf("detector input has %d values, expected %d", len(input), len(dst))
	}
	copy(dst, input)

	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}

	out := make([]StrideOutput, len(d.strides))
	for i, stride := range d.strides {
		out[i] = StrideOutput{
			Stride:    stride,
			Scores:    clone(d.scores[i].GetData()),
			Distances: clone(d.bboxes[i].GetData()),
		}
		if len(d.landmarks) > 0 {
			out[i].Landmarks = clone(d.landmarks[i].GetData())
		}
	}
	return out, nil
}

func (d *onnxDetector) Close() error {
	var errs []error
	if d.session != nil {
		errs = append(errs, d.session.Destroy())
	}
	errs = append(errs, d.input.Destroy())
	for _, group := range [][]*ort.Tensor[float32]{d.scores, d.bboxes, d.landmarks} {
		for _, t := range group {
			errs = append(errs, t.Destroy())
		}
	}
	return errors.Join(errs...)
}

type onnxEmbedder struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

func newONNXEmbedder(modelPath string, m EmbedderManifest) (*onnxEmbedder, error) {
	size := int64(m.InputSize)
	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, size, size))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(m.Dim)))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{m.InputName},
		[]string{m.OutputName},
		[]ort.Value{input},
		[]ort.Value{output},
		nil,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("create embedder session: %w", err)
	}
	return &onnxEmbedder{session: session, input: input, output: output}, nil
}

func (e *onnxEmbedder) Embed(input []float32) ([]float32, error) {
	dst := e.input.GetData()
	if len(input) != len(dst) {
		return nil, fmt.Errorf("embedder input has %d values, expected %d", len(input), len(dst))
	}
	copy(dst, input)

	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("run embedding: %w", err)
	}
	return clone(e.output.GetData()), nil
}

func (e *onnxEmbedder) Close() error {
	return errors.Join(e.session.Destroy(), e.input.Destroy(), e.output.Destroy())
}

func clone(src []float32) []float32 {
	out := make([]float32, len(src))
	copy(out, src)
	return out
}
