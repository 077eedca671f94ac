package inference

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ManifestFile is the optional override looked up in the models directory.
const ManifestFile = "manifest.yaml"

//go:embed manifest.yaml
var defaultManifest []byte

// DetectorManifest describes the detection model's file and tensors.
type DetectorManifest struct {
	File            string   `yaml:"file"`
	InputName       string   `yaml:"input_name"`
	InputSize       int      `yaml:"input_size"`
	Strides         []int    `yaml:"strides"`
	AnchorsPerCell  int      `yaml:"anchors_per_cell"`
	ScoreOutputs    []string `yaml:"score_outputs"`
	BBoxOutputs     []string `yaml:"bbox_outputs"`
	LandmarkOutputs []string `yaml:"landmark_outputs"`
}

// EmbedderManifest describes the identity model's file and tensors.
type EmbedderManifest struct {
	File       string `yaml:"file"`
	InputName  string `yaml:"input_name"`
	OutputName string `yaml:"output_name"`
	InputSize  int    `yaml:"input_size"`
	Dim        int    `yaml:"dim"`
}

// Manifest is the model layout for a models directory.
type Manifest struct {
	Detector DetectorManifest `yaml:"detector"`
	Embedder EmbedderManifest `yaml:"embedder"`
}

// DefaultManifest returns the built-in manifest.
func DefaultManifest() Manifest {
	m, err := ParseManifest(defaultManifest)
	if err != nil {
		panic(fmt.Sprintf("embedded manifest is invalid: %v", err))
	}
	return m
}

// LoadManifest reads dir/manifest.yaml, falling back to the built-in manifest
// when the file does not exist.
func LoadManifest(dir string) (Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if errors.Is(err, os.ErrNotExist) {
		return DefaultManifest(), nil
	}
	if err != nil {
		return Manifest{}, fmt.Errorf("failed to read manifest: %w", err)
	}
	return ParseManifest(data)
}

// ParseManifest decodes and validates a YAML manifest.
func ParseManifest(data []byte) (Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if m.Detector.AnchorsPerCell == 0 {
		m.Detector.AnchorsPerCell = 1
	}
	return m, m.Validate()
}

// Validate checks that the manifest is internally consistent.
func (m Manifest) Validate() error {
	d := m.Detector
	if d.File == "" || m.Embedder.File == "" {
		return errors.New("manifest: model file names are required")
	}
	if d.InputSize <= 0 || m.Embedder.InputSize <= 0 {
		return errors.New("manifest: input sizes must be positive")
	}
	if m.Embedder.Dim <= 0 {
		return errors.New("manifest: embedding dim must be positive")
	}
	if len(d.Strides) == 0 {
		return errors.New("manifest: detector strides are required")
	}
	for _, s := range d.Strides {
		if s <= 0 || d.InputSize%s != 0 {
			return fmt.Errorf("manifest: stride %d does not divide input size %d", s, d.InputSize)
		}
	}
	if len(d.ScoreOutputs) != len(d.Strides) || len(d.BBoxOutputs) != len(d.Strides) {
		return fmt.Errorf("manifest: expected %d score and bbox outputs", len(d.Strides))
	}
	if len(d.LandmarkOutputs) != 0 && len(d.LandmarkOutputs) != len(d.Strides) {
		return fmt.Errorf("manifest: expected %d landmark outputs", len(d.Strides))
	}
	return nil
}

// AnchorCount is the number of anchors the detector emits for a stride.
func (d DetectorManifest) AnchorCount(stride int) int {
	fm := d.InputSize / stride
	return fm * fm * d.AnchorsPerCell
}
