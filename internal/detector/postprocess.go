// Package detector turns a multi-stride face detector's raw tensors into
// face boxes in original-image coordinates and filters them for quality.
package detector

import (
	"errors"
	"fmt"

	"github.com/andresmejia3/facesift/internal/geometry"
	"github.com/andresmejia3/facesift/internal/imaging"
	"github.com/andresmejia3/facesift/internal/inference"
	"github.com/andresmejia3/facesift/internal/types"
)

// ErrShapeMismatch is returned when a stride's tensors do not match its grid.
var ErrShapeMismatch = errors.New("detector output shape mismatch")

const (
	DefaultConfidenceThreshold float32 = 0.6
	DefaultNMSThreshold        float32 = 0.4
	DefaultInputSize                   = 640
)

// DefaultStrides are the feature-map strides every detection must cover.
var DefaultStrides = []int{8, 16, 32}

// Postprocessor decodes detector outputs into suppressed face boxes.
type Postprocessor struct {
	ConfidenceThreshold float32
	NMSThreshold        float32
	InputSize           int
	AnchorsPerCell      int
	Strides             []int
}

// NewPostprocessor returns a Postprocessor with the default thresholds for a
// square model input of inputSize pixels.
func NewPostprocessor(inputSize, anchorsPerCell int) *Postprocessor {
	return &Postprocessor{
		ConfidenceThreshold: DefaultConfidenceThreshold,
		NMSThreshold:        DefaultNMSThreshold,
		InputSize:           inputSize,
		AnchorsPerCell:      anchorsPerCell,
		Strides:             DefaultStrides,
	}
}

// Process decodes every stride, aggregates the candidates and runs NMS.
// An image without faces yields an empty slice and no error.
func (p *Postprocessor) Process(outputs []inference.StrideOutput, lb imaging.Letterbox) ([]types.FaceBox, error) {
	byStride := make(map[int]inference.StrideOutput, len(outputs))
	for _, out := range outputs {
		byStride[out.Stride] = out
	}

	var candidates []types.FaceBox
	for _, stride := range p.Strides {
		out, ok := byStride[stride]
		if !ok {
			return nil, fmt.Errorf("%w: missing output for stride %d", ErrShapeMismatch, stride)
		}
		boxes, err := p.decodeStride(out, lb)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, boxes...)
	}

	if len(candidates) == 0 {
		return []types.FaceBox{}, nil
	}
	return geometry.NMS(candidates, p.NMSThreshold), nil
}

func (p *Postprocessor) decodeStride(out inference.StrideOutput, lb imaging.Letterbox) ([]types.FaceBox, error) {
	anchors := geometry.GenerateAnchors(p.InputSize, p.InputSize, out.Stride, p.AnchorsPerCell)
	n := len(anchors)

	if len(out.Scores) != n {
		return nil, fmt.Errorf("%w: stride %d has %d scores, expected %d", ErrShapeMismatch, out.Stride, len(out.Scores), n)
	}
	if len(out.Distances) != 4*n {
		return nil, fmt.Errorf("%w: stride %d has %d distances, expected %d", ErrShapeMismatch, out.Stride, len(out.Distances), 4*n)
	}
	hasLandmarks := len(out.Landmarks) > 0
	if hasLandmarks && len(out.Landmarks) != 10*n {
		return nil, fmt.Errorf("%w: stride %d has %d landmark values, expected %d", ErrShapeMismatch, out.Stride, len(out.Landmarks), 10*n)
	}

	sx, sy := lb.ScaleX(), lb.ScaleY()
	s := float32(out.Stride)

	var boxes []types.FaceBox
	for j, a := range anchors {
		score := out.Scores[j]
		if score < p.ConfidenceThreshold {
			continue
		}

		var d [4]float32
		copy(d[:], out.Distances[j*4:j*4+4])
		x1, y1, x2, y2 := geometry.DecodeDistance(a, d, out.Stride)

		// Content starts at the origin, so only the scale is undone.
		x1, x2 = x1/sx, x2/sx
		y1, y2 = y1/sy, y2/sy

		box := types.FaceBox{
			X:          x1,
			Y:          y1,
			Width:      x2 - x1,
			Height:     y2 - y1,
			Confidence: score,
		}

		if hasLandmarks {
			kps := out.Landmarks[j*10 : j*10+10]
			box.Landmarks = make([]types.Point, 5)
			for k := 0; k < 5; k++ {
				box.Landmarks[k] = types.Point{
					X: (a.CX + kps[2*k]*s) / sx,
					Y: (a.CY + kps[2*k+1]*s) / sy,
				}
			}
		}
		boxes = append(boxes, box)
	}
	return boxes, nil
}
