// Package geometry holds the stateless helpers used to turn a multi-stride
// detector's raw output into face boxes: anchor grids, distance decoding,
// intersection-over-union and greedy non-maximum suppression.
package geometry

import (
	"sort"

	"github.com/andresmejia3/facesift/internal/types"
)

// Anchor is a reference point on a detector's feature grid, in input pixels.
type Anchor struct {
	CX, CY float32
}

// GenerateAnchors returns the anchor centers for a width x height input at the
// given stride, row-major. Each cell center is repeated perCell times to match
// detectors that predict several boxes per location.
func GenerateAnchors(width, height, stride, perCell int) []Anchor {
	if stride <= 0 {
		return nil
	}
	if perCell < 1 {
		perCell = 1
	}
	fmW := width / stride
	fmH := height / stride

	anchors := make([]Anchor, 0, fmW*fmH*perCell)
	for y := 0; y < fmH; y++ {
		for x := 0; x < fmW; x++ {
			a := Anchor{CX: float32(x * stride), CY: float32(y * stride)}
			for k := 0; k < perCell; k++ {
				anchors = append(anchors, a)
			}
		}
	}
	return anchors
}

// DecodeDistance converts (left, top, right, bottom) distances predicted for an
// anchor into box corners. Distances are in stride units.
func DecodeDistance(a Anchor, d [4]float32, stride int) (x1, y1, x2, y2 float32) {
	s := float32(stride)
	return a.CX - d[0]*s, a.CY - d[1]*s, a.CX + d[2]*s, a.CY + d[3]*s
}

// IoU calculates Intersection over Union of two boxes.
func IoU(a, b types.FaceBox) float32 {
	x1 := max32(a.X, b.X)
	y1 := max32(a.Y, b.Y)
	x2 := min32(a.X2(), b.X2())
	y2 := min32(a.Y2(), b.Y2())

	if x1 >= x2 || y1 >= y2 {
		return 0
	}

	intersection := (x2 - x1) * (y2 - y1)
	union := a.Area() + b.Area() - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}

// NMS performs greedy Non-Maximum Suppression: boxes are visited by descending
// confidence and a box is dropped when it overlaps a kept box by more than
// iouThreshold. The input slice is left untouched.
func NMS(boxes []types.FaceBox, iouThreshold float32) []types.FaceBox {
	if len(boxes) == 0 {
		return nil
	}

	sorted := make([]types.FaceBox, len(boxes))
	copy(sorted, boxes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	keep := make([]bool, len(sorted))
	for i := range keep {
		keep[i] = true
	}

	for i := 0; i < len(sorted); i++ {
		if !keep[i] {
			continue
		}
		for j := i + 1; j < len(sorted); j++ {
			if !keep[j] {
				continue
			}
			if IoU(sorted[i], sorted[j]) > iouThreshold {
				keep[j] = false
			}
		}
	}

	result := make([]types.FaceBox, 0, len(sorted))
	for i, box := range sorted {
		if keep[i] {
			result = append(result, box)
		}
	}
	return result
}

func max32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

func min32(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}
