package detector

import "github.com/andresmejia3/facesift/internal/types"

const (
	DefaultMinConfidence float32 = 0.65
	DefaultMinFaceSize   float32 = 90
)

// Gate rejects faces that are too uncertain or too small to embed reliably.
// Sizes are absolute pixels so that high-resolution photos are not penalized
// the way an area-ratio filter would.
type Gate struct {
	MinConfidence float32
	MinSize       float32
}

// DefaultGate returns the gate used by the face engine.
func DefaultGate() Gate {
	return Gate{MinConfidence: DefaultMinConfidence, MinSize: DefaultMinFaceSize}
}

// Accept reports whether box passes the gate. The image dimensions are part
// of the signature for ratio-based gates but are not consulted here.
func (g Gate) Accept(box types.FaceBox, imageW, imageH int) bool {
	if box.Confidence < g.MinConfidence {
		return false
	}
	if box.Width < g.MinSize || box.Height < g.MinSize {
		return false
	}
	return true
}

// Filter returns the boxes that pass the gate, preserving order.
func (g Gate) Filter(boxes []types.FaceBox, imageW, imageH int) []types.FaceBox {
	kept := make([]types.FaceBox, 0, len(boxes))
	for _, b := range boxes {
		if g.Accept(b, imageW, imageH) {
			kept = append(kept, b)
		}
	}
	return kept
}
