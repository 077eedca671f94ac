// Package imaging holds the pixel-level primitives the face engine needs:
// decoding, letterbox resizing, padded crops and conversion to model tensors.
package imaging

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/andresmejia3/facesift/internal/types"
)

// ErrEmptyCrop is returned when a crop region clamps to nothing.
var ErrEmptyCrop = errors.New("crop region is empty")

// Symmetric pixel normalization shared by the detector and the embedder.
const (
	PixelMean float32 = 127.5
	PixelStd  float32 = 128.0
)

// Letterbox records how an image was fitted into a square model input.
// Content is placed at the top-left corner, so there is no padding offset.
type Letterbox struct {
	OrigW, OrigH       int
	ResizedW, ResizedH int
	InputSize          int
}

// ScaleX is resized/original along the horizontal axis.
func (l Letterbox) ScaleX() float32 {
	if l.OrigW == 0 {
		return 1
	}
	return float32(l.ResizedW) / float32(l.OrigW)
}

// ScaleY is resized/original along the vertical axis.
func (l Letterbox) ScaleY() float32 {
	if l.OrigH == 0 {
		return 1
	}
	return float32(l.ResizedH) / float32(l.OrigH)
}

// Open decodes the image at path.
func Open(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return img, nil
}

// LetterboxResize scales img to fit a size x size square keeping its aspect
// ratio. The remainder of the square is black.
func LetterboxResize(img image.Image, size int) (*image.RGBA, Letterbox) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	scale := float64(size) / float64(max(w, h))
	newW := max(1, int(math.Round(float64(w)*scale)))
	newH := max(1, int(math.Round(float64(h)*scale)))

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.Black}, image.Point{}, draw.Src)
	draw.BiLinear.Scale(dst, image.Rect(0, 0, newW, newH), img, b, draw.Src, nil)

	return dst, Letterbox{OrigW: w, OrigH: h, ResizedW: newW, ResizedH: newH, InputSize: size}
}

// Resize scales img to exactly w x h.
func Resize(img image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// CropPadded cuts the box out of img, grown by pad (a fraction of the box size)
// on every side and clamped to the image bounds.
func CropPadded(img image.Image, box types.FaceBox, pad float32) (image.Image, error) {
	b := img.Bounds()
	padX := box.Width * pad
	padY := box.Height * pad

	x1 := max(b.Min.X, int(box.X-padX))
	y1 := max(b.Min.Y, int(box.Y-padY))
	x2 := min(b.Max.X, int(box.X2()+padX))
	y2 := min(b.Max.Y, int(box.Y2()+padY))

	if x2 <= x1 || y2 <= y1 {
		return nil, ErrEmptyCrop
	}

	rect := image.Rect(x1, y1, x2, y2)
	if sub, ok := img.(interface {
		SubImage(r image.Rectangle) image.Image
	}); ok {
		return sub.SubImage(rect), nil
	}

	dst := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(dst, dst.Bounds(), img, rect.Min, draw.Src)
	return dst, nil
}

// ToCHW converts img to a planar RGB float tensor, (p - mean) / std per channel.
func ToCHW(img image.Image, mean, std float32) []float32 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	plane := w * h
	data := make([]float32, 3*plane)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			idx := y*w + x
			data[idx] = (float32(r>>8) - mean) / std
			data[plane+idx] = (float32(g>>8) - mean) / std
			data[2*plane+idx] = (float32(bl>>8) - mean) / std
		}
	}
	return data
}
