package rimage

import (
	"image"
	"image/color"
	"math"

	"github.com/lucasb-eyer/go-colorful"
)

// DepthImage is a depth frame normalized against a [min, max] range, so that 0 is the near bound
// and 1 the far bound. Values outside [0, 1] are kept as is; they mark samples beyond the range.
type DepthImage struct {
	// Pix holds one value per pixel, row-major.
	Pix []float32
	// Stride is the Pix distance, in elements, between vertically adjacent pixels.
	Stride int
	Rect   image.Rectangle
}

// NewDepthImage returns a zeroed depth image.
func NewDepthImage(width, height int) *DepthImage {
	return &DepthImage{
		Pix:    make([]float32, width*height),
		Stride: width,
		Rect:   image.Rect(0, 0, width, height),
	}
}

// ColorModel returns the 16-bit gray model; At maps [0, 1] onto it.
func (d *DepthImage) ColorModel() color.Model {
	return color.Gray16Model
}

// Bounds returns the image bounds.
func (d *DepthImage) Bounds() image.Rectangle {
	return d.Rect
}

// Width returns the horizontal size of the image.
func (d *DepthImage) Width() int {
	return d.Rect.Dx()
}

// Height returns the vertical size of the image.
func (d *DepthImage) Height() int {
	return d.Rect.Dy()
}

func (d *DepthImage) offset(x, y int) int {
	return (y-d.Rect.Min.Y)*d.Stride + (x - d.Rect.Min.X)
}

// At returns the value at (x, y) clamped to [0, 1] and scaled to 16 bits.
func (d *DepthImage) At(x, y int) color.Color {
	if !(image.Point{x, y}.In(d.Rect)) {
		return color.Gray16{}
	}
	v := math.Max(0, math.Min(1, float64(d.Pix[d.offset(x, y)])))
	return color.Gray16{Y: uint16(v*math.MaxUint16 + 0.5)}
}

// Get returns the raw normalized value at (x, y).
func (d *DepthImage) Get(x, y int) float32 {
	return d.Pix[d.offset(x, y)]
}

// Set stores a normalized value at (x, y).
func (d *DepthImage) Set(x, y int, v float32) {
	d.Pix[d.offset(x, y)] = v
}

// Clone returns a deep copy.
func (d *DepthImage) Clone() *DepthImage {
	return &DepthImage{
		Pix:    append([]float32(nil), d.Pix...),
		Stride: d.Stride,
		Rect:   d.Rect,
	}
}

// MinMax returns the smallest and largest strictly positive values. Zero marks missing samples.
func (d *DepthImage) MinMax() (float32, float32) {
	lo := float32(math.MaxFloat32)
	hi := float32(0)
	for _, v := range d.Pix {
		if !(v > 0) {
			continue
		}
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if hi == 0 {
		return 0, 0
	}
	return lo, hi
}

// ToPrettyPicture colours the depth image with a hue sweep from near to far, leaving missing
// samples black.
func (d *DepthImage) ToPrettyPicture() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, d.Width(), d.Height()))
	lo, hi := d.MinMax()
	span := float64(hi - lo)
	if span <= 0 {
		span = 1
	}

	for y := 0; y < d.Height(); y++ {
		for x := 0; x < d.Width(); x++ {
			z := d.Pix[y*d.Stride+x]
			if !(z > 0) {
				continue
			}
			ratio := math.Max(0, math.Min(1, float64(z-lo)/span))
			hue := 30 + (200.0 * ratio)
			r, g, b := colorful.Hsv(hue, 1.0, 1.0).RGB255()
			img.SetRGBA(x, y, color.RGBA{R: r, G: g, B: b, A: 255})
		}
	}
	return img
}
