package rimage

import (
	"encoding/binary"
	"image"
	"math"

	"github.com/pkg/errors"

	"go.viam.com/depthstream/utils"
)

// Interpolation selects how Remap samples between source pixels.
type Interpolation int

const (
	// Bilinear blends the four surrounding pixels.
	Bilinear Interpolation = iota
	// Nearest takes the closest pixel. Use it for data that must not be blended, like depth.
	Nearest
)

func (i Interpolation) String() string {
	if i == Nearest {
		return "nearest"
	}
	return "bilinear"
}

// tap is the set of source samples feeding one destination pixel. Offsets are into Pix.
type tap struct {
	off [4]int
	w   [4]float32
	n   int
}

// computeTap resolves source position (sx, sy). Samples outside the source contribute 0.
func computeTap(sx, sy float32, width, height, stride, bpp int, interp Interpolation) tap {
	var t tap
	if interp == Nearest {
		x := int(math.Floor(float64(sx) + 0.5))
		y := int(math.Floor(float64(sy) + 0.5))
		if x >= 0 && y >= 0 && x < width && y < height {
			t.off[0] = y*stride + x*bpp
			t.w[0] = 1
			t.n = 1
		}
		return t
	}

	fx0 := float32(math.Floor(float64(sx)))
	fy0 := float32(math.Floor(float64(sy)))
	x0, y0 := int(fx0), int(fy0)
	ax, ay := sx-fx0, sy-fy0
	weights := [4]float32{(1 - ax) * (1 - ay), ax * (1 - ay), (1 - ax) * ay, ax * ay}
	for i, d := range [4][2]int{{0, 0}, {1, 0}, {0, 1}, {1, 1}} {
		x, y := x0+d[0], y0+d[1]
		if x < 0 || y < 0 || x >= width || y >= height || weights[i] == 0 {
			continue
		}
		t.off[t.n] = y*stride + x*bpp
		t.w[t.n] = weights[i]
		t.n++
	}
	return t
}

// Remap fills dst by sampling src at the positions given by mapX and mapY, one entry per
// destination pixel, row-major. When flip is set the destination rows are written in reverse
// order. dst and src must be the same type and size.
func Remap(dst, src image.Image, mapX, mapY []float32, interp Interpolation, flip bool) error {
	if !SameImgSize(dst, src) {
		return errors.Wrapf(ErrSizeMismatch, "remap %v into %v", src.Bounds(), dst.Bounds())
	}
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	if len(mapX) != w*h || len(mapY) != w*h {
		return errors.Wrapf(ErrSizeMismatch, "map has %d entries, expected %d", len(mapX), w*h)
	}

	switch s := src.(type) {
	case *image.RGBA:
		d, ok := dst.(*image.RGBA)
		if !ok {
			return utils.NewUnexpectedTypeError[*image.RGBA](dst)
		}
		remapBytes(d.Pix, d.Stride, s.Pix, s.Stride, w, h, 4, mapX, mapY, interp, flip)
	case *image.Gray:
		d, ok := dst.(*image.Gray)
		if !ok {
			return utils.NewUnexpectedTypeError[*image.Gray](dst)
		}
		remapBytes(d.Pix, d.Stride, s.Pix, s.Stride, w, h, 1, mapX, mapY, interp, flip)
	case *image.Gray16:
		d, ok := dst.(*image.Gray16)
		if !ok {
			return utils.NewUnexpectedTypeError[*image.Gray16](dst)
		}
		remapGray16(d, s, mapX, mapY, interp, flip)
	case *DepthImage:
		d, ok := dst.(*DepthImage)
		if !ok {
			return utils.NewUnexpectedTypeError[*DepthImage](dst)
		}
		remapDepth(d, s, mapX, mapY, interp, flip)
	default:
		return errors.Errorf("cannot remap image of type %T", src)
	}
	return nil
}

func remapBytes(
	dst []uint8, dstStride int,
	src []uint8, srcStride int,
	w, h, channels int,
	mapX, mapY []float32, interp Interpolation, flip bool,
) {
	utils.ParallelRows(h, func(from, to int) {
		for y := from; y < to; y++ {
			row := srcRow(y, h, flip) * w
			out := dst[y*dstStride:]
			for x := 0; x < w; x++ {
				t := computeTap(mapX[row+x], mapY[row+x], w, h, srcStride, channels, interp)
				for c := 0; c < channels; c++ {
					var acc float32
					for i := 0; i < t.n; i++ {
						acc += t.w[i] * float32(src[t.off[i]+c])
					}
					out[x*channels+c] = utils.ClampUint8(float64(acc))
				}
			}
		}
	})
}

func remapGray16(dst, src *image.Gray16, mapX, mapY []float32, interp Interpolation, flip bool) {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	utils.ParallelRows(h, func(from, to int) {
		for y := from; y < to; y++ {
			row := srcRow(y, h, flip) * w
			out := dst.Pix[y*dst.Stride:]
			for x := 0; x < w; x++ {
				t := computeTap(mapX[row+x], mapY[row+x], w, h, src.Stride, 2, interp)
				var acc float32
				for i := 0; i < t.n; i++ {
					acc += t.w[i] * float32(binary.BigEndian.Uint16(src.Pix[t.off[i]:]))
				}
				v := uint16(math.Max(0, math.Min(math.MaxUint16, float64(acc)+0.5)))
				binary.BigEndian.PutUint16(out[2*x:], v)
			}
		}
	})
}

func remapDepth(dst, src *DepthImage, mapX, mapY []float32, interp Interpolation, flip bool) {
	w, h := src.Width(), src.Height()
	utils.ParallelRows(h, func(from, to int) {
		for y := from; y < to; y++ {
			row := srcRow(y, h, flip) * w
			out := dst.Pix[y*dst.Stride:]
			for x := 0; x < w; x++ {
				t := computeTap(mapX[row+x], mapY[row+x], w, h, src.Stride, 1, interp)
				var acc float32
				for i := 0; i < t.n; i++ {
					acc += t.w[i] * src.Pix[t.off[i]]
				}
				out[x] = acc
			}
		}
	})
}
