package rimage

import (
	"encoding/binary"
	"image"

	"github.com/pkg/errors"

	"go.viam.com/depthstream/utils"
)

// Raw sensor layouts.
const (
	// RawRGBABytesPerPixel is the size of an interleaved 8-bit RGBA color pixel.
	RawRGBABytesPerPixel = 4
	// Raw16BytesPerPixel is the size of a little-endian 16-bit infrared or depth pixel.
	Raw16BytesPerPixel = 2
)

// ErrSizeMismatch is returned when a source or destination does not have the expected size.
var ErrSizeMismatch = errors.New("image size mismatch")

func checkRaw(src []byte, width, height, bytesPerPixel int) error {
	want, ok := utils.BufferSize(width, height, bytesPerPixel)
	if !ok {
		return errors.Wrapf(ErrSizeMismatch, "%dx%d image does not fit in memory", width, height)
	}
	if len(src) != want {
		return errors.Wrapf(ErrSizeMismatch, "raw buffer has %d bytes, expected %d for %dx%d", len(src), want, width, height)
	}
	return nil
}

// srcRow returns the source row feeding destination row y, reversing the order when flipping.
func srcRow(y, height int, flip bool) int {
	if flip {
		return height - 1 - y
	}
	return y
}

// CopyRGBA copies raw interleaved RGBA into dst, optionally flipping vertically.
func CopyRGBA(dst *image.RGBA, src []byte, flip bool) error {
	w, h := dst.Rect.Dx(), dst.Rect.Dy()
	if err := checkRaw(src, w, h, RawRGBABytesPerPixel); err != nil {
		return err
	}
	rowBytes := w * RawRGBABytesPerPixel
	utils.ParallelRows(h, func(from, to int) {
		for y := from; y < to; y++ {
			sy := srcRow(y, h, flip)
			copy(dst.Pix[y*dst.Stride:y*dst.Stride+rowBytes], src[sy*rowBytes:(sy+1)*rowBytes])
		}
	})
	return nil
}

// RGBAToLuminance converts raw interleaved RGBA into 8-bit luminance with Rec. 601 weights
// (0.299 R + 0.587 G + 0.114 B), optionally flipping vertically.
func RGBAToLuminance(dst *image.Gray, src []byte, flip bool) error {
	w, h := dst.Rect.Dx(), dst.Rect.Dy()
	if err := checkRaw(src, w, h, RawRGBABytesPerPixel); err != nil {
		return err
	}
	rowBytes := w * RawRGBABytesPerPixel
	utils.ParallelRows(h, func(from, to int) {
		for y := from; y < to; y++ {
			in := src[srcRow(y, h, flip)*rowBytes:]
			out := dst.Pix[y*dst.Stride:]
			for x := 0; x < w; x++ {
				r, g, b := uint32(in[4*x]), uint32(in[4*x+1]), uint32(in[4*x+2])
				// Same fixed point weights as color.GrayModel.
				out[x] = uint8((19595*r + 38470*g + 7471*b + 1<<15) >> 16)
			}
		}
	})
	return nil
}

// Scale16To8 converts raw little-endian 16-bit values to 8 bits as clamp(v/256*scale, 0, 255),
// optionally flipping vertically.
func Scale16To8(dst *image.Gray, src []byte, scale float64, flip bool) error {
	w, h := dst.Rect.Dx(), dst.Rect.Dy()
	if err := checkRaw(src, w, h, Raw16BytesPerPixel); err != nil {
		return err
	}
	rowBytes := w * Raw16BytesPerPixel
	factor := scale / 256
	utils.ParallelRows(h, func(from, to int) {
		for y := from; y < to; y++ {
			in := src[srcRow(y, h, flip)*rowBytes:]
			out := dst.Pix[y*dst.Stride:]
			for x := 0; x < w; x++ {
				v := binary.LittleEndian.Uint16(in[2*x:])
				out[x] = utils.ClampUint8(float64(v) * factor)
			}
		}
	})
	return nil
}

// Pack16 copies raw little-endian 16-bit values unchanged into a Gray16 image, optionally flipping
// vertically.
func Pack16(dst *image.Gray16, src []byte, flip bool) error {
	w, h := dst.Rect.Dx(), dst.Rect.Dy()
	if err := checkRaw(src, w, h, Raw16BytesPerPixel); err != nil {
		return err
	}
	rowBytes := w * Raw16BytesPerPixel
	utils.ParallelRows(h, func(from, to int) {
		for y := from; y < to; y++ {
			in := src[srcRow(y, h, flip)*rowBytes:]
			out := dst.Pix[y*dst.Stride:]
			for x := 0; x < w; x++ {
				binary.BigEndian.PutUint16(out[2*x:], binary.LittleEndian.Uint16(in[2*x:]))
			}
		}
	})
	return nil
}

// DepthToNormalized converts raw little-endian 16-bit millimetre depth into (v - minMM) / (maxMM - minMM),
// optionally flipping vertically. Values outside the range are not clamped.
func DepthToNormalized(dst *DepthImage, src []byte, minMM, maxMM float64, flip bool) error {
	if !(maxMM > minMM) {
		return errors.Errorf("invalid depth range [%v, %v] mm", minMM, maxMM)
	}
	w, h := dst.Width(), dst.Height()
	if err := checkRaw(src, w, h, Raw16BytesPerPixel); err != nil {
		return err
	}
	rowBytes := w * Raw16BytesPerPixel
	inv := 1 / (maxMM - minMM)
	utils.ParallelRows(h, func(from, to int) {
		for y := from; y < to; y++ {
			in := src[srcRow(y, h, flip)*rowBytes:]
			out := dst.Pix[y*dst.Stride:]
			for x := 0; x < w; x++ {
				v := float64(binary.LittleEndian.Uint16(in[2*x:]))
				out[x] = float32((v - minMM) * inv)
			}
		}
	})
	return nil
}
