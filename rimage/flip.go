package rimage

import (
	"image"

	"github.com/pkg/errors"

	"go.viam.com/depthstream/utils"
)

// FlipVertical writes src into dst with the row order reversed. dst and src must be the same type
// and size; they may be the same image, in which case rows are swapped in place.
func FlipVertical(dst, src image.Image) error {
	if !SameImgSize(dst, src) {
		return errors.Wrapf(ErrSizeMismatch, "flip %v into %v", src.Bounds(), dst.Bounds())
	}
	h := src.Bounds().Dy()
	switch s := src.(type) {
	case *image.RGBA:
		d, ok := dst.(*image.RGBA)
		if !ok {
			return utils.NewUnexpectedTypeError[*image.RGBA](dst)
		}
		flipRows(d.Pix, s.Pix, d.Stride, s.Stride, s.Rect.Dx()*4, h)
	case *image.Gray:
		d, ok := dst.(*image.Gray)
		if !ok {
			return utils.NewUnexpectedTypeError[*image.Gray](dst)
		}
		flipRows(d.Pix, s.Pix, d.Stride, s.Stride, s.Rect.Dx(), h)
	case *image.Gray16:
		d, ok := dst.(*image.Gray16)
		if !ok {
			return utils.NewUnexpectedTypeError[*image.Gray16](dst)
		}
		flipRows(d.Pix, s.Pix, d.Stride, s.Stride, s.Rect.Dx()*2, h)
	case *DepthImage:
		d, ok := dst.(*DepthImage)
		if !ok {
			return utils.NewUnexpectedTypeError[*DepthImage](dst)
		}
		flipRows(d.Pix, s.Pix, d.Stride, s.Stride, s.Width(), h)
	default:
		return errors.Errorf("cannot flip image of type %T", src)
	}
	return nil
}

// flipRows reverses the row order of src into dst. Strides and rowLen are in elements.
func flipRows[T uint8 | float32](dst, src []T, dstStride, srcStride, rowLen, height int) {
	if len(dst) > 0 && len(src) > 0 && &dst[0] == &src[0] {
		tmp := make([]T, rowLen)
		for y := 0; y < height/2; y++ {
			top := dst[y*dstStride : y*dstStride+rowLen]
			bottom := dst[(height-1-y)*dstStride : (height-1-y)*dstStride+rowLen]
			copy(tmp, top)
			copy(top, bottom)
			copy(bottom, tmp)
		}
		return
	}
	utils.ParallelRows(height, func(from, to int) {
		for y := from; y < to; y++ {
			sy := height - 1 - y
			copy(dst[y*dstStride:y*dstStride+rowLen], src[sy*srcStride:sy*srcStride+rowLen])
		}
	})
}
