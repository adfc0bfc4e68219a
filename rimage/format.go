// Package rimage holds the image types produced by the frame pipeline and the pure conversion,
// remapping and encoding functions that operate on them.
package rimage

import (
	"image"

	"github.com/pkg/errors"
)

// PixelFormat identifies the in-memory layout of a processed frame.
type PixelFormat int

const (
	// PixelFormatUnknown is the zero value.
	PixelFormatUnknown PixelFormat = iota
	// PixelFormatRGBA32 is 8-bit interleaved RGBA, stored as *image.RGBA.
	PixelFormatRGBA32
	// PixelFormatGray8 is 8-bit luminance, stored as *image.Gray.
	PixelFormatGray8
	// PixelFormatGray16 is 16-bit luminance, stored as *image.Gray16 (big endian, as the standard
	// library defines it).
	PixelFormatGray16
	// PixelFormatDepthFloat32 is normalized depth, stored as *DepthImage.
	PixelFormatDepthFloat32
)

// String returns a human readable name.
func (f PixelFormat) String() string {
	switch f {
	case PixelFormatRGBA32:
		return "rgba32"
	case PixelFormatGray8:
		return "gray8"
	case PixelFormatGray16:
		return "gray16"
	case PixelFormatDepthFloat32:
		return "depth_float32"
	case PixelFormatUnknown:
	}
	return "unknown"
}

// BytesPerPixel returns the storage size of one pixel.
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case PixelFormatRGBA32, PixelFormatDepthFloat32:
		return 4
	case PixelFormatGray8:
		return 1
	case PixelFormatGray16:
		return 2
	case PixelFormatUnknown:
	}
	return 0
}

// NewImage allocates an image of the given format.
func NewImage(format PixelFormat, width, height int) (image.Image, error) {
	rect := image.Rect(0, 0, width, height)
	switch format {
	case PixelFormatRGBA32:
		return image.NewRGBA(rect), nil
	case PixelFormatGray8:
		return image.NewGray(rect), nil
	case PixelFormatGray16:
		return image.NewGray16(rect), nil
	case PixelFormatDepthFloat32:
		return NewDepthImage(width, height), nil
	case PixelFormatUnknown:
	}
	return nil, errors.Errorf("cannot allocate image of format %s", format)
}

// FormatOf returns the format of an image produced by this package.
func FormatOf(img image.Image) PixelFormat {
	switch img.(type) {
	case *image.RGBA:
		return PixelFormatRGBA32
	case *image.Gray:
		return PixelFormatGray8
	case *image.Gray16:
		return PixelFormatGray16
	case *DepthImage:
		return PixelFormatDepthFloat32
	default:
		return PixelFormatUnknown
	}
}

// SameImgSize compares two images to see if they're the same size.
func SameImgSize(g1, g2 image.Image) bool {
	return g1.Bounds().Dx() == g2.Bounds().Dx() && g1.Bounds().Dy() == g2.Bounds().Dy()
}

// CloneImage returns a deep copy of an image produced by this package.
func CloneImage(img image.Image) (image.Image, error) {
	switch src := img.(type) {
	case *image.RGBA:
		dst := *src
		dst.Pix = append([]uint8(nil), src.Pix...)
		return &dst, nil
	case *image.Gray:
		dst := *src
		dst.Pix = append([]uint8(nil), src.Pix...)
		return &dst, nil
	case *image.Gray16:
		dst := *src
		dst.Pix = append([]uint8(nil), src.Pix...)
		return &dst, nil
	case *DepthImage:
		return src.Clone(), nil
	default:
		return nil, errors.Errorf("cannot clone image of type %T", img)
	}
}
