package rimage

import (
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/lmittmann/ppm"
	"github.com/pkg/errors"
	"github.com/xfmoulet/qoi"
	"go.viam.com/utils"
	"golang.org/x/image/draw"
)

const (
	// MimeTypeJPEG is regular jpgs.
	MimeTypeJPEG = "image/jpeg"
	// MimeTypePNG is regular pngs.
	MimeTypePNG = "image/png"
	// MimeTypeQOI is for .qoi "Quite OK Image" for lossless, fast encoding/decoding.
	MimeTypeQOI = "image/qoi"
	// MimeTypePPM is for binary portable pixmaps.
	MimeTypePPM = "image/x-portable-pixmap"
)

// MimeTypeFromPath picks the encoding from a file extension, defaulting to PNG.
func MimeTypeFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return MimeTypeJPEG
	case ".qoi":
		return MimeTypeQOI
	case ".ppm":
		return MimeTypePPM
	default:
		return MimeTypePNG
	}
}

// Extension returns the file extension, with the dot, for a supported mime type.
func Extension(mimeType string) string {
	switch mimeType {
	case MimeTypeJPEG:
		return ".jpg"
	case MimeTypeQOI:
		return ".qoi"
	case MimeTypePPM:
		return ".ppm"
	default:
		return ".png"
	}
}

// displayable returns an image the lossy and 8-bit encoders can take. Depth is coloured; every
// other format is passed through.
func displayable(img image.Image) image.Image {
	if dm, ok := img.(*DepthImage); ok {
		return dm.ToPrettyPicture()
	}
	return img
}

// EncodeImage writes img in the given mime type. PNG keeps 16-bit data; the other encoders receive
// depth as a coloured picture.
func EncodeImage(w io.Writer, img image.Image, mimeType string) error {
	switch mimeType {
	case MimeTypePNG:
		return png.Encode(w, img)
	case MimeTypeJPEG:
		return jpeg.Encode(w, displayable(img), &jpeg.Options{Quality: 90})
	case MimeTypeQOI:
		return qoi.Encode(w, displayable(img))
	case MimeTypePPM:
		return ppm.Encode(w, displayable(img))
	default:
		return errors.Errorf("do not know how to encode %q", mimeType)
	}
}

// WriteImageToFile encodes img into path, choosing the encoding from the extension.
func WriteImageToFile(path string, img image.Image) error {
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "error creating image file")
	}
	defer utils.UncheckedErrorFunc(f.Close)
	return EncodeImage(f, img, MimeTypeFromPath(path))
}

// Preview scales img down so it is at most maxWidth pixels wide, keeping its aspect ratio. Images
// already small enough are returned as is.
func Preview(img image.Image, maxWidth int) image.Image {
	img = displayable(img)
	b := img.Bounds()
	if maxWidth <= 0 || b.Dx() <= maxWidth {
		return img
	}
	height := b.Dy() * maxWidth / b.Dx()
	if height < 1 {
		height = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
