// Package stream turns raw per-tick sensor frames of one camera stream into processed frames. It
// holds the stream configuration, the frame history ring and the per-stream Processor.
package stream

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"go.viam.com/depthstream/rimage"
)

// Kind is the sensor stream a processor consumes.
type Kind int

const (
	// Color is 8-bit interleaved RGBA.
	Color Kind = iota
	// Infrared is 16-bit little-endian linear intensity.
	Infrared
	// Depth is 16-bit little-endian distance in millimetres.
	Depth
)

// Kinds lists every stream kind.
var Kinds = []Kind{Color, Infrared, Depth}

func (k Kind) String() string {
	switch k {
	case Color:
		return "color"
	case Infrared:
		return "infrared"
	case Depth:
		return "depth"
	}
	return "unknown"
}

// KindFromString parses a stream kind. The parsing is case-insensitive and accepts "ir".
func KindFromString(inp string) (Kind, error) {
	switch strings.ToLower(inp) {
	case "color", "colour":
		return Color, nil
	case "infrared", "ir":
		return Infrared, nil
	case "depth":
		return Depth, nil
	}
	return Color, errors.Errorf("unknown stream kind: %q", inp)
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	return k == Color || k == Infrared || k == Depth
}

// RawBytesPerPixel is the size of one pixel as the sensor delivers it.
func (k Kind) RawBytesPerPixel() int {
	if k == Color {
		return rimage.RawRGBABytesPerPixel
	}
	return rimage.Raw16BytesPerPixel
}

// OutputFormat is the format of processed frames for the given luminance setting.
func (k Kind) OutputFormat(luminance bool) rimage.PixelFormat {
	switch k {
	case Color:
		if luminance {
			return rimage.PixelFormatGray8
		}
		return rimage.PixelFormatRGBA32
	case Infrared:
		if luminance {
			return rimage.PixelFormatGray8
		}
		return rimage.PixelFormatGray16
	case Depth:
		return rimage.PixelFormatDepthFloat32
	}
	return rimage.PixelFormatUnknown
}

// MarshalJSON converts a kind to a json string.
func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON converts a json string to a kind.
func (k *Kind) UnmarshalJSON(data []byte) (err error) {
	var kindStr string
	if err := json.Unmarshal(data, &kindStr); err != nil {
		return err
	}

	*k, err = KindFromString(kindStr)
	return
}
