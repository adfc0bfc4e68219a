package stream

import (
	"image"

	"go.viam.com/depthstream/rimage"
	"go.viam.com/depthstream/rimage/transform"
)

// RawFrame is one frame as the sensor delivers it. Pix is owned by the sensor and must not be
// modified by the pipeline.
type RawFrame struct {
	Width     int
	Height    int
	Timestamp DeviceTime
	Pix       []byte
}

// Capture is the result of pulling one stream from a sensor in one tick.
type Capture struct {
	// Raw is the most recent frame, or nil if the device has produced none yet.
	Raw *RawFrame
	// Intrinsics is a snapshot of the calibration for Raw's resolution; nil when unknown.
	Intrinsics *transform.CameraIntrinsics
	// DepthRange is the live normalization window. Only meaningful for Depth.
	DepthRange DepthRange
	// Superseded counts device frames that arrived since the previous pull and were replaced by
	// Raw before they could be consumed.
	Superseded int
}

// Frame is a processed frame. Frames handed out by a Processor are read-only and stay valid until
// the history slot they occupy is recycled; use Clone to retain one longer.
type Frame struct {
	// Image is one of *image.RGBA, *image.Gray, *image.Gray16 or *rimage.DepthImage.
	Image  image.Image
	Format rimage.PixelFormat
	Width  int
	Height int
	// Stride is the distance in bytes between vertically adjacent pixels.
	Stride    int
	Timestamp DeviceTime
	// Sequence is 1 for the first accepted frame of a processor and grows by one per accepted frame.
	Sequence uint64
	// Interval is the time in seconds since the previously accepted frame, 0 for the first one.
	Interval float64
	// DepthRange is the window used to normalize a depth frame; nil for other kinds.
	DepthRange *DepthRange

	// borrowed is set when Image aliases the sensor's raw buffer.
	borrowed bool
}

// TimestampSeconds returns the device timestamp in seconds.
func (f *Frame) TimestampSeconds() float64 {
	return f.Timestamp.Seconds()
}

// Clone returns a deep copy that is independent of any pipeline storage.
func (f *Frame) Clone() (*Frame, error) {
	if f == nil {
		return nil, nil
	}
	ret := *f
	ret.borrowed = false
	if f.Image != nil {
		img, err := rimage.CloneImage(f.Image)
		if err != nil {
			return nil, err
		}
		ret.Image = img
	}
	if f.DepthRange != nil {
		r := *f.DepthRange
		ret.DepthRange = &r
	}
	return &ret, nil
}

func strideOf(img image.Image) int {
	switch i := img.(type) {
	case *image.RGBA:
		return i.Stride
	case *image.Gray:
		return i.Stride
	case *image.Gray16:
		return i.Stride
	case *rimage.DepthImage:
		return i.Stride * 4
	default:
		return 0
	}
}
