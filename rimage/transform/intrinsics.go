package transform

import (
	"fmt"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrNoIntrinsics is when a camera does not have intrinsics parameters or other parameters.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")

// NewNoIntrinsicsError is used when the intriniscs are not defined.
func NewNoIntrinsicsError(msg string) error {
	return errors.Wrap(ErrNoIntrinsics, msg)
}

// CameraIntrinsics holds the pinhole parameters of one sensor at one resolution together with
// its lens distortion. A nil Distortion means the device did not report coefficients.
type CameraIntrinsics struct {
	Width      int                 `json:"width_px"`
	Height     int                 `json:"height_px"`
	Ppx        float64             `json:"ppx"`
	Ppy        float64             `json:"ppy"`
	Fx         float64             `json:"fx"`
	Fy         float64             `json:"fy"`
	Distortion *RationalPolynomial `json:"distortion,omitempty"`
}

// CheckValid checks if the fields for CameraIntrinsics have valid inputs.
func (params *CameraIntrinsics) CheckValid() error {
	if params == nil {
		return NewNoIntrinsicsError("Intrinsics do not exist")
	}
	if params.Width <= 0 || params.Height <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid size (%#v, %#v)", params.Width, params.Height))
	}
	if params.Fx <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fx = %#v", params.Fx))
	}
	if params.Fy <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fy = %#v", params.Fy))
	}
	if params.Ppx < 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid principal X point Ppx = %#v", params.Ppx))
	}
	if params.Ppy < 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid principal Y point Ppy = %#v", params.Ppy))
	}
	if err := params.Distortion.CheckValid(); err != nil {
		return errors.Wrap(NewNoIntrinsicsError("distortion coefficients"), err.Error())
	}
	return nil
}

// Equal compares by value, including the distortion coefficients.
func (params *CameraIntrinsics) Equal(other *CameraIntrinsics) bool {
	if params == nil || other == nil {
		return params == other
	}
	if params.Width != other.Width || params.Height != other.Height ||
		params.Ppx != other.Ppx || params.Ppy != other.Ppy ||
		params.Fx != other.Fx || params.Fy != other.Fy {
		return false
	}
	if params.Distortion == nil || other.Distortion == nil {
		return params.Distortion == other.Distortion
	}
	return *params.Distortion == *other.Distortion
}

// Clone returns a deep copy.
func (params *CameraIntrinsics) Clone() *CameraIntrinsics {
	if params == nil {
		return nil
	}
	ret := *params
	if params.Distortion != nil {
		d := *params.Distortion
		ret.Distortion = &d
	}
	return &ret
}

// CameraMatrix returns the 3x3 matrix K.
func (params *CameraIntrinsics) CameraMatrix() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		params.Fx, 0, params.Ppx,
		0, params.Fy, params.Ppy,
		0, 0, 1,
	})
}

// PixelToNormalized converts a pixel position to normalized image coordinates.
func (params *CameraIntrinsics) PixelToNormalized(p r2.Point) r2.Point {
	return r2.Point{X: (p.X - params.Ppx) / params.Fx, Y: (p.Y - params.Ppy) / params.Fy}
}

// NormalizedToPixel converts normalized image coordinates to a pixel position.
func (params *CameraIntrinsics) NormalizedToPixel(p r2.Point) r2.Point {
	return r2.Point{X: p.X*params.Fx + params.Ppx, Y: p.Y*params.Fy + params.Ppy}
}

// UndistortPixel returns where a pixel of the distorted image lands in the undistorted image.
func (params *CameraIntrinsics) UndistortPixel(x, y float64) (float64, float64) {
	p := params.PixelToNormalized(r2.Point{X: x, Y: y})
	p.X, p.Y = params.Distortion.Invert(p.X, p.Y)
	p = params.NormalizedToPixel(p)
	return p.X, p.Y
}
