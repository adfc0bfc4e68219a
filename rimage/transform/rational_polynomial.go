package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
)

// rationalPolynomialParams is the number of coefficients of the rational model.
const rationalPolynomialParams = 8

// RationalPolynomial is the lens distortion model
//
//	x_d = x_u * (1 + k1*r² + k2*r⁴ + k3*r⁶) / (1 + k4*r² + k5*r⁴ + k6*r⁶) + 2*p1*x_u*y_u + p2*(r² + 2*x_u²)
//	y_d = y_u * (1 + k1*r² + k2*r⁴ + k3*r⁶) / (1 + k4*r² + k5*r⁴ + k6*r⁶) + p1*(r² + 2*y_u²) + 2*p2*x_u*y_u
//
// over normalized image coordinates.
type RationalPolynomial struct {
	RadialK1     float64 `json:"k1"`
	RadialK2     float64 `json:"k2"`
	RadialK3     float64 `json:"k3"`
	RadialK4     float64 `json:"k4"`
	RadialK5     float64 `json:"k5"`
	RadialK6     float64 `json:"k6"`
	TangentialP1 float64 `json:"p1"`
	TangentialP2 float64 `json:"p2"`
}

// NewRationalPolynomial takes in a slice of floats ordered k1..k6, p1, p2. Missing trailing
// coefficients are 0.
func NewRationalPolynomial(inp []float64) (*RationalPolynomial, error) {
	if len(inp) > rationalPolynomialParams {
		return nil, errors.Errorf("list of parameters too long, expected max %d, got %d", rationalPolynomialParams, len(inp))
	}
	padded := make([]float64, rationalPolynomialParams)
	copy(padded, inp)
	return &RationalPolynomial{padded[0], padded[1], padded[2], padded[3], padded[4], padded[5], padded[6], padded[7]}, nil
}

// CheckValid checks if the fields for RationalPolynomial have valid inputs.
func (rp *RationalPolynomial) CheckValid() error {
	if rp == nil {
		return InvalidDistortionError("RationalPolynomial shaped distortion_parameters not provided")
	}
	for _, p := range rp.Parameters() {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return InvalidDistortionError("distortion_parameters must be finite")
		}
	}
	return nil
}

// ModelType returns the type of distortion model.
func (rp *RationalPolynomial) ModelType() DistortionType {
	return RationalPolynomialDistortionType
}

// Parameters returns the parameters of the distortion model ordered k1..k6, p1, p2.
func (rp *RationalPolynomial) Parameters() []float64 {
	if rp == nil {
		return []float64{}
	}
	return []float64{
		rp.RadialK1, rp.RadialK2, rp.RadialK3, rp.RadialK4, rp.RadialK5, rp.RadialK6,
		rp.TangentialP1, rp.TangentialP2,
	}
}

// IsZero reports whether every coefficient is 0, i.e. the model is the identity.
func (rp *RationalPolynomial) IsZero() bool {
	return rp == nil || *rp == RationalPolynomial{}
}

// Transform distorts the undistorted normalized point (x, y).
func (rp *RationalPolynomial) Transform(x, y float64) (float64, float64) {
	if rp == nil {
		return x, y
	}
	rSq := x*x + y*y
	r4 := rSq * rSq
	r6 := r4 * rSq
	radial := (1 + rp.RadialK1*rSq + rp.RadialK2*r4 + rp.RadialK3*r6) /
		(1 + rp.RadialK4*rSq + rp.RadialK5*r4 + rp.RadialK6*r6)
	xd := x*radial + 2*rp.TangentialP1*x*y + rp.TangentialP2*(rSq+2*x*x)
	yd := y*radial + rp.TangentialP1*(rSq+2*y*y) + 2*rp.TangentialP2*x*y
	return xd, yd
}

// TransformPoint is Transform over an r2.Point.
func (rp *RationalPolynomial) TransformPoint(p r2.Point) r2.Point {
	x, y := rp.Transform(p.X, p.Y)
	return r2.Point{X: x, Y: y}
}

// Invert returns the undistorted normalized point that distorts to (xd, yd), found by fixed point
// iteration. It converges for the moderate distortion of real lenses; a point the model folds over
// is returned unchanged.
func (rp *RationalPolynomial) Invert(xd, yd float64) (float64, float64) {
	if rp == nil {
		return xd, yd
	}
	const maxIterations = 20
	const tolerance = 1e-12

	x, y := xd, yd
	for i := 0; i < maxIterations; i++ {
		rSq := x*x + y*y
		r4 := rSq * rSq
		r6 := r4 * rSq
		icdist := (1 + rp.RadialK4*rSq + rp.RadialK5*r4 + rp.RadialK6*r6) /
			(1 + rp.RadialK1*rSq + rp.RadialK2*r4 + rp.RadialK3*r6)
		if icdist < 0 {
			return xd, yd
		}
		deltaX := 2*rp.TangentialP1*x*y + rp.TangentialP2*(rSq+2*x*x)
		deltaY := rp.TangentialP1*(rSq+2*y*y) + 2*rp.TangentialP2*x*y
		nx := (xd - deltaX) * icdist
		ny := (yd - deltaY) * icdist
		done := math.Abs(nx-x) < tolerance && math.Abs(ny-y) < tolerance
		x, y = nx, ny
		if done {
			break
		}
	}
	return x, y
}
