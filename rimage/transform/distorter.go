// Package transform holds camera models: pinhole intrinsics, lens distortion and the per-pixel
// undistortion maps built from them.
package transform

import "github.com/pkg/errors"

// DistortionType is the name of the distortion model.
type DistortionType string

const (
	// RationalPolynomialDistortionType is the 8 coefficient model reported by time-of-flight depth
	// cameras: six radial terms arranged as a ratio of polynomials plus two tangential terms.
	RationalPolynomialDistortionType = DistortionType("rational_polynomial")
	// BrownConradyDistortionType is for simple lenses of narrow field easily modeled as a pinhole camera.
	BrownConradyDistortionType = DistortionType("brown_conrady")
)

// InvalidDistortionError is used when the distortion_parameters are invalid.
func InvalidDistortionError(msg string) error {
	return errors.Wrap(errors.New("invalid distortion_parameters"), msg)
}

// NewDistorter returns a rational polynomial distorter given a valid DistortionType and its parameters.
// Brown-Conrady parameters are ordered rk1, rk2, rk3, tp1, tp2 and map onto the numerator of the
// rational model.
func NewDistorter(distortionType DistortionType, parameters []float64) (*RationalPolynomial, error) {
	switch distortionType {
	case RationalPolynomialDistortionType:
		return NewRationalPolynomial(parameters)
	case BrownConradyDistortionType:
		if len(parameters) > 5 {
			return nil, errors.Errorf("list of parameters too long, expected max 5, got %d", len(parameters))
		}
		padded := make([]float64, 5)
		copy(padded, parameters)
		return &RationalPolynomial{
			RadialK1:     padded[0],
			RadialK2:     padded[1],
			RadialK3:     padded[2],
			TangentialP1: padded[3],
			TangentialP2: padded[4],
		}, nil
	default:
		return nil, errors.Errorf("do not know how to parse %q distortion model", distortionType)
	}
}
