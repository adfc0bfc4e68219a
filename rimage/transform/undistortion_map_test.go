package transform

import (
	"errors"
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"go.viam.com/test"
)

func testIntrinsics(w, h int, dist *RationalPolynomial) *CameraIntrinsics {
	return &CameraIntrinsics{
		Width:      w,
		Height:     h,
		Ppx:        float64(w) / 2,
		Ppy:        float64(h) / 2,
		Fx:         float64(w) * 0.8,
		Fy:         float64(w) * 0.8,
		Distortion: dist,
	}
}

func azureLikeDistortion() *RationalPolynomial {
	// Coefficients in the range an Azure Kinect color sensor reports.
	dist, _ := NewRationalPolynomial([]float64{0.48, -2.6, 1.5, 0.36, -2.4, 1.43, 0.0007, -0.0002})
	return dist
}

func TestIdentityMapWithZeroDistortion(t *testing.T) {
	intr := testIntrinsics(64, 48, &RationalPolynomial{})
	m, err := BuildUndistortionMap(64, 48, intr)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.Width, test.ShouldEqual, 64)
	test.That(t, m.Height, test.ShouldEqual, 48)
	test.That(t, len(m.MapX), test.ShouldEqual, 64*48)

	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			p := m.At(x, y)
			test.That(t, p.X, test.ShouldAlmostEqual, float64(x), 1e-4)
			test.That(t, p.Y, test.ShouldAlmostEqual, float64(y), 1e-4)
		}
	}
}

func TestMapMatchesDistortionModel(t *testing.T) {
	intr := testIntrinsics(80, 60, azureLikeDistortion())
	m, err := BuildUndistortionMap(80, 60, intr)
	test.That(t, err, test.ShouldBeNil)

	for _, pt := range [][2]int{{0, 0}, {10, 50}, {40, 30}, {79, 59}} {
		undistorted := intr.PixelToNormalized(r2.Point{X: float64(pt[0]), Y: float64(pt[1])})
		want := intr.NormalizedToPixel(intr.Distortion.TransformPoint(undistorted))
		p := m.At(pt[0], pt[1])
		test.That(t, p.X, test.ShouldAlmostEqual, want.X, 1e-3)
		test.That(t, p.Y, test.ShouldAlmostEqual, want.Y, 1e-3)
	}
	// The principal point is a fixed point of any radial model.
	p := m.At(40, 30)
	test.That(t, p.X, test.ShouldAlmostEqual, 40, 1e-3)
	test.That(t, p.Y, test.ShouldAlmostEqual, 30, 1e-3)
}

func TestMapRoundTripWithInvert(t *testing.T) {
	intr := testIntrinsics(80, 60, azureLikeDistortion())
	m, err := BuildUndistortionMap(80, 60, intr)
	test.That(t, err, test.ShouldBeNil)

	for _, pt := range [][2]int{{5, 5}, {20, 40}, {60, 12}, {75, 55}} {
		src := m.At(pt[0], pt[1])
		x, y := intr.UndistortPixel(src.X, src.Y)
		test.That(t, x, test.ShouldAlmostEqual, float64(pt[0]), 1e-2)
		test.That(t, y, test.ShouldAlmostEqual, float64(pt[1]), 1e-2)
	}
}

func TestCacheReuse(t *testing.T) {
	cache := NewUndistortionMapCache()
	intr := testIntrinsics(32, 24, azureLikeDistortion())

	first, err := cache.GetOrBuild(32, 24, intr)
	test.That(t, err, test.ShouldBeNil)
	second, err := cache.GetOrBuild(32, 24, intr.Clone())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, second, test.ShouldEqual, first)
	test.That(t, cache.Builds(), test.ShouldEqual, 1)
	test.That(t, cache.Hits(), test.ShouldEqual, 1)

	changed := intr.Clone()
	changed.Fx += 1
	third, err := cache.GetOrBuild(32, 24, changed)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, third, test.ShouldNotEqual, first)
	test.That(t, cache.Builds(), test.ShouldEqual, 2)

	// Mutating the caller's copy does not poison the cache key.
	changed.Distortion.RadialK1 = 0
	fourth, err := cache.GetOrBuild(32, 24, changed)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, fourth, test.ShouldNotEqual, third)

	cache.Invalidate()
	fifth, err := cache.GetOrBuild(32, 24, changed)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, fifth, test.ShouldNotEqual, fourth)
	test.That(t, cache.Builds(), test.ShouldEqual, 4)
}

func TestCacheRejectsInvalidIntrinsics(t *testing.T) {
	cache := NewUndistortionMapCache()

	for name, tc := range map[string]struct {
		w, h int
		intr *CameraIntrinsics
	}{
		"nil intrinsics":   {32, 24, nil},
		"zero resolution":  {0, 24, testIntrinsics(0, 24, &RationalPolynomial{})},
		"zero focal":       {32, 24, &CameraIntrinsics{Width: 32, Height: 24, Fy: 1, Distortion: &RationalPolynomial{}}},
		"no coefficients":  {32, 24, testIntrinsics(32, 24, nil)},
		"resolution mixup": {64, 48, testIntrinsics(32, 24, &RationalPolynomial{})},
		"nan coefficient":  {32, 24, testIntrinsics(32, 24, &RationalPolynomial{RadialK1: math.NaN()})},
	} {
		t.Run(name, func(t *testing.T) {
			m, err := cache.GetOrBuild(tc.w, tc.h, tc.intr)
			test.That(t, m, test.ShouldBeNil)
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, errors.Is(err, ErrNoIntrinsics), test.ShouldBeTrue)
		})
	}
	test.That(t, cache.Builds(), test.ShouldEqual, 0)
}
