package transform

import (
	"fmt"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/depthstream/utils"
)

// UndistortionMap holds, for every pixel of the undistorted image, the position in the distorted
// source image to sample from. Entries are row-major.
type UndistortionMap struct {
	Width  int
	Height int
	MapX   []float32
	MapY   []float32
}

// At returns the source position for destination pixel (x, y).
func (m *UndistortionMap) At(x, y int) r2.Point {
	i := y*m.Width + x
	return r2.Point{X: float64(m.MapX[i]), Y: float64(m.MapY[i])}
}

// BuildUndistortionMap computes the rectification map of a pinhole camera with rational
// distortion, no rectification rotation and the original camera matrix as the new camera matrix.
func BuildUndistortionMap(width, height int, intrinsics *CameraIntrinsics) (*UndistortionMap, error) {
	if width <= 0 || height <= 0 {
		return nil, NewNoIntrinsicsError(fmt.Sprintf("Invalid map size (%d, %d)", width, height))
	}
	if err := intrinsics.CheckValid(); err != nil {
		return nil, err
	}
	if intrinsics.Width != width || intrinsics.Height != height {
		return nil, NewNoIntrinsicsError(fmt.Sprintf("img dimension and intrinsics don't match Image(%d,%d) != Intrinsics(%d,%d)",
			width, height, intrinsics.Width, intrinsics.Height))
	}

	var inv mat.Dense
	if err := inv.Inverse(intrinsics.CameraMatrix()); err != nil {
		return nil, errors.Wrap(NewNoIntrinsicsError("camera matrix is singular"), err.Error())
	}
	ir := inv.RawMatrix().Data
	dist := intrinsics.Distortion

	m := &UndistortionMap{
		Width:  width,
		Height: height,
		MapX:   make([]float32, width*height),
		MapY:   make([]float32, width*height),
	}
	utils.ParallelRows(height, func(from, to int) {
		for v := from; v < to; v++ {
			fv := float64(v)
			row := v * width
			for u := 0; u < width; u++ {
				fu := float64(u)
				w := ir[6]*fu + ir[7]*fv + ir[8]
				p := r2.Point{
					X: (ir[0]*fu + ir[1]*fv + ir[2]) / w,
					Y: (ir[3]*fu + ir[4]*fv + ir[5]) / w,
				}
				src := intrinsics.NormalizedToPixel(dist.TransformPoint(p))
				m.MapX[row+u] = float32(src.X)
				m.MapY[row+u] = float32(src.Y)
			}
		}
	})
	return m, nil
}

// UndistortionMapCache keeps the most recently built map and rebuilds it only when the requested
// resolution or the intrinsics change. It is not safe for concurrent use.
type UndistortionMapCache struct {
	width      int
	height     int
	intrinsics *CameraIntrinsics
	current    *UndistortionMap

	builds int
	hits   int
}

// NewUndistortionMapCache returns an empty cache.
func NewUndistortionMapCache() *UndistortionMapCache {
	return &UndistortionMapCache{}
}

// GetOrBuild returns the cached map if it was built for the same width, height and intrinsics
// value, otherwise it discards it and builds a new one. Errors wrap ErrNoIntrinsics.
func (c *UndistortionMapCache) GetOrBuild(width, height int, intrinsics *CameraIntrinsics) (*UndistortionMap, error) {
	if c.current != nil && c.width == width && c.height == height && c.intrinsics.Equal(intrinsics) {
		c.hits++
		return c.current, nil
	}
	m, err := BuildUndistortionMap(width, height, intrinsics)
	if err != nil {
		return nil, err
	}
	c.width = width
	c.height = height
	c.intrinsics = intrinsics.Clone()
	c.current = m
	c.builds++
	return m, nil
}

// Invalidate drops the cached map.
func (c *UndistortionMapCache) Invalidate() {
	c.current = nil
	c.intrinsics = nil
	c.width = 0
	c.height = 0
}

// Builds returns how many maps have been built.
func (c *UndistortionMapCache) Builds() int {
	return c.builds
}

// Hits returns how many lookups were served from the cache.
func (c *UndistortionMapCache) Hits() int {
	return c.hits
}
