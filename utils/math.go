package utils

import (
	"math"
	"math/bits"
)

// ClampUint8 rounds v to the nearest integer and clamps it to [0, 255]. NaN maps to 0.
func ClampUint8(v float64) uint8 {
	if !(v > 0) {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v + 0.5)
}

// BufferSize returns width*height*bytesPerPixel, and false if any factor is negative or the
// product does not fit in an int.
func BufferSize(width, height, bytesPerPixel int) (int, bool) {
	if width < 0 || height < 0 || bytesPerPixel < 0 {
		return 0, false
	}
	hi, pixels := bits.Mul64(uint64(width), uint64(height))
	if hi != 0 {
		return 0, false
	}
	hi, total := bits.Mul64(pixels, uint64(bytesPerPixel))
	if hi != 0 || total > math.MaxInt {
		return 0, false
	}
	return int(total), true
}
