package stream

import (
	"time"
)

// DeviceTimeUnit is the resolution of device timestamps.
const DeviceTimeUnit = 100 * time.Nanosecond

// secondsPerDeviceTick converts device ticks to seconds.
const secondsPerDeviceTick = 1e-7

// DeviceTime is a timestamp assigned by the sensor, counted in DeviceTimeUnit since the device
// started capturing. It is not wall clock time.
type DeviceTime uint64

// Seconds returns the timestamp in seconds.
func (t DeviceTime) Seconds() float64 {
	return float64(t) * secondsPerDeviceTick
}

// Duration returns the timestamp as a time.Duration.
func (t DeviceTime) Duration() time.Duration {
	return time.Duration(t) * DeviceTimeUnit
}

// DepthRange is the live [Min, Max] distance window, in metres, used to normalize depth frames.
type DepthRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Valid reports whether the range is non-empty.
func (r DepthRange) Valid() bool {
	return r.Max > r.Min
}

// MillimetreBounds returns the range in the unit of raw depth samples.
func (r DepthRange) MillimetreBounds() (float64, float64) {
	return r.Min * 1000, r.Max * 1000
}
