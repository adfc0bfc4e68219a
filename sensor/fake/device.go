// Package fake implements a synthetic multi-sensor depth camera. Each sensor delivers color,
// infrared and depth streams at a fixed frame rate with deterministic content, so frames can be
// predicted from the device clock alone.
package fake

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/depthstream/logging"
	"go.viam.com/depthstream/rimage/transform"
	"go.viam.com/depthstream/sensor"
	"go.viam.com/depthstream/stream"
)

// Model is the registered model name of the fake device.
const Model = "fake"

const (
	defaultWidth     = 640
	defaultHeight    = 480
	defaultFrameRate = 30
	defaultDepthMin  = 0.5
	defaultDepthMax  = 5.0

	// calibration below was taken at this resolution.
	calibrationWidth  = 1024
	calibrationHeight = 768
)

func init() {
	sensor.Register(Model, func(ctx context.Context, attributes map[string]any, logger logging.Logger) (sensor.Device, error) {
		conf, err := sensor.DecodeAttributes[*Config](attributes)
		if err != nil {
			return nil, err
		}
		return NewDevice(*conf, nil, logger)
	})
}

// Config are the attributes of the fake device.
type Config struct {
	Sensors   int     `json:"sensors,omitempty"`
	Width     int     `json:"width,omitempty"`
	Height    int     `json:"height,omitempty"`
	FrameRate float64 `json:"frame_rate,omitempty"`
	DepthMin  float64 `json:"depth_min_meters,omitempty"`
	DepthMax  float64 `json:"depth_max_meters,omitempty"`
	// OmitIntrinsics makes the device report no calibration.
	OmitIntrinsics bool `json:"omit_intrinsics,omitempty"`
	// RequireEnable makes a stream deliver frames only after EnsureStream was called for it.
	RequireEnable bool `json:"require_enable,omitempty"`
	// DistortionModel and DistortionParameters replace the built-in lens distortion. The model is
	// rational_polynomial (k1..k6, p1, p2) or brown_conrady (k1, k2, k3, p1, p2).
	DistortionModel      string    `json:"distortion_model,omitempty"`
	DistortionParameters []float64 `json:"distortion_parameters,omitempty"`
}

// Validate checks that the config attributes are valid for a fake device.
func (conf *Config) Validate(path string) error {
	if conf.Sensors < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("sensors cannot be negative, got %d", conf.Sensors))
	}
	if conf.Width < 0 || conf.Height < 0 {
		return utils.NewConfigValidationError(path,
			errors.Errorf("resolution cannot be negative, got %dx%d", conf.Width, conf.Height))
	}
	if conf.FrameRate < 0 || conf.FrameRate > 1000 {
		return utils.NewConfigValidationError(path, errors.Errorf("frame_rate must be between 0 and 1000, got %v", conf.FrameRate))
	}
	if conf.DepthMin != 0 || conf.DepthMax != 0 {
		if !(stream.DepthRange{Min: conf.DepthMin, Max: conf.DepthMax}).Valid() {
			return utils.NewConfigValidationError(path,
				errors.Errorf("depth_max_meters (%v) must be greater than depth_min_meters (%v)", conf.DepthMax, conf.DepthMin))
		}
	}
	if _, err := conf.distortion(); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	return nil
}

// distortion returns the configured lens distortion, or the built-in one when none is set.
func (conf *Config) distortion() (*transform.RationalPolynomial, error) {
	if conf.DistortionModel == "" {
		if len(conf.DistortionParameters) != 0 {
			return nil, errors.New("distortion_parameters require a distortion_model")
		}
		dist := fakeDistortion
		return &dist, nil
	}
	dist, err := transform.NewDistorter(transform.DistortionType(conf.DistortionModel), conf.DistortionParameters)
	if err != nil {
		return nil, err
	}
	if err := dist.CheckValid(); err != nil {
		return nil, err
	}
	return dist, nil
}

func (conf *Config) withDefaults() Config {
	ret := *conf
	if ret.Sensors == 0 {
		ret.Sensors = 1
	}
	if ret.Width == 0 {
		ret.Width = defaultWidth
	}
	if ret.Height == 0 {
		ret.Height = defaultHeight
	}
	if ret.FrameRate == 0 {
		ret.FrameRate = defaultFrameRate
	}
	if ret.DepthMin == 0 && ret.DepthMax == 0 {
		ret.DepthMin, ret.DepthMax = defaultDepthMin, defaultDepthMax
	}
	return ret
}

var fakeDistortion = transform.RationalPolynomial{
	RadialK1:     0.11297234,
	RadialK2:     -0.21375332,
	RadialK3:     -0.01584774,
	TangentialP1: -0.00302002,
	TangentialP2: 0.00196929,
}

// Intrinsics returns the calibration of the fake device scaled to width x height, with the
// built-in lens distortion.
func Intrinsics(width, height int) *transform.CameraIntrinsics {
	distortion := fakeDistortion
	return scaledIntrinsics(width, height, &distortion)
}

func scaledIntrinsics(width, height int, distortion *transform.RationalPolynomial) *transform.CameraIntrinsics {
	wRatio := float64(width) / calibrationWidth
	hRatio := float64(height) / calibrationHeight
	return &transform.CameraIntrinsics{
		Width:      width,
		Height:     height,
		Fx:         821.32642889 * wRatio,
		Fy:         821.68607359 * hRatio,
		Ppx:        494.95941428 * wRatio,
		Ppy:        370.70529534 * hRatio,
		Distortion: distortion,
	}
}

type streamKey struct {
	sensor int
	kind   stream.Kind
}

type streamState struct {
	lastIndex int64
	raw       *stream.RawFrame
}

// Device is a synthetic depth camera. It is safe for concurrent use.
type Device struct {
	mu     sync.Mutex
	conf   Config
	clock  clock.Clock
	start  int64
	logger logging.Logger

	initialized bool
	closed      bool
	distortion  *transform.RationalPolynomial
	depthRange  stream.DepthRange
	enabled     map[streamKey]bool
	streams     map[streamKey]*streamState
}

// NewDevice returns an initialized fake device. A nil clk uses the wall clock.
func NewDevice(conf Config, clk clock.Clock, logger logging.Logger) (*Device, error) {
	if err := conf.Validate(""); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.New()
	}
	conf = conf.withDefaults()
	distortion, err := conf.distortion()
	if err != nil {
		return nil, err
	}
	d := &Device{
		conf:        conf,
		clock:       clk,
		start:       clk.Now().UnixNano(),
		logger:      logger,
		initialized: true,
		distortion:  distortion,
		depthRange:  stream.DepthRange{Min: conf.DepthMin, Max: conf.DepthMax},
		enabled:     map[streamKey]bool{},
		streams:     map[streamKey]*streamState{},
	}
	logger.Debugw("fake device started", "sensors", conf.Sensors, "width", conf.Width, "height", conf.Height,
		"frame_rate", conf.FrameRate, "distortion", distortion.ModelType())
	return d, nil
}

// IsInitialized reports whether the device delivers frames.
func (d *Device) IsInitialized() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.initialized && !d.closed
}

// SetInitialized simulates the device going away and coming back.
func (d *Device) SetInitialized(initialized bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.initialized = initialized
}

// SensorCount returns the number of sensors.
func (d *Device) SensorCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conf.Sensors
}

// SetDepthRange changes the depth normalization window reported with depth frames.
func (d *Device) SetDepthRange(depthRange stream.DepthRange) error {
	if !depthRange.Valid() {
		return errors.Errorf("invalid depth range [%v, %v]", depthRange.Min, depthRange.Max)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.depthRange = depthRange
	return nil
}

// EnsureStream starts delivering kind on the given sensor.
func (d *Device) EnsureStream(sensorIndex int, kind stream.Kind) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkSensor(sensorIndex); err != nil {
		return err
	}
	key := streamKey{sensorIndex, kind}
	if !d.enabled[key] {
		d.enabled[key] = true
		d.logger.Debugw("stream enabled", "sensor", sensorIndex, "kind", kind)
	}
	return nil
}

// FrameIndex returns the index of the newest frame the device has produced.
func (d *Device) FrameIndex() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frameIndex()
}

func (d *Device) frameIndex() int64 {
	elapsed := float64(d.clock.Now().UnixNano()-d.start) / 1e9
	if elapsed < 0 {
		return 0
	}
	return int64(elapsed * d.conf.FrameRate)
}

// Timestamp returns the device time of frame index.
func (d *Device) Timestamp(index int64) stream.DeviceTime {
	return stream.DeviceTime(float64(index) * 1e7 / d.conf.FrameRate)
}

// Capture returns the newest frame of one stream. Frames produced since the previous capture of
// the same stream and never delivered are reported as superseded.
func (d *Device) Capture(sensorIndex int, kind stream.Kind) (stream.Capture, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return stream.Capture{}, errors.New("fake device is closed")
	}
	if err := d.checkSensor(sensorIndex); err != nil {
		return stream.Capture{}, err
	}
	key := streamKey{sensorIndex, kind}
	if d.conf.RequireEnable && !d.enabled[key] {
		return stream.Capture{}, nil
	}

	st, ok := d.streams[key]
	if !ok {
		st = &streamState{lastIndex: -1}
		d.streams[key] = st
	}
	var superseded int
	if index := d.frameIndex(); index != st.lastIndex {
		if st.lastIndex >= 0 && index > st.lastIndex+1 {
			superseded = int(index - st.lastIndex - 1)
		}
		st.lastIndex = index
		st.raw = d.render(sensorIndex, kind, index)
	}

	c := stream.Capture{Raw: st.raw, Superseded: superseded}
	if !d.conf.OmitIntrinsics {
		distortion := *d.distortion
		c.Intrinsics = scaledIntrinsics(d.conf.Width, d.conf.Height, &distortion)
	}
	if kind == stream.Depth {
		c.DepthRange = d.depthRange
	}
	return c, nil
}

func (d *Device) checkSensor(sensorIndex int) error {
	if sensorIndex < 0 || sensorIndex >= d.conf.Sensors {
		return errors.Errorf("sensor index %d out of range, device has %d sensors", sensorIndex, d.conf.Sensors)
	}
	return nil
}

// render draws frame index of one stream. The content depends only on its arguments.
func (d *Device) render(sensorIndex int, kind stream.Kind, index int64) *stream.RawFrame {
	w, h := d.conf.Width, d.conf.Height
	raw := &stream.RawFrame{
		Width:     w,
		Height:    h,
		Timestamp: d.Timestamp(index),
		Pix:       make([]byte, w*h*kind.RawBytesPerPixel()),
	}
	shift := int(index)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			switch kind {
			case stream.Color:
				raw.Pix[4*i] = uint8(x + shift)
				raw.Pix[4*i+1] = uint8(y + 2*shift)
				raw.Pix[4*i+2] = uint8(64 * sensorIndex)
				raw.Pix[4*i+3] = 255
			case stream.Infrared:
				binary.LittleEndian.PutUint16(raw.Pix[2*i:], InfraredValue(x, y, index))
			case stream.Depth:
				binary.LittleEndian.PutUint16(raw.Pix[2*i:], DepthValue(x, y, index))
			}
		}
	}
	return raw
}

// InfraredValue is the infrared sample at (x, y) of frame index.
func InfraredValue(x, y int, index int64) uint16 {
	return uint16((x*131 + y*257 + int(index)*97) & 0xffff)
}

// DepthValue is the depth sample in millimetres at (x, y) of frame index.
func DepthValue(x, y int, index int64) uint16 {
	return uint16(500 + (x+y+int(index))%4000)
}

// Close stops the device.
func (d *Device) Close(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.streams = map[streamKey]*streamState{}
	return nil
}
