package stream

import (
	"image"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"go.viam.com/depthstream/logging"
	"go.viam.com/depthstream/rimage"
	"go.viam.com/depthstream/rimage/transform"
	"go.viam.com/depthstream/utils"
)

// DefaultMaxBufferBytes caps the size of any single working buffer a Processor allocates.
const DefaultMaxBufferBytes = 1 << 30

// undistortionMapBytesPerPixel is two float32 coordinates per pixel.
const undistortionMapBytesPerPixel = 8

// FrameProvider is the read side of a processed stream.
type FrameProvider interface {
	// LatestFrame returns the newest accepted frame, or nil.
	LatestFrame() *Frame
	// HistoryFrame returns the frame at history index i (0 is the newest), or nil.
	HistoryFrame(i int) *Frame
	// FrameCount returns the number of frames in the history.
	FrameCount() int
	// FrameInterval returns the seconds between the two most recently accepted frames.
	FrameInterval() float64
	// LatestSequence returns the sequence number of the newest accepted frame, 0 if none.
	LatestSequence() uint64
	// HistoryDuration returns the seconds spanned by the frames in the history.
	HistoryDuration() float64
	// LatestFrameTime returns the device time of the newest frame in seconds.
	LatestFrameTime() float64
	// HistoryFrameTime returns the device time of the frame at history index i in seconds.
	HistoryFrameTime(i int) float64
	// HistoryIndexAtDelay returns the history index of the frame delay seconds older than the newest.
	HistoryIndexAtDelay(delay float64) int
}

// ProcessorStats are the counters of one processor.
type ProcessorStats struct {
	Session          string
	Accepted         uint64
	Malformed        uint64
	UndistortSkipped uint64
	ClockResets      uint64
	MapBuilds        int
	HistoryCount     int
	HistorySeconds   float64
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithMaxBufferBytes sets the largest working buffer the processor may allocate.
func WithMaxBufferBytes(n int) ProcessorOption {
	return func(p *Processor) {
		p.maxBufferBytes = n
	}
}

// A Processor turns the raw frames of one stream into processed frames, in a fixed order:
// conversion, undistortion, vertical flip. It owns its frame history, working buffers and
// undistortion map. A Processor is not safe for concurrent use.
type Processor struct {
	name           string
	cfg            Config
	logger         logging.Logger
	session        uuid.UUID
	maxBufferBytes int

	history *History
	maps    *transform.UndistortionMapCache
	scratch image.Image

	lastAccepted DeviceTime
	hasAccepted  bool
	sequence     uint64
	closed       bool

	stats ProcessorStats
}

// NewProcessor returns a processor for a validated stream config.
func NewProcessor(name string, cfg Config, logger logging.Logger, opts ...ProcessorOption) (*Processor, error) {
	if err := cfg.Validate(name); err != nil {
		return nil, err
	}
	p := &Processor{
		name:           name,
		cfg:            cfg,
		logger:         logger,
		session:        uuid.New(),
		maxBufferBytes: DefaultMaxBufferBytes,
		history:        NewHistory(cfg.HistoryCapacity),
		maps:           transform.NewUndistortionMapCache(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Name returns the stream name.
func (p *Processor) Name() string {
	return p.name
}

// Config returns the current configuration.
func (p *Processor) Config() Config {
	return p.cfg
}

// SessionID identifies the processing session. It changes whenever the processor is replaced.
func (p *Processor) SessionID() uuid.UUID {
	return p.session
}

// SetHistoryCapacity reallocates the history with a new capacity. Retained frames are dropped but
// the sequence numbering and novelty state carry over.
func (p *Processor) SetHistoryCapacity(capacity int) error {
	if capacity < 1 {
		return errors.Errorf("history capacity must be at least 1, got %d", capacity)
	}
	p.cfg.HistoryCapacity = capacity
	p.history = NewHistory(capacity)
	return nil
}

// Advance processes raw if it is newer than the last accepted frame and returns the resulting
// frame. It returns nil, nil when there is nothing new or the frame had to be skipped; the only
// error that aborts the stream is ErrResourceExhausted.
func (p *Processor) Advance(raw *RawFrame, intrinsics *transform.CameraIntrinsics, depthRange DepthRange) (*Frame, error) {
	if p.closed {
		return nil, ErrClosed
	}
	if raw == nil || (p.hasAccepted && raw.Timestamp == p.lastAccepted) {
		return nil, nil
	}
	if err := p.checkRaw(raw, depthRange); err != nil {
		p.skipMalformed(raw, err)
		return nil, nil
	}

	if p.hasAccepted && raw.Timestamp < p.lastAccepted {
		p.logger.Warnw("device clock went backwards, clearing frame history",
			"stream", p.name, "previous", uint64(p.lastAccepted), "timestamp", uint64(raw.Timestamp))
		p.history.Reset()
		p.hasAccepted = false
		p.stats.ClockResets++
	}

	m, err := p.undistortionMap(raw, intrinsics)
	if err != nil {
		return nil, err
	}
	img, borrowed, err := p.process(raw, m, depthRange)
	if err != nil {
		if errors.Is(err, ErrResourceExhausted) {
			return nil, err
		}
		p.skipMalformed(raw, err)
		return nil, nil
	}

	p.sequence++
	frame := &Frame{
		Image:     img,
		Format:    rimage.FormatOf(img),
		Width:     raw.Width,
		Height:    raw.Height,
		Stride:    strideOf(img),
		Timestamp: raw.Timestamp,
		Sequence:  p.sequence,
		borrowed:  borrowed,
	}
	if p.hasAccepted {
		frame.Interval = (raw.Timestamp - p.lastAccepted).Seconds()
	}
	if p.cfg.Kind == Depth {
		r := depthRange
		frame.DepthRange = &r
	}

	p.history.Insert(frame)
	p.lastAccepted = raw.Timestamp
	p.hasAccepted = true
	p.stats.Accepted++
	return frame, nil
}

func (p *Processor) skipMalformed(raw *RawFrame, err error) {
	p.stats.Malformed++
	p.logger.Warnw("skipping frame", "stream", p.name, "timestamp", uint64(raw.Timestamp), "error", err)
}

func (p *Processor) checkRaw(raw *RawFrame, depthRange DepthRange) error {
	if raw.Width <= 0 || raw.Height <= 0 {
		return errors.Wrapf(ErrMalformedFrame, "invalid resolution %dx%d", raw.Width, raw.Height)
	}
	want, ok := utils.BufferSize(raw.Width, raw.Height, p.cfg.Kind.RawBytesPerPixel())
	if !ok {
		return errors.Wrapf(ErrMalformedFrame, "%s frame size %dx%d overflows", p.cfg.Kind, raw.Width, raw.Height)
	}
	if len(raw.Pix) != want {
		return errors.Wrapf(ErrMalformedFrame, "%s frame %dx%d has %d bytes, expected %d",
			p.cfg.Kind, raw.Width, raw.Height, len(raw.Pix), want)
	}
	if p.cfg.Kind == Depth && !depthRange.Valid() {
		return errors.Wrapf(ErrMalformedFrame, "invalid depth range [%v, %v]", depthRange.Min, depthRange.Max)
	}
	return nil
}

// fits checks that a buffer of the given geometry stays within the allocation limit.
func (p *Processor) fits(width, height, bytesPerPixel int, what string) error {
	size, ok := utils.BufferSize(width, height, bytesPerPixel)
	if !ok || size > p.maxBufferBytes {
		return newResourceExhaustedError(width, height, what)
	}
	return nil
}

// undistortionMap returns the map to apply this tick, or nil when undistortion is off or the
// calibration cannot be used for this frame.
func (p *Processor) undistortionMap(raw *RawFrame, intrinsics *transform.CameraIntrinsics) (*transform.UndistortionMap, error) {
	if !p.cfg.Undistort {
		return nil, nil
	}
	if err := p.fits(raw.Width, raw.Height, undistortionMapBytesPerPixel, "undistortion map"); err != nil {
		return nil, err
	}
	m, err := p.maps.GetOrBuild(raw.Width, raw.Height, intrinsics)
	if err != nil {
		p.stats.UndistortSkipped++
		p.logger.Warnw("cannot undistort frame, passing it through distorted",
			"stream", p.name, "sensor", p.cfg.SensorIndex, "error", err)
		return nil, nil
	}
	p.stats.MapBuilds = p.maps.Builds()
	return m, nil
}

// process runs the stages and returns the output image and whether it borrows the raw buffer.
func (p *Processor) process(raw *RawFrame, m *transform.UndistortionMap, depthRange DepthRange) (image.Image, bool, error) {
	format := p.cfg.Kind.OutputFormat(p.cfg.ConvertToLuminance)
	flip := p.cfg.FlipVertically
	passthrough := p.cfg.Kind == Color && !p.cfg.ConvertToLuminance

	if passthrough && m == nil && !flip && p.history.Capacity() == 1 {
		return wrapRGBA(raw), true, nil
	}

	out, err := p.outputImage(format, raw.Width, raw.Height)
	if err != nil {
		return nil, false, err
	}
	if m == nil {
		return out, false, p.convert(out, raw, depthRange, flip)
	}

	var src image.Image
	if passthrough {
		src = wrapRGBA(raw)
	} else {
		scratch, err := p.scratchImage(format, raw.Width, raw.Height)
		if err != nil {
			return nil, false, err
		}
		if err := p.convert(scratch, raw, depthRange, false); err != nil {
			return nil, false, err
		}
		src = scratch
	}

	interp := rimage.Bilinear
	if p.cfg.Kind == Depth {
		interp = rimage.Nearest
	}
	return out, false, rimage.Remap(out, src, m.MapX, m.MapY, interp, flip)
}

// outputImage recycles the storage of the frame about to be evicted from the history when it has
// the right shape, and allocates otherwise.
func (p *Processor) outputImage(format rimage.PixelFormat, width, height int) (image.Image, error) {
	if old := p.history.Reclaim(); old != nil && !old.borrowed &&
		old.Format == format && old.Width == width && old.Height == height {
		return old.Image, nil
	}
	if err := p.fits(width, height, format.BytesPerPixel(), format.String()+" frame"); err != nil {
		return nil, err
	}
	return rimage.NewImage(format, width, height)
}

func (p *Processor) scratchImage(format rimage.PixelFormat, width, height int) (image.Image, error) {
	if p.scratch != nil && rimage.FormatOf(p.scratch) == format &&
		p.scratch.Bounds().Dx() == width && p.scratch.Bounds().Dy() == height {
		return p.scratch, nil
	}
	if err := p.fits(width, height, format.BytesPerPixel(), format.String()+" conversion buffer"); err != nil {
		return nil, err
	}
	img, err := rimage.NewImage(format, width, height)
	if err != nil {
		return nil, err
	}
	p.scratch = img
	return img, nil
}

func (p *Processor) convert(dst image.Image, raw *RawFrame, depthRange DepthRange, flip bool) error {
	switch d := dst.(type) {
	case *image.RGBA:
		return rimage.CopyRGBA(d, raw.Pix, flip)
	case *image.Gray:
		if p.cfg.Kind == Color {
			return rimage.RGBAToLuminance(d, raw.Pix, flip)
		}
		return rimage.Scale16To8(d, raw.Pix, p.cfg.InfraredScale, flip)
	case *image.Gray16:
		return rimage.Pack16(d, raw.Pix, flip)
	case *rimage.DepthImage:
		minMM, maxMM := depthRange.MillimetreBounds()
		return rimage.DepthToNormalized(d, raw.Pix, minMM, maxMM, flip)
	default:
		return errors.Errorf("cannot convert %s frame into %T", p.cfg.Kind, dst)
	}
}

func wrapRGBA(raw *RawFrame) *image.RGBA {
	return &image.RGBA{
		Pix:    raw.Pix,
		Stride: raw.Width * rimage.RawRGBABytesPerPixel,
		Rect:   image.Rect(0, 0, raw.Width, raw.Height),
	}
}

// LatestFrame returns the newest accepted frame, or nil.
func (p *Processor) LatestFrame() *Frame {
	return p.history.Get(0)
}

// HistoryFrame returns the frame at history index i, or nil.
func (p *Processor) HistoryFrame(i int) *Frame {
	return p.history.Get(i)
}

// FrameCount returns the number of frames in the history.
func (p *Processor) FrameCount() int {
	return p.history.Count()
}

// FrameInterval returns the seconds between the two most recently accepted frames.
func (p *Processor) FrameInterval() float64 {
	if f := p.history.Get(0); f != nil {
		return f.Interval
	}
	return 0
}

// LatestSequence returns the sequence number of the newest accepted frame, 0 if none.
func (p *Processor) LatestSequence() uint64 {
	return p.sequence
}

// HistoryDuration returns the seconds spanned by the frames in the history.
func (p *Processor) HistoryDuration() float64 {
	return p.history.CoveredDuration()
}

// LatestFrameTime returns the device time of the newest frame in seconds, 0 if none.
func (p *Processor) LatestFrameTime() float64 {
	return p.HistoryFrameTime(0)
}

// HistoryFrameTime returns the device time of the frame at history index i in seconds, 0 if none.
func (p *Processor) HistoryFrameTime(i int) float64 {
	if f := p.history.Get(i); f != nil {
		return f.TimestampSeconds()
	}
	return 0
}

// HistoryIndexAtDelay returns the history index of the frame delay seconds older than the newest.
func (p *Processor) HistoryIndexAtDelay(delay float64) int {
	return p.history.IndexAtDelay(delay)
}

// IntervalStats returns the mean and standard deviation of the retained frame intervals.
func (p *Processor) IntervalStats() (float64, float64, error) {
	return p.history.IntervalStats()
}

// Stats returns a snapshot of the processor counters.
func (p *Processor) Stats() ProcessorStats {
	ret := p.stats
	ret.Session = p.session.String()
	ret.HistoryCount = p.history.Count()
	ret.HistorySeconds = p.history.CoveredDuration()
	return ret
}

// Close releases the history, working buffers and undistortion map.
func (p *Processor) Close() error {
	p.closed = true
	p.history.Reset()
	p.maps.Invalidate()
	p.scratch = nil
	return nil
}
