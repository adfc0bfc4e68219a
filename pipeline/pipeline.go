// Package pipeline pulls frames from a multi-stream depth camera once per tick, runs each enabled
// stream through its processor and publishes the results to observers.
package pipeline

import (
	"context"
	"slices"
	"sync"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"

	"go.viam.com/depthstream/logging"
	"go.viam.com/depthstream/stream"
	"go.viam.com/depthstream/utils"
)

// ErrUnknownStream is returned for operations naming a stream that was never added.
var ErrUnknownStream = errors.New("unknown stream")

// Source is the sensor collaborator the pipeline pulls from.
type Source interface {
	// IsInitialized reports whether the device is ready to deliver frames.
	IsInitialized() bool
	// SensorCount returns how many sensors the device currently exposes.
	SensorCount() int
	// Capture returns the most recent frame of one stream of one sensor, together with the
	// calibration and depth range that apply to it.
	Capture(sensorIndex int, kind stream.Kind) (stream.Capture, error)
}

// StreamEnabler is implemented by sources that only deliver the stream kinds they were asked for.
type StreamEnabler interface {
	EnsureStream(sensorIndex int, kind stream.Kind) error
}

// TickResult summarizes one call to Advance.
type TickResult struct {
	// FramesSinceLastTick is the number of streams that produced a frame.
	FramesSinceLastTick int
	// FramesAcquiredSinceLastTick counts device frames consumed or superseded during the tick.
	FramesAcquiredSinceLastTick int
	// Produced is keyed by stream name and true for streams that produced a frame.
	Produced map[string]bool
}

type streamCounters struct {
	Ticks             uint64
	Produced          uint64
	NoNewData         uint64
	Dropped           uint64
	SensorUnavailable uint64
	CaptureErrors     uint64
	Failures          uint64
}

type streamEntry struct {
	name    string
	cfg     stream.Config
	proc    *stream.Processor
	logger  logging.Logger
	state   State
	enabled bool
	failed  bool

	lastDepthRange *stream.DepthRange
	counters       streamCounters
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithProcessorOptions applies opts to every processor the pipeline creates.
func WithProcessorOptions(opts ...stream.ProcessorOption) Option {
	return func(p *Pipeline) {
		p.procOpts = append(p.procOpts, opts...)
	}
}

// A Pipeline owns the processors of a set of named streams and advances all of them together.
// Configuration calls may come from any goroutine; they are serialized with Advance.
type Pipeline struct {
	mu       sync.Mutex
	logger   logging.Logger
	source   Source
	procOpts []stream.ProcessorOption
	streams  map[string]*streamEntry

	observers      []registeredObserver
	nextObserverID uint64

	ticks  uint64
	closed bool
}

// New returns a pipeline pulling from source, which may be nil until SetSource is called.
func New(source Source, logger logging.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		logger:  logger,
		source:  source,
		streams: map[string]*streamEntry{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetSource replaces the sensor collaborator. Streams and their histories are kept.
func (p *Pipeline) SetSource(source Source) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.source = source
}

// AddStream registers a new enabled stream. It starts Disabled and becomes Active on the first
// tick with an initialized source.
func (p *Pipeline) AddStream(name string, cfg stream.Config) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return stream.ErrClosed
	}
	if name == "" {
		return errors.New("stream name cannot be empty")
	}
	if _, ok := p.streams[name]; ok {
		return errors.Errorf("stream %q already exists", name)
	}
	logger := p.logger.Sublogger(name)
	proc, err := stream.NewProcessor(name, cfg, logger, p.procOpts...)
	if err != nil {
		return err
	}
	p.streams[name] = &streamEntry{
		name:    name,
		cfg:     cfg,
		proc:    proc,
		logger:  logger,
		state:   Disabled,
		enabled: true,
	}
	logger.Debugw("stream added", "kind", cfg.Kind, "sensor", cfg.SensorIndex, "session", proc.SessionID())
	return nil
}

// Reconfigure applies a new config to a stream. A change of history capacity alone keeps the
// processing session; any other change starts a new one. A stream disabled by a failure is
// eligible to run again on the next tick.
func (p *Pipeline) Reconfigure(name string, cfg stream.Config) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, err := p.entry(name)
	if err != nil {
		return err
	}
	if err := cfg.Validate(name); err != nil {
		return err
	}
	e.failed = false

	if e.cfg.SameSession(cfg) {
		if cfg.HistoryCapacity != e.cfg.HistoryCapacity {
			if err := e.proc.SetHistoryCapacity(cfg.HistoryCapacity); err != nil {
				return err
			}
			e.logger.Debugw("history capacity changed", "capacity", cfg.HistoryCapacity)
		}
		e.cfg = cfg
		return nil
	}

	proc, err := stream.NewProcessor(name, cfg, e.logger, p.procOpts...)
	if err != nil {
		return err
	}
	closeErr := e.proc.Close()
	e.proc = proc
	e.cfg = cfg
	e.lastDepthRange = nil
	e.logger.Debugw("stream reconfigured", "kind", cfg.Kind, "sensor", cfg.SensorIndex, "session", proc.SessionID())
	return closeErr
}

// SetEnabled switches a stream on or off. Disabling keeps the frame history; enabling also clears
// a previous hard failure.
func (p *Pipeline) SetEnabled(name string, enabled bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, err := p.entry(name)
	if err != nil {
		return err
	}
	e.enabled = enabled
	if enabled {
		e.failed = false
		return nil
	}
	e.state = Idle
	return nil
}

// RemoveStream tears a stream down.
func (p *Pipeline) RemoveStream(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, err := p.entry(name)
	if err != nil {
		return err
	}
	delete(p.streams, name)
	return e.proc.Close()
}

// Provider returns the read side of a stream. Its methods may be called from any goroutine,
// observers included, and keep following the stream across Reconfigure.
func (p *Pipeline) Provider(name string) (stream.FrameProvider, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.streams[name]
	if !ok {
		return nil, false
	}
	return &lockedProvider{mu: &p.mu, entry: e}, true
}

// StreamNames returns the names of all streams in sorted order.
func (p *Pipeline) StreamNames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sortedNames()
}

// State returns the lifecycle state of a stream.
func (p *Pipeline) State(name string) (State, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.streams[name]
	if !ok {
		return Disabled, false
	}
	return e.state, true
}

// AddObserver registers obs and returns a func that unregisters it.
func (p *Pipeline) AddObserver(obs Observer) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextObserverID
	p.nextObserverID++
	p.observers = append(p.observers, registeredObserver{id: id, obs: obs})
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.observers = lo.Reject(p.observers, func(o registeredObserver, _ int) bool {
			return o.id == id
		})
	}
}

// Advance runs one tick: every enabled stream pulls at most one frame from the source and
// processes it. A source that is missing or not yet initialized makes the tick a no-op. The
// returned error combines the hard failures of all streams; those streams are Disabled.
func (p *Pipeline) Advance(ctx context.Context) (TickResult, error) {
	result := TickResult{Produced: map[string]bool{}}
	pending, observers, err := p.advance(ctx, &result)
	for _, n := range pending {
		for _, o := range observers {
			n.deliver(o.obs)
		}
	}
	return result, err
}

func (p *Pipeline) advance(ctx context.Context, result *TickResult) ([]notification, []registeredObserver, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, nil, stream.ErrClosed
	}
	if p.source == nil || !p.source.IsInitialized() {
		return nil, nil, nil
	}
	p.ticks++
	sensorCount := p.source.SensorCount()

	var (
		pending []notification
		errs    error
	)
	for _, name := range p.sortedNames() {
		if err := ctx.Err(); err != nil {
			errs = multierr.Combine(errs, err)
			break
		}
		e := p.streams[name]
		if !e.enabled || e.failed {
			continue
		}
		e.counters.Ticks++

		frame, acquired, err := p.advanceStream(e, sensorCount)
		result.FramesAcquiredSinceLastTick += acquired
		if err != nil {
			e.failed = true
			e.state = Disabled
			e.counters.Failures++
			e.logger.Errorw("stream disabled after failure", "sensor", e.cfg.SensorIndex, "error", err)
			errs = multierr.Combine(errs, errors.Wrapf(err, "stream %q", name))
			continue
		}
		if frame == nil {
			continue
		}
		result.FramesSinceLastTick++
		result.Produced[name] = true

		n := notification{name: name, frame: frame}
		if frame.DepthRange != nil && (e.lastDepthRange == nil || *e.lastDepthRange != *frame.DepthRange) {
			r := *frame.DepthRange
			e.lastDepthRange = &r
			n.depthRange = &r
		}
		pending = append(pending, n)
	}
	return pending, slices.Clone(p.observers), errs
}

// advanceStream pulls and processes one frame. It returns the number of device frames acquired.
func (p *Pipeline) advanceStream(e *streamEntry, sensorCount int) (*stream.Frame, int, error) {
	idx := e.cfg.SensorIndex
	if idx >= sensorCount {
		e.counters.SensorUnavailable++
		if e.state == Active {
			e.state = Idle
		}
		e.logger.Warnw("sensor index out of range, skipping stream", "stream", e.name, "sensor", idx, "sensors", sensorCount)
		return nil, 0, nil
	}
	e.state = Active
	if enabler, err := utils.AssertType[StreamEnabler](p.source); err == nil {
		if err := enabler.EnsureStream(idx, e.cfg.Kind); err != nil {
			e.counters.CaptureErrors++
			e.logger.Warnw("cannot enable sensor stream", "stream", e.name, "sensor", idx, "error", err)
			return nil, 0, nil
		}
	}

	capture, err := p.source.Capture(idx, e.cfg.Kind)
	if err != nil {
		e.counters.CaptureErrors++
		e.logger.Warnw("cannot capture frame", "stream", e.name, "sensor", idx, "error", err)
		return nil, 0, nil
	}
	acquired := max(capture.Superseded, 0)
	e.counters.Dropped += uint64(acquired)

	frame, err := e.proc.Advance(capture.Raw, capture.Intrinsics, capture.DepthRange)
	if err != nil {
		return nil, acquired, err
	}
	if frame == nil {
		e.counters.NoNewData++
		return nil, acquired, nil
	}
	e.counters.Produced++
	return frame, acquired + 1, nil
}

// Stats returns per-stream counters keyed by "<stream>.<counter>".
func (p *Pipeline) Stats() any {
	p.mu.Lock()
	defer p.mu.Unlock()
	ret := map[string]any{"ticks": p.ticks}
	for name, e := range p.streams {
		procStats := e.proc.Stats()
		ret[name+".state"] = e.state.String()
		ret[name+".session"] = procStats.Session
		ret[name+".produced"] = e.counters.Produced
		ret[name+".noNewData"] = e.counters.NoNewData
		ret[name+".dropped"] = e.counters.Dropped
		ret[name+".malformed"] = procStats.Malformed
		ret[name+".undistortSkipped"] = procStats.UndistortSkipped
		ret[name+".clockResets"] = procStats.ClockResets
		ret[name+".sensorUnavailable"] = e.counters.SensorUnavailable
		ret[name+".captureErrors"] = e.counters.CaptureErrors
		ret[name+".failures"] = e.counters.Failures
		ret[name+".historyFrames"] = procStats.HistoryCount
		ret[name+".historySeconds"] = procStats.HistorySeconds
	}
	return ret
}

// Close tears down every stream. The pipeline cannot be used afterwards.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	var errs error
	for name, e := range p.streams {
		errs = multierr.Combine(errs, e.proc.Close())
		delete(p.streams, name)
	}
	p.observers = nil
	return errs
}

func (p *Pipeline) entry(name string) (*streamEntry, error) {
	if p.closed {
		return nil, stream.ErrClosed
	}
	e, ok := p.streams[name]
	if !ok {
		return nil, errors.Wrap(ErrUnknownStream, name)
	}
	return e, nil
}

func (p *Pipeline) sortedNames() []string {
	names := lo.Keys(p.streams)
	slices.Sort(names)
	return names
}
