package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/go-cmp/cmp"
	"go.viam.com/test"

	"go.viam.com/depthstream/logging"
	"go.viam.com/depthstream/stream"
)

type captureKey struct {
	sensor int
	kind   stream.Kind
}

// stubSource hands out whatever capture was last set for a sensor stream.
type stubSource struct {
	mu          sync.Mutex
	initialized bool
	sensors     int
	captures    map[captureKey]stream.Capture
	captureErr  error
	pulls       map[captureKey]int
	ensured     map[captureKey]bool
}

func newStubSource(sensors int) *stubSource {
	return &stubSource{
		initialized: true,
		sensors:     sensors,
		captures:    map[captureKey]stream.Capture{},
		pulls:       map[captureKey]int{},
		ensured:     map[captureKey]bool{},
	}
}

func (s *stubSource) IsInitialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

func (s *stubSource) SensorCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sensors
}

func (s *stubSource) Capture(sensorIndex int, kind stream.Kind) (stream.Capture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := captureKey{sensorIndex, kind}
	s.pulls[key]++
	if s.captureErr != nil {
		return stream.Capture{}, s.captureErr
	}
	c := s.captures[key]
	// Superseded frames are only reported once.
	s.captures[key] = stream.Capture{Raw: c.Raw, Intrinsics: c.Intrinsics, DepthRange: c.DepthRange}
	return c, nil
}

func (s *stubSource) EnsureStream(sensorIndex int, kind stream.Kind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensured[captureKey{sensorIndex, kind}] = true
	return nil
}

func (s *stubSource) set(sensor int, kind stream.Kind, c stream.Capture) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.captures[captureKey{sensor, kind}] = c
}

func colorCapture(ts stream.DeviceTime, superseded int) stream.Capture {
	return stream.Capture{
		Raw:        &stream.RawFrame{Width: 2, Height: 2, Timestamp: ts, Pix: make([]byte, 16)},
		Superseded: superseded,
	}
}

func depthCapture(ts stream.DeviceTime, minM, maxM float64) stream.Capture {
	return stream.Capture{
		Raw:        &stream.RawFrame{Width: 2, Height: 2, Timestamp: ts, Pix: make([]byte, 8)},
		DepthRange: stream.DepthRange{Min: minM, Max: maxM},
	}
}

func colorConfig() stream.Config {
	return stream.Config{Kind: stream.Color, HistoryCapacity: 2}
}

func TestAdvanceWithoutSource(t *testing.T) {
	p := New(nil, logging.NewTestLogger(t))
	defer p.Close()
	test.That(t, p.AddStream("color", colorConfig()), test.ShouldBeNil)

	result, err := p.Advance(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, result.FramesSinceLastTick, test.ShouldEqual, 0)
	state, ok := p.State("color")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, state, test.ShouldEqual, Disabled)

	src := newStubSource(1)
	src.initialized = false
	src.set(0, stream.Color, colorCapture(5, 0))
	p.SetSource(src)
	result, err = p.Advance(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, result.FramesSinceLastTick, test.ShouldEqual, 0)
	test.That(t, src.pulls[captureKey{0, stream.Color}], test.ShouldEqual, 0)

	src.initialized = true
	result, err = p.Advance(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, result.FramesSinceLastTick, test.ShouldEqual, 1)
	state, _ = p.State("color")
	test.That(t, state, test.ShouldEqual, Active)
}

func TestAdvanceCountsFrames(t *testing.T) {
	src := newStubSource(2)
	p := New(src, logging.NewTestLogger(t))
	defer p.Close()
	test.That(t, p.AddStream("color", colorConfig()), test.ShouldBeNil)
	test.That(t, p.AddStream("depth", stream.Config{Kind: stream.Depth, SensorIndex: 1, HistoryCapacity: 1}), test.ShouldBeNil)

	src.set(0, stream.Color, colorCapture(100, 2))
	src.set(1, stream.Depth, depthCapture(7, 0.5, 5))
	result, err := p.Advance(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, result.FramesSinceLastTick, test.ShouldEqual, 2)
	test.That(t, result.FramesAcquiredSinceLastTick, test.ShouldEqual, 4)
	test.That(t, result.Produced, test.ShouldResemble, map[string]bool{"color": true, "depth": true})
	test.That(t, src.ensured[captureKey{1, stream.Depth}], test.ShouldBeTrue)

	// Nothing new on either stream.
	result, err = p.Advance(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, result.FramesSinceLastTick, test.ShouldEqual, 0)
	test.That(t, result.FramesAcquiredSinceLastTick, test.ShouldEqual, 0)
	test.That(t, result.Produced, test.ShouldBeEmpty)

	src.set(0, stream.Color, colorCapture(200, 0))
	result, err = p.Advance(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, result.Produced, test.ShouldResemble, map[string]bool{"color": true})

	provider, ok := p.Provider("color")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, provider.FrameCount(), test.ShouldEqual, 2)
	test.That(t, provider.LatestSequence(), test.ShouldEqual, uint64(2))
	test.That(t, provider.HistoryDuration(), test.ShouldAlmostEqual, 100*1e-7)

	stats := p.Stats().(map[string]any)
	test.That(t, stats["color.produced"], test.ShouldEqual, uint64(2))
	test.That(t, stats["color.dropped"], test.ShouldEqual, uint64(2))
	test.That(t, stats["depth.noNewData"], test.ShouldEqual, uint64(2))
	test.That(t, stats["ticks"], test.ShouldEqual, uint64(3))
}

func TestSensorIndexOutOfRange(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	src := newStubSource(1)
	p := New(src, logger)
	defer p.Close()
	test.That(t, p.AddStream("ir", stream.Config{Kind: stream.Infrared, SensorIndex: 3, HistoryCapacity: 1}), test.ShouldBeNil)

	result, err := p.Advance(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, result.FramesSinceLastTick, test.ShouldEqual, 0)
	test.That(t, logs.FilterMessageSnippet("sensor index out of range").Len(), test.ShouldEqual, 1)
	test.That(t, src.pulls[captureKey{3, stream.Infrared}], test.ShouldEqual, 0)
	state, _ := p.State("ir")
	test.That(t, state, test.ShouldEqual, Disabled)

	src.mu.Lock()
	src.sensors = 4
	src.mu.Unlock()
	src.set(3, stream.Infrared, stream.Capture{
		Raw: &stream.RawFrame{Width: 1, Height: 1, Timestamp: 5, Pix: make([]byte, 2)},
	})
	result, err = p.Advance(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, result.FramesSinceLastTick, test.ShouldEqual, 1)
	state, _ = p.State("ir")
	test.That(t, state, test.ShouldEqual, Active)

	// The sensor going away again parks the stream.
	src.mu.Lock()
	src.sensors = 1
	src.mu.Unlock()
	_, err = p.Advance(context.Background())
	test.That(t, err, test.ShouldBeNil)
	state, _ = p.State("ir")
	test.That(t, state, test.ShouldEqual, Idle)
}

func TestCaptureErrorIsNotFatal(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	src := newStubSource(1)
	src.captureErr = errors.New("usb hiccup")
	p := New(src, logger)
	defer p.Close()
	test.That(t, p.AddStream("color", colorConfig()), test.ShouldBeNil)

	_, err := p.Advance(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, logs.FilterMessageSnippet("cannot capture frame").Len(), test.ShouldEqual, 1)
	state, _ := p.State("color")
	test.That(t, state, test.ShouldEqual, Active)
}

func TestResourceExhaustionDisablesStream(t *testing.T) {
	src := newStubSource(1)
	p := New(src, logging.NewTestLogger(t), WithProcessorOptions(stream.WithMaxBufferBytes(8)))
	defer p.Close()
	test.That(t, p.AddStream("color", colorConfig()), test.ShouldBeNil)
	test.That(t, p.AddStream("small", stream.Config{Kind: stream.Color, HistoryCapacity: 1}), test.ShouldBeNil)

	src.set(0, stream.Color, colorCapture(1, 0))
	result, err := p.Advance(context.Background())
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, errors.Is(err, stream.ErrResourceExhausted), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, `"color"`)
	// Zero copy needs no buffer so the other stream keeps working.
	test.That(t, result.Produced, test.ShouldResemble, map[string]bool{"small": true})

	state, _ := p.State("color")
	test.That(t, state, test.ShouldEqual, Disabled)

	// Only "small" pulls from the shared sensor stream now.
	pulls := src.pulls[captureKey{0, stream.Color}]
	src.set(0, stream.Color, colorCapture(2, 0))
	_, err = p.Advance(context.Background())
	test.That(t, err, test.ShouldBeNil)
	state, _ = p.State("color")
	test.That(t, state, test.ShouldEqual, Disabled)
	test.That(t, src.pulls[captureKey{0, stream.Color}], test.ShouldEqual, pulls+1)

	// Explicitly re-enabling retries the stream.
	test.That(t, p.SetEnabled("color", true), test.ShouldBeNil)
	_, err = p.Advance(context.Background())
	test.That(t, errors.Is(err, stream.ErrResourceExhausted), test.ShouldBeTrue)
	test.That(t, p.Stats().(map[string]any)["color.failures"], test.ShouldEqual, uint64(2))
}

func TestObservers(t *testing.T) {
	src := newStubSource(1)
	p := New(src, logging.NewTestLogger(t))
	defer p.Close()
	test.That(t, p.AddStream("depth", stream.Config{Kind: stream.Depth, HistoryCapacity: 1}), test.ShouldBeNil)

	var frames []uint64
	var ranges []stream.DepthRange
	remove := p.AddObserver(ObserverFuncs{
		Frame: func(name string, frame *stream.Frame) {
			test.That(t, name, test.ShouldEqual, "depth")
			frames = append(frames, frame.Sequence)
		},
		DepthRange: func(name string, depthRange stream.DepthRange) {
			ranges = append(ranges, depthRange)
		},
	})
	var other int
	p.AddObserver(ObserverFuncs{Frame: func(string, *stream.Frame) { other++ }})

	for i, c := range []stream.Capture{
		depthCapture(1, 0.5, 5.0),
		depthCapture(2, 0.5, 5.0),
		depthCapture(3, 0.3, 4.0),
	} {
		src.set(0, stream.Depth, c)
		_, err := p.Advance(context.Background())
		test.That(t, err, test.ShouldBeNil)
		test.That(t, len(frames), test.ShouldEqual, i+1)
	}
	test.That(t, frames, test.ShouldResemble, []uint64{1, 2, 3})
	expected := []stream.DepthRange{{Min: 0.5, Max: 5.0}, {Min: 0.3, Max: 4.0}}
	test.That(t, cmp.Diff(expected, ranges), test.ShouldBeEmpty)
	test.That(t, other, test.ShouldEqual, 3)

	remove()
	src.set(0, stream.Depth, depthCapture(4, 0.3, 4.5))
	_, err := p.Advance(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(frames), test.ShouldEqual, 3)
	test.That(t, len(ranges), test.ShouldEqual, 2)
	test.That(t, other, test.ShouldEqual, 4)
}

func TestStreamLifecycle(t *testing.T) {
	src := newStubSource(1)
	p := New(src, logging.NewTestLogger(t))
	test.That(t, p.AddStream("color", colorConfig()), test.ShouldBeNil)
	test.That(t, p.AddStream("color", colorConfig()), test.ShouldNotBeNil)
	test.That(t, p.AddStream("bad", stream.Config{Kind: stream.Color}), test.ShouldNotBeNil)
	test.That(t, p.AddStream("a-ir", stream.Config{Kind: stream.Infrared, HistoryCapacity: 1}), test.ShouldBeNil)
	test.That(t, p.StreamNames(), test.ShouldResemble, []string{"a-ir", "color"})

	src.set(0, stream.Color, colorCapture(10, 0))
	_, err := p.Advance(context.Background())
	test.That(t, err, test.ShouldBeNil)
	session := p.Stats().(map[string]any)["color.session"]

	test.That(t, p.SetEnabled("color", false), test.ShouldBeNil)
	state, _ := p.State("color")
	test.That(t, state, test.ShouldEqual, Idle)
	pulls := src.pulls[captureKey{0, stream.Color}]
	src.set(0, stream.Color, colorCapture(20, 0))
	_, err = p.Advance(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, src.pulls[captureKey{0, stream.Color}], test.ShouldEqual, pulls)
	provider, _ := p.Provider("color")
	test.That(t, provider.FrameCount(), test.ShouldEqual, 1)

	test.That(t, p.SetEnabled("color", true), test.ShouldBeNil)
	_, err = p.Advance(context.Background())
	test.That(t, err, test.ShouldBeNil)
	state, _ = p.State("color")
	test.That(t, state, test.ShouldEqual, Active)

	// Capacity only.
	cfg := colorConfig()
	cfg.HistoryCapacity = 4
	test.That(t, p.Reconfigure("color", cfg), test.ShouldBeNil)
	test.That(t, p.Stats().(map[string]any)["color.session"], test.ShouldEqual, session)

	cfg.FlipVertically = true
	test.That(t, p.Reconfigure("color", cfg), test.ShouldBeNil)
	test.That(t, p.Stats().(map[string]any)["color.session"], test.ShouldNotEqual, session)
	test.That(t, p.Reconfigure("color", stream.Config{Kind: stream.Color}), test.ShouldNotBeNil)

	test.That(t, p.RemoveStream("color"), test.ShouldBeNil)
	_, ok := p.Provider("color")
	test.That(t, ok, test.ShouldBeFalse)
	test.That(t, errors.Is(p.RemoveStream("color"), ErrUnknownStream), test.ShouldBeTrue)
	test.That(t, errors.Is(p.SetEnabled("nope", true), ErrUnknownStream), test.ShouldBeTrue)
	_, ok = p.State("color")
	test.That(t, ok, test.ShouldBeFalse)

	test.That(t, p.Close(), test.ShouldBeNil)
	_, err = p.Advance(context.Background())
	test.That(t, err, test.ShouldEqual, stream.ErrClosed)
	test.That(t, p.AddStream("late", colorConfig()), test.ShouldEqual, stream.ErrClosed)
}

func TestAdvanceStopsOnCanceledContext(t *testing.T) {
	src := newStubSource(1)
	p := New(src, logging.NewTestLogger(t))
	defer p.Close()
	test.That(t, p.AddStream("color", colorConfig()), test.ShouldBeNil)
	src.set(0, stream.Color, colorCapture(1, 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := p.Advance(ctx)
	test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
	test.That(t, result.FramesSinceLastTick, test.ShouldEqual, 0)
}

func TestRunner(t *testing.T) {
	src := newStubSource(1)
	src.set(0, stream.Color, colorCapture(1, 0))
	p := New(src, logging.NewTestLogger(t))
	defer p.Close()
	test.That(t, p.AddStream("color", colorConfig()), test.ShouldBeNil)

	mock := clock.NewMock()
	r := NewRunner(p, 10*time.Millisecond, mock, logging.NewTestLogger(t))
	ticks := make(chan TickResult, 1)
	r.OnTick = func(result TickResult) {
		select {
		case ticks <- result:
		default:
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- r.Run(ctx)
	}()

	var got TickResult
	for i := 0; i < 500; i++ {
		mock.Add(10 * time.Millisecond)
		select {
		case got = <-ticks:
		case <-time.After(5 * time.Millisecond):
			continue
		}
		break
	}
	test.That(t, got.Produced["color"], test.ShouldBeTrue)

	cancel()
	test.That(t, <-done, test.ShouldEqual, context.Canceled)
}

func TestProviderReadsDuringTicks(t *testing.T) {
	src := newStubSource(1)
	p := New(src, logging.NewTestLogger(t))
	defer p.Close()
	test.That(t, p.AddStream("color", colorConfig()), test.ShouldBeNil)
	provider, ok := p.Provider("color")
	test.That(t, ok, test.ShouldBeTrue)

	done := make(chan struct{})
	var reads int
	go func() {
		defer close(done)
		for {
			_ = provider.FrameCount()
			_ = provider.HistoryDuration()
			_ = provider.LatestFrame()
			reads++
			if provider.LatestSequence() >= 50 {
				return
			}
		}
	}()
	for ts := stream.DeviceTime(1); ts <= 50; ts++ {
		src.set(0, stream.Color, colorCapture(ts*10, 0))
		_, err := p.Advance(context.Background())
		test.That(t, err, test.ShouldBeNil)
	}
	<-done
	test.That(t, reads, test.ShouldBeGreaterThan, 0)

	// The provider follows the stream into a new session.
	cfg := colorConfig()
	cfg.FlipVertically = true
	test.That(t, p.Reconfigure("color", cfg), test.ShouldBeNil)
	test.That(t, provider.FrameCount(), test.ShouldEqual, 0)
	src.set(0, stream.Color, colorCapture(1000, 0))
	_, err := p.Advance(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, provider.LatestSequence(), test.ShouldEqual, uint64(1))
}
