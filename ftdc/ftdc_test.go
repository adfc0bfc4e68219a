package ftdc

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/test"

	"go.viam.com/depthstream/logging"
)

type mapStatser struct {
	stats map[string]any
}

func (m *mapStatser) Stats() any {
	return m.stats
}

func TestRecordAndParse(t *testing.T) {
	var buf bytes.Buffer
	mock := clock.NewMock()
	mock.Set(time.Unix(100, 0))
	statser := &mapStatser{stats: map[string]any{
		"ticks":         uint64(1),
		"depth.state":   "active",
		"depth.dropped": uint64(0),
		"depth.seconds": 0.5,
	}}
	r := NewRecorder(statser, &buf, mock, logging.NewTestLogger(t))

	test.That(t, r.Record(), test.ShouldBeNil)
	sizeAfterFirst := buf.Len()

	// Unchanged readings only cost the diff bits and the time.
	mock.Add(time.Second)
	test.That(t, r.Record(), test.ShouldBeNil)
	test.That(t, buf.Len()-sizeAfterFirst, test.ShouldEqual, 1+8)

	mock.Add(time.Second)
	statser.stats["ticks"] = uint64(3)
	test.That(t, r.Record(), test.ShouldBeNil)

	// A new metric starts a new schema.
	mock.Add(time.Second)
	statser.stats["color.dropped"] = 7
	test.That(t, r.Record(), test.ShouldBeNil)
	test.That(t, r.Samples(), test.ShouldEqual, 4)

	data, err := Parse(&buf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, data, test.ShouldHaveLength, 4)

	test.That(t, data[0].Time, test.ShouldEqual, time.Unix(100, 0).UnixNano())
	test.That(t, data[0].Readings, test.ShouldResemble, []Reading{
		{"depth.dropped", 0},
		{"depth.seconds", 0.5},
		{"ticks", 1},
	})
	test.That(t, data[1].Readings, test.ShouldResemble, data[0].Readings)

	ticks, ok := data[2].Value("ticks")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, ticks, test.ShouldEqual, float32(3))
	seconds, _ := data[2].Value("depth.seconds")
	test.That(t, seconds, test.ShouldEqual, float32(0.5))

	test.That(t, data[3].Readings, test.ShouldHaveLength, 4)
	dropped, ok := data[3].Value("color.dropped")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, dropped, test.ShouldEqual, float32(7))
	ticks, _ = data[3].Value("ticks")
	test.That(t, ticks, test.ShouldEqual, float32(3))
	_, ok = data[3].Value("depth.state")
	test.That(t, ok, test.ShouldBeFalse)
}

func TestManyMetricsSpanDiffBytes(t *testing.T) {
	var buf bytes.Buffer
	stats := map[string]any{}
	for i := 0; i < 20; i++ {
		stats[string(rune('a'+i))] = i
	}
	r := NewRecorder(&mapStatser{stats: stats}, &buf, clock.NewMock(), logging.NewTestLogger(t))
	test.That(t, r.Record(), test.ShouldBeNil)
	stats["t"] = 100
	test.That(t, r.Record(), test.ShouldBeNil)

	data, err := Parse(&buf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, data, test.ShouldHaveLength, 2)
	for i := 0; i < 20; i++ {
		v, ok := data[0].Value(string(rune('a' + i)))
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, v, test.ShouldEqual, float32(i))
	}
	v, _ := data[1].Value("t")
	test.That(t, v, test.ShouldEqual, float32(100))
	v, _ = data[1].Value("s")
	test.That(t, v, test.ShouldEqual, float32(18))
}

func TestParseErrors(t *testing.T) {
	_, err := Parse(bytes.NewReader([]byte{0x0, 0x0}))
	test.That(t, err, test.ShouldNotBeNil)

	var buf bytes.Buffer
	r := NewRecorder(&mapStatser{stats: map[string]any{"ticks": 1}}, &buf, clock.NewMock(), logging.NewTestLogger(t))
	test.That(t, r.Record(), test.ShouldBeNil)
	test.That(t, r.Record(), test.ShouldBeNil)
	truncated := buf.Bytes()[:buf.Len()-3]
	data, err := Parse(bytes.NewReader(truncated))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, data, test.ShouldHaveLength, 1)

	bad := NewRecorder(badStatser{}, &buf, nil, logging.NewTestLogger(t))
	test.That(t, bad.Record(), test.ShouldNotBeNil)
}

type badStatser struct{}

func (badStatser) Stats() any { return 5 }

func TestRun(t *testing.T) {
	var buf bytes.Buffer
	mock := clock.NewMock()
	r := NewRecorder(&mapStatser{stats: map[string]any{"ticks": 1}}, &buf, mock, logging.NewTestLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- r.Run(ctx, time.Second)
	}()
	for r.Samples() < 2 {
		mock.Add(time.Second)
		time.Sleep(time.Millisecond)
	}
	cancel()
	test.That(t, <-done, test.ShouldEqual, context.Canceled)

	data, err := Parse(&buf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(data), test.ShouldBeGreaterThanOrEqualTo, 2)
}
