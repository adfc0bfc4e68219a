package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.viam.com/test"

	"go.viam.com/depthstream/logging"
	"go.viam.com/depthstream/rimage"
	"go.viam.com/depthstream/stream"
)

const sampleConfig = `{
	"tick_interval": "20ms",
	"log_level": "debug",
	"sensor": {
		"model": "fake",
		"attributes": {"sensors": 2, "width": 64}
	},
	"streams": [
		{"name": "front_color", "kind": "color", "history_capacity": 1},
		{"name": "front_depth", "kind": "depth", "sensor_index": 1, "undistort": true, "flip_vertically": true, "history_capacity": 3},
		{"name": "front_ir", "kind": "ir", "convert_to_luminance": true, "infrared_scale": 8, "history_capacity": 2, "disabled": true}
	],
	"output": {"directory": "${SNAPSHOT_DIR}", "format": "qoi", "every_n_frames": 10, "preview_width": 32}
}`

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "depthstream.json")
	test.That(t, os.WriteFile(path, []byte(content), 0o600), test.ShouldBeNil)
	return path
}

func TestRead(t *testing.T) {
	t.Setenv("SNAPSHOT_DIR", "/tmp/snaps")
	path := writeConfig(t, t.TempDir(), sampleConfig)

	cfg, err := Read(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.ConfigFilePath, test.ShouldEqual, path)
	test.That(t, cfg.Output.Directory, test.ShouldEqual, "/tmp/snaps")
	test.That(t, cfg.Output.MimeType(), test.ShouldEqual, rimage.MimeTypeQOI)
	test.That(t, cfg.Sensor.Model, test.ShouldEqual, "fake")
	test.That(t, cfg.Sensor.Attributes["sensors"], test.ShouldEqual, 2.)

	tick, err := cfg.Tick()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, tick, test.ShouldEqual, 20*time.Millisecond)
	level, err := cfg.Level()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, level, test.ShouldEqual, logging.DEBUG)

	expected := []StreamConfig{
		{Name: "front_color", Config: stream.Config{Kind: stream.Color, HistoryCapacity: 1}},
		{Name: "front_depth", Config: stream.Config{
			Kind: stream.Depth, SensorIndex: 1, Undistort: true, FlipVertically: true, HistoryCapacity: 3,
		}},
		{Name: "front_ir", Disabled: true, Config: stream.Config{
			Kind: stream.Infrared, ConvertToLuminance: true, InfraredScale: 8, HistoryCapacity: 2,
		}},
	}
	test.That(t, cmp.Diff(expected, cfg.Streams), test.ShouldBeEmpty)

	s, ok := cfg.StreamByName("front_depth")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, s.Kind, test.ShouldEqual, stream.Depth)
	_, ok = cfg.StreamByName("rear")
	test.That(t, ok, test.ShouldBeFalse)

	_, err = Read(filepath.Join(t.TempDir(), "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestFromReaderErrors(t *testing.T) {
	for name, tc := range map[string]struct {
		content  string
		contains string
	}{
		"unknown field": {
			`{"sensor": {"model": "fake"}, "streams": [{"name": "a", "kind": "color", "history_capacity": 1}], "fps": 3}`,
			"fps",
		},
		"bad json": {`{"sensor": `, "failed to decode"},
		"bad kind": {
			`{"sensor": {"model": "fake"}, "streams": [{"name": "a", "kind": "thermal", "history_capacity": 1}]}`,
			"thermal",
		},
		"invalid stream": {
			`{"sensor": {"model": "fake"}, "streams": [{"name": "a", "kind": "depth", "convert_to_luminance": true, "history_capacity": 1}]}`,
			"streams.0",
		},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := FromReader("", strings.NewReader(tc.content))
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.contains)
		})
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Sensor:  SensorConfig{Model: "fake"},
			Streams: []StreamConfig{{Name: "a", Config: stream.Config{Kind: stream.Color, HistoryCapacity: 1}}},
		}
	}
	cfg := valid()
	test.That(t, cfg.Validate(), test.ShouldBeNil)
	tick, err := cfg.Tick()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, tick, test.ShouldEqual, DefaultTickInterval)
	test.That(t, cfg.Output.MimeType(), test.ShouldEqual, rimage.MimeTypePNG)

	for name, tc := range map[string]struct {
		mutate   func(*Config)
		contains string
	}{
		"tick":       {func(c *Config) { c.TickInterval = "-3s" }, "tick_interval"},
		"tick parse": {func(c *Config) { c.TickInterval = "soon" }, "tick_interval"},
		"log level":  {func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		"model":      {func(c *Config) { c.Sensor.Model = "" }, "model"},
		"no streams": {func(c *Config) { c.Streams = nil }, "streams"},
		"no name":    {func(c *Config) { c.Streams[0].Name = "" }, "name"},
		"duplicate": {
			func(c *Config) { c.Streams = append(c.Streams, c.Streams[0]) },
			"not unique",
		},
		"capacity": {func(c *Config) { c.Streams[0].HistoryCapacity = 0 }, "history_capacity"},
		"format":   {func(c *Config) { c.Output.Format = "gif" }, "gif"},
		"every":    {func(c *Config) { c.Output.EveryNFrames = -1 }, "every_n_frames"},
		"preview":  {func(c *Config) { c.Output.PreviewWidth = -1 }, "preview_width"},
	} {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(&cfg)
			err := cfg.Validate()
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.contains)
		})
	}
}

func TestWatch(t *testing.T) {
	t.Setenv("SNAPSHOT_DIR", "")
	dir := t.TempDir()
	path := writeConfig(t, dir, sampleConfig)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	logger, logs := logging.NewObservedTestLogger(t)
	changes := make(chan *Config, 10)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, 20*time.Millisecond, logger, func(cfg *Config) {
			changes <- cfg
		})
	}()

	updated := strings.Replace(sampleConfig, `"tick_interval": "20ms"`, `"tick_interval": "50ms"`, 1)
	var got *Config
	// The watch may not be registered yet, so keep writing until a change is seen.
	for i := 0; i < 100 && got == nil; i++ {
		writeConfig(t, dir, updated)
		select {
		case got = <-changes:
		case <-time.After(50 * time.Millisecond):
		}
	}
	test.That(t, got, test.ShouldNotBeNil)
	test.That(t, got.TickInterval, test.ShouldEqual, "50ms")

	// Invalid edits are skipped.
	writeConfig(t, dir, `{"sensor": {}}`)
	deadline := time.Now().Add(2 * time.Second)
	for logs.FilterMessageSnippet("ignoring invalid config change").Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	test.That(t, logs.FilterMessageSnippet("ignoring invalid config change").Len(), test.ShouldBeGreaterThan, 0)

	// Other files in the directory are ignored.
	test.That(t, os.WriteFile(filepath.Join(dir, "other.json"), []byte("{}"), 0o600), test.ShouldBeNil)

	cancel()
	test.That(t, <-done, test.ShouldBeNil)
}
