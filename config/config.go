// Package config defines the configuration of the depthstream command: which device to open, which
// streams to run through the pipeline and where to write snapshots.
package config

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/depthstream/logging"
	"go.viam.com/depthstream/rimage"
	"go.viam.com/depthstream/stream"
)

// DefaultTickInterval is used when no tick_interval is configured.
const DefaultTickInterval = time.Second / 30

// Config is the whole configuration file.
type Config struct {
	ConfigFilePath string `json:"-"`

	TickInterval string         `json:"tick_interval,omitempty"`
	Sensor       SensorConfig   `json:"sensor"`
	Streams      []StreamConfig `json:"streams"`
	Output       OutputConfig   `json:"output"`
	LogLevel     string         `json:"log_level,omitempty"`
}

// SensorConfig selects a device model and carries its model-specific attributes.
type SensorConfig struct {
	Model      string         `json:"model"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// StreamConfig is one named stream of the pipeline.
type StreamConfig struct {
	Name     string `json:"name"`
	Disabled bool   `json:"disabled,omitempty"`
	stream.Config
}

// OutputConfig controls snapshot writing. Snapshots are off when Directory is empty.
type OutputConfig struct {
	Directory string `json:"directory,omitempty"`
	// Format is one of png, jpeg, qoi or ppm.
	Format string `json:"format,omitempty"`
	// EveryNFrames writes every nth frame of each stream.
	EveryNFrames int `json:"every_n_frames,omitempty"`
	// PreviewWidth, when set, also writes a downscaled preview of each snapshot.
	PreviewWidth int `json:"preview_width,omitempty"`
	// DiagnosticsFile, when set, receives a sample of the pipeline stats every second.
	DiagnosticsFile string `json:"diagnostics_file,omitempty"`
}

var outputFormats = map[string]string{
	"":     rimage.MimeTypePNG,
	"png":  rimage.MimeTypePNG,
	"jpeg": rimage.MimeTypeJPEG,
	"jpg":  rimage.MimeTypeJPEG,
	"qoi":  rimage.MimeTypeQOI,
	"ppm":  rimage.MimeTypePPM,
}

// MimeType returns the encoding of snapshots.
func (conf *OutputConfig) MimeType() string {
	return outputFormats[conf.Format]
}

// Validate ensures all parts of the output config are valid.
func (conf *OutputConfig) Validate(path string) error {
	if _, ok := outputFormats[conf.Format]; !ok {
		return utils.NewConfigValidationError(path, errors.Errorf("unsupported format %q", conf.Format))
	}
	if conf.EveryNFrames < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("every_n_frames cannot be negative, got %d", conf.EveryNFrames))
	}
	if conf.PreviewWidth < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("preview_width cannot be negative, got %d", conf.PreviewWidth))
	}
	return nil
}

// Tick returns the parsed tick interval.
func (conf *Config) Tick() (time.Duration, error) {
	if conf.TickInterval == "" {
		return DefaultTickInterval, nil
	}
	d, err := time.ParseDuration(conf.TickInterval)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, errors.Errorf("must be positive, got %s", d)
	}
	return d, nil
}

// Level returns the configured log level, INFO when unset.
func (conf *Config) Level() (logging.Level, error) {
	if conf.LogLevel == "" {
		return logging.INFO, nil
	}
	return logging.LevelFromString(conf.LogLevel)
}

// Validate ensures all parts of the config are valid.
func (conf *Config) Validate() error {
	if _, err := conf.Tick(); err != nil {
		return utils.NewConfigValidationError("tick_interval", err)
	}
	if _, err := conf.Level(); err != nil {
		return utils.NewConfigValidationError("log_level", err)
	}
	if conf.Sensor.Model == "" {
		return utils.NewConfigValidationFieldRequiredError("sensor", "model")
	}
	if len(conf.Streams) == 0 {
		return utils.NewConfigValidationFieldRequiredError("", "streams")
	}
	seen := map[string]bool{}
	for idx := range conf.Streams {
		s := &conf.Streams[idx]
		path := fmt.Sprintf("streams.%d", idx)
		if s.Name == "" {
			return utils.NewConfigValidationFieldRequiredError(path, "name")
		}
		if seen[s.Name] {
			return utils.NewConfigValidationError(path, errors.Errorf("stream name %q is not unique", s.Name))
		}
		seen[s.Name] = true
		if err := s.Config.Validate(path); err != nil {
			return err
		}
	}
	return conf.Output.Validate("output")
}

// StreamByName returns the stream with the given name.
func (conf *Config) StreamByName(name string) (StreamConfig, bool) {
	for _, s := range conf.Streams {
		if s.Name == name {
			return s, true
		}
	}
	return StreamConfig{}, false
}
