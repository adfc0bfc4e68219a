package stream

import (
	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// MaxInfraredScale bounds Config.InfraredScale.
const MaxInfraredScale = 50

// Config describes how one stream is processed. Apart from HistoryCapacity it is fixed for the
// lifetime of a Processor.
type Config struct {
	Kind               Kind    `json:"kind"`
	SensorIndex        int     `json:"sensor_index"`
	Undistort          bool    `json:"undistort"`
	FlipVertically     bool    `json:"flip_vertically"`
	ConvertToLuminance bool    `json:"convert_to_luminance"`
	InfraredScale      float64 `json:"infrared_scale"`
	HistoryCapacity    int     `json:"history_capacity"`
}

// Validate ensures all parts of the config are valid.
func (conf *Config) Validate(path string) error {
	if !conf.Kind.Valid() {
		return utils.NewConfigValidationError(path, errors.Errorf("unknown stream kind %d", conf.Kind))
	}
	if conf.SensorIndex < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("sensor_index cannot be negative, got %d", conf.SensorIndex))
	}
	if conf.ConvertToLuminance && conf.Kind == Depth {
		return utils.NewConfigValidationError(path, errors.New("convert_to_luminance is only supported for color and infrared streams"))
	}
	if conf.InfraredScale < 0 || conf.InfraredScale > MaxInfraredScale {
		return utils.NewConfigValidationError(path,
			errors.Errorf("infrared_scale must be between 0 and %d, got %v", MaxInfraredScale, conf.InfraredScale))
	}
	if conf.HistoryCapacity < 1 {
		return utils.NewConfigValidationError(path,
			errors.Errorf("history_capacity must be at least 1, got %d", conf.HistoryCapacity))
	}
	return nil
}

// SameSession reports whether switching from conf to other can keep the running processor, which
// is the case when nothing but the history capacity changes.
func (conf *Config) SameSession(other Config) bool {
	cur := *conf
	cur.HistoryCapacity = other.HistoryCapacity
	return cur == other
}
