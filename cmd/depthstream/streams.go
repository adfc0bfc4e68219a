package main

import (
	"github.com/samber/lo"
	"go.uber.org/multierr"

	"go.viam.com/depthstream/config"
	"go.viam.com/depthstream/pipeline"
)

// syncStreams makes the pipeline's stream table match the configured streams. Existing streams
// are reconfigured in place so that history-only changes keep their session.
func syncStreams(p *pipeline.Pipeline, streams []config.StreamConfig) error {
	var errs error
	wanted := lo.SliceToMap(streams, func(s config.StreamConfig) (string, config.StreamConfig) {
		return s.Name, s
	})
	for _, name := range p.StreamNames() {
		if _, ok := wanted[name]; !ok {
			errs = multierr.Combine(errs, p.RemoveStream(name))
		}
	}

	existing := lo.Associate(p.StreamNames(), func(name string) (string, bool) { return name, true })
	for _, s := range streams {
		var err error
		if existing[s.Name] {
			err = p.Reconfigure(s.Name, s.Config)
		} else {
			err = p.AddStream(s.Name, s.Config)
		}
		if err != nil {
			errs = multierr.Combine(errs, err)
			continue
		}
		errs = multierr.Combine(errs, p.SetEnabled(s.Name, !s.Disabled))
	}
	return errs
}
