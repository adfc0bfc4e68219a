package pipeline

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"go.viam.com/depthstream/logging"
	"go.viam.com/depthstream/stream"
)

// DefaultTickInterval is roughly one tick per display frame at 60 Hz.
const DefaultTickInterval = time.Second / 60

// Runner drives a Pipeline from a ticker, standing in for the host's per-frame update loop.
type Runner struct {
	pipeline *Pipeline
	interval time.Duration
	clock    clock.Clock
	logger   logging.Logger

	// OnTick, if set, receives the result of every tick.
	OnTick func(TickResult)
}

// NewRunner returns a runner advancing p every interval. A nil clk uses the wall clock.
func NewRunner(p *Pipeline, interval time.Duration, clk clock.Clock, logger logging.Logger) *Runner {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Runner{pipeline: p, interval: interval, clock: clk, logger: logger}
}

// Run ticks until ctx is done. Stream failures are logged and do not stop the runner; the
// affected streams stay disabled until reconfigured.
func (r *Runner) Run(ctx context.Context) error {
	ticker := r.clock.Ticker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		result, err := r.pipeline.Advance(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			if errors.Is(err, stream.ErrClosed) {
				return err
			}
			r.logger.Errorw("tick failed", "error", err)
		}
		r.logger.CDebugw(ctx, "tick", "frames", result.FramesSinceLastTick, "acquired", result.FramesAcquiredSinceLastTick)
		if r.OnTick != nil {
			r.OnTick(result)
		}
	}
}
