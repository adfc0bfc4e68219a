// Package ftdc records periodic samples of numeric diagnostics to a compact binary file. Only
// metrics that changed since the previous sample are written.
package ftdc

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"go.viam.com/depthstream/logging"
)

// DefaultInterval is how often Run samples.
const DefaultInterval = time.Second

// A Statser returns a flat map of metric name to value. Non-numeric values are ignored.
type Statser interface {
	Stats() any
}

// Recorder writes samples of a Statser to an output.
type Recorder struct {
	mu      sync.Mutex
	statser Statser
	out     io.Writer
	clock   clock.Clock
	logger  logging.Logger

	schema  *schema
	prev    []float32
	samples int
}

// NewRecorder returns a recorder. A nil clock uses the wall clock.
func NewRecorder(statser Statser, out io.Writer, clk clock.Clock, logger logging.Logger) *Recorder {
	if clk == nil {
		clk = clock.New()
	}
	return &Recorder{statser: statser, out: out, clock: clk, logger: logger}
}

// Record takes one sample. A new schema document is written whenever the set of metrics changes.
func (r *Recorder) Record() error {
	stats, ok := r.statser.Stats().(map[string]any)
	if !ok {
		return errors.New("stats are not a map")
	}
	fields, values := flatten(stats)

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.schema.equal(fields) {
		r.schema = &schema{fields: fields}
		r.prev = nil
		if err := writeSchema(r.schema, r.out); err != nil {
			return err
		}
	}
	if err := writeDatum(r.clock.Now().UnixNano(), r.prev, values, r.out); err != nil {
		return err
	}
	r.prev = values
	r.samples++
	return nil
}

// Samples is the number of samples written.
func (r *Recorder) Samples() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.samples
}

// Run samples every interval until ctx is done. Write failures are logged and do not stop it.
func (r *Recorder) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := r.clock.Ticker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if err := r.Record(); err != nil {
			r.logger.Warnw("cannot record diagnostics", "error", err)
		}
	}
}
