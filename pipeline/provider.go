package pipeline

import (
	"sync"

	"go.viam.com/depthstream/stream"
)

// lockedProvider serializes reads of a stream's processor with the pipeline's ticks and follows
// the processor across reconfigurations. The returned frames are only stable until a later tick
// recycles their storage; readers off the tick goroutine should copy what they need with
// Frame.Clone between ticks.
type lockedProvider struct {
	mu    *sync.Mutex
	entry *streamEntry
}

func (lp *lockedProvider) LatestFrame() *stream.Frame {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	return lp.entry.proc.LatestFrame()
}

func (lp *lockedProvider) HistoryFrame(i int) *stream.Frame {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	return lp.entry.proc.HistoryFrame(i)
}

func (lp *lockedProvider) FrameCount() int {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	return lp.entry.proc.FrameCount()
}

func (lp *lockedProvider) FrameInterval() float64 {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	return lp.entry.proc.FrameInterval()
}

func (lp *lockedProvider) LatestSequence() uint64 {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	return lp.entry.proc.LatestSequence()
}

func (lp *lockedProvider) HistoryDuration() float64 {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	return lp.entry.proc.HistoryDuration()
}

func (lp *lockedProvider) LatestFrameTime() float64 {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	return lp.entry.proc.LatestFrameTime()
}

func (lp *lockedProvider) HistoryFrameTime(i int) float64 {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	return lp.entry.proc.HistoryFrameTime(i)
}

func (lp *lockedProvider) HistoryIndexAtDelay(delay float64) int {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	return lp.entry.proc.HistoryIndexAtDelay(delay)
}
