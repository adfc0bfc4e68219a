package stream

import (
	"github.com/montanaflynn/stats"
)

// History is a fixed capacity ring of accepted frames, index 0 being the newest. It tracks the time
// covered by the retained frames incrementally, in device ticks, so the value is exact and every
// insert costs O(1).
type History struct {
	frames []*Frame
	// head is the slot of the newest frame.
	head  int
	count int

	// covered is the sum of the timestamp deltas between consecutive retained frames.
	covered uint64
}

// NewHistory returns an empty history. Capacities below 1 are raised to 1.
func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{frames: make([]*Frame, capacity), head: capacity - 1}
}

// Capacity returns the maximum number of retained frames.
func (h *History) Capacity() int {
	return len(h.frames)
}

// Count returns the number of retained frames.
func (h *History) Count() int {
	return h.count
}

func (h *History) slot(i int) int {
	return (h.head - i + len(h.frames)) % len(h.frames)
}

// Get returns the frame at history index i, or nil if there is none.
func (h *History) Get(i int) *Frame {
	if i < 0 || i >= h.count {
		return nil
	}
	return h.frames[h.slot(i)]
}

// Reclaim returns the frame that the next Insert will evict, so its storage can be reused for the
// incoming frame, or nil while the ring still has free slots.
func (h *History) Reclaim() *Frame {
	if h.count < len(h.frames) {
		return nil
	}
	return h.frames[h.slot(h.count-1)]
}

// Insert makes f the newest frame, evicting the oldest one when full. Timestamps must increase;
// a frame that is not newer than the current newest one clears the history first.
func (h *History) Insert(f *Frame) {
	if h.count > 0 && f.Timestamp <= h.Get(0).Timestamp {
		h.Reset()
	}
	if h.count == len(h.frames) {
		if h.count >= 2 {
			h.covered -= uint64(h.Get(h.count-2).Timestamp - h.Get(h.count-1).Timestamp)
		}
		h.count--
	}
	if h.count > 0 {
		h.covered += uint64(f.Timestamp - h.Get(0).Timestamp)
	}
	h.head = (h.head + 1) % len(h.frames)
	h.frames[h.head] = f
	h.count++
}

// Reset drops every frame.
func (h *History) Reset() {
	for i := range h.frames {
		h.frames[i] = nil
	}
	h.head = len(h.frames) - 1
	h.count = 0
	h.covered = 0
}

// CoveredTicks returns the time spanned by the retained frames in device ticks.
func (h *History) CoveredTicks() uint64 {
	return h.covered
}

// CoveredDuration returns the time spanned by the retained frames in seconds.
func (h *History) CoveredDuration() float64 {
	return DeviceTime(h.covered).Seconds()
}

// IndexAtDelay returns the index of the newest retained frame that is at least delay seconds older
// than the newest frame, clamped to the oldest one. It returns -1 when the history is empty.
func (h *History) IndexAtDelay(delay float64) int {
	if h.count == 0 {
		return -1
	}
	if delay > h.CoveredDuration() {
		return h.count - 1
	}
	newest := h.Get(0).Timestamp
	for i := 0; i < h.count; i++ {
		if (newest - h.Get(i).Timestamp).Seconds() >= delay {
			return i
		}
	}
	return h.count - 1
}

// IntervalStats returns the mean and standard deviation, in seconds, of the intervals between
// retained frames. It needs at least two retained frames.
func (h *History) IntervalStats() (float64, float64, error) {
	if h.count < 2 {
		return 0, 0, stats.EmptyInputErr
	}
	intervals := make(stats.Float64Data, 0, h.count-1)
	for i := 0; i < h.count-1; i++ {
		intervals = append(intervals, (h.Get(i).Timestamp - h.Get(i+1).Timestamp).Seconds())
	}
	mean, err := intervals.Mean()
	if err != nil {
		return 0, 0, err
	}
	stddev, err := intervals.StandardDeviation()
	if err != nil {
		return 0, 0, err
	}
	return mean, stddev, nil
}
