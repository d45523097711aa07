package telemetry

import (
	"fmt"
	"sync/atomic"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
)

const (
	// DefaultFeedSize is the default number of undrained samples kept for live consumers
	DefaultFeedSize uint32 = 256

	// MaxFeedSize guards against accidental misconfiguration
	MaxFeedSize uint32 = 1024 * 1024
)

// Feed is a drop-oldest queue of freshly appended samples for incremental
// consumers (CLI printer, PTY export). Consumers that fall behind lose the
// oldest samples, never block the stream; losses are counted.
type Feed struct {
	buffer      mpmc.RichOverlappedRingBuffer[Sample]
	overwritten atomic.Uint64
	pushed      atomic.Uint64
	errors      atomic.Uint64
}

// NewFeed creates a feed holding up to size undrained samples
func NewFeed(size uint32) (*Feed, error) {
	if size == 0 {
		return nil, fmt.Errorf("feed size must be > 0")
	}
	if size > MaxFeedSize {
		return nil, fmt.Errorf("feed size %d exceeds maximum %d", size, MaxFeedSize)
	}
	return &Feed{buffer: mpmc.NewOverlappedRingBuffer[Sample](size)}, nil
}

// Push enqueues a sample, overwriting the oldest when full
func (f *Feed) Push(s Sample) error {
	overwrites, err := f.buffer.EnqueueM(s)
	if err != nil {
		f.errors.Add(1)
		return fmt.Errorf("feed enqueue: %w", err)
	}
	f.pushed.Add(1)
	f.overwritten.Add(uint64(overwrites))
	return nil
}

// Drain dequeues up to max samples in append order; max <= 0 drains everything
func (f *Feed) Drain(max int) []Sample {
	var out []Sample
	for !f.buffer.IsEmpty() {
		if max > 0 && len(out) >= max {
			break
		}
		s, err := f.buffer.Dequeue()
		if err != nil {
			break
		}
		out = append(out, s)
	}
	return out
}

// Reset discards all undrained samples
func (f *Feed) Reset() {
	_ = f.Drain(0)
}

// FeedMetrics is a snapshot of feed counters
type FeedMetrics struct {
	Pushed      uint64 `json:"pushed"`
	Overwritten uint64 `json:"overwritten"`
	Errors      uint64 `json:"errors"`
}

// Metrics returns current counters
func (f *Feed) Metrics() FeedMetrics {
	return FeedMetrics{
		Pushed:      f.pushed.Load(),
		Overwritten: f.overwritten.Load(),
		Errors:      f.errors.Load(),
	}
}
