package telemetry

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// DefaultRetention is the default number of samples a Stream keeps
const DefaultRetention = 4096

// Stream is the ordered sample buffer of one streaming session.
//
// Append assigns sequence numbers starting at zero; they increase strictly
// until Clear resets them. With a positive capacity only the newest samples
// are kept (drop-oldest) and sequence numbers keep increasing across
// evictions. Capacity 0 keeps everything. Every Clear starts a new epoch, so
// a sequence number is only meaningful together with its epoch.
type Stream struct {
	logger   *logrus.Logger
	capacity int
	feed     *Feed

	mu      sync.RWMutex
	buf     []Sample
	start   int // index of the oldest sample when bounded
	count   int
	nextSeq uint64
	dropped uint64
	epoch   uint64
}

// Cursor is a read position: the next sequence number wanted within an
// epoch. Epoch 0 matches the current epoch.
type Cursor struct {
	Epoch uint64 `json:"epoch"`
	Seq   uint64 `json:"seq"`
}

// Page is the result of Read. Reset is set when the cursor belonged to an
// earlier epoch or pointed past the end, and Samples restart at the oldest
// retained sample.
type Page struct {
	Samples []Sample
	Next    Cursor
	Reset   bool
}

// NewStream creates a stream. feed may be nil.
func NewStream(capacity int, feed *Feed, logger *logrus.Logger) *Stream {
	if logger == nil {
		logger = logrus.New()
	}
	if capacity < 0 {
		capacity = 0
	}
	s := &Stream{logger: logger, capacity: capacity, feed: feed, epoch: 1}
	if capacity > 0 {
		s.buf = make([]Sample, capacity)
	}
	return s
}

// Append stores sample with the next sequence number and returns it
func (s *Stream) Append(sample Sample) Sample {
	s.mu.Lock()
	sample.Seq = s.nextSeq
	s.nextSeq++
	if s.capacity == 0 {
		s.buf = append(s.buf, sample)
		s.count++
	} else if s.count < s.capacity {
		s.buf[(s.start+s.count)%s.capacity] = sample
		s.count++
	} else {
		s.buf[s.start] = sample
		s.start = (s.start + 1) % s.capacity
		s.dropped++
	}
	s.mu.Unlock()

	if s.feed != nil {
		if err := s.feed.Push(sample); err != nil {
			s.logger.WithField("error", err).Warn("Failed to push sample to live feed")
		}
	}
	return sample
}

// Snapshot returns a copy of the retained samples in sequence order
func (s *Stream) Snapshot() []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyFrom(0)
}

// Since returns retained samples with Seq >= seq
func (s *Stream) Since(seq uint64) []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sinceLocked(seq)
}

// Read returns the samples from cursor on and the cursor to read next
func (s *Stream) Read(from Cursor) Page {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seq := from.Seq
	reset := (from.Epoch != 0 && from.Epoch != s.epoch) || seq > s.nextSeq
	if reset {
		seq = 0
	}
	return Page{
		Samples: s.sinceLocked(seq),
		Next:    Cursor{Epoch: s.epoch, Seq: s.nextSeq},
		Reset:   reset,
	}
}

func (s *Stream) sinceLocked(seq uint64) []Sample {
	if s.count == 0 || seq >= s.nextSeq {
		return []Sample{}
	}
	first := s.nextSeq - uint64(s.count)
	if seq <= first {
		return s.copyFrom(0)
	}
	return s.copyFrom(int(seq - first))
}

// copyFrom copies retained samples starting at logical offset off; caller holds mu
func (s *Stream) copyFrom(off int) []Sample {
	out := make([]Sample, 0, s.count-off)
	if s.capacity == 0 {
		return append(out, s.buf[off:s.count]...)
	}
	for i := off; i < s.count; i++ {
		out = append(out, s.buf[(s.start+i)%s.capacity])
	}
	return out
}

// Clear empties the stream, resets the sequence counter and drop count and
// starts a new epoch.
// Undrained feed samples of the ended session are discarded too.
func (s *Stream) Clear() {
	s.mu.Lock()
	if s.capacity == 0 {
		s.buf = nil
	}
	s.start = 0
	s.count = 0
	s.nextSeq = 0
	s.dropped = 0
	s.epoch++
	s.mu.Unlock()

	if s.feed != nil {
		s.feed.Reset()
	}
}

// Len returns the number of retained samples
func (s *Stream) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// NextSeq returns the sequence number the next Append will assign
func (s *Stream) NextSeq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextSeq
}

// Epoch returns the current epoch, starting at 1
func (s *Stream) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

// Dropped returns how many samples retention evicted since the last Clear
func (s *Stream) Dropped() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dropped
}

// Capacity returns the retention limit, 0 for unbounded
func (s *Stream) Capacity() int {
	return s.capacity
}

// Feed returns the live feed, nil if none was configured
func (s *Stream) Feed() *Feed {
	return s.feed
}
