package telemetry

import (
	"bytes"
	"strings"
	"sync"

	"github.com/smallnest/ringbuffer"
)

// DefaultRawTailBytes is the default size of the raw payload tail
const DefaultRawTailBytes = 4096

// RawTail keeps the most recent raw notification payloads as text lines, for
// diagnostics only. It is fed alongside the decoder and never consulted by it.
// When full, whole lines are evicted oldest first; a single payload longer
// than the tail is not recorded.
type RawTail struct {
	mu      sync.Mutex
	rb      *ringbuffer.RingBuffer
	lines   int
	skipped uint64
}

// NewRawTail creates a tail holding up to size bytes
func NewRawTail(size int) *RawTail {
	if size <= 0 {
		size = DefaultRawTailBytes
	}
	return &RawTail{rb: ringbuffer.New(size)}
}

// Record appends payload as one line. Embedded line breaks are replaced by
// spaces so every notification stays a single line.
func (t *RawTail) Record(payload []byte) {
	line := bytes.TrimRight(payload, "\r\n")
	line = bytes.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return ' '
		}
		return r
	}, line)
	line = append(line, '\n')

	t.mu.Lock()
	defer t.mu.Unlock()

	if len(line) > t.rb.Capacity() {
		t.skipped++
		return
	}
	for t.rb.Capacity()-t.rb.Length() < len(line) {
		t.evictOldestLine()
	}
	if _, err := t.rb.Write(line); err == nil {
		t.lines++
	}
}

// evictOldestLine drops bytes up to and including the next '\n'; caller holds mu
func (t *RawTail) evictOldestLine() {
	for {
		b, err := t.rb.ReadByte()
		if err != nil {
			t.lines = 0
			return
		}
		if b == '\n' {
			t.lines--
			return
		}
	}
}

// Lines returns the recorded payloads, oldest first
func (t *RawTail) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := t.rb.Length()
	if n == 0 {
		return []string{}
	}
	buf := make([]byte, n)
	read, _ := t.rb.TryRead(buf)
	buf = buf[:read]
	// Reading consumes; put the bytes back
	_, _ = t.rb.Write(buf)

	text := strings.TrimSuffix(string(buf), "\n")
	return strings.Split(text, "\n")
}

// Len returns the number of recorded lines
func (t *RawTail) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lines
}

// Skipped returns how many oversized payloads were not recorded
func (t *RawTail) Skipped() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.skipped
}

// Reset discards everything
func (t *RawTail) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rb.Reset()
	t.lines = 0
}
