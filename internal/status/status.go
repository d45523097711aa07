// Package status carries human-readable pipeline status ("Scanning BLE
// devices...", "Connected to X") from the scan and connection state machines
// to whatever presents them.
package status

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blescope/internal/ringchan"
)

// Level classifies a status message
type Level int

const (
	LevelInfo Level = iota
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// MarshalText encodes the level by name
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// Status is a single status message
type Status struct {
	Text   string    `json:"text"`
	Level  Level     `json:"level"`
	Source string    `json:"source,omitempty"`
	Time   time.Time `json:"time"`
}

func (s Status) String() string {
	return s.Text
}

// Info builds an informational status
func Info(source, format string, args ...any) Status {
	return Status{Text: fmt.Sprintf(format, args...), Level: LevelInfo, Source: source, Time: time.Now()}
}

// Warn builds a warning status
func Warn(source, format string, args ...any) Status {
	return Status{Text: fmt.Sprintf(format, args...), Level: LevelWarn, Source: source, Time: time.Now()}
}

// Error builds an error status
func Error(source, format string, args ...any) Status {
	return Status{Text: fmt.Sprintf(format, args...), Level: LevelError, Source: source, Time: time.Now()}
}

// Sink receives status messages. Publish must not block.
type Sink interface {
	Publish(Status)
}

// SinkFunc adapts a function to Sink
type SinkFunc func(Status)

func (f SinkFunc) Publish(s Status) { f(s) }

// Discard is a Sink that drops everything
var Discard Sink = SinkFunc(func(Status) {})

// Slot is a single-slot, last-write-wins Sink. Current always returns the
// newest status; Updates delivers at most one pending value, older unread
// values are replaced.
type Slot struct {
	logger  *logrus.Logger
	mu      sync.RWMutex
	current Status
	updates *ringchan.RingChannel[Status]
}

// NewSlot creates an empty slot
func NewSlot(logger *logrus.Logger) *Slot {
	if logger == nil {
		logger = logrus.New()
	}
	return &Slot{
		logger:  logger,
		updates: ringchan.New[Status](1),
	}
}

// Publish replaces the current status
func (s *Slot) Publish(st Status) {
	if st.Time.IsZero() {
		st.Time = time.Now()
	}

	s.mu.Lock()
	s.current = st
	s.mu.Unlock()

	s.updates.ForceSend(st)
	s.logger.WithFields(logrus.Fields{
		"source": st.Source,
		"level":  st.Level.String(),
	}).Debug(st.Text)
}

// Current returns the latest status, zero value if none was published
func (s *Slot) Current() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Updates returns a channel yielding the latest unread status
func (s *Slot) Updates() <-chan Status {
	return s.updates.C()
}

// Replaced reports how many published statuses were overwritten before being read
func (s *Slot) Replaced() int64 {
	return s.updates.GetMetrics().Overwritten
}

// Close closes the Updates channel; later publishes still update Current
func (s *Slot) Close() {
	s.updates.Close()
}
