// Package scan runs one time-bounded BLE discovery and feeds the sightings
// into a registry.
package scan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/blescope/internal/device"
	"github.com/srg/blescope/internal/groutine"
	"github.com/srg/blescope/internal/registry"
	"github.com/srg/blescope/internal/ringchan"
	"github.com/srg/blescope/internal/status"
)

const (
	// DefaultTimeout is the default scan duration
	DefaultTimeout = 10 * time.Second

	// DefaultEventBuffer is the number of undelivered device events kept
	DefaultEventBuffer = 100

	statusSource = "scan"
)

// ErrSessionUsed is returned when Start is called on a session that already ran
var ErrSessionUsed = errors.New("scan session already started")

// State is the scan session lifecycle
type State int32

const (
	NotStarted State = iota
	Scanning
	Completed
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Scanning:
		return "scanning"
	case Completed:
		return "completed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// DeviceEventType marks if the device was newly discovered or updated
type DeviceEventType int

const (
	EventNew DeviceEventType = iota
	EventUpdated
)

// DeviceEvent is emitted for every admitted sighting
type DeviceEvent struct {
	Type       DeviceEventType
	Peripheral device.Peripheral
}

// Options configures a session
type Options struct {
	Timeout time.Duration
}

// Session is a single NotStarted → Scanning → Completed discovery run.
// A new scan needs a new Session.
type Session struct {
	radio    device.Radio
	gate     device.PermissionGate
	registry *registry.Registry
	sink     status.Sink
	timeout  time.Duration
	logger   *logrus.Logger
	id       string

	state     atomic.Int32
	mu        sync.Mutex
	timer     *time.Timer
	err       error
	found     int
	finishing sync.Once
	done      chan struct{}

	sightings *hashmap.Map[string, *atomic.Int64]
	events    *ringchan.RingChannel[DeviceEvent]
}

// New creates a session; sink may be nil
func New(radio device.Radio, gate device.PermissionGate, reg *registry.Registry, sink status.Sink, opts Options, logger *logrus.Logger) *Session {
	if logger == nil {
		logger = logrus.New()
	}
	if sink == nil {
		sink = status.Discard
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Session{
		radio:     radio,
		gate:      gate,
		registry:  reg,
		sink:      sink,
		timeout:   opts.Timeout,
		logger:    logger,
		id:        uuid.NewString(),
		done:      make(chan struct{}),
		sightings: hashmap.New[string, *atomic.Int64](),
		events:    ringchan.New[DeviceEvent](DefaultEventBuffer),
	}
}

func (s *Session) log() *logrus.Entry {
	return s.logger.WithField("scan", s.id)
}

// Start checks preconditions, clears the registry and starts discovery. It
// returns immediately; completion is signalled through Done.
func (s *Session) Start() error {
	s.mu.Lock()
	if State(s.state.Load()) != NotStarted {
		s.mu.Unlock()
		return ErrSessionUsed
	}
	if s.gate == nil || !s.gate.ScanAuthorized() {
		s.mu.Unlock()
		return device.NewRadioError(device.KindUnauthorized, errors.New("scan permission not granted"))
	}
	if !s.radio.Present() || !s.radio.Enabled() {
		s.mu.Unlock()
		return device.NewRadioError(device.KindAdapterUnavailable, errors.New("bluetooth adapter missing or disabled"))
	}

	s.registry.Clear()
	s.state.Store(int32(Scanning))
	s.mu.Unlock()

	s.log().WithField("timeout", s.timeout).Info("Starting BLE scan...")
	s.sink.Publish(status.Info(statusSource, "Scanning BLE devices..."))

	if err := s.radio.StartDiscovery(s.onSighting, s.onFailure); err != nil {
		rerr := scanFailure(err)
		s.finish(rerr)
		return rerr
	}

	s.mu.Lock()
	if State(s.state.Load()) == Scanning {
		s.timer = time.AfterFunc(s.timeout, func() {
			s.log().Debug("Scan timeout reached")
			s.finish(nil)
		})
	}
	s.mu.Unlock()
	return nil
}

// Stop ends a running scan early. It never blocks on the radio; stopping
// twice, or stopping a session that never started, is a no-op.
func (s *Session) Stop() {
	if State(s.state.Load()) != Scanning {
		return
	}
	s.finish(nil)
}

func (s *Session) onSighting(adv device.Advertisement) {
	if State(s.state.Load()) != Scanning {
		return
	}

	p := device.PeripheralFromAdvertisement(adv)
	counter, _ := s.sightings.GetOrInsert(strings.ToLower(p.Address), &atomic.Int64{})
	counter.Add(1)

	if s.registry.Offer(p) {
		s.log().WithFields(logrus.Fields{
			"device":  p.DisplayName(),
			"address": p.Address,
			"rssi":    p.RSSI,
		}).Info("Discovered new device")
		s.events.ForceSend(DeviceEvent{Type: EventNew, Peripheral: p})
		return
	}
	if refreshed, ok := s.registry.Get(p.Address); ok {
		s.events.ForceSend(DeviceEvent{Type: EventUpdated, Peripheral: refreshed})
	}
}

func (s *Session) onFailure(err error) {
	if State(s.state.Load()) != Scanning {
		return
	}
	s.finish(scanFailure(err))
}

func scanFailure(err error) *device.RadioError {
	rerr := device.NewRadioError(device.KindScanFailed, err)
	var coder device.ScanErrorCoder
	if errors.As(err, &coder) {
		rerr.Code = coder.ScanErrorCode()
	}
	return rerr
}

// finish completes the session exactly once: discovery is stopped, the final
// status is published and Done is closed.
func (s *Session) finish(cause *device.RadioError) {
	s.finishing.Do(func() {
		s.mu.Lock()
		s.state.Store(int32(Completed))
		if s.timer != nil {
			s.timer.Stop()
		}
		if cause != nil {
			s.err = cause
		}
		s.mu.Unlock()

		groutine.GoRecover(context.Background(), "scan-stop", s.logger, func(ctx context.Context) {
			defer close(s.done)
			defer s.events.Close()

			if err := s.radio.StopDiscovery(); err != nil {
				s.log().WithField("error", err).Warn("Failed to stop discovery")
			}

			found := s.registry.Len()
			s.mu.Lock()
			s.found = found
			s.mu.Unlock()

			switch {
			case cause != nil:
				s.log().WithField("error", cause).Error("BLE scan failed")
				s.sink.Publish(status.Error(statusSource, "BLE scan failed with error: %d", cause.Code))
			case found == 0:
				s.log().Info("BLE scan completed, no devices found")
				s.sink.Publish(status.Info(statusSource, "No devices found"))
			default:
				s.log().WithField("device_count", found).Info("BLE scan completed")
				s.sink.Publish(status.Info(statusSource, "Found %d %s", found, plural(found, "device", "devices")))
			}
		})
	})
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

// State returns the current lifecycle state
func (s *Session) State() State {
	return State(s.state.Load())
}

// Done is closed once the session has completed and discovery is stopped
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the ScanFailed error if discovery aborted, nil otherwise
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		return nil
	}
	return s.err
}

// Found returns the registry size at completion
func (s *Session) Found() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.found
}

// Sightings returns how many advertisements were seen from address
func (s *Session) Sightings(address string) int64 {
	if counter, ok := s.sightings.Get(strings.ToLower(address)); ok {
		return counter.Load()
	}
	return 0
}

// Events returns device discovery events; the channel is closed at completion
func (s *Session) Events() <-chan DeviceEvent {
	return s.events.C()
}

// ID returns the session identifier used in logs
func (s *Session) ID() string {
	return s.id
}

// Timeout returns the configured scan duration
func (s *Session) Timeout() time.Duration {
	return s.timeout
}
