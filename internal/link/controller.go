// Package link drives a single peripheral through connect, service discovery,
// notification subscription and streaming, decoding every notification into
// the telemetry stream.
//
// Radio completions are tagged with the generation of the session that
// requested them and handled by one event loop per controller; completions
// from a superseded session are discarded.
package link

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/blescope/internal/device"
	"github.com/srg/blescope/internal/groutine"
	"github.com/srg/blescope/internal/status"
	"github.com/srg/blescope/internal/telemetry"
)

const (
	// DefaultInboxSize is the number of radio completions buffered per controller
	DefaultInboxSize = 128

	// maxEarlyNotifications bounds payloads held while the subscription
	// confirmation is pending
	maxEarlyNotifications = 64

	statusSource = "link"
)

// Options configures a controller
type Options struct {
	// SetupTimeout bounds Connecting through Subscribing; 0 disables the bound
	SetupTimeout time.Duration
	// InboxSize overrides DefaultInboxSize
	InboxSize int
	// RawTail, when set, records every notification payload for diagnostics
	RawTail *telemetry.RawTail
}

type inboxEvent struct {
	gen     uint64
	ev      device.LinkEvent
	timeout bool
}

// Info is a point-in-time view of the controller
type Info struct {
	State          State              `json:"state"`
	Peer           *device.Peripheral `json:"peer,omitempty"`
	Characteristic string             `json:"characteristic,omitempty"`
	Service        string             `json:"service,omitempty"`
	Failure        string             `json:"failure,omitempty"`
	FailureKind    device.FailureKind `json:"failure_kind,omitempty"`
	DecodeErrors   uint64             `json:"decode_errors"`
	Notifications  uint64             `json:"notifications"`
	Session        string             `json:"session,omitempty"`
	Generation     uint64             `json:"generation"`
}

// Controller owns the single active link. All public methods return
// without waiting on the radio.
type Controller struct {
	radio  device.Radio
	gate   device.PermissionGate
	stream *telemetry.Stream
	sink   status.Sink
	opts   Options
	logger *logrus.Logger

	inbox     chan inboxEvent
	quit      chan struct{}
	loopDone  chan struct{}
	closeOnce sync.Once
	closers   sync.WaitGroup

	mu      sync.Mutex
	state   State
	failure *device.RadioError
	gen     uint64
	session string
	peer    device.Peripheral
	link    device.Link
	char    device.Characteristic
	svc     device.Service
	timer   *time.Timer
	early   [][]byte

	decodeErrors  atomic.Uint64
	notifications atomic.Uint64
}

// New creates a controller and starts its event loop. sink may be nil.
func New(radio device.Radio, gate device.PermissionGate, stream *telemetry.Stream, sink status.Sink, opts Options, logger *logrus.Logger) *Controller {
	if logger == nil {
		logger = logrus.New()
	}
	if sink == nil {
		sink = status.Discard
	}
	if opts.InboxSize <= 0 {
		opts.InboxSize = DefaultInboxSize
	}

	c := &Controller{
		radio:    radio,
		gate:     gate,
		stream:   stream,
		sink:     sink,
		opts:     opts,
		logger:   logger,
		inbox:    make(chan inboxEvent, opts.InboxSize),
		quit:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	groutine.GoRecover(context.Background(), "link-event-loop", logger, c.loop)
	return c
}

func (c *Controller) loop(ctx context.Context) {
	defer close(c.loopDone)
	for {
		select {
		case e := <-c.inbox:
			c.publish(c.handle(e))
		case <-c.quit:
			return
		}
	}
}

// post queues a completion for the event loop
func (c *Controller) post(e inboxEvent) {
	select {
	case c.inbox <- e:
	case <-c.quit:
	}
}

func (c *Controller) emitter(gen uint64) func(device.LinkEvent) {
	return func(ev device.LinkEvent) {
		c.post(inboxEvent{gen: gen, ev: ev})
	}
}

func (c *Controller) publish(statuses []status.Status) {
	for _, st := range statuses {
		c.sink.Publish(st)
	}
}

// logEntry returns a logger entry with session fields; caller holds mu
func (c *Controller) logEntry() *logrus.Entry {
	return c.logger.WithFields(logrus.Fields{
		"address":    c.peer.Address,
		"state":      c.state.String(),
		"generation": c.gen,
		"session":    c.session,
	})
}

// Connect starts a new session with p. It fails synchronously with
// ErrUnauthorized, ErrBusy or ErrAdapterUnavailable. Any state other than
// Idle is busy: a Failed or Disconnected session must be acknowledged or
// disconnected first.
//
// The adapter is probed before mu is taken. Probing may open the platform
// device, so State and Info readers never wait on it; radio.Connect then
// finds the device ready and returns without blocking.
func (c *Controller) Connect(p device.Peripheral) error {
	if c.gate == nil || !c.gate.ConnectAuthorized() {
		return device.NewRadioError(device.KindUnauthorized, errors.New("connect permission not granted"))
	}
	ready := c.radio.Present() && c.radio.Enabled()

	c.mu.Lock()
	if c.state != Idle {
		err := device.NewRadioError(device.KindBusy, fmt.Errorf("session with %s is %s", c.peer, c.state))
		c.mu.Unlock()
		return err
	}
	if !ready {
		c.mu.Unlock()
		return device.NewRadioError(device.KindAdapterUnavailable, errors.New("bluetooth adapter missing or disabled"))
	}

	c.gen++
	gen := c.gen
	c.session = uuid.NewString()
	c.peer = p
	c.state = Connecting
	c.failure = nil
	c.char = device.Characteristic{}
	c.svc = device.Service{}
	c.early = nil
	c.decodeErrors.Store(0)
	c.notifications.Store(0)
	c.stream.Clear()
	if c.opts.RawTail != nil {
		c.opts.RawTail.Reset()
	}
	c.armTimerLocked(gen)

	c.logEntry().Info("Connecting to BLE device...")
	statuses := []status.Status{status.Info(statusSource, "Connecting to %s", p.DisplayName())}

	lnk, err := c.radio.Connect(p.Address, c.emitter(gen))
	if err != nil {
		statuses = append(statuses, c.failLocked(device.KindLinkFailed, err))
		rerr := c.failure
		c.mu.Unlock()
		c.publish(statuses)
		return rerr
	}
	c.link = lnk
	c.mu.Unlock()

	c.publish(statuses)
	return nil
}

func (c *Controller) armTimerLocked(gen uint64) {
	c.stopTimerLocked()
	if c.opts.SetupTimeout <= 0 {
		return
	}
	c.timer = time.AfterFunc(c.opts.SetupTimeout, func() {
		c.post(inboxEvent{gen: gen, timeout: true})
	})
}

func (c *Controller) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// releaseLocked detaches the link and closes it in the background
func (c *Controller) releaseLocked() {
	l := c.link
	c.link = nil
	if l == nil {
		return
	}
	entry := c.logEntry()
	c.closers.Add(1)
	groutine.GoRecover(context.Background(), "link-close", c.logger, func(ctx context.Context) {
		defer c.closers.Done()
		if err := l.Close(); err != nil {
			entry.WithField("error", err).Warn("Failed to close BLE link")
		}
	})
}

// failLocked moves to Failed, releases the link and returns the status to publish
func (c *Controller) failLocked(kind device.FailureKind, cause error) status.Status {
	c.failure = device.NewRadioError(kind, cause)
	c.state = Failed
	c.early = nil
	c.stopTimerLocked()
	c.releaseLocked()
	c.logEntry().WithField("error", c.failure).Error("BLE session failed")
	return status.Error(statusSource, "Connection to %s failed: %v", c.peer.DisplayName(), c.failure)
}

// handle applies one completion; it returns the statuses to publish
func (c *Controller) handle(e inboxEvent) []status.Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e.gen != c.gen {
		c.logger.WithFields(logrus.Fields{
			"event":      e.ev.Kind.String(),
			"generation": e.gen,
			"current":    c.gen,
		}).Debug("Discarding stale radio completion")
		return nil
	}

	if e.timeout {
		if !c.state.settingUp() {
			return nil
		}
		return []status.Status{c.failLocked(device.KindTimeout,
			fmt.Errorf("no notification stream after %s in %s", c.opts.SetupTimeout, c.state))}
	}

	ev := e.ev
	switch ev.Kind {
	case device.LinkEstablished:
		if c.state != Connecting || c.link == nil {
			break
		}
		c.state = DiscoveringServices
		c.logEntry().Info("BLE link established, discovering services")
		c.link.DiscoverServices()
		return []status.Status{status.Info(statusSource, "Connected to %s", c.peer.DisplayName())}

	case device.LinkFailed:
		if c.state != Connecting {
			break
		}
		return []status.Status{c.failLocked(device.KindLinkFailed, ev.Err)}

	case device.ServicesDiscovered:
		if c.state != DiscoveringServices || c.link == nil {
			break
		}
		char, svc, ok := device.FirstNotifiable(ev.Services)
		if !ok {
			return []status.Status{c.failLocked(device.KindNoNotifyCharacteristic,
				fmt.Errorf("%d services, %d characteristics, none with notify",
					len(ev.Services), device.CountCharacteristics(ev.Services)))}
		}
		c.char, c.svc = char, svc
		c.state = Subscribing
		c.logEntry().WithFields(logrus.Fields{
			"service":        svc.UUID,
			"characteristic": char.UUID,
			"known_name":     char.KnownName(),
			"properties":     char.Properties.String(),
		}).Info("Selected notify characteristic")
		c.link.EnableNotifications(char)
		return nil

	case device.DiscoveryFailed:
		if c.state != DiscoveringServices {
			break
		}
		return []status.Status{c.failLocked(device.KindDiscoveryFailed, ev.Err)}

	case device.NotifyEnabled:
		if c.state != Subscribing {
			break
		}
		c.state = Streaming
		c.stopTimerLocked()
		c.logEntry().WithField("early", len(c.early)).Info("Streaming notifications")
		statuses := []status.Status{status.Info(statusSource, "Streaming from %s", c.peer.DisplayName())}
		early := c.early
		c.early = nil
		for _, payload := range early {
			statuses = append(statuses, c.onNotificationLocked(payload)...)
		}
		return statuses

	case device.SubscribeFailed:
		if c.state != Subscribing {
			break
		}
		return []status.Status{c.failLocked(device.KindSubscribeWriteError, ev.Err)}

	case device.Notification:
		if c.state == Subscribing {
			c.holdEarlyLocked(ev.Payload)
			return nil
		}
		if c.state != Streaming {
			break
		}
		return c.onNotificationLocked(ev.Payload)

	case device.LinkDropped:
		if !c.state.Busy() {
			break
		}
		c.state = Disconnected
		c.early = nil
		c.stopTimerLocked()
		c.releaseLocked()
		c.logEntry().WithField("error", ev.Err).Warn("BLE link lost")
		return []status.Status{status.Warn(statusSource, "Disconnected from %s", c.peer.DisplayName())}
	}

	c.logEntry().WithField("event", ev.Kind.String()).Debug("Ignoring radio completion in current state")
	return nil
}

// holdEarlyLocked keeps a notification that arrived before the subscription
// was confirmed; it is decoded once the session reaches Streaming
func (c *Controller) holdEarlyLocked(payload []byte) {
	if len(c.early) >= maxEarlyNotifications {
		c.notifications.Add(1)
		c.logEntry().WithField("payload", fmt.Sprintf("%q", payload)).Warn("Dropping notification received before subscription completed")
		return
	}
	c.early = append(c.early, append([]byte(nil), payload...))
	c.logEntry().WithField("held", len(c.early)).Debug("Holding notification until subscription completes")
}

func (c *Controller) onNotificationLocked(payload []byte) []status.Status {
	c.notifications.Add(1)
	if c.opts.RawTail != nil {
		c.opts.RawTail.Record(payload)
	}

	sample, err := telemetry.Decode(payload)
	if err != nil {
		n := c.decodeErrors.Add(1)
		c.logEntry().WithFields(logrus.Fields{
			"error":   err,
			"payload": fmt.Sprintf("%q", payload),
			"count":   n,
		}).Warn("Dropping undecodable notification")
		return []status.Status{status.Warn(statusSource, "Received undecodable payload %q (%d decode errors)", payload, n)}
	}
	c.stream.Append(sample)
	return nil
}

// Disconnect ends the current session from any non-Idle state, releases the
// link, clears the stream and returns to Idle. It is idempotent.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	if c.state == Idle {
		c.mu.Unlock()
		return
	}
	c.gen++
	c.early = nil
	c.stopTimerLocked()
	c.releaseLocked()
	c.stream.Clear()
	c.logEntry().Info("Disconnecting")
	peer := c.peer
	c.state = Idle
	c.failure = nil
	c.mu.Unlock()

	c.sink.Publish(status.Info(statusSource, "Disconnected from %s", peer.DisplayName()))
}

// Acknowledge moves a Failed or Disconnected controller back to Idle,
// keeping the samples of the ended session.
func (c *Controller) Acknowledge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.Terminal() {
		return
	}
	c.gen++
	c.state = Idle
	c.failure = nil
}

// Close disconnects, stops the event loop and waits for link teardown
func (c *Controller) Close() {
	c.Disconnect()
	c.closeOnce.Do(func() {
		close(c.quit)
	})
	<-c.loopDone
	c.closers.Wait()
}

// State returns the current state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Failure returns the reason of the Failed state, nil otherwise
func (c *Controller) Failure() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failure == nil {
		return nil
	}
	return c.failure
}

// Peer returns the peripheral of the current session, false when Idle
func (c *Controller) Peer() (device.Peripheral, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Idle {
		return device.Peripheral{}, false
	}
	return c.peer, true
}

// DecodeErrors returns the number of rejected payloads in the current session
func (c *Controller) DecodeErrors() uint64 {
	return c.decodeErrors.Load()
}

// Info returns a snapshot of the controller for presentation
func (c *Controller) Info() Info {
	c.mu.Lock()
	defer c.mu.Unlock()

	info := Info{
		State:         c.state,
		DecodeErrors:  c.decodeErrors.Load(),
		Notifications: c.notifications.Load(),
		Generation:    c.gen,
	}
	if c.state != Idle {
		peer := c.peer
		info.Peer = &peer
		info.Session = c.session
		info.Characteristic = c.char.UUID
		info.Service = c.svc.UUID
	}
	if c.failure != nil {
		info.Failure = c.failure.Error()
		info.FailureKind = c.failure.Kind
	}
	return info
}
