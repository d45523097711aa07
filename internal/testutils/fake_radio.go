package testutils

import (
	"errors"
	"sync"

	"github.com/srg/blescope/internal/device"
)

// FakeRadio is a scriptable device.Radio. Sightings and link completions are
// delivered when the test calls the corresponding methods, on the calling
// goroutine, unless AutoConnect is set.
type FakeRadio struct {
	mu          sync.Mutex
	present     bool
	enabled     bool
	startErr    error
	stopErr     error
	connectErr  error
	discovering bool
	onSighting  func(device.Advertisement)
	onFailure   func(error)
	startCalls  int
	stopCalls   int
	links       []*FakeLink
	auto        []device.Service
	autoOn      bool
	hold        *presenceHold
}

type presenceHold struct {
	probing chan struct{}
	release chan struct{}
	once    sync.Once
}

// NewFakeRadio returns a present and enabled radio
func NewFakeRadio() *FakeRadio {
	return &FakeRadio{present: true, enabled: true}
}

func (r *FakeRadio) SetPresent(present bool) *FakeRadio {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.present = present
	return r
}

func (r *FakeRadio) SetEnabled(enabled bool) *FakeRadio {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = enabled
	return r
}

// FailStartWith makes the next StartDiscovery calls return err
func (r *FakeRadio) FailStartWith(err error) *FakeRadio {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.startErr = err
	return r
}

// FailStopWith makes StopDiscovery return err
func (r *FakeRadio) FailStopWith(err error) *FakeRadio {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopErr = err
	return r
}

// FailConnectWith makes Connect return err synchronously
func (r *FakeRadio) FailConnectWith(err error) *FakeRadio {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectErr = err
	return r
}

// AutoConnect makes every new link establish itself, discover services and
// accept the subscription without test interaction
func (r *FakeRadio) AutoConnect(services ...device.Service) *FakeRadio {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.auto = services
	r.autoOn = true
	return r
}

// HoldPresence makes Present block until release is called, like an adapter
// that is slow to open. probing receives once a Present call is waiting.
func (r *FakeRadio) HoldPresence() (probing <-chan struct{}, release func()) {
	h := &presenceHold{probing: make(chan struct{}, 1), release: make(chan struct{})}
	r.mu.Lock()
	r.hold = h
	r.mu.Unlock()
	return h.probing, func() {
		h.once.Do(func() { close(h.release) })
	}
}

func (r *FakeRadio) Present() bool {
	r.mu.Lock()
	h := r.hold
	r.mu.Unlock()
	if h != nil {
		select {
		case h.probing <- struct{}{}:
		default:
		}
		<-h.release
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.present
}

func (r *FakeRadio) Enabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled
}

func (r *FakeRadio) StartDiscovery(onSighting func(device.Advertisement), onFailure func(error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.startCalls++
	if r.startErr != nil {
		return r.startErr
	}
	if r.discovering {
		return errors.New("discovery already running")
	}
	r.discovering = true
	r.onSighting = onSighting
	r.onFailure = onFailure
	return nil
}

func (r *FakeRadio) StopDiscovery() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopCalls++
	r.discovering = false
	return r.stopErr
}

// Advertise delivers sightings while discovery runs; it returns false once
// discovery is stopped
func (r *FakeRadio) Advertise(advs ...device.Advertisement) bool {
	r.mu.Lock()
	cb := r.onSighting
	running := r.discovering
	r.mu.Unlock()
	if !running || cb == nil {
		return false
	}
	for _, adv := range advs {
		cb(adv)
	}
	return true
}

// FailDiscovery aborts the running discovery with err
func (r *FakeRadio) FailDiscovery(err error) {
	r.mu.Lock()
	cb := r.onFailure
	r.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

func (r *FakeRadio) StartCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.startCalls
}

func (r *FakeRadio) StopCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopCalls
}

func (r *FakeRadio) Discovering() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.discovering
}

func (r *FakeRadio) Connect(address string, emit func(device.LinkEvent)) (device.Link, error) {
	r.mu.Lock()
	if r.connectErr != nil {
		err := r.connectErr
		r.mu.Unlock()
		return nil, err
	}
	l := &FakeLink{Address: address, emit: emit, auto: r.auto, autoOn: r.autoOn}
	r.links = append(r.links, l)
	r.mu.Unlock()

	if l.autoOn {
		go l.Establish()
	}
	return l, nil
}

// Links returns every link handed out, oldest first
func (r *FakeRadio) Links() []*FakeLink {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*FakeLink(nil), r.links...)
}

// LastLink returns the most recent link or nil
func (r *FakeRadio) LastLink() *FakeLink {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.links) == 0 {
		return nil
	}
	return r.links[len(r.links)-1]
}

// FakeLink is a device.Link driven by the test
type FakeLink struct {
	Address string

	emit   func(device.LinkEvent)
	auto   []device.Service
	autoOn bool

	mu            sync.Mutex
	closed        bool
	closeErr      error
	closeCalls    int
	discoverCalls int
	enabled       []device.Characteristic
}

func (l *FakeLink) DiscoverServices() {
	l.mu.Lock()
	l.discoverCalls++
	l.mu.Unlock()
	if l.autoOn {
		go l.Discovered(l.auto...)
	}
}

func (l *FakeLink) EnableNotifications(char device.Characteristic) {
	l.mu.Lock()
	l.enabled = append(l.enabled, char)
	l.mu.Unlock()
	if l.autoOn {
		go l.NotifyEnabled()
	}
}

func (l *FakeLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeCalls++
	l.closed = true
	return l.closeErr
}

// FailCloseWith makes Close return err
func (l *FakeLink) FailCloseWith(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeErr = err
}

func (l *FakeLink) send(ev device.LinkEvent) {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return
	}
	l.emit(ev)
}

// EmitRaw delivers ev even after Close, like a late radio callback
func (l *FakeLink) EmitRaw(ev device.LinkEvent) {
	l.emit(ev)
}

func (l *FakeLink) Establish() {
	l.send(device.LinkEvent{Kind: device.LinkEstablished})
}

func (l *FakeLink) FailLink(err error) {
	l.send(device.LinkEvent{Kind: device.LinkFailed, Err: err})
}

func (l *FakeLink) Discovered(services ...device.Service) {
	l.send(device.LinkEvent{Kind: device.ServicesDiscovered, Services: services})
}

func (l *FakeLink) FailDiscovery(err error) {
	l.send(device.LinkEvent{Kind: device.DiscoveryFailed, Err: err})
}

func (l *FakeLink) NotifyEnabled() {
	l.send(device.LinkEvent{Kind: device.NotifyEnabled})
}

func (l *FakeLink) FailSubscribe(err error) {
	l.send(device.LinkEvent{Kind: device.SubscribeFailed, Err: err})
}

// Notify delivers one notification payload per argument
func (l *FakeLink) Notify(payloads ...string) {
	for _, p := range payloads {
		l.send(device.LinkEvent{Kind: device.Notification, Payload: []byte(p)})
	}
}

// Drop reports a remote disconnect
func (l *FakeLink) Drop(err error) {
	l.send(device.LinkEvent{Kind: device.LinkDropped, Err: err})
}

func (l *FakeLink) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *FakeLink) CloseCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeCalls
}

func (l *FakeLink) DiscoverCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.discoverCalls
}

// EnabledChar returns the last characteristic a subscription was requested for
func (l *FakeLink) EnabledChar() (device.Characteristic, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.enabled) == 0 {
		return device.Characteristic{}, false
	}
	return l.enabled[len(l.enabled)-1], true
}

// UARTProfile is a Nordic UART service with a notifying TX characteristic
func UARTProfile() []device.Service {
	return []device.Service{
		{
			UUID: "1800",
			Characteristics: []device.Characteristic{
				{UUID: "2a00", Properties: device.PropRead},
			},
		},
		{
			UUID: "6e400001b5a3f393e0a9e50e24dcca9e",
			Characteristics: []device.Characteristic{
				{UUID: "6e400002b5a3f393e0a9e50e24dcca9e", Properties: device.PropWrite | device.PropWriteWithoutResponse},
				{UUID: "6e400003b5a3f393e0a9e50e24dcca9e", Properties: device.PropNotify},
			},
		},
	}
}

var (
	_ device.Radio = (*FakeRadio)(nil)
	_ device.Link  = (*FakeLink)(nil)
)
