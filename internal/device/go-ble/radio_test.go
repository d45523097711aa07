package goble

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blescope/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []device.LinkEvent
}

func (r *eventRecorder) emit(ev device.LinkEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) kinds() []device.LinkEventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]device.LinkEventKind, len(r.events))
	for i, ev := range r.events {
		kinds[i] = ev.Kind
	}
	return kinds
}

func (r *eventRecorder) last() device.LinkEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

type RadioTestSuite struct {
	suite.Suite

	originalFactory func() (ble.Device, error)
	dev             *fakeDevice
	client          *fakeClient
	radio           *Radio
	rec             *eventRecorder
}

func (s *RadioTestSuite) SetupTest() {
	s.client = newFakeClient(nordicProfile())
	s.dev = &fakeDevice{client: s.client}
	s.originalFactory = DeviceFactory
	DeviceFactory = func() (ble.Device, error) { return s.dev, nil }

	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	s.radio = NewRadio(logger)
	s.rec = &eventRecorder{}
}

func (s *RadioTestSuite) TearDownTest() {
	DeviceFactory = s.originalFactory
}

func (s *RadioTestSuite) waitKinds(expected ...device.LinkEventKind) {
	s.Require().Eventually(func() bool {
		return assert.ObjectsAreEqual(expected, s.rec.kinds())
	}, time.Second, 5*time.Millisecond, "events MUST be %v, got %v", expected, s.rec.kinds())
}

func (s *RadioTestSuite) TestPresenceReflectsFactory() {
	s.True(s.radio.Present())
	s.True(s.radio.Enabled())

	DeviceFactory = func() (ble.Device, error) {
		return nil, errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?")
	}
	off := NewRadio(nil)
	s.True(off.Present(), "a powered-off adapter is still present")
	s.False(off.Enabled())

	DeviceFactory = func() (ble.Device, error) {
		return nil, errors.New("can't init hci: no devices available")
	}
	missing := NewRadio(nil)
	s.False(missing.Present())
	s.False(missing.Enabled())
}

func (s *RadioTestSuite) TestDiscoveryDeliversSightingsUntilStopped() {
	s.dev.adverts = []ble.Advertisement{
		fakeAdv{addr: "aa:01", name: "One"},
		fakeAdv{addr: "aa:02", name: "Two"},
	}

	var mu sync.Mutex
	var seen []string
	err := s.radio.StartDiscovery(func(adv device.Advertisement) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, adv.Addr())
	}, func(err error) {
		s.Fail("no failure expected", err)
	})
	s.Require().NoError(err)

	s.Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, time.Second, 5*time.Millisecond)

	s.Error(s.radio.StartDiscovery(func(device.Advertisement) {}, nil), "second discovery MUST be rejected")

	s.NoError(s.radio.StopDiscovery())
	s.NoError(s.radio.StopDiscovery(), "StopDiscovery MUST be idempotent")
}

func (s *RadioTestSuite) TestDiscoveryFailureIsReported() {
	s.dev.scanErr = errors.New("bluetooth is turned off")

	failed := make(chan error, 1)
	s.Require().NoError(s.radio.StartDiscovery(func(device.Advertisement) {}, func(err error) { failed <- err }))

	select {
	case err := <-failed:
		s.ErrorIs(err, device.ErrBluetoothOff)
	case <-time.After(time.Second):
		s.Fail("scan failure MUST be reported")
	}
	s.NoError(s.radio.StopDiscovery())
}

func (s *RadioTestSuite) TestLinkLifecycle() {
	link, err := s.radio.Connect("aa:bb:cc:dd:ee:01", s.rec.emit)
	s.Require().NoError(err)
	s.waitKinds(device.LinkEstablished)

	link.DiscoverServices()
	s.waitKinds(device.LinkEstablished, device.ServicesDiscovered)

	services := s.rec.last().Services
	char, _, ok := device.FirstNotifiable(services)
	s.Require().True(ok)

	link.EnableNotifications(char)
	s.waitKinds(device.LinkEstablished, device.ServicesDiscovered, device.NotifyEnabled)

	buf := []byte("1,2.5")
	s.client.notify(buf)
	buf[0] = 'X'
	s.waitKinds(device.LinkEstablished, device.ServicesDiscovered, device.NotifyEnabled, device.Notification)
	s.Equal([]byte("1,2.5"), s.rec.last().Payload, "payload MUST be copied")

	s.NoError(link.Close())
	s.NoError(link.Close())
	unsub, cancelled := s.client.counts()
	s.Equal(1, unsub)
	s.Equal(1, cancelled, "CancelConnection MUST run exactly once")

	s.client.notify([]byte("3,4"))
	time.Sleep(20 * time.Millisecond)
	s.Len(s.rec.kinds(), 4, "no events MUST be emitted after Close")
}

func (s *RadioTestSuite) TestRemoteDisconnectEmitsLinkDropped() {
	_, err := s.radio.Connect("aa:bb:cc:dd:ee:01", s.rec.emit)
	s.Require().NoError(err)
	s.waitKinds(device.LinkEstablished)

	close(s.client.disconnected)
	s.waitKinds(device.LinkEstablished, device.LinkDropped)
	s.ErrorIs(s.rec.last().Err, device.ErrNotConnected)
}

func (s *RadioTestSuite) TestDialFailure() {
	s.dev.dialErr = errors.New("connection timed out")

	_, err := s.radio.Connect("aa:bb:cc:dd:ee:01", s.rec.emit)
	s.Require().NoError(err, "Connect MUST NOT block on the dial")
	s.waitKinds(device.LinkFailed)
	s.EqualError(s.rec.last().Err, "connection timed out")
}

func (s *RadioTestSuite) TestDiscoveryAndSubscribeFailures() {
	s.client.discoverErr = errors.New("att: request timed out")
	s.client.subscribeErr = errors.New("write cccd failed")

	link, err := s.radio.Connect("aa:bb:cc:dd:ee:01", s.rec.emit)
	s.Require().NoError(err)
	s.waitKinds(device.LinkEstablished)

	link.DiscoverServices()
	s.waitKinds(device.LinkEstablished, device.DiscoveryFailed)

	services := ConvertProfile(nordicProfile())
	char, _, _ := device.FirstNotifiable(services)
	link.EnableNotifications(char)
	s.waitKinds(device.LinkEstablished, device.DiscoveryFailed, device.SubscribeFailed)

	link.EnableNotifications(device.Characteristic{UUID: "2a19", Properties: device.PropNotify})
	s.waitKinds(device.LinkEstablished, device.DiscoveryFailed, device.SubscribeFailed, device.SubscribeFailed)
	s.ErrorIs(s.rec.last().Err, device.ErrUnsupported, "a characteristic without native handle MUST fail")
}

func TestRadioTestSuite(t *testing.T) {
	suite.Run(t, new(RadioTestSuite))
}

func TestConnectWithoutAdapter(t *testing.T) {
	original := DeviceFactory
	defer func() { DeviceFactory = original }()
	DeviceFactory = func() (ble.Device, error) { return nil, errors.New("bluetooth is turned off") }

	_, err := NewRadio(nil).Connect("aa:01", func(device.LinkEvent) {})
	require.Error(t, err)
	assert.ErrorIs(t, err, device.ErrBluetoothOff)
}
