package goble

import (
	"context"
	"sync"

	"github.com/go-ble/ble"
)

// fakeAdv implements ble.Advertisement; unused methods panic through the nil embed
type fakeAdv struct {
	ble.Advertisement
	addr        string
	name        string
	rssi        int
	connectable bool
	services    []ble.UUID
}

func (a fakeAdv) Addr() ble.Addr        { return ble.NewAddr(a.addr) }
func (a fakeAdv) LocalName() string     { return a.name }
func (a fakeAdv) RSSI() int             { return a.rssi }
func (a fakeAdv) Connectable() bool     { return a.connectable }
func (a fakeAdv) Services() []ble.UUID  { return a.services }

// fakeDevice implements the parts of ble.Device the radio uses
type fakeDevice struct {
	ble.Device

	adverts []ble.Advertisement
	scanErr error
	dialErr error
	client  *fakeClient

	mu        sync.Mutex
	scanCalls int
	dialed    []string
}

func (d *fakeDevice) Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error {
	d.mu.Lock()
	d.scanCalls++
	d.mu.Unlock()

	for _, adv := range d.adverts {
		h(adv)
	}
	if d.scanErr != nil {
		return d.scanErr
	}
	<-ctx.Done()
	return ctx.Err()
}

func (d *fakeDevice) Dial(ctx context.Context, a ble.Addr) (ble.Client, error) {
	d.mu.Lock()
	d.dialed = append(d.dialed, a.String())
	d.mu.Unlock()
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	return d.client, nil
}

// fakeClient implements the parts of ble.Client the link uses
type fakeClient struct {
	ble.Client

	profile      *ble.Profile
	discoverErr  error
	subscribeErr error
	disconnected chan struct{}

	mu           sync.Mutex
	handler      ble.NotificationHandler
	unsubscribed int
	cancelled    int
}

func newFakeClient(profile *ble.Profile) *fakeClient {
	return &fakeClient{profile: profile, disconnected: make(chan struct{})}
}

func (c *fakeClient) DiscoverProfile(force bool) (*ble.Profile, error) {
	if c.discoverErr != nil {
		return nil, c.discoverErr
	}
	return c.profile, nil
}

func (c *fakeClient) Subscribe(char *ble.Characteristic, ind bool, h ble.NotificationHandler) error {
	if c.subscribeErr != nil {
		return c.subscribeErr
	}
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
	return nil
}

func (c *fakeClient) Unsubscribe(char *ble.Characteristic, ind bool) error {
	c.mu.Lock()
	c.unsubscribed++
	c.mu.Unlock()
	return nil
}

func (c *fakeClient) CancelConnection() error {
	c.mu.Lock()
	c.cancelled++
	c.mu.Unlock()
	return nil
}

func (c *fakeClient) Disconnected() <-chan struct{} {
	return c.disconnected
}

func (c *fakeClient) notify(data []byte) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h != nil {
		h(data)
	}
}

func (c *fakeClient) counts() (unsubscribed, cancelled int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unsubscribed, c.cancelled
}

func nordicProfile() *ble.Profile {
	rx := &ble.Characteristic{
		UUID:     ble.MustParse("6e400002-b5a3-f393-e0a9-e50e24dcca9e"),
		Property: ble.CharWrite | ble.CharWriteNR,
	}
	tx := &ble.Characteristic{
		UUID:        ble.MustParse("6e400003-b5a3-f393-e0a9-e50e24dcca9e"),
		Property:    ble.CharNotify,
		Descriptors: []*ble.Descriptor{{UUID: ble.UUID16(0x2902)}},
	}
	return &ble.Profile{Services: []*ble.Service{
		{UUID: ble.UUID16(0x1800), Characteristics: []*ble.Characteristic{
			{UUID: ble.UUID16(0x2a00), Property: ble.CharRead},
		}},
		{UUID: ble.MustParse("6e400001-b5a3-f393-e0a9-e50e24dcca9e"), Characteristics: []*ble.Characteristic{rx, tx}},
	}}
}
