package device

import (
	"fmt"
	"strings"
)

// Peripheral describes a discovered BLE peripheral. Identity is the address;
// two descriptors with the same address are the same device regardless of name.
type Peripheral struct {
	Address     string   `json:"address"`
	Name        string   `json:"name,omitempty"`
	RSSI        int      `json:"rssi"`
	Connectable bool     `json:"connectable"`
	Services    []string `json:"services,omitempty"`
}

// DisplayName returns the name if known, the address otherwise
func (p Peripheral) DisplayName() string {
	if p.HasName() {
		return strings.TrimSpace(p.Name)
	}
	return p.Address
}

// HasName reports whether the peripheral advertised a usable name
func (p Peripheral) HasName() bool {
	return strings.TrimSpace(p.Name) != ""
}

func (p Peripheral) String() string {
	if p.HasName() {
		return fmt.Sprintf("%s (%s)", strings.TrimSpace(p.Name), p.Address)
	}
	return p.Address
}

// Advertisement is a single scan sighting as reported by the radio
type Advertisement interface {
	Addr() string
	LocalName() string
	RSSI() int
	Connectable() bool
	Services() []string
}

// PeripheralFromAdvertisement builds a descriptor from a sighting
func PeripheralFromAdvertisement(adv Advertisement) Peripheral {
	p := Peripheral{
		Address:     adv.Addr(),
		Name:        strings.TrimSpace(adv.LocalName()),
		RSSI:        adv.RSSI(),
		Connectable: adv.Connectable(),
	}
	for _, svc := range adv.Services() {
		p.Services = append(p.Services, NormalizeUUID(svc))
	}
	return p
}

// PermissionGate exposes the platform's runtime grants. The pipeline only
// consumes these signals, it never requests permissions itself.
type PermissionGate interface {
	ScanAuthorized() bool
	ConnectAuthorized() bool
}

// StaticGate is a PermissionGate with fixed answers
type StaticGate struct {
	Scan    bool
	Connect bool
}

func (g StaticGate) ScanAuthorized() bool    { return g.Scan }
func (g StaticGate) ConnectAuthorized() bool { return g.Connect }

// Radio is the platform radio stack.
//
// StartDiscovery must not block: sightings are delivered to onSighting on a
// radio-owned goroutine until StopDiscovery is called. onFailure is called at
// most once if discovery aborts on its own.
//
// Connect must not block either: it returns a Link handle immediately and
// reports progress through emit (LinkEstablished or LinkFailed first).
type Radio interface {
	Present() bool
	Enabled() bool
	StartDiscovery(onSighting func(Advertisement), onFailure func(error)) error
	StopDiscovery() error
	Connect(address string, emit func(LinkEvent)) (Link, error)
}

// Link is an open (or opening) connection to one peripheral. All methods
// return immediately; results arrive as LinkEvents through the emit callback
// given to Radio.Connect.
type Link interface {
	// DiscoverServices enumerates the GATT profile (ServicesDiscovered or DiscoveryFailed)
	DiscoverServices()
	// EnableNotifications writes the client configuration descriptor of char
	// (NotifyEnabled or SubscribeFailed), after which Notification events flow.
	EnableNotifications(char Characteristic)
	// Close releases the link. No LinkDropped event is emitted for a local close.
	Close() error
}

// LinkEventKind enumerates radio completions for a link
type LinkEventKind int

const (
	LinkEstablished LinkEventKind = iota
	LinkFailed
	ServicesDiscovered
	DiscoveryFailed
	NotifyEnabled
	SubscribeFailed
	Notification
	LinkDropped
)

var linkEventNames = map[LinkEventKind]string{
	LinkEstablished:    "link_established",
	LinkFailed:         "link_failed",
	ServicesDiscovered: "services_discovered",
	DiscoveryFailed:    "discovery_failed",
	NotifyEnabled:      "notify_enabled",
	SubscribeFailed:    "subscribe_failed",
	Notification:       "notification",
	LinkDropped:        "link_dropped",
}

func (k LinkEventKind) String() string {
	if name, ok := linkEventNames[k]; ok {
		return name
	}
	return fmt.Sprintf("link_event(%d)", int(k))
}

// LinkEvent is a single asynchronous completion from the radio
type LinkEvent struct {
	Kind     LinkEventKind
	Services []Service // ServicesDiscovered
	Payload  []byte    // Notification
	Err      error     // *Failed, LinkDropped
}
