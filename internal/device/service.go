package device

import (
	"strings"

	"github.com/srg/blescope/internal/bledb"
)

// ----------------------------
// GATT model
// ----------------------------

// Properties is the characteristic property bit field as defined by the Bluetooth Core Specification
type Properties uint8

const (
	PropBroadcast Properties = 1 << iota
	PropRead
	PropWriteWithoutResponse
	PropWrite
	PropNotify
	PropIndicate
	PropAuthenticatedSignedWrites
	PropExtendedProperties
)

var propertyNames = []struct {
	prop Properties
	name string
}{
	{PropBroadcast, "broadcast"},
	{PropRead, "read"},
	{PropWriteWithoutResponse, "write-without-response"},
	{PropWrite, "write"},
	{PropNotify, "notify"},
	{PropIndicate, "indicate"},
	{PropAuthenticatedSignedWrites, "authenticated-signed-writes"},
	{PropExtendedProperties, "extended-properties"},
}

// Has reports whether all bits of p2 are set
func (p Properties) Has(p2 Properties) bool {
	return p&p2 == p2
}

// CanNotify reports whether the characteristic supports notifications
func (p Properties) CanNotify() bool {
	return p.Has(PropNotify)
}

// Names returns the property names in bit order
func (p Properties) Names() []string {
	names := make([]string, 0, len(propertyNames))
	for _, pn := range propertyNames {
		if p.Has(pn.prop) {
			names = append(names, pn.name)
		}
	}
	return names
}

func (p Properties) String() string {
	return strings.Join(p.Names(), ",")
}

// Service is a discovered GATT service; characteristics keep discovery order
type Service struct {
	UUID            string           `json:"uuid"`
	Characteristics []Characteristic `json:"characteristics"`
}

// KnownName returns the well-known service name, or ""
func (s Service) KnownName() string {
	return bledb.LookupService(s.UUID)
}

// Characteristic is a discovered GATT characteristic.
// Handle is the radio implementation's native handle, opaque to the pipeline.
type Characteristic struct {
	UUID        string     `json:"uuid"`
	Properties  Properties `json:"properties"`
	Descriptors []string   `json:"descriptors,omitempty"`
	Handle      any        `json:"-"`
}

// KnownName returns the well-known characteristic name, or ""
func (c Characteristic) KnownName() string {
	return bledb.LookupCharacteristic(c.UUID)
}

// HasClientConfig reports whether the characteristic exposes a CCCD (0x2902)
func (c Characteristic) HasClientConfig() bool {
	for _, d := range c.Descriptors {
		if NormalizeUUID(d) == bledb.ClientCharacteristicConfigUUID {
			return true
		}
	}
	return false
}

// FirstNotifiable returns the first characteristic, in service then
// characteristic order, that advertises the notify property.
func FirstNotifiable(services []Service) (Characteristic, Service, bool) {
	for _, svc := range services {
		for _, char := range svc.Characteristics {
			if char.Properties.CanNotify() {
				return char, svc, true
			}
		}
	}
	return Characteristic{}, Service{}, false
}

// CountCharacteristics returns the total number of characteristics across services
func CountCharacteristics(services []Service) int {
	n := 0
	for _, svc := range services {
		n += len(svc.Characteristics)
	}
	return n
}
