package testutils

import (
	"encoding/json"
	"fmt"

	"github.com/srg/blescope/internal/device"
)

// Advertisement is a static device.Advertisement for tests
type Advertisement struct {
	AddrValue        string   `json:"address"`
	LocalNameValue   string   `json:"name"`
	RSSIValue        int      `json:"rssi"`
	ConnectableValue bool     `json:"connectable"`
	ServicesValue    []string `json:"services"`
}

func (a Advertisement) Addr() string       { return a.AddrValue }
func (a Advertisement) LocalName() string  { return a.LocalNameValue }
func (a Advertisement) RSSI() int          { return a.RSSIValue }
func (a Advertisement) Connectable() bool  { return a.ConnectableValue }
func (a Advertisement) Services() []string { return a.ServicesValue }

// AdvertisementBuilder builds advertisements for testing with a fluent API.
// The builder starts with connectable=true and RSSI -50.
type AdvertisementBuilder struct {
	adv Advertisement
}

// NewAdvertisementBuilder creates a new AdvertisementBuilder with default values.
func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{adv: Advertisement{RSSIValue: -50, ConnectableValue: true}}
}

// WithName sets the local name for the advertisement.
func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.adv.LocalNameValue = name
	return b
}

// WithAddress sets the device address for the advertisement.
func (b *AdvertisementBuilder) WithAddress(addr string) *AdvertisementBuilder {
	b.adv.AddrValue = addr
	return b
}

// WithRSSI sets the signal strength for the advertisement.
func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.adv.RSSIValue = rssi
	return b
}

// WithServices adds service UUIDs to the advertisement.
// UUIDs can be in short form (e.g., "180D") or full form.
func (b *AdvertisementBuilder) WithServices(uuids ...string) *AdvertisementBuilder {
	b.adv.ServicesValue = append(b.adv.ServicesValue, uuids...)
	return b
}

// WithConnectable sets whether the device accepts connections.
func (b *AdvertisementBuilder) WithConnectable(c bool) *AdvertisementBuilder {
	b.adv.ConnectableValue = c
	return b
}

// FromJSON fills builder fields from a JSON string with format support.
// Only fields present in the JSON are changed.
// Panics on invalid JSON as this is intended for test data setup.
func (b *AdvertisementBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *AdvertisementBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)
	if err := json.Unmarshal([]byte(jsonStr), &b.adv); err != nil {
		panic(fmt.Sprintf("FromJSON: %v", err))
	}
	return b
}

// Build returns the advertisement
func (b *AdvertisementBuilder) Build() Advertisement {
	return b.adv
}

// CreateMockAdvertisement is a shortcut for a named advertisement at address
func CreateMockAdvertisement(name, address string, rssi int) *AdvertisementBuilder {
	return NewAdvertisementBuilder().WithName(name).WithAddress(address).WithRSSI(rssi)
}

// CreateMockAdvertisementFromJSON is a shortcut for NewAdvertisementBuilder().FromJSON
func CreateMockAdvertisementFromJSON(jsonStrFmt string, args ...interface{}) *AdvertisementBuilder {
	return NewAdvertisementBuilder().FromJSON(jsonStrFmt, args...)
}

var _ device.Advertisement = Advertisement{}
