package goble

import (
	"testing"

	"github.com/go-ble/ble"
	"github.com/srg/blescope/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertProperties(t *testing.T) {
	tests := []struct {
		name     string
		in       ble.Property
		expected device.Properties
	}{
		{"none", 0, 0},
		{"read notify", ble.CharRead | ble.CharNotify, device.PropRead | device.PropNotify},
		{"writes", ble.CharWrite | ble.CharWriteNR, device.PropWrite | device.PropWriteWithoutResponse},
		{"indicate only", ble.CharIndicate, device.PropIndicate},
		{"everything", ble.CharBroadcast | ble.CharRead | ble.CharWriteNR | ble.CharWrite |
			ble.CharNotify | ble.CharIndicate | ble.CharSignedWrite | ble.CharExtended, 0xff},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ConvertProperties(tt.in))
		})
	}
}

func TestConvertProfile_KeepsDiscoveryOrder(t *testing.T) {
	profile := nordicProfile()
	services := ConvertProfile(profile)

	require.Len(t, services, 2)
	assert.Equal(t, "1800", services[0].UUID)
	assert.Equal(t, "6e400001b5a3f393e0a9e50e24dcca9e", services[1].UUID)

	require.Len(t, services[1].Characteristics, 2)
	rx, tx := services[1].Characteristics[0], services[1].Characteristics[1]
	assert.Equal(t, "6e400002b5a3f393e0a9e50e24dcca9e", rx.UUID)
	assert.False(t, rx.Properties.CanNotify())
	assert.Equal(t, "6e400003b5a3f393e0a9e50e24dcca9e", tx.UUID)
	assert.True(t, tx.Properties.CanNotify())
	assert.True(t, tx.HasClientConfig())
	assert.Same(t, profile.Services[1].Characteristics[1], tx.Handle, "Handle MUST carry the native characteristic")

	char, _, ok := device.FirstNotifiable(services)
	require.True(t, ok)
	assert.Equal(t, tx.UUID, char.UUID)
}

func TestConvertProfile_CCCDField(t *testing.T) {
	profile := &ble.Profile{Services: []*ble.Service{
		{UUID: ble.UUID16(0x180f), Characteristics: []*ble.Characteristic{
			{UUID: ble.UUID16(0x2a19), Property: ble.CharRead | ble.CharNotify, CCCD: &ble.Descriptor{UUID: ble.UUID16(0x2902)}},
		}},
	}}

	services := ConvertProfile(profile)
	require.Len(t, services, 1)
	require.Len(t, services[0].Characteristics, 1)
	assert.Equal(t, []string{"2902"}, services[0].Characteristics[0].Descriptors)
}

func TestConvertProfile_Nil(t *testing.T) {
	assert.Nil(t, ConvertProfile(nil))
}

func TestBLEAdvertisement(t *testing.T) {
	adv := NewBLEAdvertisement(fakeAdv{
		addr:        "aa:bb:cc:dd:ee:01",
		name:        "Arduino",
		rssi:        -50,
		connectable: true,
		services:    []ble.UUID{ble.UUID16(0x180f)},
	})

	p := device.PeripheralFromAdvertisement(adv)
	assert.Equal(t, "aa:bb:cc:dd:ee:01", p.Address)
	assert.Equal(t, "Arduino", p.Name)
	assert.Equal(t, -50, p.RSSI)
	assert.True(t, p.Connectable)
	assert.Equal(t, []string{"180f"}, p.Services)
}
