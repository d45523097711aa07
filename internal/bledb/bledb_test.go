package bledb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestNormalizeUUID verifies that NormalizeUUID correctly handles various UUID formats
func TestNormalizeUUID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "16-bit short form", input: "180d", expected: "180d"},
		{name: "16-bit uppercase", input: "2A37", expected: "2a37"},
		{name: "16-bit with 0x prefix", input: "0x180d", expected: "180d"},
		{name: "16-bit with 0X prefix", input: "0X2902", expected: "2902"},
		{name: "Full SIG UUID with dashes", input: "0000180d-0000-1000-8000-00805f9b34fb", expected: "180d"},
		{name: "Full SIG UUID without dashes", input: "0000180d00001000800000805f9b34fb", expected: "180d"},
		{name: "Full SIG UUID uppercase", input: "00002902-0000-1000-8000-00805F9B34FB", expected: "2902"},
		{name: "Full SIG UUID with odd dash placement", input: "0000-2902-0000-1000-8000-00805f9b34fb", expected: "2902"},
		{name: "UUID with braces", input: "{0000180d-0000-1000-8000-00805f9b34fb}", expected: "180d"},
		{name: "Nordic UART 128-bit stays long", input: "6E400001-B5A3-F393-E0A9-E50E24DCCA9E", expected: "6e400001b5a3f393e0a9e50e24dcca9e"},
		{name: "32-bit form stays as is", input: "00002902", expected: "00002902"},
		{name: "Non-SIG suffix stays long", input: "0000180d-0000-1000-8000-00805f9b34fc", expected: "0000180d00001000800000805f9b34fc"},
		{name: "Empty", input: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeUUID(tt.input))
		})
	}
}

func TestNormalizeUUIDs(t *testing.T) {
	got := NormalizeUUIDs([]string{"180D", "0x2a37", "6e400003-b5a3-f393-e0a9-e50e24dcca9e"})
	assert.Equal(t, []string{"180d", "2a37", "6e400003b5a3f393e0a9e50e24dcca9e"}, got)
	assert.Empty(t, NormalizeUUIDs(nil))
}

// TestLookup verifies that the name tables resolve both short and full UUID forms
func TestLookup(t *testing.T) {
	tests := []struct {
		name     string
		lookup   func(string) string
		uuid     string
		expected string
	}{
		{"service short", LookupService, "180d", "Heart Rate"},
		{"service full", LookupService, "0000180f-0000-1000-8000-00805f9b34fb", "Battery Service"},
		{"service nordic", LookupService, "6e400001-b5a3-f393-e0a9-e50e24dcca9e", "Nordic UART Service"},
		{"characteristic short", LookupCharacteristic, "2a37", "Heart Rate Measurement"},
		{"characteristic 0x", LookupCharacteristic, "0x2A19", "Battery Level"},
		{"characteristic nordic tx", LookupCharacteristic, "6e400003b5a3f393e0a9e50e24dcca9e", "Nordic UART TX"},
		{"descriptor cccd", LookupDescriptor, "2902", "Client Characteristic Configuration"},
		{"descriptor user", LookupDescriptor, "00002901-0000-1000-8000-00805f9b34fb", "Characteristic User Descriptor"},
		{"unknown service", LookupService, "ffff", ""},
		{"service table does not answer characteristics", LookupService, "2a37", ""},
		{"any table", Lookup, "2902", "Client Characteristic Configuration"},
		{"any table unknown", Lookup, "ffff", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.lookup(tt.uuid))
		})
	}
}

func TestClientCharacteristicConfigUUID_IsNormalized(t *testing.T) {
	assert.Equal(t, ClientCharacteristicConfigUUID, NormalizeUUID("00002902-0000-1000-8000-00805f9b34fb"))
}
