// Package bledb normalizes BLE UUIDs and resolves well-known names for the
// services, characteristics and descriptors the telemetry pipeline meets most
// often (GAP/GATT basics, battery, heart rate, Nordic UART).
package bledb

import (
	"strings"
)

const (
	// sigBaseSuffix is the Bluetooth SIG base UUID without the 16-bit slot
	sigBaseSuffix = "00001000800000805f9b34fb"

	// ClientCharacteristicConfigUUID is the CCCD written to enable notifications
	ClientCharacteristicConfigUUID = "2902"
)

var services = map[string]string{
	"1800":                             "Generic Access",
	"1801":                             "Generic Attribute",
	"180a":                             "Device Information",
	"180d":                             "Heart Rate",
	"180f":                             "Battery Service",
	"181a":                             "Environmental Sensing",
	"6e400001b5a3f393e0a9e50e24dcca9e": "Nordic UART Service",
	"19b10000e8f2537e4f6cd104768a1214": "Arduino BLE Sense",
}

var characteristics = map[string]string{
	"2a00":                             "Device Name",
	"2a01":                             "Appearance",
	"2a05":                             "Service Changed",
	"2a19":                             "Battery Level",
	"2a24":                             "Model Number String",
	"2a29":                             "Manufacturer Name String",
	"2a37":                             "Heart Rate Measurement",
	"2a38":                             "Body Sensor Location",
	"2a6e":                             "Temperature",
	"2a6f":                             "Humidity",
	"6e400002b5a3f393e0a9e50e24dcca9e": "Nordic UART RX",
	"6e400003b5a3f393e0a9e50e24dcca9e": "Nordic UART TX",
	"19b10001e8f2537e4f6cd104768a1214": "Arduino BLE Sense Data",
}

var descriptors = map[string]string{
	"2900": "Characteristic Extended Properties",
	"2901": "Characteristic User Descriptor",
	"2902": "Client Characteristic Configuration",
	"2903": "Server Characteristic Configuration",
	"2904": "Characteristic Presentation Format",
	"2906": "Valid Range",
}

// NormalizeUUID converts a UUID string to the internal format: lowercase, no
// dashes, braces or 0x prefix. Bluetooth SIG base UUIDs
// (0000xxxx-0000-1000-8000-00805f9b34fb) are reduced to the 16-bit form.
func NormalizeUUID(uuid string) string {
	u := strings.ToLower(strings.TrimSpace(uuid))
	u = strings.Trim(u, "{}")
	u = strings.TrimPrefix(u, "0x")
	u = strings.ReplaceAll(u, "-", "")

	if len(u) == 32 && strings.HasPrefix(u, "0000") && strings.HasSuffix(u, sigBaseSuffix) {
		return u[4:8]
	}
	return u
}

// NormalizeUUIDs normalizes a slice of UUID strings
func NormalizeUUIDs(uuids []string) []string {
	result := make([]string, len(uuids))
	for i, u := range uuids {
		result[i] = NormalizeUUID(u)
	}
	return result
}

// LookupService returns the well-known service name or ""
func LookupService(uuid string) string {
	return services[NormalizeUUID(uuid)]
}

// LookupCharacteristic returns the well-known characteristic name or ""
func LookupCharacteristic(uuid string) string {
	return characteristics[NormalizeUUID(uuid)]
}

// LookupDescriptor returns the well-known descriptor name or ""
func LookupDescriptor(uuid string) string {
	return descriptors[NormalizeUUID(uuid)]
}

// Lookup resolves a UUID against all tables, services first
func Lookup(uuid string) string {
	if name := LookupService(uuid); name != "" {
		return name
	}
	if name := LookupCharacteristic(uuid); name != "" {
		return name
	}
	return LookupDescriptor(uuid)
}
