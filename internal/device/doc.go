// Package device defines the radio-facing model of the telemetry pipeline:
// peripheral descriptors, the GATT service/characteristic view of a
// connected peripheral, and the Radio/Link boundary the pipeline drives.
//
// The package contains no platform code. A go-ble backed implementation
// lives in the go-ble subpackage; tests use the scripted fake radio from
// internal/testutils.
//
// Radio completions are delivered as LinkEvent values through a single
// emit callback per link, so the consumer can tag and order them.
package device
