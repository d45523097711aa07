package goble

import (
	"fmt"
	"strings"

	"github.com/srg/blescope/internal/device"
)

// platformErrors maps go-ble message fragments (lowercase) to platform errors.
// The first matching entry wins.
var platformErrors = []struct {
	fragment string
	target   error
}{
	{"is bluetooth turned on", device.ErrBluetoothOff}, // darwin: invalid state have=4 want=5
	{"bluetooth is turned off", device.ErrBluetoothOff},
	{"device not connected", device.ErrNotConnected},
	{"disconnected", device.ErrNotConnected},
	{"no devices available", device.ErrUnsupported}, // linux: no HCI adapter
	{"unsupported platform", device.ErrUnsupported},
}

// NormalizeError wraps go-ble errors with the matching device platform error,
// keeping the original message. Unknown errors are returned unchanged.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())
	for _, p := range platformErrors {
		if strings.Contains(msg, p.fragment) {
			return fmt.Errorf("%w: %v", p.target, err)
		}
	}
	return err
}
