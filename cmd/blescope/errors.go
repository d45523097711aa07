package main

import (
	"errors"
	"fmt"

	"github.com/srg/blescope/internal/device"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the peripheral dropped the link while streaming.
	// This is distinct from a setup failure, which is reported with its failure kind.
	ErrConnectionLost = errors.New("connection lost")
)

// FormatUserError turns pipeline errors into a one-line message for the terminal
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var nf *device.NotFoundError
	if errors.As(err, &nf) && nf.Resource == "device" {
		return fmt.Sprintf("%s (run 'blescope scan' to list nearby devices)", err)
	}

	switch device.FailureKindOf(err) {
	case device.KindAdapterUnavailable:
		return "Bluetooth adapter is not available or turned off"
	case device.KindUnauthorized:
		return "Bluetooth access is not authorized (check permissions or the *_authorized config keys)"
	case device.KindTimeout:
		return "connection setup timed out"
	case device.KindNoNotifyCharacteristic:
		return "device exposes no characteristic with notify support"
	}
	return err.Error()
}
