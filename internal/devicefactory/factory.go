// Package devicefactory creates the platform radio used by the commands.
package devicefactory

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/blescope/internal/device"
	goble "github.com/srg/blescope/internal/device/go-ble"
)

// RadioFactory creates the device.Radio for the current platform.
// This is a variable so that it can be overridden in tests.
var RadioFactory = func(logger *logrus.Logger) (device.Radio, error) {
	return goble.NewRadio(logger), nil
}

// NewRadio returns a radio from RadioFactory
func NewRadio(logger *logrus.Logger) (device.Radio, error) {
	return RadioFactory(logger)
}
