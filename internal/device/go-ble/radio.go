package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blescope/internal/device"
	"github.com/srg/blescope/internal/groutine"
)

const (
	// DefaultStopTimeout bounds how long StopDiscovery waits for the scan loop to exit
	DefaultStopTimeout = 5 * time.Second
)

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = newPlatformDevice

// Radio implements device.Radio on top of go-ble. The underlying ble.Device
// is created lazily on first use and reused afterwards.
type Radio struct {
	logger *logrus.Logger

	mu      sync.Mutex
	dev     ble.Device
	devErr  error
	scanCtl *scanControl
}

var (
	_ device.Radio = (*Radio)(nil)
	_ device.Link  = (*Link)(nil)
)

type scanControl struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRadio creates a go-ble backed radio
func NewRadio(logger *logrus.Logger) *Radio {
	if logger == nil {
		logger = logrus.New()
	}
	return &Radio{logger: logger}
}

func (r *Radio) device() (ble.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deviceLocked()
}

func (r *Radio) deviceLocked() (ble.Device, error) {
	if r.dev != nil {
		return r.dev, nil
	}
	dev, err := DeviceFactory()
	if err != nil {
		r.devErr = NormalizeError(err)
		r.logger.WithField("error", r.devErr).Debug("BLE device is not available")
		return nil, r.devErr
	}
	r.dev = dev
	r.devErr = nil
	return dev, nil
}

// Present reports whether the platform has a usable BLE stack at all
func (r *Radio) Present() bool {
	_, err := r.device()
	return err == nil || !errors.Is(err, device.ErrUnsupported)
}

// Enabled reports whether the adapter is powered and ready
func (r *Radio) Enabled() bool {
	_, err := r.device()
	return err == nil
}

// StartDiscovery runs a go-ble scan on a background goroutine until StopDiscovery
func (r *Radio) StartDiscovery(onSighting func(device.Advertisement), onFailure func(error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.scanCtl != nil {
		return errors.New("discovery already running")
	}
	dev, err := r.deviceLocked()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	ctl := &scanControl{cancel: cancel, done: make(chan struct{})}
	r.scanCtl = ctl

	groutine.GoRecover(ctx, "ble-scan", r.logger, func(ctx context.Context) {
		defer close(ctl.done)

		r.logger.Debug("BLE scan started")
		err := dev.Scan(ctx, true, func(adv ble.Advertisement) {
			onSighting(NewBLEAdvertisement(adv))
		})
		if ctx.Err() != nil {
			r.logger.Debug("BLE scan stopped")
			return
		}
		if err == nil {
			err = errors.New("scan ended unexpectedly")
		}
		err = NormalizeError(err)
		r.logger.WithField("error", err).Warn("BLE scan aborted")

		r.mu.Lock()
		if r.scanCtl == ctl {
			r.scanCtl = nil
		}
		r.mu.Unlock()
		cancel()

		if onFailure != nil {
			onFailure(err)
		}
	})
	return nil
}

// StopDiscovery cancels a running scan and waits for the scan loop to exit.
// Calling it when no scan runs is a no-op.
func (r *Radio) StopDiscovery() error {
	r.mu.Lock()
	ctl := r.scanCtl
	r.scanCtl = nil
	r.mu.Unlock()

	if ctl == nil {
		return nil
	}
	ctl.cancel()

	select {
	case <-ctl.done:
		return nil
	case <-time.After(DefaultStopTimeout):
		return fmt.Errorf("scan did not stop within %s", DefaultStopTimeout)
	}
}

// Connect dials the peripheral on a background goroutine and returns the link
// handle immediately. Progress is reported through emit.
func (r *Radio) Connect(address string, emit func(device.LinkEvent)) (device.Link, error) {
	dev, err := r.device()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &Link{
		address: address,
		logger:  r.logger,
		emit:    emit,
		ctx:     ctx,
		cancel:  cancel,
	}

	groutine.GoRecover(ctx, "ble-dial", r.logger, func(ctx context.Context) {
		l.logger.WithField("address", address).Debug("Dialing BLE device...")
		client, err := dev.Dial(ctx, ble.NewAddr(address))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			err = NormalizeError(err)
			l.logger.WithFields(logrus.Fields{
				"address": address,
				"error":   err,
			}).Error("Failed to dial BLE device")
			l.send(device.LinkEvent{Kind: device.LinkFailed, Err: err})
			return
		}

		if !l.attach(client) {
			// Closed while dialing
			_ = client.CancelConnection()
			return
		}

		l.logger.WithField("address", address).Info("BLE link established")
		l.send(device.LinkEvent{Kind: device.LinkEstablished})
		l.monitor(client)
	})

	return l, nil
}
