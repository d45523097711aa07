package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blescope/internal/device"
	"github.com/srg/blescope/internal/groutine"
)

// Link is a go-ble connection to one peripheral. No events are emitted after Close.
type Link struct {
	address string
	logger  *logrus.Logger
	emit    func(device.LinkEvent)
	ctx     context.Context
	cancel  context.CancelFunc

	mu         sync.Mutex
	client     ble.Client
	subscribed *ble.Characteristic
	closed     bool
}

func (l *Link) attach(client ble.Client) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.client = client
	return true
}

func (l *Link) current() (ble.Client, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.client, !l.closed
}

func (l *Link) send(ev device.LinkEvent) {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed || l.emit == nil {
		return
	}
	l.emit(ev)
}

// monitor watches the client's Disconnected() channel and reports remote link loss
func (l *Link) monitor(client ble.Client) {
	dc, ok := client.(interface{ Disconnected() <-chan struct{} })
	if !ok {
		l.logger.Debug("Client does not support Disconnected() channel")
		return
	}
	groutine.Go(l.ctx, "ble-link-monitor", func(ctx context.Context) {
		select {
		case <-dc.Disconnected():
			l.logger.WithField("address", l.address).Warn("Peripheral reported disconnection")
			l.send(device.LinkEvent{Kind: device.LinkDropped, Err: device.ErrNotConnected})
		case <-ctx.Done():
		}
	})
}

// DiscoverServices runs full profile discovery
func (l *Link) DiscoverServices() {
	groutine.GoRecover(l.ctx, "ble-discover", l.logger, func(ctx context.Context) {
		client, open := l.current()
		if !open {
			return
		}
		if client == nil {
			l.send(device.LinkEvent{Kind: device.DiscoveryFailed, Err: device.ErrNotConnected})
			return
		}

		profile, err := client.DiscoverProfile(true)
		if err != nil {
			err = NormalizeError(err)
			l.logger.WithFields(logrus.Fields{
				"address": l.address,
				"error":   err,
			}).Error("Failed to discover profile")
			l.send(device.LinkEvent{Kind: device.DiscoveryFailed, Err: err})
			return
		}

		services := ConvertProfile(profile)
		l.logger.WithFields(logrus.Fields{
			"address":         l.address,
			"services":        len(services),
			"characteristics": device.CountCharacteristics(services),
		}).Debug("Profile discovered successfully")
		l.send(device.LinkEvent{Kind: device.ServicesDiscovered, Services: services})
	})
}

// EnableNotifications subscribes to char; go-ble writes the CCCD (0x0001) as part of Subscribe
func (l *Link) EnableNotifications(char device.Characteristic) {
	groutine.GoRecover(l.ctx, "ble-subscribe", l.logger, func(ctx context.Context) {
		client, open := l.current()
		if !open {
			return
		}
		if client == nil {
			l.send(device.LinkEvent{Kind: device.SubscribeFailed, Err: device.ErrNotConnected})
			return
		}
		bleChar, ok := char.Handle.(*ble.Characteristic)
		if !ok || bleChar == nil {
			l.send(device.LinkEvent{
				Kind: device.SubscribeFailed,
				Err:  fmt.Errorf("%w: characteristic %s has no go-ble handle", device.ErrUnsupported, char.UUID),
			})
			return
		}

		err := NormalizeError(client.Subscribe(bleChar, false, func(data []byte) {
			payload := make([]byte, len(data))
			copy(payload, data)
			l.send(device.LinkEvent{Kind: device.Notification, Payload: payload})
		}))
		if err != nil {
			l.logger.WithFields(logrus.Fields{
				"address":  l.address,
				"charUUID": char.UUID,
				"error":    err,
			}).Error("Failed to subscribe to characteristic notifications")
			l.send(device.LinkEvent{Kind: device.SubscribeFailed, Err: err})
			return
		}

		l.mu.Lock()
		l.subscribed = bleChar
		l.mu.Unlock()

		l.logger.WithFields(logrus.Fields{
			"address":  l.address,
			"charUUID": char.UUID,
		}).Info("Successfully subscribed to characteristic notifications")
		l.send(device.LinkEvent{Kind: device.NotifyEnabled})
	})
}

// Close unsubscribes and cancels the connection. It blocks on the radio and is
// safe to call more than once.
func (l *Link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	client := l.client
	sub := l.subscribed
	l.client = nil
	l.subscribed = nil
	l.mu.Unlock()

	l.cancel()
	if client == nil {
		return nil
	}

	var errs []error
	if sub != nil {
		if err := client.Unsubscribe(sub, false); err != nil {
			l.logger.WithField("error", err).Warn("Failed to unsubscribe during close")
			errs = append(errs, NormalizeError(err))
		}
	}
	if err := client.CancelConnection(); err != nil {
		errs = append(errs, NormalizeError(err))
	}
	l.logger.WithField("address", l.address).Debug("BLE link closed")
	return errors.Join(errs...)
}
