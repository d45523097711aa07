// Package pipeline composes discovery, the device registry, the connection
// controller and the sample stream behind a single facade. Presentation
// layers (CLI, HTTP) talk to the Pipeline only.
package pipeline

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blescope/internal/device"
	"github.com/srg/blescope/internal/link"
	"github.com/srg/blescope/internal/registry"
	"github.com/srg/blescope/internal/scan"
	"github.com/srg/blescope/internal/status"
	"github.com/srg/blescope/internal/telemetry"
	"github.com/srg/blescope/pkg/config"
)

// closeScanWait bounds how long Close waits for a running scan to wind down
const closeScanWait = 5 * time.Second

// Pipeline is the BLE discovery-and-telemetry facade
type Pipeline struct {
	radio  device.Radio
	gate   device.PermissionGate
	cfg    config.Config
	logger *logrus.Logger

	registry *registry.Registry
	stream   *telemetry.Stream
	feed     *telemetry.Feed
	rawTail  *telemetry.RawTail
	status   *status.Slot
	ctl      *link.Controller

	mu     sync.Mutex
	scan   *scan.Session
	closed bool
}

// New wires a pipeline over radio. A nil gate uses the grants from cfg; a nil
// cfg uses the defaults.
func New(radio device.Radio, gate device.PermissionGate, cfg *config.Config, logger *logrus.Logger) (*Pipeline, error) {
	if radio == nil {
		return nil, errors.New("pipeline: radio is required")
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	if logger == nil {
		logger = cfg.NewLogger()
	}
	if gate == nil {
		gate = device.StaticGate{Scan: cfg.ScanAuthorized, Connect: cfg.ConnectAuthorized}
	}

	feed, err := telemetry.NewFeed(uint32(cfg.FeedBuffer))
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	p := &Pipeline{
		radio:  radio,
		gate:   gate,
		cfg:    *cfg,
		logger: logger,
		registry: registry.New(registry.Options{
			IncludeUnnamed: cfg.IncludeUnnamed,
			AllowList:      cfg.AllowList,
			BlockList:      cfg.BlockList,
			ServiceUUIDs:   cfg.ServiceUUIDs,
		}, logger),
		stream:  telemetry.NewStream(cfg.SampleRetention, feed, logger),
		feed:    feed,
		rawTail: telemetry.NewRawTail(cfg.RawTailBytes),
		status:  status.NewSlot(logger),
	}
	p.ctl = link.New(radio, gate, p.stream, p.status, link.Options{
		SetupTimeout: cfg.SetupTimeout,
		RawTail:      p.rawTail,
	}, logger)

	return p, nil
}

// StartScan clears the registry and starts a new time-bounded scan. A scan
// may run while a session streams; a second scan while one runs is Busy.
func (p *Pipeline) StartScan() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return device.NewRadioError(device.KindAdapterUnavailable, errors.New("pipeline closed"))
	}
	if p.scan != nil && p.scan.State() != scan.Completed {
		return device.NewRadioError(device.KindBusy, errors.New("scan already running"))
	}
	if p.scan != nil {
		// discovery of the previous session must be fully stopped before the radio is reused
		select {
		case <-p.scan.Done():
		default:
			return device.NewRadioError(device.KindBusy, errors.New("previous scan is still stopping"))
		}
	}

	sess := scan.New(p.radio, p.gate, p.registry, p.status, scan.Options{Timeout: p.cfg.ScanTimeout}, p.logger)
	err := sess.Start()
	if sess.State() != scan.NotStarted {
		p.scan = sess
	}
	return err
}

// StopScan ends the running scan early; it is a no-op without one
func (p *Pipeline) StopScan() {
	p.mu.Lock()
	sess := p.scan
	p.mu.Unlock()
	if sess != nil {
		sess.Stop()
	}
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// ScanDone is closed when the latest scan has completed. Without a scan the
// returned channel is already closed.
func (p *Pipeline) ScanDone() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.scan == nil {
		return closedChan
	}
	return p.scan.Done()
}

// Scan returns the latest scan session, nil if none ran
func (p *Pipeline) Scan() *scan.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scan
}

// Devices returns the discovered peripherals in first-seen order
func (p *Pipeline) Devices() []device.Peripheral {
	return p.registry.Snapshot()
}

// Connect starts a streaming session with a discovered peripheral
func (p *Pipeline) Connect(address string) error {
	peer, ok := p.registry.Get(address)
	if !ok {
		return &device.NotFoundError{Resource: "device", ID: address}
	}
	return p.ctl.Connect(peer)
}

// Disconnect ends the current session and clears its samples
func (p *Pipeline) Disconnect() {
	p.ctl.Disconnect()
}

// Acknowledge returns a Failed or Disconnected session to Idle
func (p *Pipeline) Acknowledge() {
	p.ctl.Acknowledge()
}

// State returns the connection state
func (p *Pipeline) State() link.State {
	return p.ctl.State()
}

// Failure returns the reason of a Failed session
func (p *Pipeline) Failure() error {
	return p.ctl.Failure()
}

// Info returns the connection details for presentation
func (p *Pipeline) Info() link.Info {
	return p.ctl.Info()
}

// Samples returns the retained samples in sequence order
func (p *Pipeline) Samples() []telemetry.Sample {
	return p.stream.Snapshot()
}

// SamplesSince returns retained samples with Seq >= seq
func (p *Pipeline) SamplesSince(seq uint64) []telemetry.Sample {
	return p.stream.Since(seq)
}

// ReadSamples returns the samples from cursor on. A cursor from an earlier
// session is reset to the start of the current one.
func (p *Pipeline) ReadSamples(from telemetry.Cursor) telemetry.Page {
	return p.stream.Read(from)
}

// Stream exposes the sample stream read-only operations
func (p *Pipeline) Stream() *telemetry.Stream {
	return p.stream
}

// Feed returns the live sample feed for incremental consumers
func (p *Pipeline) Feed() *telemetry.Feed {
	return p.feed
}

// DecodeErrors returns the number of rejected payloads in the current session
func (p *Pipeline) DecodeErrors() uint64 {
	return p.ctl.DecodeErrors()
}

// RawTail returns the most recent raw payloads, oldest first
func (p *Pipeline) RawTail() []string {
	return p.rawTail.Lines()
}

// Status returns the latest status message
func (p *Pipeline) Status() status.Status {
	return p.status.Current()
}

// StatusUpdates delivers status changes, last write wins
func (p *Pipeline) StatusUpdates() <-chan status.Status {
	return p.status.Updates()
}

// Config returns a copy of the effective configuration
func (p *Pipeline) Config() config.Config {
	return p.cfg
}

// Close stops any scan, disconnects and releases the pipeline
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	sess := p.scan
	p.mu.Unlock()

	if sess != nil {
		sess.Stop()
		select {
		case <-sess.Done():
		case <-time.After(closeScanWait):
			p.logger.Warn("Timed out waiting for scan to stop")
		}
	}
	p.ctl.Close()
	p.status.Close()
}
