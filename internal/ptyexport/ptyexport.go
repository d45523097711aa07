// Package ptyexport publishes decoded samples on a pseudo-terminal so that
// serial plotters and terminal tools can read them as "x,y" lines.
//
// Writes never block the sample stream: lines are queued in a ring buffer and
// a background loop copies them to the PTY master. When the reader falls
// behind and the queue is full, the overflowing bytes are dropped and counted.
package ptyexport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"github.com/srg/blescope/internal/groutine"
	"github.com/srg/blescope/internal/telemetry"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

const (
	// DefaultWriteCap is the default queue size in bytes
	DefaultWriteCap = 64 * 1024

	// DefaultPollTimeoutMs bounds how long the write loop waits before
	// re-checking for shutdown
	DefaultPollTimeoutMs = 50

	// DefaultPumpInterval is how often Pump drains the live feed
	DefaultPumpInterval = 20 * time.Millisecond

	closeTimeout = 5 * time.Second
)

// Options configures an Exporter. Zero values use the defaults.
type Options struct {
	WriteCap      int
	PollTimeoutMs int
	Logger        *logrus.Logger
}

// Stats are runtime counters of an Exporter
type Stats struct {
	QueueLen     int    `json:"queue_len"`
	QueueCap     int    `json:"queue_cap"`
	Written      uint64 `json:"written"`
	Dropped      uint64 `json:"dropped"`
	SamplesTotal uint64 `json:"samples_total"`
}

// Exporter owns a PTY pair and the loop feeding its master side
type Exporter struct {
	logger        *logrus.Logger
	master        *os.File
	slave         *os.File
	ttyName       string
	pollTimeoutMs int

	queue  *ringbuffer.RingBuffer
	notify chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool

	written atomic.Uint64
	dropped atomic.Uint64
	samples atomic.Uint64
}

// Open creates the PTY pair and starts the write loop
func Open(opts Options) (*Exporter, error) {
	if opts.WriteCap <= 0 {
		opts.WriteCap = DefaultWriteCap
	}
	if opts.PollTimeoutMs <= 0 {
		opts.PollTimeoutMs = DefaultPollTimeoutMs
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}

	master, slave, err := openRaw()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Exporter{
		logger:        logger,
		master:        master,
		slave:         slave,
		ttyName:       slave.Name(),
		pollTimeoutMs: opts.PollTimeoutMs,
		queue:         ringbuffer.New(opts.WriteCap),
		notify:        make(chan struct{}, 1),
		ctx:           ctx,
		cancel:        cancel,
	}

	e.wg.Add(1)
	groutine.GoRecover(ctx, "pty-write-loop", logger, func(ctx context.Context) {
		defer e.wg.Done()
		e.writeLoop(ctx)
	})

	logger.WithField("tty", e.ttyName).Info("PTY export ready")
	return e, nil
}

// openRaw opens a PTY pair with the slave in raw mode and a non-blocking master
func openRaw() (*os.File, *os.File, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create PTY (check permissions and available PTY devices): %w", err)
	}

	cleanup := func(step string, cause error) error {
		return errors.Join(
			fmt.Errorf("failed to %s on %s: %w", step, slave.Name(), cause),
			master.Close(),
			slave.Close(),
		)
	}

	if _, err := term.MakeRaw(int(slave.Fd())); err != nil {
		return nil, nil, cleanup("set raw mode", err)
	}
	if err := syscall.SetNonblock(int(master.Fd()), true); err != nil {
		return nil, nil, cleanup("set non-blocking mode", err)
	}
	return master, slave, nil
}

// TTYName returns the slave device path, e.g. /dev/pts/5
func (e *Exporter) TTYName() string {
	return e.ttyName
}

// Write queues raw bytes for the PTY. It never blocks; bytes that do not fit
// are dropped and the number actually queued is returned.
func (e *Exporter) Write(data []byte) (int, error) {
	if e.closed.Load() {
		return 0, os.ErrClosed
	}
	if len(data) == 0 {
		return 0, nil
	}

	n, err := e.queue.Write(data)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsFull) {
		return n, err
	}
	if n < len(data) {
		e.dropped.Add(uint64(len(data) - n))
		e.logger.WithFields(logrus.Fields{
			"queued":  n,
			"dropped": len(data) - n,
		}).Warn("PTY queue overflow")
	}
	if n > 0 {
		select {
		case e.notify <- struct{}{}:
		default:
		}
	}
	return n, nil
}

// FormatSample renders a sample as one "x,y" line
func FormatSample(s telemetry.Sample) []byte {
	buf := make([]byte, 0, 32)
	buf = strconv.AppendFloat(buf, s.X, 'g', -1, 64)
	buf = append(buf, ',')
	buf = strconv.AppendFloat(buf, s.Y, 'g', -1, 64)
	return append(buf, '\n')
}

// WriteSample queues one sample line; a partially queued line counts as dropped
func (e *Exporter) WriteSample(s telemetry.Sample) error {
	line := FormatSample(s)
	if e.queue.Free() < len(line) {
		e.dropped.Add(uint64(len(line)))
		return nil
	}
	if _, err := e.Write(line); err != nil {
		return err
	}
	e.samples.Add(1)
	return nil
}

// Pump drains feed into the PTY until ctx is done
func (e *Exporter) Pump(ctx context.Context, feed *telemetry.Feed, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultPumpInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		for _, s := range feed.Drain(0) {
			if err := e.WriteSample(s); err != nil {
				return err
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-e.ctx.Done():
			return os.ErrClosed
		case <-ticker.C:
		}
	}
}

func (e *Exporter) writeLoop(ctx context.Context) {
	master := e.master
	pollFd := []unix.PollFd{{Fd: int32(master.Fd()), Events: unix.POLLOUT}}
	buf := make([]byte, 4096)
	wait := time.Duration(e.pollTimeoutMs) * time.Millisecond

	for {
		if e.queue.IsEmpty() {
			select {
			case <-ctx.Done():
				return
			case <-e.notify:
			case <-time.After(wait):
				continue
			}
		}

		n, err := e.queue.TryRead(buf)
		if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
			e.logger.WithField("error", err).Warn("PTY queue read failed")
			continue
		}

		for off := 0; off < n; {
			select {
			case <-ctx.Done():
				return
			default:
			}

			w, err := master.Write(buf[off:n])
			if w > 0 {
				off += w
				e.written.Add(uint64(w))
			}
			if err == nil {
				continue
			}
			switch {
			case errors.Is(err, syscall.EINTR):
			case errors.Is(err, syscall.EAGAIN):
				if _, perr := unix.Poll(pollFd, e.pollTimeoutMs); perr != nil && !errors.Is(perr, syscall.EINTR) {
					e.logger.WithField("error", perr).Warn("PTY poll failed")
				}
			case errors.Is(err, os.ErrClosed), errors.Is(err, syscall.EBADF):
				e.logger.Debug("PTY write loop exiting: master closed")
				return
			default:
				e.logger.WithField("error", err).Error("PTY write loop exiting")
				return
			}
		}
	}
}

// Stats returns the current counters
func (e *Exporter) Stats() Stats {
	return Stats{
		QueueLen:     e.queue.Length(),
		QueueCap:     e.queue.Capacity(),
		Written:      e.written.Load(),
		Dropped:      e.dropped.Load(),
		SamplesTotal: e.samples.Load(),
	}
}

// Close stops the write loop and releases both PTY ends. It is idempotent.
func (e *Exporter) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.cancel()
	err := e.master.Close()

	done := make(chan struct{})
	groutine.Go(context.Background(), "pty-wait-close", func(ctx context.Context) {
		e.wg.Wait()
		close(done)
	})
	select {
	case <-done:
	case <-time.After(closeTimeout):
		e.logger.WithField("tty", e.ttyName).Error("Timed out waiting for PTY write loop to exit")
	}

	err = errors.Join(err, e.slave.Close())
	if err != nil {
		e.logger.WithField("error", err).Warn("Failed to close PTY")
	}
	return err
}
