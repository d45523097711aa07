package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blescope/internal/device"
	"github.com/srg/blescope/internal/groutine"
	"github.com/srg/blescope/internal/link"
	"github.com/srg/blescope/internal/ptyexport"
	"github.com/srg/blescope/pkg/pipeline"
)

// streamCmd represents the stream command
var streamCmd = &cobra.Command{
	Use:   "stream <device-address>",
	Short: "Stream samples from a BLE device",
	Long: `Scans for the device, connects to it, subscribes to its first characteristic
with notify support and prints every decoded sample as an "x,y" line.

Payloads that are not a valid "x,y" pair are counted and skipped. Status
messages go to stderr, samples to stdout. With --pty the samples are written
to a pseudo-terminal instead, so serial plotters can open it like a port.

Example:
  blescope stream AA:BB:CC:DD:EE:01
  blescope stream --pty AA:BB:CC:DD:EE:01`,
	Args: cobra.ExactArgs(1),
	RunE: runStream,
}

var (
	streamScanTimeout  time.Duration
	streamSetupTimeout time.Duration
	streamCount        int
	streamPTY          bool
	streamRaw          bool
)

const streamPollInterval = 20 * time.Millisecond

func initStreamFlags() {
	streamCmd.Flags().DurationVar(&streamScanTimeout, "scan-timeout", 10*time.Second, "How long to look for the device")
	streamCmd.Flags().DurationVar(&streamSetupTimeout, "setup-timeout", 0, "Connection setup timeout (0 waits indefinitely)")
	streamCmd.Flags().IntVarP(&streamCount, "count", "n", 0, "Stop after this many samples (0 streams until Ctrl+C)")
	streamCmd.Flags().BoolVar(&streamPTY, "pty", false, "Write samples to a PTY instead of stdout")
	streamCmd.Flags().BoolVar(&streamRaw, "raw", false, "Print the received raw payloads on exit")
}

func init() {
	initStreamFlags()
}

// sampleSink receives drained samples and reports how many were delivered
type sampleSink interface {
	deliver(p *pipeline.Pipeline) error
	delivered() uint64
}

// stdoutSink prints feed samples as CSV lines, at most limit when limit > 0
type stdoutSink struct {
	w     io.Writer
	limit uint64
	count uint64
}

func (s *stdoutSink) deliver(p *pipeline.Pipeline) error {
	n := 0
	if s.limit > 0 {
		if s.count >= s.limit {
			return nil
		}
		n = int(s.limit - s.count)
	}
	for _, sample := range p.Feed().Drain(n) {
		if _, err := s.w.Write(ptyexport.FormatSample(sample)); err != nil {
			return err
		}
		s.count++
	}
	return nil
}

func (s *stdoutSink) delivered() uint64 { return s.count }

// ptySink leaves draining to the exporter's pump
type ptySink struct {
	exporter *ptyexport.Exporter
}

func (s *ptySink) deliver(*pipeline.Pipeline) error { return nil }
func (s *ptySink) delivered() uint64               { return s.exporter.Stats().SamplesTotal }

func runStream(cmd *cobra.Command, args []string) error {
	address := args[0]

	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("scan-timeout") {
		cfg.ScanTimeout = streamScanTimeout
	}
	if cmd.Flags().Changed("setup-timeout") {
		cfg.SetupTimeout = streamSetupTimeout
	}
	// the target is addressed explicitly, its name does not matter
	cfg.IncludeUnnamed = true
	cfg.AllowList = []string{address}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	p, err := newPipeline(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errOut := cmd.ErrOrStderr()
	statusCtx, stopStatus := context.WithCancel(ctx)
	statusDone := printStatuses(statusCtx, errOut, p.StatusUpdates())
	defer func() {
		p.Close()
		stopStatus()
		<-statusDone
	}()

	if err := findDevice(ctx, cmd, p, address); err != nil {
		return err
	}
	if err := p.Connect(address); err != nil {
		return err
	}

	var sink sampleSink = &stdoutSink{w: cmd.OutOrStdout(), limit: uint64(max(streamCount, 0))}
	if streamPTY {
		exporter, err := ptyexport.Open(ptyexport.Options{Logger: logger})
		if err != nil {
			p.Disconnect()
			return err
		}
		defer exporter.Close()
		fmt.Fprintf(errOut, "Streaming samples to %s\n", exporter.TTYName())

		groutine.GoRecover(ctx, "pty-pump", logger, func(ctx context.Context) {
			if err := exporter.Pump(ctx, p.Feed(), ptyexport.DefaultPumpInterval); err != nil {
				logger.WithField("error", err).Debug("PTY pump stopped")
			}
		})
		sink = &ptySink{exporter: exporter}
	}

	err = streamLoop(ctx, p, sink, logger)
	if streamRaw {
		for _, line := range p.RawTail() {
			fmt.Fprintf(errOut, "raw: %s\n", line)
		}
	}
	return err
}

// findDevice scans until address is discovered, the scan ends or ctx is done
func findDevice(ctx context.Context, cmd *cobra.Command, p *pipeline.Pipeline, address string) error {
	if err := p.StartScan(); err != nil {
		return err
	}

	var progress *ProgressPrinter
	if errOut := cmd.ErrOrStderr(); isTerminal(errOut) {
		progress = NewProgressPrinter(errOut, fmt.Sprintf("Looking for %s", address), "Scanning")
		progress.Start()
		defer progress.Stop()
	}

	ticker := time.NewTicker(streamPollInterval)
	defer ticker.Stop()

	for {
		if known(p.Devices(), address) {
			p.StopScan()
			<-p.ScanDone()
			return nil
		}
		select {
		case <-ctx.Done():
			p.StopScan()
			<-p.ScanDone()
			return ctx.Err()
		case <-p.ScanDone():
			if err := p.Scan().Err(); err != nil {
				return err
			}
			if known(p.Devices(), address) {
				return nil
			}
			return &device.NotFoundError{Resource: "device", ID: address}
		case <-ticker.C:
		}
	}
}

func known(devices []device.Peripheral, address string) bool {
	for _, d := range devices {
		if strings.EqualFold(d.Address, address) {
			return true
		}
	}
	return false
}

// streamLoop delivers samples until the session ends, --count is reached or
// ctx is done
func streamLoop(ctx context.Context, p *pipeline.Pipeline, sink sampleSink, logger *logrus.Logger) error {
	ticker := time.NewTicker(streamPollInterval)
	defer ticker.Stop()

	for {
		if err := sink.deliver(p); err != nil {
			p.Disconnect()
			return err
		}
		if streamCount > 0 && sink.delivered() >= uint64(streamCount) {
			p.Disconnect()
			return nil
		}

		switch p.State() {
		case link.Failed:
			return p.Failure()
		case link.Disconnected:
			_ = sink.deliver(p)
			return ErrConnectionLost
		}

		select {
		case <-ctx.Done():
			logger.Info("Interrupted, disconnecting")
			p.Disconnect()
			return nil
		case <-ticker.C:
		}
	}
}
