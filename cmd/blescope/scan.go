package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/blescope/internal/device"
	"github.com/srg/blescope/pkg/config"
	"github.com/srg/blescope/pkg/pipeline"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for BLE devices",
	Long: `Scan for and display Bluetooth Low Energy devices in the vicinity.

The scan runs for --duration (or until Ctrl+C) and lists the discovered
devices in first-seen order with their names, addresses, RSSI values and
advertised services. Devices without a name are hidden unless
--include-unnamed is set.`,
	RunE: runScan,
}

var (
	scanDuration       time.Duration
	scanFormat         string
	scanServices       []string
	scanAllowList      []string
	scanBlockList      []string
	scanIncludeUnnamed bool
)

var validFormats = []string{"table", "json"}

func initScanFlags() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
	scanCmd.Flags().StringSliceVarP(&scanServices, "services", "s", nil, "Filter by advertised service UUIDs")
	scanCmd.Flags().StringSliceVar(&scanAllowList, "allow", nil, "Only show devices with these addresses")
	scanCmd.Flags().StringSliceVar(&scanBlockList, "block", nil, "Hide devices with these addresses")
	scanCmd.Flags().BoolVar(&scanIncludeUnnamed, "include-unnamed", false, "Also list devices that advertise no name")
}

func init() {
	initScanFlags()
}

// applyScanFlags overrides config values with the flags given on the command line
func applyScanFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("duration") {
		cfg.ScanTimeout = scanDuration
	}
	if flags.Changed("format") {
		cfg.OutputFormat = scanFormat
	}
	if flags.Changed("services") {
		cfg.ServiceUUIDs = device.NormalizeUUIDs(scanServices)
	}
	if flags.Changed("allow") {
		cfg.AllowList = scanAllowList
	}
	if flags.Changed("block") {
		cfg.BlockList = scanBlockList
	}
	if flags.Changed("include-unnamed") {
		cfg.IncludeUnnamed = scanIncludeUnnamed
	}
}

func runScan(cmd *cobra.Command, args []string) error {
	if !slices.Contains(validFormats, scanFormat) {
		return fmt.Errorf("invalid format '%s': must be one of %v", scanFormat, validFormats)
	}

	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyScanFlags(cmd, cfg)

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	p, err := newPipeline(cfg, logger)
	if err != nil {
		return err
	}
	defer p.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := scanUntilDone(ctx, cmd, p, cfg.ScanTimeout); err != nil {
		return err
	}

	errOut := cmd.ErrOrStderr()
	fmt.Fprintln(errOut, formatStatus(p.Status(), isTerminal(errOut)))
	return displayDevices(cmd.OutOrStdout(), p.Devices(), cfg.OutputFormat)
}

// scanUntilDone runs one scan to completion; cancelling ctx ends it early
// without an error
func scanUntilDone(ctx context.Context, cmd *cobra.Command, p *pipeline.Pipeline, timeout time.Duration) error {
	if err := p.StartScan(); err != nil {
		return err
	}

	if errOut := cmd.ErrOrStderr(); isTerminal(errOut) {
		progress := NewCountdownProgressPrinter(errOut, "Scanning for BLE devices", "Scanning", timeout)
		progress.Start()
		defer progress.Stop()
	}

	select {
	case <-p.ScanDone():
	case <-ctx.Done():
		p.StopScan()
		<-p.ScanDone()
	}

	if sess := p.Scan(); sess != nil {
		return sess.Err()
	}
	return nil
}
