package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/srg/blescope/internal/device"
	"github.com/srg/blescope/internal/status"
	"golang.org/x/term"
)

const (
	maxNameWidth     = 20
	maxServicesWidth = 30
)

// isTerminal reports whether w is an interactive terminal
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// rssiColor grades signal strength: strong green, usable yellow, weak red
func rssiColor(rssi int) *color.Color {
	switch {
	case rssi >= -60:
		return color.New(color.FgGreen)
	case rssi >= -80:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max-3] + "..."
	}
	return s
}

func displayDevices(w io.Writer, devices []device.Peripheral, format string) error {
	if strings.ToLower(format) == "json" {
		return displayDevicesJSON(w, devices)
	}
	return displayDevicesTable(w, devices, isTerminal(w))
}

func displayDevicesTable(w io.Writer, devices []device.Peripheral, colorize bool) error {
	if len(devices) == 0 {
		fmt.Fprintln(w, "No devices discovered")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tADDRESS\tRSSI\tSERVICES")
	fmt.Fprintln(tw, "----\t-------\t----\t--------")

	for _, p := range devices {
		rssi := fmt.Sprintf("%d dBm", p.RSSI)
		if colorize {
			c := rssiColor(p.RSSI)
			c.EnableColor()
			rssi = c.Sprint(rssi)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			truncate(p.DisplayName(), maxNameWidth),
			p.Address,
			rssi,
			truncate(strings.Join(p.Services, ","), maxServicesWidth))
	}

	return tw.Flush()
}

func displayDevicesJSON(w io.Writer, devices []device.Peripheral) error {
	if devices == nil {
		devices = []device.Peripheral{}
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(devices)
}

// formatStatus renders a status line, colored by level on terminals
func formatStatus(st status.Status, colorize bool) string {
	if !colorize {
		return st.Text
	}
	var c *color.Color
	switch st.Level {
	case status.LevelWarn:
		c = color.New(color.FgYellow)
	case status.LevelError:
		c = color.New(color.FgRed, color.Bold)
	default:
		c = color.New(color.FgCyan)
	}
	c.EnableColor()
	return c.Sprint(st.Text)
}

// printStatuses writes every observed status to w until updates is closed
// or ctx is done; the returned channel is closed on exit
func printStatuses(ctx context.Context, w io.Writer, updates <-chan status.Status) <-chan struct{} {
	done := make(chan struct{})
	colorize := isTerminal(w)
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case st, ok := <-updates:
				if !ok {
					return
				}
				fmt.Fprintln(w, formatStatus(st, colorize))
			}
		}
	}()
	return done
}
