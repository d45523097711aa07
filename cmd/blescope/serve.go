package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/srg/blescope/internal/httpapi"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the pipeline over HTTP",
	Long: `Starts an HTTP server exposing scanning, connection control and the sample
stream as a JSON API:

  GET    /health                 liveness probe
  GET    /devices                discovered devices in first-seen order
  POST   /scan, DELETE /scan     start or stop a scan
  POST   /connect/{address}      connect and start streaming
  POST   /disconnect             end the session and clear samples
  POST   /acknowledge            return a failed session to idle
  GET    /connection             connection state and counters
  GET    /samples?since=N&epoch=E  samples with sequence number >= N; a cursor
                                  from an ended session restarts at 0
  GET    /status                 latest status message
  GET    /raw                    most recent raw payloads`,
	RunE: runServe,
}

var serveListen string

func initServeFlags() {
	serveCmd.Flags().StringVarP(&serveListen, "listen", "l", "", "Listen address (default from config, :8080)")
}

func init() {
	initServeFlags()
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if serveListen != "" {
		cfg.Listen = serveListen
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	p, err := newPipeline(cfg, logger)
	if err != nil {
		return err
	}
	defer p.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(cmd.ErrOrStderr(), "Serving on %s\n", cfg.Listen)
	return httpapi.Serve(ctx, cfg.Listen, p, logger)
}
