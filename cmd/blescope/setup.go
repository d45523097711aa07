package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blescope/internal/devicefactory"
	"github.com/srg/blescope/pkg/config"
	"github.com/srg/blescope/pkg/pipeline"
)

// loadConfig reads --config (defaults when unset) and builds the logger.
// Callers apply their flag overrides before creating the pipeline.
func loadConfig(cmd *cobra.Command) (*config.Config, *logrus.Logger, error) {
	path, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}

	logger, err := configureLogger(cmd, cfg, path != "")
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// newPipeline wires a pipeline over the platform radio
func newPipeline(cfg *config.Config, logger *logrus.Logger) (*pipeline.Pipeline, error) {
	radio, err := devicefactory.NewRadio(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE radio: %w", err)
	}
	return pipeline.New(radio, nil, cfg, logger)
}
