// Package bootstrap loads configuration and wires the stores, clients and
// pipeline used by the commands.
package bootstrap

import (
	"fmt"

	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/config"
	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/logger"
)

// LoadConfig loads the configuration from path, or from CONFIG_PATH or
// config.yml when path is empty.
func LoadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = config.GetConfigPath(config.DefaultPath)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// CreateLogger builds the service logger. debug forces debug level and
// development output.
func CreateLogger(cfg *config.Config, debug bool) (logger.Logger, error) {
	logCfg := cfg.Logging
	logCfg.Development = logCfg.Development || cfg.Service.Debug || debug
	if debug {
		logCfg.Level = "debug"
	}

	log, err := logger.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	return log.With(logger.String("service", cfg.Service.Name)), nil
}
