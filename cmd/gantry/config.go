package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config is the optional training configuration file passed with --config.
// Numeric fields are pointers so "not set" is distinguishable from zero.
type Config struct {
	Epochs       *int64   `yaml:"epochs"`
	LearningRate *float64 `yaml:"learning_rate"`
	Gamma        *float64 `yaml:"gamma"`
	Patience     *int64   `yaml:"patience"`
	Accumulation *int64   `yaml:"accumulation"`
	Samples      *int64   `yaml:"samples"`
	BatchSize    *int64   `yaml:"batch_size"`
	Seed         *int64   `yaml:"seed"`

	Checkpoint  string `yaml:"checkpoint"`
	MonitorAddr string `yaml:"monitor_addr"`
	LogFormat   string `yaml:"log_format"`
}

// loadConfig reads a YAML config file. A missing path returns an empty
// config.
func loadConfig(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %v", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %v", err)
	}
	return cfg, nil
}

// applyTrainConfig applies config file values to train command variables
// when the corresponding CLI flag was not explicitly set.
func applyTrainConfig(c *cli.Command, cfg Config,
	epochs, patience, accumulation, samples, batchSize, seed *int64,
	learningRate, gamma *float64,
	checkpoint, monitorAddr, logFormat *string,
) {
	if cfg.Epochs != nil && !c.IsSet("epochs") {
		*epochs = *cfg.Epochs
	}
	if cfg.LearningRate != nil && !c.IsSet("lr") {
		*learningRate = *cfg.LearningRate
	}
	if cfg.Gamma != nil && !c.IsSet("gamma") {
		*gamma = *cfg.Gamma
	}
	if cfg.Patience != nil && !c.IsSet("patience") {
		*patience = *cfg.Patience
	}
	if cfg.Accumulation != nil && !c.IsSet("accumulation") {
		*accumulation = *cfg.Accumulation
	}
	if cfg.Samples != nil && !c.IsSet("samples") {
		*samples = *cfg.Samples
	}
	if cfg.BatchSize != nil && !c.IsSet("batch-size") {
		*batchSize = *cfg.BatchSize
	}
	if cfg.Seed != nil && !c.IsSet("seed") {
		*seed = *cfg.Seed
	}
	if cfg.Checkpoint != "" && !c.IsSet("checkpoint") {
		*checkpoint = cfg.Checkpoint
	}
	if cfg.MonitorAddr != "" && !c.IsSet("monitor-addr") {
		*monitorAddr = cfg.MonitorAddr
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		*logFormat = cfg.LogFormat
	}
}
