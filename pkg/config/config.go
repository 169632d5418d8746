// Package config provides configuration loading and management for maskfeat.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"maskfeat/internal/models"
	"maskfeat/pkg/features"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Input selects the containers and how records are laid out in them
	Input struct {
		// Files lists the image containers to process
		Files []string `yaml:"files,omitempty"`

		// MaskFiles lists one mask container per image container for the paired layout
		MaskFiles []string `yaml:"maskFiles,omitempty"`

		// Layout is interleaved (image and mask planes alternate) or paired
		Layout string `yaml:"layout"`

		// ImageLimit caps the records read per container, -1 reads all
		ImageLimit int `yaml:"imageLimit"`

		// Channels is the ordered channel selection
		Channels []int `yaml:"channels"`
	} `yaml:"input"`

	// Processing parameters
	Processing struct {
		// Workers is the size of the feature worker pool
		Workers int `yaml:"workers"`

		// QueueCapacity bounds the tasks waiting for a worker
		QueueCapacity int `yaml:"queueCapacity"`

		// ShutdownGrace bounds how long workers may run after an interrupt
		ShutdownGrace time.Duration `yaml:"shutdownGrace"`

		// ProgressEvery logs progress every n written vectors
		ProgressEvery int `yaml:"progressEvery"`
	} `yaml:"processing"`

	// Feature selection and parameters
	Features struct {
		// Names lists features and feature groups in output order; see the
		// features command for the catalog
		Names []string `yaml:"names"`

		// All selects every feature of the catalog and ignores Names
		All bool `yaml:"all"`

		// Haralick configures the grey-level co-occurrence matrix
		Haralick struct {
			// GreyLevels is the number of quantisation levels, at least 2
			GreyLevels int `yaml:"greyLevels"`
			// Distance is the pixel offset between paired pixels
			Distance int `yaml:"distance"`
		} `yaml:"haralick"`

		// Zernike selects the moment A_nm
		Zernike struct {
			// Order is n, non-negative
			Order int `yaml:"order"`
			// Repetition is m, with |m| <= n and n - |m| even
			Repetition int `yaml:"repetition"`
		} `yaml:"zernike"`
	} `yaml:"features"`

	// Output parameters
	Output struct {
		// Path is a .csv or .tsv file, or a postgres:// connection string
		Path string `yaml:"path"`

		// Delimiter overrides the delimiter chosen from the extension
		Delimiter string `yaml:"delimiter"`

		// BatchSize is the number of rows per COPY for table output
		BatchSize int `yaml:"batchSize"`

		// Table names the destination table for table output
		Table string `yaml:"table"`

		// SaveIntermediaryResults saves a rendering of every rejected record
		SaveIntermediaryResults bool `yaml:"saveIntermediaryResults"`

		// IntermediaryDir is where rejected record renderings are saved
		IntermediaryDir string `yaml:"intermediaryDir"`
	} `yaml:"output"`

	Logging struct {
		// Level is one of debug, info, warn, error
		Level string `yaml:"level"`

		// Development enables the human-readable console encoder
		Development bool `yaml:"development"`
	} `yaml:"logging"`

	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Address string `yaml:"address"`
	} `yaml:"metrics"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Input.Layout = "interleaved"
	cfg.Input.ImageLimit = -1
	cfg.Input.Channels = []int{0}

	cfg.Processing.Workers = runtime.NumCPU()
	cfg.Processing.QueueCapacity = 2 * runtime.NumCPU()
	cfg.Processing.ShutdownGrace = 30 * time.Second
	cfg.Processing.ProgressEvery = 1000

	params := features.DefaultParams()
	cfg.Features.Names = []string{"mean", "stdDev", "size", "circularity"}
	cfg.Features.Haralick.GreyLevels = params.HaralickGreyLevels
	cfg.Features.Haralick.Distance = params.HaralickDistance
	cfg.Features.Zernike.Order = params.ZernikeOrder
	cfg.Features.Zernike.Repetition = params.ZernikeRepetition

	cfg.Output.Path = "features.csv"
	cfg.Output.BatchSize = 1000
	cfg.Output.Table = "features"
	cfg.Output.IntermediaryDir = "rejected"

	cfg.Logging.Level = "info"

	cfg.Metrics.Address = ":9090"

	return cfg
}

// FeatureParams returns the feature parameters of the configuration
func (c *Config) FeatureParams() features.Params {
	return features.Params{
		HaralickGreyLevels: c.Features.Haralick.GreyLevels,
		HaralickDistance:   c.Features.Haralick.Distance,
		ZernikeOrder:       c.Features.Zernike.Order,
		ZernikeRepetition:  c.Features.Zernike.Repetition,
	}
}

// Validate reports the first invalid setting as a *models.ConfigurationError
func (c *Config) Validate() error {
	if len(c.Input.Channels) == 0 {
		return models.NewConfigurationError("input.channels", "at least one channel is required")
	}
	for _, ch := range c.Input.Channels {
		if ch < 0 {
			return models.NewConfigurationError("input.channels", "negative channel %d", ch)
		}
	}
	if c.Input.ImageLimit < -1 {
		return models.NewConfigurationError("input.imageLimit", "must be -1 or non-negative, got %d", c.Input.ImageLimit)
	}
	switch c.Input.Layout {
	case "interleaved":
		if len(c.Input.MaskFiles) > 0 {
			return models.NewConfigurationError("input.maskFiles", "mask files require the paired layout")
		}
	case "paired":
		if len(c.Input.MaskFiles) != len(c.Input.Files) {
			return models.NewConfigurationError("input.maskFiles", "need one mask file per input file, got %d for %d",
				len(c.Input.MaskFiles), len(c.Input.Files))
		}
	default:
		return models.NewConfigurationError("input.layout", "unknown layout %q", c.Input.Layout)
	}

	if c.Processing.Workers < 1 {
		return models.NewConfigurationError("processing.workers", "must be positive, got %d", c.Processing.Workers)
	}
	if c.Processing.QueueCapacity < 1 {
		return models.NewConfigurationError("processing.queueCapacity", "must be positive, got %d", c.Processing.QueueCapacity)
	}
	if c.Processing.ShutdownGrace <= 0 {
		return models.NewConfigurationError("processing.shutdownGrace", "must be positive, got %s", c.Processing.ShutdownGrace)
	}

	if !c.Features.All && len(c.Features.Names) == 0 {
		return models.NewConfigurationError("features.names", "no features requested")
	}
	if err := c.FeatureParams().Validate(); err != nil {
		return models.NewConfigurationError("features", "%v", err)
	}

	if c.Output.Path == "" {
		return models.NewConfigurationError("output.path", "an output path is required")
	}
	if len([]rune(c.Output.Delimiter)) > 1 {
		return models.NewConfigurationError("output.delimiter", "must be a single character, got %q", c.Output.Delimiter)
	}
	if c.Output.BatchSize < 1 {
		return models.NewConfigurationError("output.batchSize", "must be positive, got %d", c.Output.BatchSize)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return models.NewConfigurationError("logging.level", "unknown level %q", c.Logging.Level)
	}
	return nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}
