// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads isgraph configuration from YAML.
//
// Defaults are embedded in the binary. A user file overrides any subset of
// them. The file is chosen by the explicit path, then the ISG_CONFIG
// environment variable; with neither, the defaults are used as is.
//
// Thread Safety:
//
//	All exported functions are safe for concurrent use. A *Config is a
//	plain value and must not be mutated after it is shared.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable holding a config path.
const EnvConfigPath = "ISG_CONFIG"

// MaxYAMLFileSize is the largest config file accepted (1MB).
const MaxYAMLFileSize = 1024 * 1024

//go:embed default.yaml
var defaultYAML []byte

// ErrInvalidConfig is returned when a config fails validation.
var ErrInvalidConfig = errors.New("invalid config")

var configValidate = validator.New(validator.WithRequiredStructEnabled())

// Config is the full isgraph configuration.
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Server    ServerConfig    `yaml:"server"`
	Load      LoadConfig      `yaml:"load"`
	Cluster   ClusterConfig   `yaml:"cluster"`
	Export    ExportConfig    `yaml:"export"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// StorageConfig selects and tunes the persistence backend.
type StorageConfig struct {
	Backend    string        `yaml:"backend" validate:"oneof=memory badger sqlite"`
	Path       string        `yaml:"path" validate:"required_unless=Backend memory"`
	SyncWrites bool          `yaml:"sync_writes"`
	GCInterval time.Duration `yaml:"gc_interval" validate:"gte=0"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host  string `yaml:"host"`
	Port  int    `yaml:"port" validate:"min=1,max=65535"`
	Debug bool   `yaml:"debug"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoadConfig tunes bulk loads.
type LoadConfig struct {
	Workers int `yaml:"workers" validate:"gte=0,lte=1024"`
}

// ClusterConfig tunes label propagation.
type ClusterConfig struct {
	MaxIterations    int  `yaml:"max_iterations" validate:"min=1,max=1000"`
	FoldMultiplicity bool `yaml:"fold_multiplicity"`
}

// ExportConfig holds export defaults.
type ExportConfig struct {
	IncludeCurrentCode bool  `yaml:"include_current_code"`
	MaxBytes           int64 `yaml:"max_bytes" validate:"gte=0"`
	CacheSize          int   `yaml:"cache_size" validate:"min=1,max=100000"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	JSON   bool   `yaml:"json"`
	LogDir string `yaml:"log_dir"`
}

// TelemetryConfig selects OpenTelemetry exporters for the server.
type TelemetryConfig struct {
	Environment    string  `yaml:"environment"`
	TraceExporter  string  `yaml:"trace_exporter" validate:"oneof=none stdout otlp"`
	MetricExporter string  `yaml:"metric_exporter" validate:"oneof=none stdout prometheus"`
	OTLPEndpoint   string  `yaml:"otlp_endpoint" validate:"required_if=TraceExporter otlp"`
	OTLPInsecure   bool    `yaml:"otlp_insecure"`
	SampleRatio    float64 `yaml:"sample_ratio" validate:"gte=0,lte=1"`
}

// Default returns the embedded defaults.
func Default() *Config {
	cfg, err := parse(nil)
	if err != nil {
		// The embedded file is covered by tests.
		panic(fmt.Sprintf("config: embedded defaults: %v", err))
	}
	return cfg
}

// Load reads configuration.
//
// Inputs:
//
//	path - Config file. Empty falls back to $ISG_CONFIG, then to defaults.
//
// Outputs:
//
//	*Config - Defaults overlaid with the file, validated.
//	error - Read, parse, or ErrInvalidConfig errors.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		return parse(nil)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if info.Size() > MaxYAMLFileSize {
		return nil, fmt.Errorf("config file %s is %d bytes, limit %d", path, info.Size(), MaxYAMLFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// parse overlays data on the embedded defaults and validates the result.
func parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(defaultYAML, &cfg); err != nil {
		return nil, fmt.Errorf("parsing defaults: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}
	cfg.Storage.Backend = strings.ToLower(cfg.Storage.Backend)
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	cfg.Telemetry.TraceExporter = strings.ToLower(cfg.Telemetry.TraceExporter)
	cfg.Telemetry.MetricExporter = strings.ToLower(cfg.Telemetry.MetricExporter)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every field constraint.
func (c *Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}
