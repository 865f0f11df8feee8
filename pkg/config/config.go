// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the YAML configuration shared by the consistent
// commands and watches it for changes.
//
// Example file:
//
//	logging:
//	  level: info
//	  format: auto
//	telemetry:
//	  service_name: consistent
//	  trace_exporter: none
//	  metric_exporter: prometheus
//	runtime:
//	  queue_warn_threshold: 1000
//	journal:
//	  path: ~/.consistent/journal
//	  sync_writes: true
//	workload:
//	  workers: 8
//	  variables: 16
//	  transactions: 500
//	  span: 2
//	  rate: 2000
//	monitor:
//	  addr: 127.0.0.1:9464
//
// Missing sections keep the values from Default.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/consistent/pkg/journal"
	"github.com/AleutianAI/consistent/pkg/logging"
	"github.com/AleutianAI/consistent/pkg/telemetry"
	"github.com/AleutianAI/consistent/services/loadgen"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	if err := v.RegisterValidation("listen_addr", isListenAddr); err != nil {
		panic(err)
	}
	return v
}

// isListenAddr accepts "host:port" or ":port" with a numeric port in
// 0..65535. Port 0 asks the kernel for a free port.
func isListenAddr(fl validator.FieldLevel) bool {
	host, port, err := net.SplitHostPort(fl.Field().String())
	if err != nil {
		return false
	}
	if _, err := strconv.ParseUint(port, 10, 16); err != nil {
		return false
	}
	return !strings.ContainsAny(host, " /")
}

// Config is the whole configuration file.
type Config struct {
	Logging   LoggingConfig    `yaml:"logging" json:"logging"`
	Telemetry telemetry.Config `yaml:"telemetry" json:"telemetry"`
	Runtime   RuntimeConfig    `yaml:"runtime" json:"runtime"`
	Journal   JournalConfig    `yaml:"journal" json:"journal"`
	Workload  loadgen.Config   `yaml:"workload" json:"workload"`
	Monitor   MonitorConfig    `yaml:"monitor" json:"monitor"`
}

// LoggingConfig is the logging section.
type LoggingConfig struct {
	Level   string `yaml:"level" json:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format  string `yaml:"format" json:"format" validate:"omitempty,oneof=auto text json"`
	Dir     string `yaml:"dir" json:"dir"`
	Service string `yaml:"service" json:"service"`
}

// RuntimeConfig is the runtime section.
type RuntimeConfig struct {
	// QueueWarnThreshold logs a warning when more batches than this are
	// pending. Zero disables the warning.
	QueueWarnThreshold int `yaml:"queue_warn_threshold" json:"queue_warn_threshold" validate:"gte=0"`
}

// JournalConfig is the journal section. An empty path disables the
// journal unless in_memory is set.
type JournalConfig struct {
	Path           string        `yaml:"path" json:"path"`
	InMemory       bool          `yaml:"in_memory" json:"in_memory"`
	SyncWrites     bool          `yaml:"sync_writes" json:"sync_writes"`
	GCInterval     time.Duration `yaml:"gc_interval" json:"gc_interval" validate:"gte=0"`
	GCDiscardRatio float64       `yaml:"gc_discard_ratio" json:"gc_discard_ratio" validate:"gte=0,lte=1"`
}

// MonitorConfig is the monitor section.
type MonitorConfig struct {
	Addr string `yaml:"addr" json:"addr" validate:"required,listen_addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:   "info",
			Format:  string(logging.FormatAuto),
			Service: "consistent",
		},
		Telemetry: telemetry.DefaultConfig(),
		Runtime:   RuntimeConfig{QueueWarnThreshold: 1000},
		Journal: JournalConfig{
			SyncWrites:     true,
			GCInterval:     5 * time.Minute,
			GCDiscardRatio: 0.5,
		},
		Workload: loadgen.DefaultConfig(),
		Monitor:  MonitorConfig{Addr: "127.0.0.1:9464"},
	}
}

// Load reads path over Default and validates the result. An empty path
// returns Default.
//
// Outputs:
//   - *Config: The merged configuration.
//   - error: A read or parse error, or an error wrapping ErrInvalid.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(expandPath(path))
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// LoggingConfig converts the logging section for logging.New.
func (c *Config) LoggingConfig() (logging.Config, error) {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return logging.Config{}, err
	}
	format := logging.Format(c.Logging.Format)
	if format == "" {
		format = logging.FormatAuto
	}
	return logging.Config{
		Level:   level,
		LogDir:  c.Logging.Dir,
		Service: c.Logging.Service,
		Format:  format,
	}, nil
}

// JournalEnabled reports whether the journal section names a store.
func (c *Config) JournalEnabled() bool {
	return c.Journal.InMemory || c.Journal.Path != ""
}

// JournalConfig converts the journal section for journal.Open.
func (c *Config) JournalConfig() journal.Config {
	return journal.Config{
		Path:           expandPath(c.Journal.Path),
		InMemory:       c.Journal.InMemory,
		SyncWrites:     c.Journal.SyncWrites,
		GCInterval:     c.Journal.GCInterval,
		GCDiscardRatio: c.Journal.GCDiscardRatio,
	}
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
