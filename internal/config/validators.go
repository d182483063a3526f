// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/dotandev/tailrec/internal/errors"
	"github.com/hashicorp/go-version"
)

// Validator validates a specific aspect of the configuration.
type Validator interface {
	Validate(cfg *Config) error
}

// LogLevelValidator checks that the log level is a known value.
type LogLevelValidator struct{}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func (v LogLevelValidator) Validate(cfg *Config) error {
	if cfg.LogLevel == "" {
		return nil
	}
	if !validLogLevels[strings.ToLower(cfg.LogLevel)] {
		return errors.WrapConfigError("log_level must be one of: debug, info, warn, error", nil)
	}
	return nil
}

// WorkersValidator rejects negative worker counts. Zero means one per CPU.
type WorkersValidator struct{}

func (v WorkersValidator) Validate(cfg *Config) error {
	if cfg.Workers < 0 {
		return errors.WrapConfigError("workers cannot be negative, got "+strconv.Itoa(cfg.Workers), nil)
	}
	return nil
}

// TargetValidator checks that target_release parses as a constraint.
type TargetValidator struct{}

func (v TargetValidator) Validate(cfg *Config) error {
	if cfg.TargetRelease == "" {
		return nil
	}
	if _, err := version.NewConstraint(cfg.TargetRelease); err != nil {
		return errors.WrapConfigError("invalid target_release", err)
	}
	return nil
}

// LedgerValidator requires a path when the ledger is enabled.
type LedgerValidator struct{}

func (v LedgerValidator) Validate(cfg *Config) error {
	if cfg.Ledger && cfg.LedgerPath == "" {
		return errors.WrapConfigError("ledger_path cannot be empty when the ledger is enabled", nil)
	}
	return nil
}

// TelemetryValidator checks the exporter URL when tracing is on.
type TelemetryValidator struct{}

func (v TelemetryValidator) Validate(cfg *Config) error {
	if !cfg.Telemetry.Enabled {
		return nil
	}
	u, err := url.Parse(cfg.Telemetry.ExporterURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.WrapConfigError("telemetry.exporter_url must be an http or https URL", err)
	}
	return nil
}

// DaemonValidator checks the daemon port.
type DaemonValidator struct{}

func (v DaemonValidator) Validate(cfg *Config) error {
	if cfg.Daemon.Port == "" {
		return nil
	}
	p, err := strconv.Atoi(cfg.Daemon.Port)
	if err != nil || p < 1 || p > 65535 {
		return errors.WrapConfigError("daemon.port must be between 1 and 65535", nil)
	}
	return nil
}

// DefaultValidators returns the standard set of validators.
func DefaultValidators() []Validator {
	return []Validator{
		LogLevelValidator{},
		WorkersValidator{},
		TargetValidator{},
		LedgerValidator{},
		TelemetryValidator{},
		DaemonValidator{},
	}
}

// RunValidators executes each validator against the config, returning the
// first error encountered.
func RunValidators(cfg *Config, validators []Validator) error {
	for _, v := range validators {
		if err := v.Validate(cfg); err != nil {
			return err
		}
	}
	return nil
}
