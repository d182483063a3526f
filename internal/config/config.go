// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/dotandev/tailrec/internal/errors"
)

// Telemetry configures OpenTelemetry tracing.
type Telemetry struct {
	Enabled     bool   `toml:"enabled"`
	ExporterURL string `toml:"exporter_url"`
	ServiceName string `toml:"service_name"`
}

// Daemon configures the JSON-RPC server.
type Daemon struct {
	Host      string `toml:"host"`
	Port      string `toml:"port"`
	AuthToken string `toml:"auth_token"`
}

// Config represents the general configuration for tailrec
type Config struct {
	LogLevel string `toml:"log_level"`
	LogJSON  bool   `toml:"log_json"`
	Workers  int    `toml:"workers"`
	// ClassesSubdir is joined to every root that is a directory, so a
	// build output directory can be passed as is.
	ClassesSubdir string `toml:"classes_subdir"`
	// TargetRelease is a version constraint on the Java release a class
	// was compiled for, e.g. ">= 1.6, < 21". Empty matches everything.
	TargetRelease string `toml:"target_release"`
	Ledger        bool   `toml:"ledger"`
	LedgerPath    string `toml:"ledger_path"`

	Telemetry Telemetry `toml:"telemetry"`
	Daemon    Daemon    `toml:"daemon"`
}

// SearchPaths lists the TOML files Load tries, first found wins.
func SearchPaths() []string {
	return []string{
		".tailrec.toml",
		filepath.Join(os.ExpandEnv("$HOME"), ".tailrec.toml"),
		"/etc/tailrec/config.toml",
	}
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:   "info",
		Workers:    runtime.NumCPU(),
		Ledger:     true,
		LedgerPath: filepath.Join(os.ExpandEnv("$HOME"), ".tailrec", "ledger.db"),
		Telemetry: Telemetry{
			ExporterURL: "http://localhost:4318",
			ServiceName: "tailrec",
		},
		Daemon: Daemon{Host: "127.0.0.1", Port: "8080"},
	}
}

// Load builds the configuration from defaults, the first TOML file found
// and TAILREC_* environment variables, in that order.
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom is Load with an explicit config file in place of the search
// paths. An empty path searches.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		for _, p := range SearchPaths() {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays the TOML file at path onto c.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.WrapConfigError("failed to read config file", err)
	}
	return c.parseTOML(string(data))
}

func (c *Config) parseTOML(content string) error {
	md, err := toml.Decode(content, c)
	if err != nil {
		return errors.WrapConfigError("failed to parse config file", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return errors.WrapConfigError("unknown keys: "+strings.Join(keys, ", "), nil)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.LogLevel = getEnv("TAILREC_LOG_LEVEL", c.LogLevel)
	c.ClassesSubdir = getEnv("TAILREC_CLASSES_SUBDIR", c.ClassesSubdir)
	c.TargetRelease = getEnv("TAILREC_TARGET", c.TargetRelease)
	c.LedgerPath = getEnv("TAILREC_LEDGER_PATH", c.LedgerPath)
	c.Telemetry.ExporterURL = getEnv("TAILREC_OTEL_URL", c.Telemetry.ExporterURL)
	c.Daemon.Host = getEnv("TAILREC_DAEMON_HOST", c.Daemon.Host)
	c.Daemon.Port = getEnv("TAILREC_DAEMON_PORT", c.Daemon.Port)
	c.Daemon.AuthToken = getEnv("TAILREC_DAEMON_TOKEN", c.Daemon.AuthToken)

	if v := os.Getenv("TAILREC_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.WrapConfigError("TAILREC_WORKERS must be an integer", err)
		}
		c.Workers = n
	}
	for key, dst := range map[string]*bool{
		"TAILREC_LOG_JSON":  &c.LogJSON,
		"TAILREC_LEDGER":    &c.Ledger,
		"TAILREC_TELEMETRY": &c.Telemetry.Enabled,
	} {
		switch strings.ToLower(os.Getenv(key)) {
		case "1", "true", "yes":
			*dst = true
		case "0", "false", "no":
			*dst = false
		}
	}
	return nil
}

// Validate runs the default validators.
func (c *Config) Validate() error {
	return RunValidators(c, DefaultValidators())
}

func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{LogLevel: %s, Workers: %d, Target: %q, Ledger: %t (%s), Telemetry: %t}",
		c.LogLevel, c.Workers, c.TargetRelease, c.Ledger, c.LedgerPath, c.Telemetry.Enabled,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
