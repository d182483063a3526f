// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	apperr "github.com/dotandev/tailrec/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, runtime.NumCPU(), cfg.Workers)
	assert.True(t, cfg.Ledger)
	assert.NotEmpty(t, cfg.LedgerPath)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "tailrec", cfg.Telemetry.ServiceName)
	assert.Equal(t, "8080", cfg.Daemon.Port)
	assert.Equal(t, "127.0.0.1", cfg.Daemon.Host)
	assert.NoError(t, cfg.Validate())
}

func TestParseTOML(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.parseTOML(`
# build output
log_level = "debug"
workers = 4
classes_subdir = "target/classes"
target_release = ">= 1.8"
ledger = false

[telemetry]
enabled = true
exporter_url = "http://collector:4318"

[daemon]
port = "9000"
auth_token = "secret"
`)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, "target/classes", cfg.ClassesSubdir)
	assert.Equal(t, ">= 1.8", cfg.TargetRelease)
	assert.False(t, cfg.Ledger)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "http://collector:4318", cfg.Telemetry.ExporterURL)
	// Keys absent from the file keep their defaults.
	assert.Equal(t, "tailrec", cfg.Telemetry.ServiceName)
	assert.Equal(t, "9000", cfg.Daemon.Port)
	assert.Equal(t, "secret", cfg.Daemon.AuthToken)
}

func TestParseTOML_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"syntax", `log_level = `},
		{"wrong type", `workers = "four"`},
		{"unknown key", `rpc_url = "https://example.com"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := DefaultConfig().parseTOML(tt.content)
			assert.True(t, errors.Is(err, apperr.ErrConfig), "got %v", err)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tailrec.toml")
	require.NoError(t, os.WriteFile(path, []byte(`workers = 2`), 0644))

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFile(path))
	assert.Equal(t, 2, cfg.Workers)

	err := cfg.LoadFile(filepath.Join(t.TempDir(), "missing.toml"))
	assert.True(t, errors.Is(err, apperr.ErrConfig))
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	require.NoError(t, os.WriteFile(".tailrec.toml", []byte("workers = 3\nlog_level = \"warn\"\n"), 0644))
	t.Setenv("TAILREC_LOG_LEVEL", "debug")
	t.Setenv("TAILREC_LEDGER", "false")
	t.Setenv("TAILREC_TARGET", "< 9")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.False(t, cfg.Ledger)
	assert.Equal(t, "< 9", cfg.TargetRelease)
	assert.Equal(t, filepath.Join(dir, ".tailrec", "ledger.db"), cfg.LedgerPath)
}

func TestLoadFrom(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	path := filepath.Join(dir, "custom.toml")
	require.NoError(t, os.WriteFile(path, []byte("classes_subdir = \"classes\"\n[daemon]\nport = \"9090\"\n"), 0644))
	t.Setenv("TAILREC_DAEMON_TOKEN", "s3cret")
	t.Setenv("TAILREC_DAEMON_HOST", "0.0.0.0")

	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "classes", cfg.ClassesSubdir)
	assert.Equal(t, "9090", cfg.Daemon.Port)
	assert.Equal(t, "s3cret", cfg.Daemon.AuthToken)
	assert.Equal(t, "0.0.0.0", cfg.Daemon.Host)

	_, err = LoadFrom(filepath.Join(dir, "missing.toml"))
	assert.True(t, errors.Is(err, apperr.ErrConfig))
}

func TestLoad_EnvErrors(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)

	tests := []struct {
		name, key, value string
	}{
		{"workers not a number", "TAILREC_WORKERS", "many"},
		{"negative workers", "TAILREC_WORKERS", "-2"},
		{"bad level", "TAILREC_LOG_LEVEL", "loud"},
		{"bad constraint", "TAILREC_TARGET", "java 8"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.True(t, errors.Is(err, apperr.ErrConfig), "got %v", err)
		})
	}
}

func TestConfig_String(t *testing.T) {
	cfg := &Config{LogLevel: "info", Workers: 2, TargetRelease: ">= 1.8", Ledger: true, LedgerPath: "/tmp/l.db"}
	assert.Contains(t, cfg.String(), `Target: ">= 1.8"`)
	assert.Contains(t, cfg.String(), "Workers: 2")
}
