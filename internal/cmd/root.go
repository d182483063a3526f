// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dotandev/tailrec/internal/config"
	"github.com/dotandev/tailrec/internal/logger"
	"github.com/dotandev/tailrec/internal/shutdown"
	"github.com/dotandev/tailrec/internal/telemetry"
	"github.com/spf13/cobra"
)

// Global flag variables
var (
	ConfigFlag   string
	LogLevelFlag string
	LogJSONFlag  bool
)

// appConfig is loaded once per invocation by the root pre-run hook.
var appConfig = config.DefaultConfig()

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tailrec",
	Short: "Turn self-recursive tail calls in JVM class files into loops",
	Long: `tailrec rewrites compiled JVM classes so that methods calling themselves
in tail position jump back to their start instead of growing the stack.

Only methods that cannot be overridden are touched: static, private and
final methods, and any method of a final class.

Examples:
  tailrec optimize target/classes           Rewrite every class in place
  tailrec optimize --dry-run build/         Report without writing
  tailrec inspect Fact.class                Show per-method verdicts
  tailrec history --status rewritten        Query the run ledger
  tailrec depcheck pom.xml                  Find dependency version clashes`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFrom(ConfigFlag)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("log-level") {
			cfg.LogLevel = LogLevelFlag
		}
		if cmd.Flags().Changed("log-json") {
			cfg.LogJSON = LogJSONFlag
		}
		if err := logger.Configure(cfg.LogLevel, os.Stderr, cfg.LogJSON); err != nil {
			return err
		}
		logger.Logger.Debug("Configuration loaded", "config", cfg.String())

		flush, err := telemetry.Init(cmd.Context(), cfg.Telemetry, Version)
		if err != nil {
			return err
		}
		registerShutdownHook("telemetry-flush", flush)

		appConfig = cfg
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	coordinator := shutdown.NewCoordinator()
	setShutdownCoordinator(coordinator)
	defer clearShutdownCoordinator()

	return executeWithSignals(ctx, cancel, sigCh, coordinator, rootCmd.ExecuteContext)
}

// executeWithSignals runs fn and then the shutdown hooks. A signal cancels
// fn's context; fn gets shutdownTimeout to wind down before the hooks run
// and ErrInterrupted is returned.
func executeWithSignals(
	ctx context.Context,
	cancel context.CancelFunc,
	sigCh <-chan os.Signal,
	coordinator *shutdown.Coordinator,
	fn func(context.Context) error,
) error {
	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()

	select {
	case err := <-done:
		runShutdownHooksWithTimeout(coordinator, shutdownTimeout)
		return err
	case sig := <-sigCh:
		logger.Logger.Warn("Interrupted, finishing in-flight files", "signal", sig.String())
		cancel()
		waitForCompletion(done, shutdownTimeout)
		runShutdownHooksWithTimeout(coordinator, shutdownTimeout)
		return ErrInterrupted
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&ConfigFlag,
		"config",
		"",
		"Config file (default: first of "+config.SearchPaths()[0]+", ~/.tailrec.toml, /etc/tailrec/config.toml)",
	)

	rootCmd.PersistentFlags().StringVar(
		&LogLevelFlag,
		"log-level",
		"",
		"Log level: debug, info, warn or error",
	)

	rootCmd.PersistentFlags().BoolVar(
		&LogJSONFlag,
		"log-json",
		false,
		"Write logs as JSON",
	)
}
