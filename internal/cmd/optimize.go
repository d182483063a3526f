// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/dotandev/tailrec/internal/driver"
	"github.com/dotandev/tailrec/internal/terminal"
	"github.com/spf13/cobra"
)

var (
	optimizeDryRun   bool
	optimizeWorkers  int
	optimizeSubdir   string
	optimizeTarget   string
	optimizeNoLedger bool
	optimizeForce    bool
	optimizeJSON     bool
)

var optimizeCmd = &cobra.Command{
	Use:   "optimize <dir|file>...",
	Short: "Rewrite self tail calls in class files in place",
	Long: `Walk each directory for *.class files and rewrite every eligible
self-recursive tail call into a jump to the start of the method.

Files are replaced atomically and only when at least one method changed.
A file that cannot be decoded is reported and left alone; the other files
are still processed.

Example:
  tailrec optimize target/classes
  tailrec optimize --classes-subdir classes target
  tailrec optimize --target ">= 1.8" --dry-run build/`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := driver.OptionsFromConfig(appConfig)
		opts.DryRun = optimizeDryRun
		opts.Force = optimizeForce
		if cmd.Flags().Changed("workers") {
			opts.Workers = optimizeWorkers
		}
		if cmd.Flags().Changed("classes-subdir") {
			opts.ClassesSubdir = optimizeSubdir
		}
		if cmd.Flags().Changed("target") {
			opts.TargetRelease = optimizeTarget
		}

		store, closeStore, err := openLedger(appConfig.Ledger && !optimizeNoLedger && !optimizeDryRun, appConfig.LedgerPath)
		if err != nil {
			return err
		}
		defer closeStore()
		opts.Ledger = store

		return runOptimize(cmd.Context(), cmd.OutOrStdout(), args, opts, optimizeJSON)
	},
}

// runOptimize runs the driver and reports to out. It fails when the run
// could not complete or any file failed.
func runOptimize(ctx context.Context, out io.Writer, roots []string, opts driver.Options, asJSON bool) error {
	sum, err := driver.Run(ctx, roots, opts)
	if sum == nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(sum); encErr != nil {
			return encErr
		}
	} else {
		printSummary(terminal.NewANSIRenderer(out), sum, opts.DryRun)
	}

	if err != nil {
		return err
	}
	return sum.Err()
}

func printSummary(r terminal.Renderer, sum *driver.Summary, dryRun bool) {
	for _, f := range sum.Files {
		switch {
		case f.Status == driver.StatusRewritten:
			r.Printf("%s %s %s\n", r.Status(f.Status.String()), f.Path, strings.Join(f.Rewritten, ", "))
		case f.Status.Failed():
			r.Printf("%s %s %s: %s\n", r.Error(), r.Status(f.Status.String()), f.Path, f.Error)
		case f.Status == driver.StatusSkipped:
			r.Printf("%s %s (%s)\n", r.Status(f.Status.String()), f.Path, f.Reason)
		}
	}

	failed := sum.Count(driver.StatusDecodeError) + sum.Count(driver.StatusInternalFault)
	mark := r.Success()
	if failed > 0 {
		mark = r.Warning()
	}
	verb := "rewritten"
	if dryRun {
		verb = "would be rewritten"
	}
	r.Printf("%s %d files, %d %s (%d methods), %d unchanged, %d skipped, %d failed\n",
		mark, len(sum.Files), sum.Count(driver.StatusRewritten), verb, sum.Methods(),
		sum.Count(driver.StatusUnchanged), sum.Count(driver.StatusSkipped), failed)
}

func init() {
	optimizeCmd.Flags().BoolVar(&optimizeDryRun, "dry-run", false, "Report what would change without writing files")
	optimizeCmd.Flags().IntVarP(&optimizeWorkers, "workers", "w", 0, "Files processed in parallel (default: number of CPUs)")
	optimizeCmd.Flags().StringVar(&optimizeSubdir, "classes-subdir", "", "Subdirectory of each root holding the classes, e.g. classes")
	optimizeCmd.Flags().StringVar(&optimizeTarget, "target", "", "Only process classes whose Java release matches this constraint")
	optimizeCmd.Flags().BoolVar(&optimizeNoLedger, "no-ledger", false, "Neither consult nor update the run ledger")
	optimizeCmd.Flags().BoolVar(&optimizeForce, "force", false, "Reprocess files the ledger marks as already optimized")
	optimizeCmd.Flags().BoolVar(&optimizeJSON, "json", false, "Print the run summary as JSON")

	rootCmd.AddCommand(optimizeCmd)
}
