// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/dotandev/tailrec/internal/errors"
	"github.com/dotandev/tailrec/internal/ledger"
	"github.com/dotandev/tailrec/internal/terminal"
	"github.com/spf13/cobra"
)

var (
	historyRun    string
	historyStatus string
	historyPath   string
	historyLimit  int
	historyJSON   bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Search the ledger of processed files",
	Long: `List ledger entries, newest first. Every optimize run records one entry
per file it processed, with the input and output hashes and the methods
that were rewritten.

Example:
  tailrec history --limit 20
  tailrec history --status decode-error
  tailrec history --path 'demo/.*Fact'`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !appConfig.Ledger {
			return errors.WrapConfigError("the ledger is disabled", nil)
		}
		store, closeStore, err := openLedger(true, appConfig.LedgerPath)
		if err != nil {
			return err
		}
		defer closeStore()

		return runHistory(cmd.Context(), cmd.OutOrStdout(), store, ledger.SearchParams{
			RunID:     historyRun,
			Status:    historyStatus,
			PathRegex: historyPath,
			Limit:     historyLimit,
		}, historyJSON)
	},
}

func runHistory(ctx context.Context, out io.Writer, store *ledger.Store, params ledger.SearchParams, asJSON bool) error {
	entries, err := store.Search(ctx, params)
	if err != nil {
		return err
	}
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	r := terminal.NewANSIRenderer(out)
	if len(entries) == 0 {
		r.Println("No entries found.")
		return nil
	}
	for _, e := range entries {
		r.Printf("%s  %s  %-14s %s\n",
			e.Timestamp.Format("2006-01-02 15:04:05"), shortID(e.RunID), r.Status(e.Status), e.Path)
		if len(e.Methods) > 0 {
			r.Printf("    %s\n", strings.Join(e.Methods, ", "))
		}
		if e.Error != "" {
			r.Printf("    %s\n", r.Colorize(e.Error, "red"))
		}
	}
	r.Println(fmt.Sprintf("%d entries", len(entries)))
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	historyCmd.Flags().StringVar(&historyRun, "run", "", "Only entries from this run id")
	historyCmd.Flags().StringVar(&historyStatus, "status", "", "Only entries with this status, e.g. rewritten")
	historyCmd.Flags().StringVar(&historyPath, "path", "", "Only entries whose path matches this regex")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 50, "Maximum number of entries")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Print entries as JSON")

	rootCmd.AddCommand(historyCmd)
}
