// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	stderrors "errors"
	"io"

	"github.com/dotandev/tailrec/internal/depcheck"
	"github.com/dotandev/tailrec/internal/terminal"
	"github.com/spf13/cobra"
)

var depcheckStrict bool

// ErrVersionConflicts is returned by depcheck --strict when any
// dependency is declared with more than one version.
var ErrVersionConflicts = stderrors.New("dependency version conflicts found")

var depcheckCmd = &cobra.Command{
	Use:   "depcheck [pom.xml|dir]",
	Short: "Report dependencies declared with different versions across modules",
	Long: `Read a Maven aggregator pom and every module below it, and report each
dependency that a later module declares with a different version than the
first module that declared it. Property references are expanded.

Example:
  tailrec depcheck
  tailrec depcheck --strict path/to/pom.xml`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "."
		if len(args) == 1 {
			path = args[0]
		}
		return runDepcheck(cmd.OutOrStdout(), path, depcheckStrict)
	},
}

func runDepcheck(out io.Writer, path string, strict bool) error {
	projects, err := depcheck.Collect(path)
	if projects == nil && err != nil {
		return err
	}
	r := terminal.NewANSIRenderer(out)
	if err != nil {
		r.Printf("%s %v\n", r.Warning(), err)
	}

	conflicts := depcheck.Check(projects)
	for _, c := range conflicts {
		r.Printf("%s %s (%s, %s)\n", r.Warning(), c.String(), c.HaveModule, c.NewModule)
	}
	if len(conflicts) == 0 {
		r.Printf("%s %d modules, no version conflicts\n", r.Success(), len(projects))
		return nil
	}
	r.Printf("%d conflicts in %d modules\n", len(conflicts), len(projects))
	if strict {
		return ErrVersionConflicts
	}
	return nil
}

func init() {
	depcheckCmd.Flags().BoolVar(&depcheckStrict, "strict", false, "Exit with an error when conflicts are found")

	rootCmd.AddCommand(depcheckCmd)
}
