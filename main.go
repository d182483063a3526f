// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/dotandev/tailrec/internal/cmd"
)

// Build-time variables injected via -ldflags.
var (
	version   = "dev"
	commitSHA = "unknown"
)

func main() {
	cmd.Version = version
	if commitSHA != "unknown" {
		cmd.Version += " (" + commitSHA + ")"
	}
	os.Exit(run(cmd.Execute, os.Stderr))
}

// run maps the command's error to an exit code.
func run(execute func() error, stderr io.Writer) int {
	err := execute()
	switch {
	case err == nil:
		return 0
	case cmd.IsInterrupted(err):
		fmt.Fprintln(stderr, "Interrupted. Shutting down...")
		return cmd.InterruptExitCode
	default:
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
}
