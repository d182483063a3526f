// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"os"

	"github.com/dotandev/tailrec/internal/bytecode"
	"github.com/dotandev/tailrec/internal/classfile"
	"github.com/dotandev/tailrec/internal/driver"
	"github.com/dotandev/tailrec/internal/tailrec"
	"github.com/dotandev/tailrec/internal/terminal"
	"github.com/spf13/cobra"
)

var inspectListing bool

var inspectCmd = &cobra.Command{
	Use:   "inspect <file.class>",
	Short: "Show what the optimizer would do to one class file",
	Long: `Print the verdict for every method of a class and, for methods with a
self tail call, the instructions of the call site. Nothing is written.

Example:
  tailrec inspect target/classes/demo/Fact.class
  tailrec inspect --listing Fact.class`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		return runInspect(terminal.NewANSIRenderer(cmd.OutOrStdout()), data, inspectListing)
	},
}

func runInspect(r terminal.Renderer, data []byte, listing bool) error {
	res, err := tailrec.Analyze(data)
	if err != nil {
		return err
	}
	class, err := classfile.Parse(data)
	if err != nil {
		return err
	}

	release := "unknown"
	if v, err := driver.ReleaseOf(class.Major); err == nil {
		release = v.Original()
	}
	r.Printf("%s (class file %s, Java %s)\n", r.Colorize(res.Class, "bold"), class.Version(), release)
	for _, m := range res.Methods {
		line := fmt.Sprintf("  %-14s %s%s", r.Status(m.Verdict.String()), m.Name, m.Descriptor)
		if m.Reason != "" {
			line += r.Colorize("  "+m.Reason, "dim")
		}
		r.Println(line)
	}

	for _, m := range class.Methods {
		if tailrec.Eligible(class, m) != "" {
			continue
		}
		code, err := m.Code()
		if err != nil {
			return err
		}
		match, _ := tailrec.Match(class, m, code)
		if match == nil {
			continue
		}
		r.Printf("\n%s%s:\n", m.Name(), m.Descriptor())
		printSite(r, code.Insns, match, listing)
	}
	return nil
}

// printSite prints the tail call and the instructions leading to it, or
// the whole method when listing is set. The excerpt reaches back one
// instruction per argument word plus one; labels are not counted.
func printSite(r terminal.Renderer, l *bytecode.List, match *tailrec.MatchedTailCall, listing bool) {
	start := l.First()
	if !listing {
		start = match.Invoke
		for n := match.Desc.ArgWords() + 1; n > 0; {
			prev := l.Prev(start)
			if prev == bytecode.Nil {
				break
			}
			start = prev
			if l.Get(prev).Kind != bytecode.KindLabel {
				n--
			}
		}
	}
	for h := start; h != bytecode.Nil; h = l.Next(h) {
		in := l.Get(h)
		if in.Kind == bytecode.KindLabel {
			continue
		}
		marker := "   "
		if h == match.Invoke || h == match.Return {
			marker = r.Colorize(" > ", "green")
		}
		r.Printf("%s%s\n", marker, in.String())
		if h == match.Return && !listing {
			break
		}
	}
}

func init() {
	inspectCmd.Flags().BoolVar(&inspectListing, "listing", false, "Print the whole method body, not just the call site")

	rootCmd.AddCommand(inspectCmd)
}
