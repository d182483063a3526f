// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

// Package tailrec rewrites self-recursive tail calls in JVM class files
// into jumps back to the start of the method.
package tailrec

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/dotandev/tailrec/internal/classfile"
	"github.com/dotandev/tailrec/internal/errors"
	"github.com/dotandev/tailrec/internal/logger"
)

// Verdict is the outcome for one method.
type Verdict int

const (
	Unvisited Verdict = iota
	Ineligible
	NoMatch
	Rewritten
	// Reverted means the method matched but its rewritten body could not
	// be encoded, so the original bytes were kept.
	Reverted
)

func (v Verdict) String() string {
	switch v {
	case Ineligible:
		return "ineligible"
	case NoMatch:
		return "no-match"
	case Rewritten:
		return "rewritten"
	case Reverted:
		return "reverted"
	}
	return "unvisited"
}

func (v Verdict) MarshalText() ([]byte, error) { return []byte(v.String()), nil }

// MethodResult records what happened to one method.
type MethodResult struct {
	Name       string  `json:"name"`
	Descriptor string  `json:"descriptor"`
	Verdict    Verdict `json:"verdict"`
	Reason     string  `json:"reason,omitempty"`
}

// Result is the outcome for one class file.
type Result struct {
	Class   string         `json:"class"`
	Major   uint16         `json:"major"`
	Methods []MethodResult `json:"methods"`
	// Output is the input unchanged when nothing was rewritten.
	Output []byte `json:"-"`
}

// Rewritten lists the methods that were turned into loops.
func (r *Result) Rewritten() []string {
	var out []string
	for _, m := range r.Methods {
		if m.Verdict == Rewritten {
			out = append(out, m.Name+m.Descriptor)
		}
	}
	return out
}

// Changed reports whether Output differs from the input.
func (r *Result) Changed() bool { return len(r.Rewritten()) > 0 }

// levels are the log levels a pass reports its outcomes at.
type levels struct {
	rewrite slog.Level
	warn    slog.Level
}

// rewrite is swapped in tests to inject faults.
var rewrite = Rewrite

// Optimize runs the pass over one class file. Malformed input fails with
// ErrMalformedContainer. A consistency fault inside the rewrite aborts
// the whole class; no partial output is produced.
func Optimize(data []byte) (*Result, error) {
	return run(data, levels{rewrite: slog.LevelInfo, warn: slog.LevelWarn})
}

// Analyze runs the same pass as Optimize for reporting. Verdicts and
// Output are identical, but every outcome is logged at Debug, so tools
// that only describe a class do not announce rewrites.
func Analyze(data []byte) (*Result, error) {
	return run(data, levels{rewrite: slog.LevelDebug, warn: slog.LevelDebug})
}

func run(data []byte, lv levels) (*Result, error) {
	class, err := classfile.Parse(data)
	if err != nil {
		return nil, err
	}
	res := &Result{Class: class.Name(), Major: class.Major, Output: data}

	for _, m := range class.Methods {
		mr := MethodResult{Name: m.Name(), Descriptor: m.Descriptor()}
		mr.Verdict, mr.Reason, err = optimizeMethod(class, m, lv)
		if err != nil {
			return nil, fmt.Errorf("%s.%s%s: %w", res.Class, mr.Name, mr.Descriptor, err)
		}
		res.Methods = append(res.Methods, mr)
	}

	if res.Changed() {
		res.Output = class.Bytes()
	}
	return res, nil
}

func optimizeMethod(class *classfile.Class, m *classfile.Method, lv levels) (Verdict, string, error) {
	ctx := context.Background()
	log := logger.Logger.With("class", class.Name(), "method", m.Name()+m.Descriptor())

	if reason := Eligible(class, m); reason != "" {
		log.Debug("method skipped", "reason", reason)
		return Ineligible, reason, nil
	}

	code, err := m.Code()
	if err != nil {
		return Unvisited, "", err
	}

	match, reason := Match(class, m, code)
	if match == nil {
		m.Revert()
		log.Debug("no tail call", "reason", reason)
		return NoMatch, reason, nil
	}

	stores, err := Lower(match.Desc, m.IsStatic())
	if err != nil {
		m.Revert()
		log.Log(ctx, lv.warn, "tail call left in place", "error", err)
		return NoMatch, err.Error(), nil
	}

	mark := class.Pool.Len()
	if _, err := rewrite(class, code, match, stores); err != nil {
		m.Revert()
		class.Pool.Truncate(mark)
		return Unvisited, "", err
	}
	if err := m.CommitCode(); err != nil {
		m.Revert()
		class.Pool.Truncate(mark)
		if stderrors.Is(err, errors.ErrBranchOutOfRange) {
			log.Log(ctx, lv.warn, "rewritten method could not be encoded", "error", err)
			return Reverted, err.Error(), nil
		}
		return Unvisited, "", err
	}
	log.Log(ctx, lv.rewrite, "TailRec optimizing")
	return Rewritten, "", nil
}
