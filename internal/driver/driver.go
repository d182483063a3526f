// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

// Package driver applies the tail call pass to class files on disk.
package driver

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"github.com/dotandev/tailrec/internal/config"
	"github.com/dotandev/tailrec/internal/errors"
	"github.com/dotandev/tailrec/internal/ledger"
	"github.com/dotandev/tailrec/internal/logger"
	"github.com/dotandev/tailrec/internal/tailrec"
	"github.com/dotandev/tailrec/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

// Options control a run.
type Options struct {
	Workers       int
	ClassesSubdir string
	// TargetRelease is a go-version constraint on the Java release.
	TargetRelease string
	DryRun        bool
	// Force reprocesses files the ledger already saw in their current form.
	Force bool
	// Ledger is optional.
	Ledger *ledger.Store
}

// OptionsFromConfig copies the run settings out of cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Workers:       cfg.Workers,
		ClassesSubdir: cfg.ClassesSubdir,
		TargetRelease: cfg.TargetRelease,
	}
}

// Run discovers the class files under roots and processes them with a
// bounded worker group. Per-file failures are reported in the Summary and
// never stop sibling files. The returned error covers discovery, bad
// options and cancellation; on cancellation the Summary holds the files
// finished so far.
func Run(ctx context.Context, roots []string, opts Options) (*Summary, error) {
	ctx, span := telemetry.GetTracer().Start(ctx, "tailrec.run")
	defer span.End()

	filter, err := newTargetFilter(opts.TargetRelease)
	if err != nil {
		return nil, err
	}
	files, err := Discover(roots, opts.ClassesSubdir)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	sum := &Summary{RunID: ledger.NewRunID()}
	span.SetAttributes(attribute.String("run.id", sum.RunID), attribute.Int("run.files", len(files)))
	logger.Logger.Info("Starting run", "run_id", sum.RunID, "files", len(files), "dry_run", opts.DryRun)

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	results := make([]*FileResult, len(files))
	var g errgroup.Group
	g.SetLimit(workers)
	for i, path := range files {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			r := processFile(ctx, sum.RunID, path, opts, filter)
			results[i] = &r
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		if r != nil {
			sum.Files = append(sum.Files, *r)
		}
	}
	span.SetAttributes(
		attribute.Int("run.rewritten", sum.Count(StatusRewritten)),
		attribute.Int("run.failed", sum.Count(StatusDecodeError)+sum.Count(StatusInternalFault)),
	)
	logger.Logger.Info("Run finished", "run_id", sum.RunID,
		"rewritten", sum.Count(StatusRewritten), "methods", sum.Methods(),
		"unchanged", sum.Count(StatusUnchanged), "skipped", sum.Count(StatusSkipped),
		"failed", sum.Count(StatusDecodeError)+sum.Count(StatusInternalFault))

	if err := ctx.Err(); err != nil {
		span.SetStatus(codes.Error, "cancelled")
		return sum, err
	}
	return sum, nil
}

// ProcessFile runs the pass over a single file outside of a run.
func ProcessFile(ctx context.Context, path string, opts Options) (FileResult, error) {
	filter, err := newTargetFilter(opts.TargetRelease)
	if err != nil {
		return FileResult{}, err
	}
	return processFile(ctx, ledger.NewRunID(), path, opts, filter), nil
}

func processFile(ctx context.Context, runID, path string, opts Options, filter *targetFilter) (res FileResult) {
	ctx, span := telemetry.GetTracer().Start(ctx, "tailrec.optimize_file")
	span.SetAttributes(attribute.String("file.path", path))
	log := logger.Logger.With("path", path)
	res.Path = path

	var inHash, outHash string
	defer func() {
		if p := recover(); p != nil {
			res.Status = StatusInternalFault
			res.Err = fmt.Errorf("panic: %v", p)
		}
		if res.Err != nil {
			res.Error = res.Err.Error()
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Status.String())
		}
		span.SetAttributes(
			attribute.String("file.status", res.Status.String()),
			attribute.Int("file.rewritten", len(res.Rewritten)),
		)
		span.End()
		record(ctx, log, runID, opts, &res, inHash, outHash)
	}()

	data, err := os.ReadFile(path)
	if err != nil {
		res.Status = StatusDecodeError
		res.Err = err
		log.Error("Cannot read class file", "error", err)
		return res
	}
	inHash, outHash = hashOf(data), hashOf(data)

	if opts.Ledger != nil && !opts.Force {
		last, ok, err := opts.Ledger.LastOutputHash(ctx, path)
		if err != nil {
			log.Warn("Ledger lookup failed", "error", err)
		} else if ok && last == inHash {
			res.Status = StatusSkipped
			res.Reason = "already processed"
			log.Debug("File skipped", "reason", res.Reason)
			return res
		}
	}

	if major, ok := peekMajor(data); ok {
		if allowed, reason := filter.allows(major); !allowed {
			res.Status = StatusSkipped
			res.Major = major
			res.Reason = reason
			log.Debug("File skipped", "reason", reason)
			return res
		}
	}

	out, err := tailrec.Optimize(data)
	if err != nil {
		res.Err = err
		if stderrors.Is(err, errors.ErrMalformedContainer) {
			res.Status = StatusDecodeError
			log.Error("Malformed class file", "error", err)
		} else {
			res.Status = StatusInternalFault
			log.Error("Rewrite failed", "error", err, "internal", errors.IsInternalFault(err))
		}
		return res
	}
	res.Class = out.Class
	res.Major = out.Major
	res.Methods = out.Methods
	res.Rewritten = out.Rewritten()

	if !out.Changed() {
		res.Status = StatusUnchanged
		return res
	}
	res.Status = StatusRewritten
	if opts.DryRun {
		log.Info("Would rewrite class file", "methods", len(res.Rewritten))
		return res
	}
	if err := writeAtomic(path, out.Output); err != nil {
		res.Status = StatusInternalFault
		res.Err = fmt.Errorf("failed to write output: %w", err)
		log.Error("Cannot write class file", "error", err)
		return res
	}
	outHash = hashOf(out.Output)
	log.Info("Class file rewritten", "class", res.Class, "methods", len(res.Rewritten))
	return res
}

// record writes res to the ledger. Dry runs, skips and unread files are
// not recorded. Failed files get no output hash so the next run retries
// them.
func record(ctx context.Context, log *slog.Logger, runID string, opts Options, res *FileResult, inHash, outHash string) {
	if opts.Ledger == nil || opts.DryRun || res.Status == StatusSkipped || inHash == "" {
		return
	}
	if res.Status.Failed() {
		outHash = ""
	}
	err := opts.Ledger.Record(ctx, &ledger.Entry{
		RunID:      runID,
		Path:       res.Path,
		InputHash:  inHash,
		OutputHash: outHash,
		Status:     res.Status.String(),
		Methods:    res.Rewritten,
		Error:      res.Error,
	})
	if err != nil {
		log.Warn("Ledger write failed", "error", err)
	}
}
