// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package driver

import (
	"fmt"

	"github.com/dotandev/tailrec/internal/tailrec"
	"github.com/hashicorp/go-multierror"
)

// Status is the outcome for one file.
type Status int

const (
	StatusUnchanged Status = iota
	StatusRewritten
	// StatusDecodeError means the file could not be read or parsed. It is
	// never written.
	StatusDecodeError
	// StatusInternalFault means the rewrite broke one of its own
	// invariants or the output could not be written.
	StatusInternalFault
	StatusSkipped
)

var statusNames = [...]string{"unchanged", "rewritten", "decode-error", "internal-fault", "skipped"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", int(s))
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Failed reports whether s counts as a failure for the exit status.
func (s Status) Failed() bool { return s == StatusDecodeError || s == StatusInternalFault }

// FileResult records what happened to one file.
type FileResult struct {
	Path      string                 `json:"path"`
	Status    Status                 `json:"status"`
	Class     string                 `json:"class,omitempty"`
	Major     uint16                 `json:"major,omitempty"`
	Rewritten []string               `json:"rewritten,omitempty"`
	Methods   []tailrec.MethodResult `json:"methods,omitempty"`
	Reason    string                 `json:"reason,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Err       error                  `json:"-"`
}

// Summary is the outcome of one run.
type Summary struct {
	RunID string       `json:"run_id"`
	Files []FileResult `json:"files"`
}

// Count returns how many files ended with status s.
func (s *Summary) Count(st Status) int {
	n := 0
	for _, f := range s.Files {
		if f.Status == st {
			n++
		}
	}
	return n
}

// Methods returns the total number of rewritten methods.
func (s *Summary) Methods() int {
	n := 0
	for _, f := range s.Files {
		n += len(f.Rewritten)
	}
	return n
}

// Err joins the errors of every failed file, or returns nil.
func (s *Summary) Err() error {
	var result *multierror.Error
	for _, f := range s.Files {
		if f.Status.Failed() && f.Err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", f.Path, f.Err))
		}
	}
	return result.ErrorOrNil()
}
