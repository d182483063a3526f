// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	stderrors "errors"
	"time"
)

const InterruptExitCode = 130

var ErrInterrupted = stderrors.New("interrupt received")

func IsInterrupted(err error) bool {
	return stderrors.Is(err, ErrInterrupted)
}

func IsCancellation(err error) bool {
	return stderrors.Is(err, context.Canceled)
}

// waitForCompletion drains done or gives up after timeout.
func waitForCompletion(done <-chan error, timeout time.Duration) {
	select {
	case <-done:
	case <-time.After(timeout):
	}
}
