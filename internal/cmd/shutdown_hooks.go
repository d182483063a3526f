// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"sync"
	"time"

	"github.com/dotandev/tailrec/internal/ledger"
	"github.com/dotandev/tailrec/internal/logger"
	"github.com/dotandev/tailrec/internal/shutdown"
)

const shutdownTimeout = 3 * time.Second

var shutdownState struct {
	mu          sync.RWMutex
	coordinator *shutdown.Coordinator
}

func setShutdownCoordinator(c *shutdown.Coordinator) {
	shutdownState.mu.Lock()
	defer shutdownState.mu.Unlock()
	shutdownState.coordinator = c
}

func clearShutdownCoordinator() {
	shutdownState.mu.Lock()
	defer shutdownState.mu.Unlock()
	shutdownState.coordinator = nil
}

// registerShutdownHook reports whether a coordinator took the hook.
func registerShutdownHook(name string, fn shutdown.HookFunc) bool {
	shutdownState.mu.RLock()
	c := shutdownState.coordinator
	shutdownState.mu.RUnlock()
	if c == nil {
		return false
	}
	c.Register(name, fn)
	return true
}

func runShutdownHooksWithTimeout(c *shutdown.Coordinator, timeout time.Duration) {
	if c == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := c.Run(ctx); err != nil {
		logger.Logger.Warn("Shutdown hooks completed with errors", "error", err)
	}
}

// openLedger opens the configured ledger and arranges for it to be
// closed on exit. It returns nil when the ledger is disabled. The
// returned func closes the store when no coordinator is installed.
func openLedger(enabled bool, path string) (*ledger.Store, func(), error) {
	if !enabled {
		return nil, func() {}, nil
	}
	store, err := ledger.Open(path)
	if err != nil {
		return nil, nil, err
	}
	closeStore := func(ctx context.Context) error {
		_ = ctx
		return store.Close()
	}
	if registerShutdownHook("ledger-close", closeStore) {
		return store, func() {}, nil
	}
	return store, func() { _ = store.Close() }, nil
}
