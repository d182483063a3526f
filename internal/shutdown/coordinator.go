// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

// Package shutdown runs cleanup hooks such as the ledger close and the
// trace flush when the process exits or is interrupted.
package shutdown

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dotandev/tailrec/internal/logger"
	"github.com/hashicorp/go-multierror"
)

type HookFunc func(context.Context) error

type hook struct {
	name string
	fn   HookFunc
}

// Coordinator runs registered shutdown hooks exactly once in LIFO order.
type Coordinator struct {
	mu    sync.Mutex
	hooks []hook
	ran   bool
}

func NewCoordinator() *Coordinator {
	return &Coordinator{}
}

// Register adds a hook. Hooks registered after Run are ignored.
func (c *Coordinator) Register(name string, fn HookFunc) {
	if fn == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ran {
		logger.Logger.Debug("Shutdown hook registered too late", "hook", name)
		return
	}
	c.hooks = append(c.hooks, hook{name: name, fn: fn})
}

// Run calls every hook, newest first, even when earlier ones fail. Hook
// errors are collected into one multierror.
func (c *Coordinator) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.ran {
		c.mu.Unlock()
		return nil
	}
	c.ran = true
	hooks := c.hooks
	c.hooks = nil
	c.mu.Unlock()

	var result *multierror.Error
	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]

		hookCtx, cancel := perHookContext(ctx, i+1)
		err := h.fn(hookCtx)
		cancel()
		if err != nil {
			logger.Logger.Warn("Shutdown hook failed", "hook", h.name, "error", err)
			result = multierror.Append(result, fmt.Errorf("%s: %w", h.name, err))
		}
	}
	return result.ErrorOrNil()
}

// perHookContext splits what is left of ctx's deadline evenly across the
// hooks still to run.
func perHookContext(ctx context.Context, hooksRemaining int) (context.Context, context.CancelFunc) {
	deadline, ok := ctx.Deadline()
	if !ok || hooksRemaining <= 0 {
		return ctx, func() {}
	}

	remaining := time.Until(deadline)
	if remaining <= 0 {
		return context.WithTimeout(ctx, 1*time.Millisecond)
	}

	perHook := remaining / time.Duration(hooksRemaining)
	if perHook <= 0 {
		perHook = remaining
	}
	return context.WithTimeout(ctx, perHook)
}
