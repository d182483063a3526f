// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package terminal

// Renderer defines the interface for report output.
type Renderer interface {
	Printf(format string, a ...any)
	Println(a ...any)
	Colorize(text, color string) string
	Status(s string) string
	Success() string
	Warning() string
	Error() string
	IsTTY() bool
}
