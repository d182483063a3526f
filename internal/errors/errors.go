// Copyright (c) 2026 dotandev
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for comparison with errors.Is
var (
	ErrMalformedContainer       = errors.New("malformed class file")
	ErrUnsupportedParameterKind = errors.New("unsupported parameter kind")
	ErrDanglingJumpTarget       = errors.New("dangling jump target")
	ErrBranchOutOfRange         = errors.New("branch offset out of range")
	ErrStackInconsistent        = errors.New("inconsistent operand stack")
	ErrConfig                   = errors.New("configuration error")
	ErrLedger                   = errors.New("ledger error")
	ErrUnauthorized             = errors.New("unauthorized")
)

// Wrap functions for consistent error wrapping
func WrapMalformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedContainer, fmt.Sprintf(format, args...))
}

func WrapMalformedErr(what string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrMalformedContainer, what, err)
}

func WrapUnsupportedParameter(index int, descriptor string) error {
	return fmt.Errorf("%w: parameter %d has type %s", ErrUnsupportedParameterKind, index, descriptor)
}

func WrapDanglingJumpTarget(msg string) error {
	return fmt.Errorf("%w: %s", ErrDanglingJumpTarget, msg)
}

func WrapBranchOutOfRange(opcode string, offset int) error {
	return fmt.Errorf("%w: %s needs offset %d", ErrBranchOutOfRange, opcode, offset)
}

func WrapStackInconsistent(msg string) error {
	return fmt.Errorf("%w: %s", ErrStackInconsistent, msg)
}

func WrapConfigError(msg string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s", ErrConfig, msg)
	}
	return fmt.Errorf("%w: %s: %w", ErrConfig, msg, err)
}

func WrapLedgerError(msg string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrLedger, msg, err)
}

// IsInternalFault reports whether err is a consistency fault of the rewrite
// itself rather than a problem with the input.
func IsInternalFault(err error) bool {
	return errors.Is(err, ErrDanglingJumpTarget) || errors.Is(err, ErrStackInconsistent)
}
