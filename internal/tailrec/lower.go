// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package tailrec

import (
	"github.com/dotandev/tailrec/internal/bytecode"
	"github.com/dotandev/tailrec/internal/descriptor"
	"github.com/dotandev/tailrec/internal/errors"
)

// storeKinds maps primitive descriptor characters to the value kind of
// their store instruction.
var storeKinds = map[byte]bytecode.ValueKind{
	descriptor.Boolean: bytecode.Int,
	descriptor.Byte:    bytecode.Int,
	descriptor.Char:    bytecode.Int,
	descriptor.Short:   bytecode.Int,
	descriptor.Int:     bytecode.Int,
	descriptor.Long:    bytecode.Long,
	descriptor.Float:   bytecode.Float,
	descriptor.Double:  bytecode.Double,
}

// Lower returns the stores that pop call arguments back into the
// parameter slots, last parameter first. Parameter slots start at 0 for
// static methods and at 1 otherwise; long and double take two slots.
// Array and reference parameters fail with ErrUnsupportedParameterKind.
func Lower(desc descriptor.Method, static bool) ([]bytecode.Insn, error) {
	slots := make([]int, len(desc.Params))
	next := 1
	if static {
		next = 0
	}
	for i, p := range desc.Params {
		if p.IsReference() {
			return nil, errors.WrapUnsupportedParameter(i, p.String())
		}
		slots[i] = next
		next += p.Words()
	}

	stores := make([]bytecode.Insn, 0, len(desc.Params))
	for i := len(desc.Params) - 1; i >= 0; i-- {
		kind, ok := storeKinds[desc.Params[i].Base]
		if !ok {
			return nil, errors.WrapUnsupportedParameter(i, desc.Params[i].String())
		}
		stores = append(stores, bytecode.Store(kind, slots[i]))
	}
	return stores, nil
}
