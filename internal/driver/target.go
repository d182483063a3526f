// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package driver

import (
	"encoding/binary"
	"fmt"

	"github.com/dotandev/tailrec/internal/classfile"
	"github.com/dotandev/tailrec/internal/errors"
	"github.com/hashicorp/go-version"
)

// ReleaseOf maps a class file major version to the Java release that
// produces it: 49 is 1.5, 52 is 1.8, 53 is 9 and so on.
func ReleaseOf(major uint16) (*version.Version, error) {
	switch {
	case major < 45:
		return nil, fmt.Errorf("major version %d predates Java 1.0", major)
	case major == 45:
		return version.NewVersion("1.1")
	case major <= 52:
		return version.NewVersion(fmt.Sprintf("1.%d", major-44))
	default:
		return version.NewVersion(fmt.Sprintf("%d", major-44))
	}
}

// targetFilter restricts processing to classes built for matching
// releases. A nil filter allows everything.
type targetFilter struct {
	constraints version.Constraints
}

func newTargetFilter(expr string) (*targetFilter, error) {
	if expr == "" {
		return nil, nil
	}
	c, err := version.NewConstraint(expr)
	if err != nil {
		return nil, errors.WrapConfigError("invalid target release", err)
	}
	return &targetFilter{constraints: c}, nil
}

// allows reports whether a class of the given major version is in range.
// The reason explains a refusal.
func (f *targetFilter) allows(major uint16) (bool, string) {
	if f == nil {
		return true, ""
	}
	v, err := ReleaseOf(major)
	if err != nil {
		return false, err.Error()
	}
	if !f.constraints.Check(v) {
		return false, fmt.Sprintf("release %s does not satisfy %s", v, f.constraints)
	}
	return true, ""
}

// peekMajor reads the major version from a class file header without
// parsing the rest.
func peekMajor(data []byte) (uint16, bool) {
	if len(data) < 8 || binary.BigEndian.Uint32(data) != classfile.Magic {
		return 0, false
	}
	return binary.BigEndian.Uint16(data[6:]), true
}
