// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package iommu implements the logical mapping table of an IOMMU domain.
//
// A Domain tracks the set of I/O virtual address (IOVA) to physical address
// (PA) mappings granted to one device or virtual machine, and guarantees that
// no two live mappings in the same domain overlap. Each operation acquires the
// domain lock, validates, mutates the mapping store, advances the domain epoch
// and releases the lock. There are no background goroutines.
//
// The package performs no logging and no authorization; those belong to the
// layers that own domains (see package manager).
package iommu

import (
	"fmt"
	"strings"

	"gvisor.dev/iommu/pkg/hostarch"
)

// ASID is an address-space identifier. It distinguishes a domain from every
// other live domain.
type ASID uint16

// Perm is a permission bitmask attached to a mapping. The core stores and
// compares it but does not interpret it.
type Perm uint32

// Well-known permission bits.
const (
	PermRead Perm = 1 << iota
	PermWrite
	PermExec
)

// String implements fmt.Stringer.String.
func (p Perm) String() string {
	var b strings.Builder
	for _, bit := range []struct {
		p Perm
		c byte
	}{{PermRead, 'r'}, {PermWrite, 'w'}, {PermExec, 'x'}} {
		if p&bit.p != 0 {
			b.WriteByte(bit.c)
		} else {
			b.WriteByte('-')
		}
	}
	if rest := p &^ (PermRead | PermWrite | PermExec); rest != 0 {
		fmt.Fprintf(&b, "+%#x", uint32(rest))
	}
	return b.String()
}

// ParsePerm parses the "rwx" notation produced by Perm.String. Dashes are
// ignored, as is case.
func ParsePerm(s string) (Perm, error) {
	var p Perm
	for _, c := range strings.ToLower(s) {
		switch c {
		case 'r':
			p |= PermRead
		case 'w':
			p |= PermWrite
		case 'x':
			p |= PermExec
		case '-':
		default:
			return 0, fmt.Errorf("invalid permission %q: unknown bit %q", s, c)
		}
	}
	return p, nil
}

// Entry describes one mapping: Length bytes starting at IOVA translate to
// Length bytes starting at PA.
//
// Entries are values. A Store owns the copies it holds.
type Entry struct {
	IOVA   hostarch.Addr `json:"iova"`
	PA     hostarch.Addr `json:"pa"`
	Length uint64        `json:"length"`
	Perm   Perm          `json:"perm"`
}

// End returns the exclusive end of the IOVA range.
//
// Precondition: e is valid (see Validate).
func (e Entry) End() hostarch.Addr {
	return e.IOVA + hostarch.Addr(e.Length)
}

// Range returns the IOVA range [IOVA, IOVA+Length).
func (e Entry) Range() hostarch.AddrRange {
	return hostarch.AddrRange{Start: e.IOVA, End: e.End()}
}

// Overlaps returns true if the IOVA ranges of e and o intersect. Both entries
// are treated as half-open ranges and must have a nonzero length.
func (e Entry) Overlaps(o Entry) bool {
	return e.IOVA < o.End() && o.IOVA < e.End()
}

// Validate checks that e describes a nonempty range that ends below the top
// of the address space, on either the IOVA or the PA side. A range ending
// exactly at 2^64 is rejected because its end is not representable.
func (e Entry) Validate() error {
	if e.Length == 0 {
		return fmt.Errorf("%w: zero length at iova %v", ErrInvalidArgument, e.IOVA)
	}
	if err := checkEnd("iova", e.IOVA, e.Length); err != nil {
		return err
	}
	return checkEnd("pa", e.PA, e.Length)
}

func checkEnd(side string, start hostarch.Addr, length uint64) error {
	if _, ok := start.AddLength(length); ok {
		return nil
	}
	if uint64(start)+length == 0 {
		return fmt.Errorf("%w: %s range %v+%#x reaches the top of the address space", ErrInvalidArgument, side, start, length)
	}
	return fmt.Errorf("%w: %s range %v+%#x wraps", ErrInvalidArgument, side, start, length)
}

// String implements fmt.Stringer.String.
func (e Entry) String() string {
	return fmt.Sprintf("%v -> %v (%s)", e.Range(), e.PA, e.Perm)
}
