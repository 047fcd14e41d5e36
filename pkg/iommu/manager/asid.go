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

package manager

import (
	"fmt"
	"math"
	"math/bits"

	"gvisor.dev/iommu/pkg/iommu"
)

// MaxASID is the largest ASID the manager hands out. ASID 0 is reserved and
// never allocated.
const MaxASID = math.MaxUint16

// asidAllocator is a bitmap of ASIDs in use. Allocation scans forward from a
// cursor that moves past every ASID it hands out, so a released ASID is not
// reused until the cursor wraps around to it.
type asidAllocator struct {
	// words holds one bit per ASID in [0, limit).
	words []uint64

	// limit is one past the largest allocatable ASID.
	limit uint32

	// next is where the next search starts.
	next uint32

	// used is the number of set bits, excluding the reserved ASID 0.
	used int
}

// newASIDAllocator returns an allocator for ASIDs [1, max].
func newASIDAllocator(max int) *asidAllocator {
	limit := uint32(max) + 1
	a := &asidAllocator{
		words: make([]uint64, (limit+63)/64),
		limit: limit,
		next:  1,
	}
	a.words[0] = 1
	return a
}

func (a *asidAllocator) isSet(i uint32) bool {
	return a.words[i/64]&(uint64(1)<<(i%64)) != 0
}

func (a *asidAllocator) set(i uint32) {
	a.words[i/64] |= uint64(1) << (i % 64)
	a.used++
}

// firstZero returns the first clear bit in [start, a.limit).
func (a *asidAllocator) firstZero(start uint32) (uint32, bool) {
	if start >= a.limit {
		return 0, false
	}
	i, nbit := start/64, start%64
	w := a.words[i] | ((uint64(1) << nbit) - 1)
	for {
		if w != math.MaxUint64 {
			r := uint32(i)*64 + uint32(bits.TrailingZeros64(^w))
			if r >= a.limit {
				return 0, false
			}
			return r, true
		}
		i++
		if int(i) == len(a.words) {
			return 0, false
		}
		w = a.words[i]
	}
}

// alloc returns an unused ASID.
func (a *asidAllocator) alloc() (iommu.ASID, error) {
	bit, ok := a.firstZero(a.next)
	if !ok {
		bit, ok = a.firstZero(1)
	}
	if !ok {
		return 0, ErrASIDExhausted
	}
	a.set(bit)
	a.next = bit + 1
	if a.next >= a.limit {
		a.next = 1
	}
	return iommu.ASID(bit), nil
}

// reserve marks a specific ASID as used.
func (a *asidAllocator) reserve(asid iommu.ASID) error {
	bit := uint32(asid)
	if bit == 0 || bit >= a.limit {
		return fmt.Errorf("%w: asid %d outside [1, %d]", iommu.ErrInvalidArgument, asid, a.limit-1)
	}
	if a.isSet(bit) {
		return fmt.Errorf("%w: %d", ErrASIDInUse, asid)
	}
	a.set(bit)
	return nil
}

// release returns asid to the pool. Releasing a free ASID is a no-op.
func (a *asidAllocator) release(asid iommu.ASID) {
	bit := uint32(asid)
	if bit == 0 || bit >= a.limit || !a.isSet(bit) {
		return
	}
	a.words[bit/64] &^= uint64(1) << (bit % 64)
	a.used--
}
