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

package iommu

import (
	"fmt"

	"gvisor.dev/iommu/pkg/cleanup"
)

// BulkMap maps entries in order, each under its own acquisition of the domain
// lock.
//
// If element k fails, elements k-1 down to 0 are unmapped in reverse order
// by their exact (IOVA, Length), after which a *BulkMapError carrying k and
// the element's failure is returned. Every applied element and every
// rollback unmap advances the epoch, so a failure at k advances it by 2k and
// a full success by len(entries).
//
// Other callers may observe the partially applied batch before rollback
// completes. Use BulkMapAtomic where that is not acceptable.
//
// An empty batch succeeds without touching the domain. A nil domain fails
// with ErrInvalidArgument before any element is attempted.
func (d *Domain) BulkMap(entries []Entry) error {
	if d == nil {
		return ErrInvalidArgument
	}
	var cu cleanup.Cleanup
	defer cu.Clean()
	for i, e := range entries {
		if err := d.doMap(e, true); err != nil {
			return &BulkMapError{Index: i, Entry: e, Err: err}
		}
		cu.Add(func() {
			// Unmap can fail only if another caller removed this entry
			// or destroyed the domain meanwhile, in which case there is
			// nothing left to roll back.
			_ = d.Unmap(e.IOVA, e.Length)
		})
	}
	cu.Release()
	return nil
}

// BulkMapAtomic maps entries as one unit: either every element is inserted
// or the domain is left unchanged. The batch is validated against the domain
// and against itself and committed under a single lock acquisition, so no
// other caller observes a partial batch.
//
// Failures are reported as *BulkMapError with the index of the first element
// that could not be placed. On success the epoch advances by len(entries).
func (d *Domain) BulkMapAtomic(entries []Entry) error {
	if d == nil {
		return ErrInvalidArgument
	}
	for i, e := range entries {
		if err := e.Validate(); err != nil {
			return &BulkMapError{Index: i, Entry: e, Err: err}
		}
	}
	if len(entries) == 0 {
		return nil
	}

	d.mu.Lock()
	first, err := d.bulkMapLocked(entries)
	d.mu.Unlock()
	if err != nil {
		return err
	}
	for i, e := range entries {
		d.invalidate(e.Range(), first+uint64(i))
	}
	return nil
}

// bulkMapLocked commits entries and returns the epoch of the first one.
//
// Preconditions: d.mu is locked. Every entry is valid.
func (d *Domain) bulkMapLocked(entries []Entry) (uint64, error) {
	if err := d.checkLiveLocked(); err != nil {
		return 0, &BulkMapError{Index: 0, Entry: entries[0], Err: err}
	}
	batch := NewBTreeStore()
	for i, e := range entries {
		if old, ok := d.store.OverlapsAny(e); ok {
			return 0, &BulkMapError{Index: i, Entry: e, Err: fmt.Errorf("%w: %v intersects %v", ErrOverlap, e.Range(), old.Range())}
		}
		if old, ok := batch.OverlapsAny(e); ok {
			return 0, &BulkMapError{Index: i, Entry: e, Err: fmt.Errorf("%w: %v intersects batch element %v", ErrOverlap, e.Range(), old.Range())}
		}
		if d.maxEntries > 0 && d.store.Len()+i >= d.maxEntries {
			return 0, &BulkMapError{Index: i, Entry: e, Err: ErrResourceExhausted}
		}
		batch.Insert(e)
	}
	for _, e := range entries {
		d.store.Insert(e)
	}
	last := d.epoch.Add(uint64(len(entries)))
	return last - uint64(len(entries)) + 1, nil
}
