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
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"gvisor.dev/iommu/pkg/hostarch"
	"gvisor.dev/iommu/pkg/sync"
)

func TestBulkMap(t *testing.T) {
	forEachStore(t, func(t *testing.T, kind StoreKind) {
		d := newTestDomain(t, kind, Options{})
		batch := []Entry{
			{IOVA: 0x1000, PA: 0x2000, Length: 4096, Perm: PermRead},
			{IOVA: 0x3000, PA: 0x4000, Length: 4096, Perm: PermRead},
		}
		if err := d.BulkMap(batch); err != nil {
			t.Fatalf("BulkMap failed: %v", err)
		}
		if got := d.Epoch(); got != 2 {
			t.Errorf("Epoch() = %d, want 2", got)
		}
		if diff := cmp.Diff(batch, d.Entries()); diff != "" {
			t.Errorf("Entries() mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestBulkMapEmpty(t *testing.T) {
	d := newTestDomain(t, StoreBTree, Options{})
	if err := d.BulkMap(nil); err != nil {
		t.Errorf("BulkMap(nil) = %v, want nil", err)
	}
	if err := d.BulkMapAtomic(nil); err != nil {
		t.Errorf("BulkMapAtomic(nil) = %v, want nil", err)
	}
	if got := d.Epoch(); got != 0 {
		t.Errorf("Epoch() = %d, want 0", got)
	}
}

func TestBulkMapRollback(t *testing.T) {
	forEachStore(t, func(t *testing.T, kind StoreKind) {
		var got []invalidation
		d := newTestDomain(t, kind, Options{
			Invalidator: InvalidatorFunc(func(asid ASID, ar hostarch.AddrRange, epoch uint64) {
				got = append(got, invalidation{asid, ar, epoch})
			}),
		})
		if err := d.Map(0x5000, 0x50000, 0x1000, PermRead); err != nil {
			t.Fatalf("Map failed: %v", err)
		}
		before := d.Entries()
		start := d.Epoch()
		got = nil

		// The third entry collides with the mapping already present.
		batch := []Entry{
			{IOVA: 0x1000, PA: 0x10000, Length: 0x1000, Perm: PermRead},
			{IOVA: 0x3000, PA: 0x30000, Length: 0x1000, Perm: PermRead},
			{IOVA: 0x5000, PA: 0x60000, Length: 0x1000, Perm: PermRead},
			{IOVA: 0x7000, PA: 0x70000, Length: 0x1000, Perm: PermRead},
		}
		err := d.BulkMap(batch)
		var bulkErr *BulkMapError
		if !errors.As(err, &bulkErr) {
			t.Fatalf("BulkMap = %v, want *BulkMapError", err)
		}
		if bulkErr.Index != 2 {
			t.Errorf("failing index = %d, want 2", bulkErr.Index)
		}
		if bulkErr.Entry != batch[2] {
			t.Errorf("failing entry = %v, want %v", bulkErr.Entry, batch[2])
		}
		if !errors.Is(err, ErrOverlap) {
			t.Errorf("BulkMap = %v, want %v", err, ErrOverlap)
		}
		if diff := cmp.Diff(before, d.Entries()); diff != "" {
			t.Errorf("rollback did not restore the domain (-want +got):\n%s", diff)
		}
		if got, want := d.Epoch(), start+4; got != want {
			t.Errorf("Epoch() = %d, want %d", got, want)
		}

		// Entries 0 and 1 are mapped, then unmapped last to first.
		want := []invalidation{
			{1, batch[0].Range(), start + 1},
			{1, batch[1].Range(), start + 2},
			{1, batch[1].Range(), start + 3},
			{1, batch[0].Range(), start + 4},
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("invalidations mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestBulkMapRollbackConcurrent(t *testing.T) {
	forEachStore(t, func(t *testing.T, kind StoreKind) {
		d := newTestDomain(t, kind, Options{})
		blocker := Entry{IOVA: 0x10000, PA: 0x10000, Length: 0x1000, Perm: PermRead}
		if err := d.Map(blocker.IOVA, blocker.PA, blocker.Length, blocker.Perm); err != nil {
			t.Fatalf("Map failed: %v", err)
		}
		batch := []Entry{
			{IOVA: 0x1000, PA: 0x1000, Length: 0x1000, Perm: PermRead},
			{IOVA: 0x2000, PA: 0x2000, Length: 0x1000, Perm: PermRead},
			blocker,
		}

		// Another caller maps ranges outside the batch and unmaps every
		// other one while the batch keeps failing and rolling back.
		const others = 200
		const attempts = 50
		var (
			wg   sync.WaitGroup
			kept []Entry
		)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < others; i++ {
				e := Entry{IOVA: hostarch.Addr(0x100000 + i*0x1000), PA: 0x200000, Length: 0x1000, Perm: PermWrite}
				if err := d.Map(e.IOVA, e.PA, e.Length, e.Perm); err != nil {
					t.Errorf("Map(%v) failed: %v", e, err)
					return
				}
				if i%2 == 0 {
					if err := d.Unmap(e.IOVA, e.Length); err != nil {
						t.Errorf("Unmap(%v) failed: %v", e.Range(), err)
						return
					}
					continue
				}
				kept = append(kept, e)
			}
		}()
		for i := 0; i < attempts; i++ {
			var bulkErr *BulkMapError
			if err := d.BulkMap(batch); !errors.As(err, &bulkErr) || bulkErr.Index != 2 {
				t.Fatalf("BulkMap #%d = %v, want failure at index 2", i, err)
			}
		}
		wg.Wait()

		want := append([]Entry{blocker}, kept...)
		if diff := cmp.Diff(want, d.Entries(), cmpopts.SortSlices(func(a, b Entry) bool { return a.IOVA < b.IOVA })); diff != "" {
			t.Errorf("Entries() mismatch (-want +got):\n%s", diff)
		}
		if got, want := d.Epoch(), uint64(1+attempts*4+others+others/2); got != want {
			t.Errorf("Epoch() = %d, want %d", got, want)
		}
	})
}

func TestBulkMapRollbackOnExhaustion(t *testing.T) {
	d := newTestDomain(t, StoreBTree, Options{MaxEntries: 2})
	batch := []Entry{
		{IOVA: 0x1000, Length: 0x1000},
		{IOVA: 0x2000, Length: 0x1000},
		{IOVA: 0x3000, Length: 0x1000},
	}
	err := d.BulkMap(batch)
	var bulkErr *BulkMapError
	if !errors.As(err, &bulkErr) || bulkErr.Index != 2 || !errors.Is(err, ErrResourceExhausted) {
		t.Fatalf("BulkMap = %v, want index 2 with %v", err, ErrResourceExhausted)
	}
	if got := d.Len(); got != 0 {
		t.Errorf("Len() = %d, want 0", got)
	}
	if got := d.Epoch(); got != 4 {
		t.Errorf("Epoch() = %d, want 4", got)
	}
}

func TestBulkMapFirstFails(t *testing.T) {
	d := newTestDomain(t, StoreSlice, Options{})
	err := d.BulkMap([]Entry{{IOVA: 0x1000}, {IOVA: 0x2000, Length: 0x1000}})
	var bulkErr *BulkMapError
	if !errors.As(err, &bulkErr) || bulkErr.Index != 0 || !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("BulkMap = %v, want index 0 with %v", err, ErrInvalidArgument)
	}
	if got := d.Epoch(); got != 0 {
		t.Errorf("Epoch() = %d, want 0", got)
	}
}

func TestBulkMapAtomic(t *testing.T) {
	forEachStore(t, func(t *testing.T, kind StoreKind) {
		var epochs []uint64
		d := newTestDomain(t, kind, Options{
			Invalidator: InvalidatorFunc(func(_ ASID, _ hostarch.AddrRange, epoch uint64) {
				epochs = append(epochs, epoch)
			}),
		})
		if err := d.Map(0x100000, 0, 0x1000, PermRead); err != nil {
			t.Fatalf("Map failed: %v", err)
		}
		batch := []Entry{
			{IOVA: 0x3000, PA: 0x4000, Length: 0x1000, Perm: PermWrite},
			{IOVA: 0x1000, PA: 0x2000, Length: 0x2000, Perm: PermRead},
		}
		if err := d.BulkMapAtomic(batch); err != nil {
			t.Fatalf("BulkMapAtomic failed: %v", err)
		}
		if got := d.Epoch(); got != 3 {
			t.Errorf("Epoch() = %d, want 3", got)
		}
		if diff := cmp.Diff([]uint64{1, 2, 3}, epochs); diff != "" {
			t.Errorf("invalidation epochs mismatch (-want +got):\n%s", diff)
		}
		if got := d.Len(); got != 3 {
			t.Errorf("Len() = %d, want 3", got)
		}
		checkDisjoint(t, d)
	})
}

func TestBulkMapAtomicFailures(t *testing.T) {
	for _, tc := range []struct {
		name  string
		batch []Entry
		max   int
		index int
		want  error
	}{
		{
			name: "overlaps live mapping",
			batch: []Entry{
				{IOVA: 0x1000, Length: 0x1000},
				{IOVA: 0x100800, Length: 0x1000},
			},
			index: 1,
			want:  ErrOverlap,
		},
		{
			name: "overlaps earlier element",
			batch: []Entry{
				{IOVA: 0x1000, Length: 0x1000},
				{IOVA: 0x3000, Length: 0x1000},
				{IOVA: 0x3fff, Length: 0x1000},
			},
			index: 2,
			want:  ErrOverlap,
		},
		{
			name: "invalid element",
			batch: []Entry{
				{IOVA: 0x1000, Length: 0x1000},
				{IOVA: 0x2000, Length: 0},
			},
			index: 1,
			want:  ErrInvalidArgument,
		},
		{
			name: "exhausted",
			batch: []Entry{
				{IOVA: 0x1000, Length: 0x1000},
				{IOVA: 0x2000, Length: 0x1000},
			},
			max:   2,
			index: 1,
			want:  ErrResourceExhausted,
		},
	} {
		forEachStore(t, func(t *testing.T, kind StoreKind) {
			t.Run(tc.name, func(t *testing.T) {
				d := newTestDomain(t, kind, Options{MaxEntries: tc.max})
				if err := d.Map(0x100000, 0, 0x1000, PermRead); err != nil {
					t.Fatalf("Map failed: %v", err)
				}
				err := d.BulkMapAtomic(tc.batch)
				var bulkErr *BulkMapError
				if !errors.As(err, &bulkErr) {
					t.Fatalf("BulkMapAtomic = %v, want *BulkMapError", err)
				}
				if bulkErr.Index != tc.index || !errors.Is(err, tc.want) {
					t.Errorf("BulkMapAtomic = %v, want index %d with %v", err, tc.index, tc.want)
				}
				if got := d.Len(); got != 1 {
					t.Errorf("Len() = %d, want 1", got)
				}
				if got := d.Epoch(); got != 1 {
					t.Errorf("Epoch() = %d, want 1", got)
				}
			})
		})
	}
}
