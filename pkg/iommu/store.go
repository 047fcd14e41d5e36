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

	"gvisor.dev/iommu/pkg/hostarch"
)

// Store holds the live mappings of one domain. Implementations are not
// synchronized; the owning Domain serializes every call under its lock.
//
// Stores rely on their contents being pairwise non-overlapping. Insert does
// not check for overlap; callers must use OverlapsAny first.
type Store interface {
	// Find returns the entry matching exactly (iova, length).
	Find(iova hostarch.Addr, length uint64) (Entry, bool)

	// Lookup returns the entry whose range contains addr.
	Lookup(addr hostarch.Addr) (Entry, bool)

	// OverlapsAny returns a live entry overlapping e, if any.
	OverlapsAny(e Entry) (Entry, bool)

	// Insert adds e.
	Insert(e Entry)

	// Remove deletes the entry matching exactly (iova, length) and returns
	// it. ok is false if there is no such entry, in which case the store is
	// unchanged.
	Remove(iova hostarch.Addr, length uint64) (e Entry, ok bool)

	// Len returns the number of live entries.
	Len() int

	// ForEach calls fn for every entry in ascending IOVA order until fn
	// returns false.
	ForEach(fn func(Entry) bool)
}

// StoreKind selects a Store implementation.
type StoreKind string

const (
	// StoreSlice is an unordered slice with linear scans. It is the
	// simplest store and is fast for domains holding a handful of entries.
	StoreSlice StoreKind = "slice"

	// StoreBTree is a B-tree ordered by IOVA with logarithmic lookups.
	StoreBTree StoreKind = "btree"
)

// String implements fmt.Stringer.String.
func (k StoreKind) String() string { return string(k) }

// Set implements flag.Value.Set.
func (k *StoreKind) Set(v string) error {
	switch StoreKind(v) {
	case StoreSlice, StoreBTree:
		*k = StoreKind(v)
		return nil
	case "":
		*k = StoreBTree
		return nil
	default:
		return fmt.Errorf("invalid store %q, must be %q or %q", v, StoreSlice, StoreBTree)
	}
}

// Get implements flag.Getter.Get.
func (k *StoreKind) Get() any { return *k }

// NewStore returns an empty store of the given kind. The zero StoreKind
// selects StoreBTree.
func NewStore(kind StoreKind) (Store, error) {
	switch kind {
	case StoreSlice:
		return NewSliceStore(), nil
	case StoreBTree, "":
		return NewBTreeStore(), nil
	default:
		return nil, fmt.Errorf("%w: unknown store kind %q", ErrInvalidArgument, kind)
	}
}

// sliceStore is a Store backed by an unordered slice.
type sliceStore struct {
	entries []Entry
}

// NewSliceStore returns an empty slice-backed Store.
func NewSliceStore() Store {
	return &sliceStore{}
}

func (s *sliceStore) index(iova hostarch.Addr, length uint64) int {
	for i, e := range s.entries {
		if e.IOVA == iova && e.Length == length {
			return i
		}
	}
	return -1
}

// Find implements Store.Find.
func (s *sliceStore) Find(iova hostarch.Addr, length uint64) (Entry, bool) {
	if i := s.index(iova, length); i >= 0 {
		return s.entries[i], true
	}
	return Entry{}, false
}

// Lookup implements Store.Lookup.
func (s *sliceStore) Lookup(addr hostarch.Addr) (Entry, bool) {
	for _, e := range s.entries {
		if e.Range().Contains(addr) {
			return e, true
		}
	}
	return Entry{}, false
}

// OverlapsAny implements Store.OverlapsAny.
func (s *sliceStore) OverlapsAny(c Entry) (Entry, bool) {
	for _, e := range s.entries {
		if e.Overlaps(c) {
			return e, true
		}
	}
	return Entry{}, false
}

// Insert implements Store.Insert.
func (s *sliceStore) Insert(e Entry) {
	s.entries = append(s.entries, e)
}

// Remove implements Store.Remove.
func (s *sliceStore) Remove(iova hostarch.Addr, length uint64) (Entry, bool) {
	i := s.index(iova, length)
	if i < 0 {
		return Entry{}, false
	}
	e := s.entries[i]
	last := len(s.entries) - 1
	s.entries[i] = s.entries[last]
	s.entries[last] = Entry{}
	s.entries = s.entries[:last]
	return e, true
}

// Len implements Store.Len.
func (s *sliceStore) Len() int {
	return len(s.entries)
}

// ForEach implements Store.ForEach.
func (s *sliceStore) ForEach(fn func(Entry) bool) {
	sorted := make([]Entry, len(s.entries))
	copy(sorted, s.entries)
	sortEntries(sorted)
	for _, e := range sorted {
		if !fn(e) {
			return
		}
	}
}
