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
	"slices"

	"github.com/google/btree"
	"gvisor.dev/iommu/pkg/hostarch"
)

// btreeDegree is the B-tree degree used by btreeStore.
const btreeDegree = 16

// btreeStore is a Store backed by a B-tree keyed on IOVA. Live entries never
// overlap and never have a zero length, so IOVA alone is a unique key.
type btreeStore struct {
	tree *btree.BTreeG[Entry]
}

func lessIOVA(a, b Entry) bool {
	return a.IOVA < b.IOVA
}

// NewBTreeStore returns an empty B-tree backed Store.
func NewBTreeStore() Store {
	return &btreeStore{tree: btree.NewG(btreeDegree, lessIOVA)}
}

// Find implements Store.Find.
func (s *btreeStore) Find(iova hostarch.Addr, length uint64) (Entry, bool) {
	e, ok := s.tree.Get(Entry{IOVA: iova})
	if !ok || e.Length != length {
		return Entry{}, false
	}
	return e, true
}

// floor returns the entry with the greatest IOVA <= addr.
func (s *btreeStore) floor(addr hostarch.Addr) (Entry, bool) {
	var (
		found Entry
		ok    bool
	)
	s.tree.DescendLessOrEqual(Entry{IOVA: addr}, func(e Entry) bool {
		found, ok = e, true
		return false
	})
	return found, ok
}

// Lookup implements Store.Lookup.
func (s *btreeStore) Lookup(addr hostarch.Addr) (Entry, bool) {
	if e, ok := s.floor(addr); ok && e.Range().Contains(addr) {
		return e, true
	}
	return Entry{}, false
}

// OverlapsAny implements Store.OverlapsAny.
//
// Only the nearest entry at or below c.IOVA and the nearest entry above it
// can overlap c, since live entries are disjoint.
func (s *btreeStore) OverlapsAny(c Entry) (Entry, bool) {
	if e, ok := s.floor(c.IOVA); ok && e.Overlaps(c) {
		return e, true
	}
	var (
		found Entry
		ok    bool
	)
	s.tree.AscendGreaterOrEqual(Entry{IOVA: c.IOVA}, func(e Entry) bool {
		if e.IOVA == c.IOVA {
			// Already checked as the floor.
			return true
		}
		found, ok = e, e.Overlaps(c)
		return false
	})
	return found, ok
}

// Insert implements Store.Insert.
func (s *btreeStore) Insert(e Entry) {
	s.tree.ReplaceOrInsert(e)
}

// Remove implements Store.Remove.
func (s *btreeStore) Remove(iova hostarch.Addr, length uint64) (Entry, bool) {
	if _, ok := s.Find(iova, length); !ok {
		return Entry{}, false
	}
	return s.tree.Delete(Entry{IOVA: iova})
}

// Len implements Store.Len.
func (s *btreeStore) Len() int {
	return s.tree.Len()
}

// ForEach implements Store.ForEach.
func (s *btreeStore) ForEach(fn func(Entry) bool) {
	s.tree.Ascend(btree.ItemIteratorG[Entry](fn))
}

func sortEntries(es []Entry) {
	slices.SortFunc(es, func(a, b Entry) int {
		switch {
		case a.IOVA < b.IOVA:
			return -1
		case a.IOVA > b.IOVA:
			return 1
		default:
			return 0
		}
	})
}
