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
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/iommu/pkg/hostarch"
)

func TestStoreBasics(t *testing.T) {
	forEachStore(t, func(t *testing.T, kind StoreKind) {
		s, err := NewStore(kind)
		if err != nil {
			t.Fatalf("NewStore(%q) failed: %v", kind, err)
		}
		a := Entry{IOVA: 0x3000, PA: 0x10000, Length: 0x1000, Perm: PermRead}
		b := Entry{IOVA: 0x1000, PA: 0x20000, Length: 0x2000, Perm: PermWrite}
		s.Insert(a)
		s.Insert(b)

		if got := s.Len(); got != 2 {
			t.Errorf("Len() = %d, want 2", got)
		}
		if got, ok := s.Find(0x3000, 0x1000); !ok || got != a {
			t.Errorf("Find(0x3000, 0x1000) = %v, %t, want %v, true", got, ok, a)
		}
		if _, ok := s.Find(0x3000, 0x800); ok {
			t.Errorf("Find with wrong length succeeded")
		}
		if got, ok := s.Lookup(0x2fff); !ok || got != b {
			t.Errorf("Lookup(0x2fff) = %v, %t, want %v, true", got, ok, b)
		}
		if _, ok := s.Lookup(0x4000); ok {
			t.Errorf("Lookup(0x4000) found an entry past the end of the last mapping")
		}
		if _, ok := s.OverlapsAny(Entry{IOVA: 0x4000, Length: 0x1000}); ok {
			t.Errorf("OverlapsAny reported an adjacent range")
		}
		if got, ok := s.OverlapsAny(Entry{IOVA: 0x2800, Length: 0x1000}); !ok || (got != a && got != b) {
			t.Errorf("OverlapsAny([0x2800, 0x3800)) = %v, %t, want a live entry", got, ok)
		}

		var order []Entry
		s.ForEach(func(e Entry) bool {
			order = append(order, e)
			return true
		})
		if diff := cmp.Diff([]Entry{b, a}, order); diff != "" {
			t.Errorf("ForEach order mismatch (-want +got):\n%s", diff)
		}

		if _, ok := s.Remove(0x1000, 0x1000); ok {
			t.Errorf("Remove with wrong length succeeded")
		}
		if got, ok := s.Remove(0x1000, 0x2000); !ok || got != b {
			t.Errorf("Remove(0x1000, 0x2000) = %v, %t, want %v, true", got, ok, b)
		}
		if got := s.Len(); got != 1 {
			t.Errorf("Len() after Remove = %d, want 1", got)
		}
	})
}

func TestNewStoreUnknown(t *testing.T) {
	if _, err := NewStore("skiplist"); err == nil {
		t.Errorf("NewStore(\"skiplist\") succeeded, want error")
	}
}

func TestStoreKindSet(t *testing.T) {
	var k StoreKind
	if err := k.Set("slice"); err != nil || k != StoreSlice {
		t.Errorf("Set(\"slice\") = %v, kind %q", err, k)
	}
	if err := k.Set("bogus"); err == nil {
		t.Errorf("Set(\"bogus\") succeeded, want error")
	}
}

// TestStoresAgree drives both stores with the same random operations and
// checks them against a brute-force overlap scan.
func TestStoresAgree(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	slice, tree := NewSliceStore(), NewBTreeStore()
	var live []Entry

	randomEntry := func() Entry {
		return Entry{
			IOVA:   hostarch.Addr(rng.Intn(256)) * hostarch.PageSize,
			PA:     hostarch.Addr(rng.Intn(1 << 20)),
			Length: uint64(1+rng.Intn(8)) * hostarch.PageSize,
		}
	}

	for i := 0; i < 2000; i++ {
		if len(live) > 0 && rng.Intn(3) == 0 {
			j := rng.Intn(len(live))
			e := live[j]
			live = append(live[:j], live[j+1:]...)
			if _, ok := slice.Remove(e.IOVA, e.Length); !ok {
				t.Fatalf("slice store lost %v", e)
			}
			if _, ok := tree.Remove(e.IOVA, e.Length); !ok {
				t.Fatalf("btree store lost %v", e)
			}
			continue
		}

		c := randomEntry()
		want := false
		for _, e := range live {
			if e.Overlaps(c) {
				want = true
				break
			}
		}
		_, gotSlice := slice.OverlapsAny(c)
		_, gotTree := tree.OverlapsAny(c)
		if gotSlice != want || gotTree != want {
			t.Fatalf("OverlapsAny(%v): slice %t, btree %t, want %t", c.Range(), gotSlice, gotTree, want)
		}
		if !want {
			slice.Insert(c)
			tree.Insert(c)
			live = append(live, c)
		}

		addr := hostarch.Addr(rng.Intn(264 * hostarch.PageSize))
		es, oks := slice.Lookup(addr)
		et, okt := tree.Lookup(addr)
		if oks != okt || es != et {
			t.Fatalf("Lookup(%v): slice (%v, %t), btree (%v, %t)", addr, es, oks, et, okt)
		}
	}

	collect := func(s Store) []Entry {
		var es []Entry
		s.ForEach(func(e Entry) bool {
			es = append(es, e)
			return true
		})
		return es
	}
	if diff := cmp.Diff(collect(slice), collect(tree)); diff != "" {
		t.Errorf("stores diverged (-slice +btree):\n%s", diff)
	}
	if slice.Len() != len(live) || tree.Len() != len(live) {
		t.Errorf("Len: slice %d, btree %d, want %d", slice.Len(), tree.Len(), len(live))
	}
}
