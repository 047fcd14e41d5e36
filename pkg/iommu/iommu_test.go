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
	"strings"
	"testing"

	"gvisor.dev/iommu/pkg/hostarch"
)

var storeKinds = []StoreKind{StoreSlice, StoreBTree}

// forEachStore runs fn as a subtest once per store implementation.
func forEachStore(t *testing.T, fn func(t *testing.T, kind StoreKind)) {
	for _, kind := range storeKinds {
		t.Run(string(kind), func(t *testing.T) {
			fn(t, kind)
		})
	}
}

func newTestDomain(t *testing.T, kind StoreKind, opts Options) *Domain {
	t.Helper()
	opts.Store = kind
	d, err := NewDomain(1, opts)
	if err != nil {
		t.Fatalf("NewDomain(%+v) failed: %v", opts, err)
	}
	return d
}

func TestPermString(t *testing.T) {
	for _, tc := range []struct {
		perm Perm
		want string
	}{
		{0, "---"},
		{PermRead, "r--"},
		{PermRead | PermWrite, "rw-"},
		{PermRead | PermWrite | PermExec, "rwx"},
		{PermExec | 0x10, "--x+0x10"},
	} {
		if got := tc.perm.String(); got != tc.want {
			t.Errorf("Perm(%#x).String() = %q, want %q", uint32(tc.perm), got, tc.want)
		}
	}
}

func TestParsePerm(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want Perm
	}{
		{"", 0},
		{"r", PermRead},
		{"rw-", PermRead | PermWrite},
		{"RWX", PermRead | PermWrite | PermExec},
	} {
		got, err := ParsePerm(tc.in)
		if err != nil {
			t.Errorf("ParsePerm(%q) failed: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParsePerm(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
	if _, err := ParsePerm("rq"); err == nil {
		t.Errorf("ParsePerm(\"rq\") succeeded, want error")
	}
}

func TestEntryOverlaps(t *testing.T) {
	for _, tc := range []struct {
		name string
		a, b Entry
		want bool
	}{
		{
			name: "adjacent",
			a:    Entry{IOVA: 0x1000, Length: 0x1000},
			b:    Entry{IOVA: 0x2000, Length: 0x1000},
			want: false,
		},
		{
			name: "one byte shared",
			a:    Entry{IOVA: 0x1000, Length: 0x1001},
			b:    Entry{IOVA: 0x2000, Length: 0x1000},
			want: true,
		},
		{
			name: "contained",
			a:    Entry{IOVA: 0x1000, Length: 0x10000},
			b:    Entry{IOVA: 0x4000, Length: 0x10},
			want: true,
		},
		{
			name: "identical",
			a:    Entry{IOVA: 0x1000, Length: 0x1000},
			b:    Entry{IOVA: 0x1000, Length: 0x1000},
			want: true,
		},
		{
			name: "disjoint",
			a:    Entry{IOVA: 0x1000, Length: 0x1000},
			b:    Entry{IOVA: 0x9000, Length: 0x1000},
			want: false,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.a.Overlaps(tc.b); got != tc.want {
				t.Errorf("%v.Overlaps(%v) = %t, want %t", tc.a.Range(), tc.b.Range(), got, tc.want)
			}
			if got := tc.b.Overlaps(tc.a); got != tc.want {
				t.Errorf("%v.Overlaps(%v) = %t, want %t", tc.b.Range(), tc.a.Range(), got, tc.want)
			}
		})
	}
}

func TestEntryValidate(t *testing.T) {
	const top = ^hostarch.Addr(0)
	for _, tc := range []struct {
		name  string
		entry Entry
		ok    bool
		msg   string
	}{
		{"ok", Entry{IOVA: 0x1000, PA: 0x2000, Length: 0x1000}, true, ""},
		{"zero length", Entry{IOVA: 0x1000, PA: 0x2000}, false, "zero length"},
		{"iova wraps", Entry{IOVA: top - 0xfff, PA: 0x2000, Length: 0x2000}, false, "iova range 0xfffffffffffff000+0x2000 wraps"},
		{"pa wraps", Entry{IOVA: 0x1000, PA: top, Length: 2}, false, "pa range 0xffffffffffffffff+0x2 wraps"},
		{"below top", Entry{IOVA: top - 0x1fff, PA: 0, Length: 0x1000}, true, ""},
		{"reaches top", Entry{IOVA: top - 0xfff, PA: 0, Length: 0x1000}, false, "iova range 0xfffffffffffff000+0x1000 reaches the top of the address space"},
		{"pa reaches top", Entry{IOVA: 0, PA: top - 0xfff, Length: 0x1000}, false, "pa range 0xfffffffffffff000+0x1000 reaches the top"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.entry.Validate()
			if tc.ok && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
			if !tc.ok && !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("Validate() = %v, want %v", err, ErrInvalidArgument)
			}
			if err != nil && !strings.Contains(err.Error(), tc.msg) {
				t.Errorf("Validate() = %q, want it to mention %q", err, tc.msg)
			}
		})
	}
}
