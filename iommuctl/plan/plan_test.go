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

package plan

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/iommu/pkg/iommu"
	"gvisor.dev/iommu/pkg/iommu/manager"
)

const rw = iommu.PermRead | iommu.PermWrite

func TestParseSize(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want uint64
		ok   bool
	}{
		{in: "4096", want: 4096, ok: true},
		{in: "0x2000", want: 0x2000, ok: true},
		{in: "4KiB", want: 4096, ok: true},
		{in: "2 MiB", want: 2 << 20, ok: true},
		{in: "1MB", want: 1000000, ok: true},
		{in: "lots", ok: false},
		{in: "", ok: false},
	} {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseSize(tc.in)
			if tc.ok != (err == nil) {
				t.Fatalf("ParseSize(%q) error = %v, want ok %t", tc.in, err, tc.ok)
			}
			if err != nil {
				if !errors.Is(err, iommu.ErrInvalidArgument) {
					t.Errorf("ParseSize(%q) error = %v, want %v", tc.in, err, iommu.ErrInvalidArgument)
				}
				return
			}
			if got != tc.want {
				t.Errorf("ParseSize(%q) = %d, want %d", tc.in, got, tc.want)
			}
		})
	}
}

func TestParseMapping(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want iommu.Entry
		ok   bool
	}{
		{in: "0x1000:0x80000:4KiB", want: iommu.Entry{IOVA: 0x1000, PA: 0x80000, Length: 4096, Perm: rw}, ok: true},
		{in: "4096:8192:0x2000:r", want: iommu.Entry{IOVA: 4096, PA: 8192, Length: 0x2000, Perm: iommu.PermRead}, ok: true},
		{in: "0x1000:0x2000", ok: false},
		{in: "0x1000:0x2000:1:rw:x", ok: false},
		{in: "zz:0x2000:1", ok: false},
		{in: "0x1000:0x2000:1:q", ok: false},
	} {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseMapping(tc.in)
			if tc.ok != (err == nil) {
				t.Fatalf("ParseMapping(%q) error = %v, want ok %t", tc.in, err, tc.ok)
			}
			if err == nil && got != tc.want {
				t.Errorf("ParseMapping(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

const testPlan = `
steps:
- name: boot
  domain: vm0
  create: true
  owner: vm0
  atomic: true
  map:
  - {iova: 0x100000, pa: 0x40000000, size: 2MiB}
  - {iova: 0x300000, pa: 0x50000000, size: 4096, perm: r}
- name: teardown
  domain: vm0
  unmap:
  - {iova: 0x100000, size: 2MiB}
  destroy: true
`

func TestParse(t *testing.T) {
	f, err := Parse([]byte(testPlan))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := manager.Plan{Steps: []manager.PlanStep{
		{
			Name:   "boot",
			Domain: "vm0",
			Create: true,
			Owner:  "vm0",
			Atomic: true,
			Map: []iommu.Entry{
				{IOVA: 0x100000, PA: 0x40000000, Length: 2 << 20, Perm: rw},
				{IOVA: 0x300000, PA: 0x50000000, Length: 4096, Perm: iommu.PermRead},
			},
		},
		{
			Name:    "teardown",
			Domain:  "vm0",
			Unmap:   []iommu.Entry{{IOVA: 0x100000, Length: 2 << 20, Perm: rw}},
			Destroy: true,
		},
	}}
	if diff := cmp.Diff(want, f.Plan()); diff != "" {
		t.Errorf("Plan() mismatch (-want +got):\n%s", diff)
	}
}

func TestParseErrors(t *testing.T) {
	for name, data := range map[string]string{
		"unknown key":  "steps:\n- name: a\n  domain: d\n  colour: red\n",
		"bad size":     "steps:\n- domain: d\n  map:\n  - {iova: 0, pa: 0, size: lots}\n",
		"bad perm":     "steps:\n- domain: d\n  map:\n  - {iova: 0, pa: 0, size: 1, perm: q}\n",
		"no domain":    "steps:\n- name: a\n  create: true\n",
		"not yaml map": "steps: 3\n",
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(data)); err == nil {
				t.Errorf("Parse(%q) succeeded", data)
			}
		})
	}
}

func TestLoadMappings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "maps.yaml")
	data := "- {iova: 0x1000, pa: 0x9000, size: 4KiB, perm: rwx}\n- {iova: 0x2000, pa: 0xa000, size: 0x1000}\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := LoadMappings(path)
	if err != nil {
		t.Fatalf("LoadMappings: %v", err)
	}
	want := []iommu.Entry{
		{IOVA: 0x1000, PA: 0x9000, Length: 4096, Perm: rw | iommu.PermExec},
		{IOVA: 0x2000, PA: 0xa000, Length: 0x1000, Perm: rw},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("LoadMappings() mismatch (-want +got):\n%s", diff)
	}
	if _, err := LoadMappings(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Errorf("LoadMappings of a missing file succeeded")
	}
}
