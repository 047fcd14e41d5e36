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
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/iommu/pkg/iommu"
)

func TestACLFirstMatchWins(t *testing.T) {
	acl := &ACL{}
	acl.Add(Rule{Subject: "guest", Op: OpDestroy, Allow: false})
	acl.Add(Rule{Subject: "guest", Op: Wildcard, ASID: 9, Allow: false})
	acl.Add(Rule{Subject: Wildcard, Op: OpDestroy, Allow: true})

	for _, tc := range []struct {
		subject string
		op      Op
		asid    iommu.ASID
		allow   bool
	}{
		{"guest", OpDestroy, 1, false},
		{"guest", OpMap, 9, false},
		{"guest", OpMap, 1, true},
		{"admin", OpDestroy, 9, true},
		{"nobody", OpCreate, 0, true},
	} {
		err := acl.Authorize(tc.subject, tc.op, tc.asid)
		if got := err == nil; got != tc.allow {
			t.Errorf("Authorize(%q, %q, %d) = %v, want allow=%t", tc.subject, tc.op, tc.asid, err, tc.allow)
		}
	}
}

func TestACLNilAllowsAll(t *testing.T) {
	var acl *ACL
	if err := acl.Authorize("anyone", OpDestroy, 1); err != nil {
		t.Errorf("nil ACL denied: %v", err)
	}
}

const aclTOML = `
[[rule]]
subject = "guest"
op = "destroy"
allow = false

[[rule]]
subject = "*"
op = "map"
asid = 3
allow = true
`

func TestParseACL(t *testing.T) {
	acl, err := ParseACL(aclTOML)
	if err != nil {
		t.Fatalf("ParseACL failed: %v", err)
	}
	want := []Rule{
		{Subject: "guest", Op: OpDestroy, Allow: false},
		{Subject: "*", Op: OpMap, ASID: 3, Allow: true},
	}
	if diff := cmp.Diff(want, acl.Rules); diff != "" {
		t.Errorf("rules mismatch (-want +got):\n%s", diff)
	}
}

func TestParseACLErrors(t *testing.T) {
	for name, data := range map[string]string{
		"bad toml":      "[[rule]\n",
		"no subject":    "[[rule]]\nop = \"map\"\n",
		"no op":         "[[rule]]\nsubject = \"a\"\n",
		"unknown op":    "[[rule]]\nsubject = \"a\"\nop = \"reboot\"\n",
		"asid overflow": "[[rule]]\nsubject = \"a\"\nop = \"map\"\nasid = 70000\n",
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseACL(data); err == nil {
				t.Errorf("ParseACL succeeded, want error")
			}
		})
	}
}

func TestLoadACL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "acl.toml")
	if err := os.WriteFile(path, []byte(aclTOML), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	acl, err := LoadACL(path)
	if err != nil {
		t.Fatalf("LoadACL failed: %v", err)
	}
	if err := acl.Authorize("guest", OpDestroy, 1); err == nil {
		t.Errorf("guest destroy allowed, want denied")
	}
	if _, err := LoadACL(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Errorf("LoadACL of a missing file succeeded")
	}
}
