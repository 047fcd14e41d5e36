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

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/iommu/iommuctl/flag"
	"gvisor.dev/iommu/pkg/iommu"
	"gvisor.dev/iommu/pkg/iommu/manager"
)

func newFlagSet() *flag.FlagSet {
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	return testFlags
}

func TestDefault(t *testing.T) {
	c, err := NewFromFlags(newFlagSet())
	if err != nil {
		t.Fatal(err)
	}
	// "--root" and "--subject" are always set to something different than
	// the default. Reset them to make it easier to test that default values
	// do not generate flags.
	c.RootDir = ""
	c.Subject = ""

	// All defaults doesn't require setting flags.
	flags := c.ToFlags()
	if len(flags) > 0 {
		t.Errorf("default flags not set correctly for: %s", flags)
	}
	if c.Store != iommu.StoreBTree {
		t.Errorf("Store=%v, want: %v", c.Store, iommu.StoreBTree)
	}
}

func TestFromFlags(t *testing.T) {
	testFlags := newFlagSet()
	for name, val := range map[string]string{
		"root":          "some-path",
		"debug":         "true",
		"subject":       "alice",
		"store":         "slice",
		"max-entries":   "123",
		"retry-timeout": "250ms",
	} {
		if err := testFlags.Set(name, val); err != nil {
			t.Fatalf("Flag set %q: %v", name, err)
		}
	}

	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	if want := "some-path"; c.RootDir != want {
		t.Errorf("RootDir=%v, want: %v", c.RootDir, want)
	}
	if want := true; c.Debug != want {
		t.Errorf("Debug=%v, want: %v", c.Debug, want)
	}
	if want := "alice"; c.Subject != want {
		t.Errorf("Subject=%v, want: %v", c.Subject, want)
	}
	if want := iommu.StoreSlice; c.Store != want {
		t.Errorf("Store=%v, want: %v", c.Store, want)
	}
	if want := 123; c.MaxEntries != want {
		t.Errorf("MaxEntries=%v, want: %v", c.MaxEntries, want)
	}
	if want := 250 * time.Millisecond; c.RetryTimeout != want {
		t.Errorf("RetryTimeout=%v, want: %v", c.RetryTimeout, want)
	}

	want := []string{
		"--root=some-path",
		"--debug=true",
		"--subject=alice",
		"--store=slice",
		"--max-entries=123",
		"--retry-timeout=250ms",
	}
	if diff := cmp.Diff(want, c.ToFlags()); diff != "" {
		t.Errorf("ToFlags() mismatch (-want +got):\n%s", diff)
	}
}

func TestInvalidFlags(t *testing.T) {
	for name, val := range map[string]string{
		"log-format":  "xml",
		"max-entries": "-1",
		"max-domains": "70000",
	} {
		t.Run(name, func(t *testing.T) {
			testFlags := newFlagSet()
			if err := testFlags.Set(name, val); err != nil {
				t.Fatalf("Flag set: %v", err)
			}
			if _, err := NewFromFlags(testFlags); err == nil {
				t.Errorf("NewFromFlags with --%s=%s succeeded", name, val)
			}
		})
	}
	if err := newFlagSet().Set("store", "hash"); err == nil {
		t.Errorf("--store=hash accepted")
	}
}

func TestOverride(t *testing.T) {
	testFlags := newFlagSet()
	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Override(testFlags, "max-domains", "8"); err != nil {
		t.Fatalf("Override(max-domains): %v", err)
	}
	if c.MaxDomains != 8 {
		t.Errorf("MaxDomains=%d, want: 8", c.MaxDomains)
	}

	// A value that fails validation leaves the config untouched.
	if err := c.Override(testFlags, "log-format", "xml"); err == nil {
		t.Errorf("Override(log-format=xml) succeeded")
	}
	if c.LogFormat != "text" {
		t.Errorf("LogFormat=%q after failed override, want: text", c.LogFormat)
	}
	if err := c.Override(testFlags, "no-such-flag", "1"); err == nil {
		t.Errorf("Override(no-such-flag) succeeded")
	}
}

func TestClone(t *testing.T) {
	c := &Config{RootDir: "a", Store: iommu.StoreSlice, MaxEntries: 3}
	cl := c.Clone()
	if diff := cmp.Diff(c, cl); diff != "" {
		t.Errorf("Clone() mismatch (-want +got):\n%s", diff)
	}
	cl.RootDir = "b"
	if c.RootDir != "a" {
		t.Errorf("modifying clone changed original: RootDir=%q", c.RootDir)
	}
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "iommuctl.toml")
	data := strings.Join([]string{
		`store = "slice"`,
		`max-entries = 64`,
		`page-aligned = true`,
		`retry-timeout = "2s"`,
		`debug = true`,
		``,
		`[[rule]]`,
		`subject = "guest"`,
		`op = "destroy"`,
		`allow = false`,
	}, "\n")
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	testFlags := newFlagSet()
	if err := testFlags.Set("config", path); err != nil {
		t.Fatal(err)
	}
	// Command line wins over the file.
	if err := testFlags.Set("debug", "false"); err != nil {
		t.Fatal(err)
	}
	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	if c.Store != iommu.StoreSlice || c.MaxEntries != 64 || !c.PageAligned || c.RetryTimeout != 2*time.Second {
		t.Errorf("file values not applied: %+v", c)
	}
	if c.Debug {
		t.Errorf("Debug=true, want command line value false")
	}
	if c.ACLFile != path {
		t.Errorf("ACLFile=%q, want: %q", c.ACLFile, path)
	}

	acl, err := manager.LoadACL(c.ACLFile)
	if err != nil {
		t.Fatalf("LoadACL: %v", err)
	}
	if err := acl.Authorize("guest", manager.OpDestroy, 1); err == nil {
		t.Errorf("guest allowed to destroy")
	}
}

func TestConfigFileErrors(t *testing.T) {
	for name, data := range map[string]string{
		"syntax":  `store = `,
		"unknown": `color = "blue"`,
		"invalid": `max-entries = -3`,
		"nested":  `config = "other.toml"`,
	} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "iommuctl.toml")
			if err := os.WriteFile(path, []byte(data), 0644); err != nil {
				t.Fatal(err)
			}
			c := &Config{LogFormat: "text", Store: iommu.StoreBTree}
			if err := c.ApplyFile(newFlagSet(), path); err == nil {
				t.Errorf("ApplyFile(%q) succeeded", data)
			}
		})
	}
}

func TestManagerConfig(t *testing.T) {
	c := &Config{
		Store:        iommu.StoreSlice,
		MaxDomains:   4,
		MaxEntries:   16,
		PageAligned:  true,
		RetryTimeout: time.Second,
	}
	want := manager.Config{
		MaxDomains:          4,
		Store:               iommu.StoreSlice,
		MaxEntriesPerDomain: 16,
		PageAligned:         true,
		RetryTimeout:        time.Second,
	}
	if diff := cmp.Diff(want, c.ManagerConfig()); diff != "" {
		t.Errorf("ManagerConfig() mismatch (-want +got):\n%s", diff)
	}
}
