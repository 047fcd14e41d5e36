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

package state

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/iommu/pkg/iommu"
	"gvisor.dev/iommu/pkg/iommu/manager"
)

func TestLoadEmpty(t *testing.T) {
	s, err := Open(context.Background(), t.TempDir(), time.Second)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	st, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(manager.State{}, st); diff != "" {
		t.Errorf("Load() of a new root mismatch (-want +got):\n%s", diff)
	}
}

func TestSaveLoad(t *testing.T) {
	root := t.TempDir()
	want := manager.State{
		NextASID: 3,
		Domains: []manager.DomainState{{
			Owner:   "vm0",
			Created: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
			Snapshot: iommu.Snapshot{
				ASID:  2,
				Epoch: 7,
				Entries: []iommu.Entry{
					{IOVA: 0x1000, PA: 0x80000, Length: 0x2000, Perm: iommu.PermRead | iommu.PermWrite},
				},
			},
		}},
	}

	s, err := Open(context.Background(), root, time.Second)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = Open(context.Background(), root, time.Second)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if name := e.Name(); name != tableFilename && name != lockFilename {
			t.Errorf("unexpected file %q left in root", name)
		}
	}
}

func TestLockContention(t *testing.T) {
	root := t.TempDir()
	s, err := Open(context.Background(), root, time.Second)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if _, err := Open(context.Background(), root, 50*time.Millisecond); !errors.Is(err, ErrLocked) {
		t.Errorf("second Open = %v, want %v", err, ErrLocked)
	}

	done := make(chan error, 1)
	go func() {
		s2, err := Open(context.Background(), root, 5*time.Second)
		if err == nil {
			err = s2.Close()
		}
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := <-done; err != nil {
		t.Errorf("Open after release: %v", err)
	}
}

func TestLoadCorrupt(t *testing.T) {
	s, err := Open(context.Background(), t.TempDir(), time.Second)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	if err := os.WriteFile(s.Path(), []byte("{"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Load(); err == nil {
		t.Errorf("Load of a corrupt table succeeded")
	}
}
