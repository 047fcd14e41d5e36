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
)

// Snapshot is a point-in-time copy of a domain's state, suitable for
// persisting a domain and recreating it later with Restore.
type Snapshot struct {
	ASID    ASID    `json:"asid"`
	Epoch   uint64  `json:"epoch"`
	Entries []Entry `json:"entries"`
}

// Snapshot returns a copy of the domain's state taken under its lock.
func (d *Domain) Snapshot() (Snapshot, error) {
	if d == nil {
		return Snapshot{}, ErrInvalidArgument
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkLiveLocked(); err != nil {
		return Snapshot{}, err
	}
	s := Snapshot{
		ASID:    d.asid,
		Epoch:   d.epoch.Load(),
		Entries: make([]Entry, 0, d.store.Len()),
	}
	d.store.ForEach(func(e Entry) bool {
		s.Entries = append(s.Entries, e)
		return true
	})
	return s, nil
}

// Restore creates a domain holding the entries of s at epoch s.Epoch. The
// entries are checked exactly as Map would check them; restoring does not
// advance the epoch nor notify opts.Invalidator.
func Restore(s Snapshot, opts Options) (*Domain, error) {
	d, err := NewDomain(s.ASID, opts)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, e := range s.Entries {
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("restoring domain %d entry %d: %w", s.ASID, i, err)
		}
		if _, err := d.mapLocked(e); err != nil {
			return nil, fmt.Errorf("restoring domain %d entry %d: %w", s.ASID, i, err)
		}
	}
	d.epoch.Store(s.Epoch)
	return d, nil
}
