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
	"fmt"
	"time"

	"gvisor.dev/iommu/pkg/iommu"
)

// DomainState is the persisted form of one domain.
type DomainState struct {
	Owner   string    `json:"owner"`
	Created time.Time `json:"created"`
	iommu.Snapshot
}

// State is the persisted form of a Manager.
type State struct {
	// NextASID is where ASID allocation resumes.
	NextASID iommu.ASID `json:"nextASID"`

	// Domains holds every live domain, ordered by ASID.
	Domains []DomainState `json:"domains"`
}

// Checkpoint captures the state of every live domain.
//
// Domains are captured one at a time; mutations running concurrently with
// Checkpoint may or may not be reflected.
func (m *Manager) Checkpoint() (State, error) {
	m.mu.RLock()
	closed := m.closed
	next := m.asids.next
	m.mu.RUnlock()
	if closed {
		return State{}, ErrClosed
	}

	s := State{NextASID: iommu.ASID(next)}
	for _, di := range m.live() {
		snap, err := di.domain.Snapshot()
		if err != nil {
			// Destroyed after being listed.
			continue
		}
		s.Domains = append(s.Domains, DomainState{
			Owner:    di.owner,
			Created:  di.created,
			Snapshot: snap,
		})
	}
	return s, nil
}

// Restore recreates the domains of s. The manager must be empty. Restored
// domains keep their ASIDs, epochs and mappings; no hooks are invoked.
func (m *Manager) Restore(s State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if len(m.domains) != 0 {
		return fmt.Errorf("%w: restoring into a manager with %d live domains", iommu.ErrInvalidArgument, len(m.domains))
	}

	restored := make(map[iommu.ASID]*domainInfo, len(s.Domains))
	asids := newASIDAllocator(m.cfg.MaxDomains)
	for _, ds := range s.Domains {
		if err := asids.reserve(ds.ASID); err != nil {
			return fmt.Errorf("restoring domain %d: %w", ds.ASID, err)
		}
		d, err := iommu.Restore(ds.Snapshot, m.domainOptions())
		if err != nil {
			return err
		}
		restored[ds.ASID] = &domainInfo{domain: d, owner: ds.Owner, created: ds.Created}
	}
	if next := uint32(s.NextASID); next > 0 && next < asids.limit {
		asids.next = next
	}
	m.asids = asids
	m.domains = restored
	return nil
}
