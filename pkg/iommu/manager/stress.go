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
	"context"
	goerrors "errors"
	"fmt"
	"math/rand"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"gvisor.dev/iommu/pkg/hostarch"
	"gvisor.dev/iommu/pkg/iommu"
)

// StressOptions configures Stress.
type StressOptions struct {
	// Workers is the number of concurrent goroutines.
	Workers int

	// Iterations is the number of operations each worker performs.
	Iterations int

	// Seed seeds the per-worker random sources.
	Seed int64

	// Base is the start of the IOVA window the workers map into.
	Base hostarch.Addr

	// WindowPages is the size of the window, in pages. A small window
	// makes overlapping requests common.
	WindowPages int

	// MaxPages bounds the length of each mapping, in pages.
	MaxPages int
}

func (o *StressOptions) setDefaults() {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.Iterations <= 0 {
		o.Iterations = 1000
	}
	if o.WindowPages <= 0 {
		o.WindowPages = 64
	}
	if o.MaxPages <= 0 {
		o.MaxPages = 4
	}
}

// StressReport summarizes a Stress run.
type StressReport struct {
	Maps     uint64
	Overlaps uint64
	Unmaps   uint64

	// Live is the number of mappings left in the domain.
	Live int

	// EpochDelta is the change in the domain epoch over the run. Without
	// concurrent users of the domain it equals Maps+Unmaps.
	EpochDelta uint64
}

// Stress races workers issuing random overlapping map and unmap requests
// against domain asid, then verifies that the live mappings are pairwise
// disjoint. Each worker only unmaps mappings it created itself.
func (m *Manager) Stress(ctx context.Context, subject string, asid iommu.ASID, opts StressOptions) (StressReport, error) {
	opts.setDefaults()
	d, err := m.Get(asid)
	if err != nil {
		return StressReport{}, err
	}
	start := d.Epoch()

	var maps, overlaps, unmaps atomic.Uint64
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < opts.Workers; w++ {
		g.Go(func() error {
			rng := rand.New(rand.NewSource(opts.Seed + int64(w)))
			var owned []iommu.Entry
			for i := 0; i < opts.Iterations; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				if len(owned) > 0 && rng.Intn(2) == 0 {
					j := rng.Intn(len(owned))
					e := owned[j]
					if err := m.Unmap(gctx, subject, asid, e.IOVA, e.Length); err != nil {
						return fmt.Errorf("worker %d: unmapping own mapping %v: %w", w, e.Range(), err)
					}
					owned[j] = owned[len(owned)-1]
					owned = owned[:len(owned)-1]
					unmaps.Add(1)
					continue
				}
				e := iommu.Entry{
					IOVA:   opts.Base + hostarch.Addr(rng.Intn(opts.WindowPages))*hostarch.PageSize,
					PA:     hostarch.Addr(rng.Intn(1<<20)) * hostarch.PageSize,
					Length: uint64(1+rng.Intn(opts.MaxPages)) * hostarch.PageSize,
					Perm:   iommu.PermRead | iommu.PermWrite,
				}
				switch err := m.Map(gctx, subject, asid, e.IOVA, e.PA, e.Length, e.Perm); {
				case err == nil:
					owned = append(owned, e)
					maps.Add(1)
				case goerrors.Is(err, iommu.ErrOverlap):
					overlaps.Add(1)
				default:
					return fmt.Errorf("worker %d: mapping %v: %w", w, e.Range(), err)
				}
			}
			return nil
		})
	}
	err = g.Wait()

	entries := d.Entries()
	report := StressReport{
		Maps:       maps.Load(),
		Overlaps:   overlaps.Load(),
		Unmaps:     unmaps.Load(),
		Live:       len(entries),
		EpochDelta: d.Epoch() - start,
	}
	if err != nil {
		return report, err
	}
	// Entries is sorted by IOVA, so checking neighbours covers every pair.
	for i := 1; i < len(entries); i++ {
		if entries[i-1].Overlaps(entries[i]) {
			return report, fmt.Errorf("live mappings %v and %v overlap", entries[i-1].Range(), entries[i].Range())
		}
	}
	return report, nil
}
