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
	"fmt"

	"gvisor.dev/iommu/pkg/iommu"
)

// PlanStep is one step of a Plan. A step selects or creates a domain, removes
// the mappings in Unmap one at a time, bulk maps Map and finally destroys the
// domain if Destroy is set.
type PlanStep struct {
	// Name labels the step in results and errors.
	Name string

	// Domain names the domain the step operates on. A step with Create set
	// binds the name to the domain it creates; later steps refer to that
	// domain by the same name.
	Domain string

	// ASID selects the domain directly. With Create, a nonzero ASID
	// requests that ASID for the new domain.
	ASID iommu.ASID

	// Create creates the domain, owned by Owner.
	Create bool
	Owner  string

	// Unmap lists mappings to remove. Only IOVA and Length are used.
	Unmap []iommu.Entry

	// Map lists mappings to add with a single bulk map.
	Map []iommu.Entry

	// Atomic selects BulkMapAtomic for Map.
	Atomic bool

	// Destroy destroys the domain at the end of the step.
	Destroy bool
}

// Plan is an ordered list of steps applied by ApplyPlan.
type Plan struct {
	Steps []PlanStep
}

// StepResult reports what one step did.
type StepResult struct {
	Step      int
	Name      string
	ASID      iommu.ASID
	Created   bool
	Unmapped  int
	Mapped    int
	Destroyed bool
	Err       error
}

// ApplyPlan applies the steps of p in order on behalf of subject. It stops at
// the first failing step and returns the results of every attempted step,
// the failing one last, along with its error. Completed steps are not undone.
func (m *Manager) ApplyPlan(ctx context.Context, subject string, p Plan) ([]StepResult, error) {
	names := make(map[string]iommu.ASID)
	results := make([]StepResult, 0, len(p.Steps))
	for i, step := range p.Steps {
		res := m.applyStep(ctx, subject, i, step, names)
		results = append(results, res)
		if res.Err != nil {
			return results, fmt.Errorf("plan step %d (%s): %w", i, step.Name, res.Err)
		}
	}
	return results, nil
}

func (m *Manager) applyStep(ctx context.Context, subject string, i int, step PlanStep, names map[string]iommu.ASID) StepResult {
	res := StepResult{Step: i, Name: step.Name, ASID: step.ASID}

	switch {
	case step.Create:
		owner := step.Owner
		if owner == "" {
			owner = subject
		}
		var (
			d   *iommu.Domain
			err error
		)
		if step.ASID != 0 {
			d, err = m.CreateWithASID(ctx, owner, step.ASID)
		} else {
			d, err = m.Create(ctx, owner)
		}
		if err != nil {
			res.Err = err
			return res
		}
		res.ASID, res.Created = d.ASID(), true
		if step.Domain != "" {
			names[step.Domain] = res.ASID
		}
	case step.Domain != "":
		asid, ok := names[step.Domain]
		if !ok {
			res.Err = fmt.Errorf("%w: domain %q was not created by an earlier step", ErrNoDomain, step.Domain)
			return res
		}
		res.ASID = asid
	case step.ASID == 0:
		res.Err = fmt.Errorf("%w: step selects no domain", iommu.ErrInvalidArgument)
		return res
	}

	for _, e := range step.Unmap {
		if err := m.Unmap(ctx, subject, res.ASID, e.IOVA, e.Length); err != nil {
			res.Err = err
			return res
		}
		res.Unmapped++
	}

	if len(step.Map) > 0 {
		var err error
		if step.Atomic {
			err = m.BulkMapAtomic(ctx, subject, res.ASID, step.Map)
		} else {
			err = m.BulkMap(ctx, subject, res.ASID, step.Map)
		}
		if err != nil {
			res.Err = err
			return res
		}
		res.Mapped = len(step.Map)
	}

	if step.Destroy {
		if err := m.Destroy(ctx, subject, res.ASID); err != nil {
			res.Err = err
			return res
		}
		res.Destroyed = true
	}
	return res
}
