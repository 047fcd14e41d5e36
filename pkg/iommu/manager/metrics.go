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
	"gvisor.dev/iommu/pkg/metric"
)

// metrics holds the manager's counters. All counters are broken down by the
// "result" field, whose values are Results.
type metrics struct {
	maps      *metric.Uint64Metric
	unmaps    *metric.Uint64Metric
	bulkMaps  *metric.Uint64Metric
	lifecycle *metric.Uint64Metric
}

var resultField = metric.NewField("result", Results)

func newMetrics(r *metric.Registry, m *Manager) (*metrics, error) {
	var (
		ms  metrics
		err error
	)
	if ms.maps, err = r.NewUint64Metric("iommu_map_total", "Single mapping requests, by result.", resultField); err != nil {
		return nil, err
	}
	if ms.unmaps, err = r.NewUint64Metric("iommu_unmap_total", "Unmapping requests, by result.", resultField); err != nil {
		return nil, err
	}
	if ms.bulkMaps, err = r.NewUint64Metric("iommu_bulk_map_total", "Bulk mapping requests, by result.", resultField); err != nil {
		return nil, err
	}
	opField := metric.NewField("op", []string{string(OpCreate), string(OpDestroy)})
	if ms.lifecycle, err = r.NewUint64Metric("iommu_domain_lifecycle_total", "Domain creation and destruction requests, by result.", opField, resultField); err != nil {
		return nil, err
	}
	if err := r.RegisterCustomUint64Metric("iommu_domains_live", "Number of live domains.", func(...string) uint64 {
		return uint64(m.Len())
	}); err != nil {
		return nil, err
	}
	if err := r.RegisterCustomUint64Metric("iommu_mappings_live", "Number of live mappings across all domains.", func(...string) uint64 {
		return uint64(m.mappings())
	}); err != nil {
		return nil, err
	}
	return &ms, nil
}

func (ms *metrics) record(op Op, err error) {
	result := Result(err)
	switch op {
	case OpMap:
		ms.maps.Increment(result)
	case OpUnmap:
		ms.unmaps.Increment(result)
	case OpBulkMap:
		ms.bulkMaps.Increment(result)
	case OpCreate, OpDestroy:
		ms.lifecycle.Increment(string(op), result)
	}
}
