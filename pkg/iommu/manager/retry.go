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
	"time"

	"github.com/cenkalti/backoff"
	"gvisor.dev/iommu/pkg/hostarch"
	"gvisor.dev/iommu/pkg/iommu"
)

// MapWithRetry is like Map, but never blocks on the domain lock. It polls
// with iommu.Domain.TryMap under an exponential backoff until the lock is
// acquired, ctx is done or Config.RetryTimeout elapses, in which case the
// last iommu.ErrWouldBlock is returned. Other failures are returned
// immediately.
func (m *Manager) MapWithRetry(ctx context.Context, subject string, asid iommu.ASID, iova, pa hostarch.Addr, length uint64, perm iommu.Perm) error {
	e := iommu.Entry{IOVA: iova, PA: pa, Length: length, Perm: perm}
	return m.do(ctx, subject, OpMap, asid, e.String(), func(d *iommu.Domain) error {
		if err := m.checkAligned(e); err != nil {
			return err
		}
		return m.retry(ctx, func() error {
			return d.TryMap(iova, pa, length, perm)
		})
	})
}

// UnmapWithRetry is the Unmap counterpart of MapWithRetry.
func (m *Manager) UnmapWithRetry(ctx context.Context, subject string, asid iommu.ASID, iova hostarch.Addr, length uint64) error {
	e := iommu.Entry{IOVA: iova, Length: length}
	return m.do(ctx, subject, OpUnmap, asid, e.Range().String(), func(d *iommu.Domain) error {
		if err := m.checkAligned(e); err != nil {
			return err
		}
		return m.retry(ctx, func() error {
			return d.TryUnmap(iova, length)
		})
	})
}

// retry calls try until it returns something other than ErrWouldBlock.
func (m *Manager) retry(ctx context.Context, try func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Microsecond
	b.MaxInterval = 10 * time.Millisecond
	b.MaxElapsedTime = m.cfg.RetryTimeout
	return backoff.Retry(func() error {
		err := try()
		if err != nil && !goerrors.Is(err, iommu.ErrWouldBlock) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(b, ctx))
}
