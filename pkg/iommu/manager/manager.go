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

// Package manager owns the table of live IOMMU domains.
//
// The manager allocates ASIDs, creates and destroys domains, and wraps every
// domain operation with authorization, optional page-alignment enforcement,
// metrics, logging and auditing. The mapping semantics themselves live in
// package iommu; the manager never holds a domain lock while calling out.
package manager

import (
	"context"
	"fmt"
	"slices"
	"time"

	"gvisor.dev/iommu/pkg/hostarch"
	"gvisor.dev/iommu/pkg/iommu"
	"gvisor.dev/iommu/pkg/log"
	"gvisor.dev/iommu/pkg/metric"
	"gvisor.dev/iommu/pkg/sync"
)

// Config configures a Manager.
type Config struct {
	// MaxDomains bounds the number of live domains, and therefore the ASID
	// range [1, MaxDomains]. Zero means MaxASID.
	MaxDomains int

	// Store selects the mapping store of every domain.
	Store iommu.StoreKind

	// MaxEntriesPerDomain bounds the mappings of each domain. Zero means
	// unbounded.
	MaxEntriesPerDomain int

	// PageAligned rejects ranges and addresses that are not multiples of
	// hostarch.PageSize.
	PageAligned bool

	// RetryTimeout bounds the total wait of MapWithRetry. Zero means
	// DefaultRetryTimeout.
	RetryTimeout time.Duration

	// Authorizer, if set, is consulted before every operation.
	Authorizer Authorizer

	// Auditor, if set, receives an Event after every operation.
	Auditor Auditor

	// Invalidator, if set, is installed in every domain.
	Invalidator iommu.Invalidator

	// Logger receives operation logs. Nil means the global logger.
	Logger log.Logger

	// Registry receives the manager's metrics. Nil means a private
	// registry, available from Manager.Registry.
	Registry *metric.Registry
}

// DefaultRetryTimeout is the MapWithRetry wait used when
// Config.RetryTimeout is zero.
const DefaultRetryTimeout = time.Second

func (c *Config) validate() error {
	if c.MaxDomains < 0 || c.MaxDomains > MaxASID {
		return fmt.Errorf("max domains %d outside [0, %d]", c.MaxDomains, MaxASID)
	}
	if c.MaxEntriesPerDomain < 0 {
		return fmt.Errorf("max entries per domain %d is negative", c.MaxEntriesPerDomain)
	}
	if c.RetryTimeout < 0 {
		return fmt.Errorf("retry timeout %v is negative", c.RetryTimeout)
	}
	if _, err := iommu.NewStore(c.Store); err != nil {
		return err
	}
	return nil
}

// domainInfo is a table entry.
type domainInfo struct {
	domain  *iommu.Domain
	owner   string
	created time.Time
}

// DomainInfo describes a live domain.
type DomainInfo struct {
	ASID     iommu.ASID
	Owner    string
	Created  time.Time
	Mappings int
	Epoch    uint64
}

// Manager is a table of live domains keyed by ASID. It is safe for
// concurrent use.
type Manager struct {
	cfg      Config
	log      log.Logger
	warn     log.Logger
	registry *metric.Registry
	metrics  *metrics

	// mu protects the fields below. It is never held while a domain lock
	// is taken for a mutation, nor while a hook runs.
	mu sync.RWMutex

	// +checklocks:mu
	asids *asidAllocator

	// +checklocks:mu
	domains map[iommu.ASID]*domainInfo

	// +checklocks:mu
	closed bool
}

// New returns an empty Manager.
func New(cfg Config) (*Manager, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid manager config: %w", err)
	}
	if cfg.MaxDomains == 0 {
		cfg.MaxDomains = MaxASID
	}
	if cfg.RetryTimeout == 0 {
		cfg.RetryTimeout = DefaultRetryTimeout
	}
	m := &Manager{
		cfg:      cfg,
		log:      cfg.Logger,
		registry: cfg.Registry,
		asids:    newASIDAllocator(cfg.MaxDomains),
		domains:  make(map[iommu.ASID]*domainInfo),
	}
	if m.log == nil {
		m.log = log.Log()
	}
	// Overlap and permission failures can arrive in storms from a
	// misbehaving device driver.
	m.warn = log.RateLimitedLogger(m.log, 100*time.Millisecond)
	if m.registry == nil {
		m.registry = metric.NewRegistry()
	}
	ms, err := newMetrics(m.registry, m)
	if err != nil {
		return nil, fmt.Errorf("registering metrics: %w", err)
	}
	m.metrics = ms
	return m, nil
}

// Registry returns the registry holding the manager's metrics.
func (m *Manager) Registry() *metric.Registry {
	return m.registry
}

func (m *Manager) domainOptions() iommu.Options {
	return iommu.Options{
		Store:       m.cfg.Store,
		MaxEntries:  m.cfg.MaxEntriesPerDomain,
		Invalidator: m.cfg.Invalidator,
	}
}

// finish accounts for a completed operation: it counts it, logs it and
// reports it to the auditor.
func (m *Manager) finish(subject string, op Op, asid iommu.ASID, detail string, err error) {
	m.metrics.record(op, err)
	if err != nil {
		m.warn.Warningf("%s %s on domain %d by %q failed: %v", op, detail, asid, subject, err)
	} else if m.log.IsLogging(log.Debug) {
		m.log.Debugf("%s %s on domain %d by %q", op, detail, asid, subject)
	}
	if m.cfg.Auditor != nil {
		m.cfg.Auditor.Record(Event{
			Time:    time.Now(),
			Subject: subject,
			Op:      op,
			ASID:    asid,
			Result:  Result(err),
			Detail:  detail,
			Err:     errString(err),
		})
	}
}

func (m *Manager) authorize(subject string, op Op, asid iommu.ASID) error {
	if m.cfg.Authorizer == nil {
		return nil
	}
	if err := m.cfg.Authorizer.Authorize(subject, op, asid); err != nil {
		return denied(subject, op, asid, err)
	}
	return nil
}

// Create creates a domain owned by owner with a newly allocated ASID.
func (m *Manager) Create(ctx context.Context, owner string) (*iommu.Domain, error) {
	return m.create(ctx, owner, 0)
}

// CreateWithASID creates a domain owned by owner with the given ASID. It
// fails with ErrASIDInUse if a live domain already has it.
func (m *Manager) CreateWithASID(ctx context.Context, owner string, asid iommu.ASID) (*iommu.Domain, error) {
	if asid == 0 {
		err := fmt.Errorf("%w: asid 0 is reserved", iommu.ErrInvalidArgument)
		m.finish(owner, OpCreate, asid, "", err)
		return nil, err
	}
	return m.create(ctx, owner, asid)
}

func (m *Manager) create(ctx context.Context, owner string, asid iommu.ASID) (*iommu.Domain, error) {
	d, err := m.createDomain(ctx, owner, asid)
	if d != nil {
		asid = d.ASID()
	}
	m.finish(owner, OpCreate, asid, "", err)
	return d, err
}

func (m *Manager) createDomain(ctx context.Context, owner string, asid iommu.ASID) (*iommu.Domain, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.authorize(owner, OpCreate, asid); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if asid == 0 {
		var err error
		if asid, err = m.asids.alloc(); err != nil {
			return nil, err
		}
	} else if err := m.asids.reserve(asid); err != nil {
		return nil, err
	}
	d, err := iommu.NewDomain(asid, m.domainOptions())
	if err != nil {
		m.asids.release(asid)
		return nil, err
	}
	m.domains[asid] = &domainInfo{domain: d, owner: owner, created: time.Now()}
	return d, nil
}

// Get returns the live domain with the given ASID.
func (m *Manager) Get(asid iommu.ASID) (*iommu.Domain, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	di, ok := m.domains[asid]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNoDomain, asid)
	}
	return di.domain, nil
}

// Info describes the live domain with the given ASID.
func (m *Manager) Info(asid iommu.ASID) (DomainInfo, error) {
	m.mu.RLock()
	di, ok := m.domains[asid]
	m.mu.RUnlock()
	if !ok {
		return DomainInfo{}, fmt.Errorf("%w: %d", ErrNoDomain, asid)
	}
	return di.info(), nil
}

func (di *domainInfo) info() DomainInfo {
	return DomainInfo{
		ASID:     di.domain.ASID(),
		Owner:    di.owner,
		Created:  di.created,
		Mappings: di.domain.Len(),
		Epoch:    di.domain.Epoch(),
	}
}

// live returns the table entries ordered by ASID.
func (m *Manager) live() []*domainInfo {
	m.mu.RLock()
	dis := make([]*domainInfo, 0, len(m.domains))
	for _, di := range m.domains {
		dis = append(dis, di)
	}
	m.mu.RUnlock()
	slices.SortFunc(dis, func(a, b *domainInfo) int {
		return int(a.domain.ASID()) - int(b.domain.ASID())
	})
	return dis
}

// Domains describes every live domain, ordered by ASID.
func (m *Manager) Domains() []DomainInfo {
	dis := m.live()
	infos := make([]DomainInfo, 0, len(dis))
	for _, di := range dis {
		infos = append(infos, di.info())
	}
	return infos
}

// Len returns the number of live domains.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.domains)
}

// mappings returns the number of live mappings across all domains.
func (m *Manager) mappings() int {
	n := 0
	for _, di := range m.live() {
		n += di.domain.Len()
	}
	return n
}

// Destroy destroys the domain with the given ASID and releases its ASID.
func (m *Manager) Destroy(ctx context.Context, subject string, asid iommu.ASID) error {
	n, err := m.destroy(ctx, subject, asid)
	m.finish(subject, OpDestroy, asid, fmt.Sprintf("(%d mappings released)", n), err)
	return err
}

func (m *Manager) destroy(ctx context.Context, subject string, asid iommu.ASID) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := m.authorize(subject, OpDestroy, asid); err != nil {
		return 0, err
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, ErrClosed
	}
	di, ok := m.domains[asid]
	if !ok {
		m.mu.Unlock()
		return 0, fmt.Errorf("%w: %d", ErrNoDomain, asid)
	}
	delete(m.domains, asid)
	m.mu.Unlock()

	// The ASID stays reserved until the domain is dead, so a holder of the
	// old *Domain can never publish invalidations under a reused ASID.
	n, err := di.domain.Destroy()
	m.mu.Lock()
	m.asids.release(asid)
	m.mu.Unlock()
	return n, err
}

// Close destroys every domain. All later operations fail with ErrClosed.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.closed = true
	domains := m.domains
	m.domains = make(map[iommu.ASID]*domainInfo)
	m.mu.Unlock()

	for asid, di := range domains {
		if _, err := di.domain.Destroy(); err != nil {
			m.log.Warningf("Destroying domain %d on close: %v", asid, err)
		}
	}
	return nil
}

// do runs fn on the domain asid after the context and authorization checks,
// then accounts for the outcome.
func (m *Manager) do(ctx context.Context, subject string, op Op, asid iommu.ASID, detail string, fn func(d *iommu.Domain) error) error {
	err := func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.authorize(subject, op, asid); err != nil {
			return err
		}
		d, err := m.Get(asid)
		if err != nil {
			return err
		}
		return fn(d)
	}()
	m.finish(subject, op, asid, detail, err)
	return err
}

func (m *Manager) checkAligned(e iommu.Entry) error {
	if !m.cfg.PageAligned {
		return nil
	}
	if !e.IOVA.IsPageAligned() || !e.PA.IsPageAligned() || !hostarch.IsAligned(e.Length, hostarch.PageSize) {
		return fmt.Errorf("%w: %v is not aligned to %#x", iommu.ErrInvalidArgument, e, hostarch.PageSize)
	}
	return nil
}

// Map maps length bytes from iova to pa in domain asid on behalf of subject.
// See iommu.Domain.Map.
func (m *Manager) Map(ctx context.Context, subject string, asid iommu.ASID, iova, pa hostarch.Addr, length uint64, perm iommu.Perm) error {
	e := iommu.Entry{IOVA: iova, PA: pa, Length: length, Perm: perm}
	return m.do(ctx, subject, OpMap, asid, e.String(), func(d *iommu.Domain) error {
		if err := m.checkAligned(e); err != nil {
			return err
		}
		return d.Map(iova, pa, length, perm)
	})
}

// Unmap removes the mapping (iova, length) from domain asid on behalf of
// subject. See iommu.Domain.Unmap.
func (m *Manager) Unmap(ctx context.Context, subject string, asid iommu.ASID, iova hostarch.Addr, length uint64) error {
	e := iommu.Entry{IOVA: iova, Length: length}
	return m.do(ctx, subject, OpUnmap, asid, e.Range().String(), func(d *iommu.Domain) error {
		if err := m.checkAligned(e); err != nil {
			return err
		}
		return d.Unmap(iova, length)
	})
}

// BulkMap maps entries into domain asid on behalf of subject, rolling back
// on failure. See iommu.Domain.BulkMap.
//
// With Config.PageAligned, every entry is checked for alignment before any
// is applied. A misaligned entry k fails the call with a BulkMapError at
// index k and leaves the domain and its epoch untouched, without the 2k
// epoch steps a rollback of entries 0..k-1 would take.
func (m *Manager) BulkMap(ctx context.Context, subject string, asid iommu.ASID, entries []iommu.Entry) error {
	return m.bulkMap(ctx, subject, asid, entries, false)
}

// BulkMapAtomic maps entries into domain asid on behalf of subject as one
// unit. See iommu.Domain.BulkMapAtomic.
func (m *Manager) BulkMapAtomic(ctx context.Context, subject string, asid iommu.ASID, entries []iommu.Entry) error {
	return m.bulkMap(ctx, subject, asid, entries, true)
}

func (m *Manager) bulkMap(ctx context.Context, subject string, asid iommu.ASID, entries []iommu.Entry, atomic bool) error {
	detail := fmt.Sprintf("of %d entries", len(entries))
	if atomic {
		detail = "atomically " + detail
	}
	return m.do(ctx, subject, OpBulkMap, asid, detail, func(d *iommu.Domain) error {
		for i, e := range entries {
			if err := m.checkAligned(e); err != nil {
				return &iommu.BulkMapError{Index: i, Entry: e, Err: err}
			}
		}
		if atomic {
			return d.BulkMapAtomic(entries)
		}
		return d.BulkMap(entries)
	})
}

// Translate returns the physical address and permissions iova maps to in
// domain asid.
func (m *Manager) Translate(asid iommu.ASID, iova hostarch.Addr) (hostarch.Addr, iommu.Perm, error) {
	d, err := m.Get(asid)
	if err != nil {
		return 0, 0, err
	}
	pa, perm, ok := d.Translate(iova)
	if !ok {
		return 0, 0, fmt.Errorf("%w: iova %v in domain %d", iommu.ErrNotFound, iova, asid)
	}
	return pa, perm, nil
}
