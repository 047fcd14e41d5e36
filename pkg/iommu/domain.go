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
	"sync/atomic"

	"gvisor.dev/iommu/pkg/hostarch"
	"gvisor.dev/iommu/pkg/sync"
)

// Invalidator is notified after a domain's translations change, so that
// cached translations (an IOTLB) for the range can be discarded.
//
// Invalidate is called after the domain lock has been released and only for
// operations that succeeded. epoch is the domain epoch produced by the
// mutation. Calls for one domain may arrive out of epoch order when the
// domain is used concurrently.
type Invalidator interface {
	Invalidate(asid ASID, ar hostarch.AddrRange, epoch uint64)
}

// InvalidatorFunc adapts an ordinary function to Invalidator.
type InvalidatorFunc func(asid ASID, ar hostarch.AddrRange, epoch uint64)

// Invalidate implements Invalidator.Invalidate.
func (f InvalidatorFunc) Invalidate(asid ASID, ar hostarch.AddrRange, epoch uint64) {
	f(asid, ar, epoch)
}

// Options configures a new Domain.
type Options struct {
	// Store selects the mapping store. The zero value selects StoreBTree.
	Store StoreKind

	// MaxEntries bounds the number of live mappings. Map fails with
	// ErrResourceExhausted once it is reached. Zero means unbounded.
	MaxEntries int

	// Invalidator, if set, is notified of every successful mutation.
	Invalidator Invalidator
}

// Domain is an isolated IOVA address space owned by one device or VM.
//
// All methods are safe for concurrent use. A nil *Domain is accepted and
// rejected with ErrInvalidArgument.
type Domain struct {
	asid        ASID
	maxEntries  int
	invalidator Invalidator

	// mu serializes every access to the fields below.
	mu sync.Mutex

	// store holds the live mappings.
	//
	// +checklocks:mu
	store Store

	// destroyed is set by Destroy. A destroyed domain rejects all
	// operations.
	//
	// +checklocks:mu
	destroyed bool

	// epoch counts successful structural mutations. It is written only
	// with mu held and is atomic so that EpochRelaxed can read it without
	// the lock.
	epoch atomic.Uint64
}

// NewDomain returns an empty domain with epoch zero.
func NewDomain(asid ASID, opts Options) (*Domain, error) {
	if opts.MaxEntries < 0 {
		return nil, fmt.Errorf("%w: negative MaxEntries %d", ErrInvalidArgument, opts.MaxEntries)
	}
	store, err := NewStore(opts.Store)
	if err != nil {
		return nil, err
	}
	return &Domain{
		asid:        asid,
		maxEntries:  opts.MaxEntries,
		invalidator: opts.Invalidator,
		store:       store,
	}, nil
}

// ASID returns the domain's address-space identifier.
func (d *Domain) ASID() ASID {
	return d.asid
}

// lock acquires d.mu. If block is false it returns false instead of waiting
// for a held lock.
func (d *Domain) lock(block bool) bool {
	if block {
		d.mu.Lock()
		return true
	}
	return d.mu.TryLock()
}

// Map inserts a mapping of length bytes from iova to pa.
//
// Map fails with ErrInvalidArgument if length is zero, if either range wraps
// or reaches the top of the address space, or if the domain is nil or
// destroyed. It fails with
// ErrOverlap if the range intersects a live mapping, and with
// ErrResourceExhausted if the domain is full. On failure the domain is
// unchanged. On success the epoch advances by exactly one.
func (d *Domain) Map(iova, pa hostarch.Addr, length uint64, perm Perm) error {
	return d.doMap(Entry{IOVA: iova, PA: pa, Length: length, Perm: perm}, true)
}

// TryMap is like Map but fails with ErrWouldBlock rather than waiting for a
// held domain lock.
func (d *Domain) TryMap(iova, pa hostarch.Addr, length uint64, perm Perm) error {
	return d.doMap(Entry{IOVA: iova, PA: pa, Length: length, Perm: perm}, false)
}

func (d *Domain) doMap(e Entry, block bool) error {
	if d == nil {
		return ErrInvalidArgument
	}
	if err := e.Validate(); err != nil {
		return err
	}
	if !d.lock(block) {
		return ErrWouldBlock
	}
	epoch, err := d.mapLocked(e)
	d.mu.Unlock()
	if err != nil {
		return err
	}
	d.invalidate(e.Range(), epoch)
	return nil
}

// mapLocked inserts a validated entry and returns the new epoch.
//
// Preconditions: d.mu is locked.
func (d *Domain) mapLocked(e Entry) (uint64, error) {
	if err := d.checkLiveLocked(); err != nil {
		return 0, err
	}
	if old, ok := d.store.OverlapsAny(e); ok {
		return 0, fmt.Errorf("%w: %v intersects %v", ErrOverlap, e.Range(), old.Range())
	}
	if d.maxEntries > 0 && d.store.Len() >= d.maxEntries {
		return 0, ErrResourceExhausted
	}
	d.store.Insert(e)
	return d.epoch.Add(1), nil
}

// Unmap removes the mapping whose IOVA and length both equal iova and
// length exactly. A mapping is never split or partially removed.
//
// Unmap fails with ErrInvalidArgument if length is zero or the domain is nil
// or destroyed, and with ErrNotFound if no mapping matches. On failure the
// domain is unchanged. On success the epoch advances by exactly one.
func (d *Domain) Unmap(iova hostarch.Addr, length uint64) error {
	return d.doUnmap(iova, length, true)
}

// TryUnmap is like Unmap but fails with ErrWouldBlock rather than waiting
// for a held domain lock.
func (d *Domain) TryUnmap(iova hostarch.Addr, length uint64) error {
	return d.doUnmap(iova, length, false)
}

func (d *Domain) doUnmap(iova hostarch.Addr, length uint64, block bool) error {
	if d == nil || length == 0 {
		return ErrInvalidArgument
	}
	if !d.lock(block) {
		return ErrWouldBlock
	}
	e, epoch, err := d.unmapLocked(iova, length)
	d.mu.Unlock()
	if err != nil {
		return err
	}
	d.invalidate(e.Range(), epoch)
	return nil
}

// Preconditions: d.mu is locked.
func (d *Domain) unmapLocked(iova hostarch.Addr, length uint64) (Entry, uint64, error) {
	if err := d.checkLiveLocked(); err != nil {
		return Entry{}, 0, err
	}
	e, ok := d.store.Remove(iova, length)
	if !ok {
		return Entry{}, 0, fmt.Errorf("%w: iova %v length %#x", ErrNotFound, iova, length)
	}
	return e, d.epoch.Add(1), nil
}

// Preconditions: d.mu is locked.
func (d *Domain) checkLiveLocked() error {
	if d.destroyed {
		return fmt.Errorf("%w: domain %d destroyed", ErrInvalidArgument, d.asid)
	}
	return nil
}

func (d *Domain) invalidate(ar hostarch.AddrRange, epoch uint64) {
	if d.invalidator != nil {
		d.invalidator.Invalidate(d.asid, ar, epoch)
	}
}

// Epoch returns the current epoch, synchronized with the domain lock so that
// it is ordered with respect to every completed mutation.
func (d *Domain) Epoch() uint64 {
	if d == nil {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.epoch.Load()
}

// EpochRelaxed returns the current epoch without taking the domain lock. The
// value is never torn but may lag a mutation running concurrently.
func (d *Domain) EpochRelaxed() uint64 {
	if d == nil {
		return 0
	}
	return d.epoch.Load()
}

// Len returns the number of live mappings.
func (d *Domain) Len() int {
	if d == nil {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.store.Len()
}

// Entries returns a copy of the live mappings in ascending IOVA order.
func (d *Domain) Entries() []Entry {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	es := make([]Entry, 0, d.store.Len())
	d.store.ForEach(func(e Entry) bool {
		es = append(es, e)
		return true
	})
	return es
}

// Lookup returns the mapping containing iova.
func (d *Domain) Lookup(iova hostarch.Addr) (Entry, bool) {
	if d == nil {
		return Entry{}, false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.store.Lookup(iova)
}

// Translate returns the physical address iova maps to.
func (d *Domain) Translate(iova hostarch.Addr) (hostarch.Addr, Perm, bool) {
	e, ok := d.Lookup(iova)
	if !ok {
		return 0, 0, false
	}
	return e.PA + (iova - e.IOVA), e.Perm, true
}

// Destroy releases every mapping and marks the domain destroyed. Subsequent
// operations fail with ErrInvalidArgument. Destroy returns the number of
// mappings released and does not advance the epoch.
//
// The caller must guarantee that no other operation is in flight or issued
// afterwards; operations that observe a destroyed domain fail cleanly, but
// ownership of the *Domain itself remains with the caller.
func (d *Domain) Destroy() (int, error) {
	if d == nil {
		return 0, ErrInvalidArgument
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkLiveLocked(); err != nil {
		return 0, err
	}
	n := d.store.Len()
	d.destroyed = true
	d.store = NewSliceStore()
	return n, nil
}
