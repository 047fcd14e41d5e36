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

// Package cmd holds implementations of the iommuctl commands.
//
// Every command runs against the domain table persisted under --root: it
// locks the table, restores a manager from it, operates on the manager and,
// for commands that change domains, saves the table back.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"gvisor.dev/iommu/iommuctl/config"
	"gvisor.dev/iommu/iommuctl/state"
	"gvisor.dev/iommu/pkg/cleanup"
	"gvisor.dev/iommu/pkg/hostarch"
	"gvisor.dev/iommu/pkg/iommu"
	"gvisor.dev/iommu/pkg/iommu/manager"
	"gvisor.dev/iommu/pkg/log"
)

// session is a manager restored from the domain table, holding the table
// lock until close.
type session struct {
	conf  *config.Config
	store *state.Store
	mgr   *manager.Manager
	audit *os.File
}

// openSession locks the domain table and restores a manager from it.
func openSession(ctx context.Context, conf *config.Config) (*session, error) {
	store, err := state.Open(ctx, conf.RootDir, conf.LockTimeout)
	if err != nil {
		return nil, err
	}
	s := &session{conf: conf, store: store}
	cu := cleanup.Make(s.close)
	defer cu.Clean()

	mc := conf.ManagerConfig()
	mc.Invalidator = iommu.InvalidatorFunc(invalidate)
	if len(conf.ACLFile) > 0 {
		acl, err := manager.LoadACL(conf.ACLFile)
		if err != nil {
			return nil, err
		}
		mc.Authorizer = acl
	}
	if len(conf.AuditLog) > 0 {
		f, err := os.OpenFile(conf.AuditLog, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("opening audit log: %w", err)
		}
		s.audit = f
		mc.Auditor = manager.NewJSONAuditor(f)
	}

	s.mgr, err = manager.New(mc)
	if err != nil {
		return nil, err
	}
	st, err := store.Load()
	if err != nil {
		return nil, err
	}
	if err := s.mgr.Restore(st); err != nil {
		return nil, fmt.Errorf("restoring domain table %q: %w", store.Path(), err)
	}
	log.Debugf("Restored %d domains from %q", len(st.Domains), store.Path())

	cu.Release()
	return s, nil
}

// invalidate stands in for an IOTLB: iommuctl has no hardware to flush, so
// invalidations are only logged.
func invalidate(asid iommu.ASID, ar hostarch.AddrRange, epoch uint64) {
	log.Debugf("Invalidate ASID %d range %v at epoch %d", asid, ar, epoch)
}

// save writes the manager's domains back to the table.
func (s *session) save() error {
	st, err := s.mgr.Checkpoint()
	if err != nil {
		return err
	}
	return s.store.Save(st)
}

func (s *session) close() {
	if s.mgr != nil {
		s.mgr.Close()
	}
	if s.audit != nil {
		if err := s.audit.Close(); err != nil {
			log.Warningf("Closing audit log: %v", err)
		}
	}
	if err := s.store.Close(); err != nil {
		log.Warningf("Releasing domain table lock: %v", err)
	}
}

// withSession runs fn in a session and, if save is set, saves the table.
//
// The table is also saved when fn fails after reaching a domain: a failed
// operation leaves the domain valid but may have advanced its epoch, as a
// bulk map rollback does, and dropping that would hand out the same epochs
// again. Failures before any domain is touched skip the save.
func withSession(ctx context.Context, conf *config.Config, save bool, fn func(s *session) error) error {
	s, err := openSession(ctx, conf)
	if err != nil {
		return err
	}
	defer s.close()
	if err := fn(s); err != nil {
		if save && touchedDomain(err) {
			if serr := s.save(); serr != nil {
				log.Warningf("Saving domain table after failure: %v", serr)
			}
		}
		return err
	}
	if save {
		return s.save()
	}
	return nil
}

// touchedDomain reports whether err comes from an operation that reached a
// domain and may have changed its epoch.
func touchedDomain(err error) bool {
	var bulkErr *iommu.BulkMapError
	if errors.As(err, &bulkErr) {
		return true
	}
	for _, target := range []error{iommu.ErrOverlap, iommu.ErrNotFound, iommu.ErrResourceExhausted} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// parseASID parses a domain argument.
func parseASID(s string) (iommu.ASID, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil || v == 0 {
		return 0, fmt.Errorf("invalid ASID %q: %w", s, iommu.ErrInvalidArgument)
	}
	return iommu.ASID(v), nil
}
