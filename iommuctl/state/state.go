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

// Package state persists the iommuctl domain table between invocations.
//
// The table lives in a root directory as a JSON document next to a lock
// file. A Store holds the lock for its lifetime, so concurrent iommuctl
// processes sharing a root directory are serialized.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gofrs/flock"
	"gvisor.dev/iommu/pkg/iommu/manager"
	"gvisor.dev/iommu/pkg/log"
)

const (
	// tableFilename is the name of the file holding the domain table.
	tableFilename = "domains.json"

	// lockFilename is the name of the lock file guarding tableFilename.
	lockFilename = "domains.lock"

	// lockPollInterval is how often a busy lock is retried.
	lockPollInterval = 10 * time.Millisecond
)

// ErrLocked is returned by Open when another process holds the lock past
// the timeout.
var ErrLocked = errors.New("domain table is locked by another process")

// Store is an open, locked domain table.
type Store struct {
	root string
	lock *flock.Flock
}

// Open locks the domain table under root, creating root if needed. It waits
// up to timeout for another holder to release the lock.
func Open(ctx context.Context, root string, timeout time.Duration) (*Store, error) {
	if err := os.MkdirAll(root, 0711); err != nil {
		return nil, fmt.Errorf("error creating root directory %q: %v", root, err)
	}
	f := filepath.Join(root, lockFilename)
	l := flock.New(f)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	b := backoff.WithContext(backoff.NewConstantBackOff(lockPollInterval), ctx)
	op := func() error {
		ok, err := l.TryLock()
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return ErrLocked
		}
		return nil
	}
	if err := backoff.Retry(op, b); err != nil {
		if errors.Is(err, ErrLocked) || ctx.Err() != nil {
			return nil, fmt.Errorf("acquiring lock %q: %w", f, ErrLocked)
		}
		return nil, fmt.Errorf("error acquiring lock on %q: %v", f, err)
	}
	log.Debugf("Locked domain table %q", f)
	return &Store{root: root, lock: l}, nil
}

// Path returns the path of the domain table file.
func (s *Store) Path() string {
	return filepath.Join(s.root, tableFilename)
}

// Load reads the domain table. A table that was never saved is empty.
func (s *Store) Load() (manager.State, error) {
	var st manager.State
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return st, nil
		}
		return st, fmt.Errorf("reading domain table: %w", err)
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("decoding domain table %q: %w", s.Path(), err)
	}
	return st, nil
}

// Save replaces the domain table with st. The file is written to a
// temporary name and renamed into place.
func (s *Store) Save(st manager.State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding domain table: %w", err)
	}
	tmp, err := os.CreateTemp(s.root, tableFilename+".*")
	if err != nil {
		return fmt.Errorf("creating domain table: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing domain table: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing domain table: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing domain table: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.Path()); err != nil {
		return fmt.Errorf("renaming domain table: %w", err)
	}
	return nil
}

// Close releases the lock.
func (s *Store) Close() error {
	return s.lock.Unlock()
}
