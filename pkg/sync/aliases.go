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

// Package sync provides synchronization primitives for the IOMMU packages.
//
// Packages import this one instead of the standard library sync package, so
// lock types can be swapped for instrumented variants in one place.
package sync

import (
	"sync"
)

type (
	// Mutex guards a domain's mapping tree and the manager's tables.
	Mutex = sync.Mutex

	// RWMutex guards state that is read far more often than written, such
	// as the manager's domain table.
	RWMutex = sync.RWMutex

	// WaitGroup is an alias of sync.WaitGroup.
	WaitGroup = sync.WaitGroup
)
