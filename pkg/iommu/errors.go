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

	"golang.org/x/sys/unix"
	"gvisor.dev/iommu/pkg/errors"
)

// Errors returned by domain operations. Each carries the errno a syscall
// layer would report for it, so errors.Is also matches the raw unix.Errno.
var (
	// ErrInvalidArgument is returned for zero-length or wrapping ranges and
	// for nil or destroyed domains.
	ErrInvalidArgument = errors.New(unix.EINVAL, "iommu: invalid argument")

	// ErrOverlap is returned when a range intersects a live mapping.
	ErrOverlap = errors.New(unix.EEXIST, "iommu: range overlaps an existing mapping")

	// ErrNotFound is returned by Unmap when no live mapping matches the
	// exact (iova, length) pair.
	ErrNotFound = errors.New(unix.ENOENT, "iommu: no mapping matches the range")

	// ErrResourceExhausted is returned when the domain cannot store another
	// mapping.
	ErrResourceExhausted = errors.New(unix.ENOMEM, "iommu: mapping storage exhausted")

	// ErrWouldBlock is returned by the Try variants when the domain lock is
	// held by another caller.
	ErrWouldBlock = errors.New(unix.EWOULDBLOCK, "iommu: domain is busy")
)

// BulkMapError reports which element of a bulk map failed. It is returned
// only after every element applied before Index has been rolled back.
type BulkMapError struct {
	// Index is the position of the failing element in the request.
	Index int

	// Entry is the failing element.
	Entry Entry

	// Err is the failure, one of the Err* values (possibly wrapped).
	Err error
}

// Error implements error.Error.
func (e *BulkMapError) Error() string {
	return fmt.Sprintf("bulk map: entry %d %v: %v", e.Index, e.Entry.Range(), e.Err)
}

// Unwrap returns the element failure.
func (e *BulkMapError) Unwrap() error {
	return e.Err
}
