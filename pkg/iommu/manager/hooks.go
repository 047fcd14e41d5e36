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
	"encoding/json"
	goerrors "errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/sys/unix"
	"gvisor.dev/iommu/pkg/errors"
	"gvisor.dev/iommu/pkg/iommu"
	"gvisor.dev/iommu/pkg/sync"
)

// Errors returned by the manager in addition to those of package iommu.
var (
	// ErrPermissionDenied is returned when the Authorizer rejects an
	// operation.
	ErrPermissionDenied = errors.New(unix.EPERM, "iommu: operation not permitted")

	// ErrNoDomain is returned for an ASID with no live domain.
	ErrNoDomain = errors.New(unix.ESRCH, "iommu: no such domain")

	// ErrASIDInUse is returned by CreateWithASID for a live ASID.
	ErrASIDInUse = errors.New(unix.EEXIST, "iommu: asid in use")

	// ErrASIDExhausted is returned when every ASID is taken.
	ErrASIDExhausted = errors.New(unix.ENOSPC, "iommu: no free asid")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New(unix.ESHUTDOWN, "iommu: manager closed")
)

// Op names an operation for authorization, auditing and metrics.
type Op string

// Operations.
const (
	OpCreate  Op = "create"
	OpDestroy Op = "destroy"
	OpMap     Op = "map"
	OpUnmap   Op = "unmap"
	OpBulkMap Op = "bulk_map"
)

// Ops lists every Op.
var Ops = []Op{OpCreate, OpDestroy, OpMap, OpUnmap, OpBulkMap}

// Authorizer decides whether subject may perform op on the domain asid. For
// OpCreate asid is the requested ASID, or zero if one will be allocated.
//
// Authorize is never called with a domain lock held. A nil error allows the
// operation; the manager wraps any error in ErrPermissionDenied.
type Authorizer interface {
	Authorize(subject string, op Op, asid iommu.ASID) error
}

// AuthorizerFunc adapts an ordinary function to Authorizer.
type AuthorizerFunc func(subject string, op Op, asid iommu.ASID) error

// Authorize implements Authorizer.Authorize.
func (f AuthorizerFunc) Authorize(subject string, op Op, asid iommu.ASID) error {
	return f(subject, op, asid)
}

// Event describes one completed operation.
type Event struct {
	Time    time.Time  `json:"time"`
	Subject string     `json:"subject"`
	Op      Op         `json:"op"`
	ASID    iommu.ASID `json:"asid"`
	Result  string     `json:"result"`
	Detail  string     `json:"detail,omitempty"`
	Err     string     `json:"error,omitempty"`
}

// Auditor receives an Event after every operation, successful or not. Record
// is never called with a domain lock held.
type Auditor interface {
	Record(Event)
}

// AuditorFunc adapts an ordinary function to Auditor.
type AuditorFunc func(Event)

// Record implements Auditor.Record.
func (f AuditorFunc) Record(e Event) {
	f(e)
}

// JSONAuditor writes each event to an io.Writer as one JSON object per line.
type JSONAuditor struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONAuditor returns a JSONAuditor writing to w.
func NewJSONAuditor(w io.Writer) *JSONAuditor {
	return &JSONAuditor{enc: json.NewEncoder(w)}
}

// Record implements Auditor.Record. Write failures are dropped; the audit
// trail is best effort.
func (a *JSONAuditor) Record(e Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	_ = a.enc.Encode(e)
}

// Results of an operation, as reported in Event.Result and metric labels.
const (
	ResultOK              = "ok"
	ResultInvalidArgument = "invalid_argument"
	ResultOverlap         = "overlap"
	ResultNotFound        = "not_found"
	ResultExhausted       = "exhausted"
	ResultWouldBlock      = "would_block"
	ResultDenied          = "denied"
	ResultNoDomain        = "no_domain"
	ResultCanceled        = "canceled"
	ResultError           = "error"
)

// Results lists every result label.
var Results = []string{
	ResultOK,
	ResultInvalidArgument,
	ResultOverlap,
	ResultNotFound,
	ResultExhausted,
	ResultWouldBlock,
	ResultDenied,
	ResultNoDomain,
	ResultCanceled,
	ResultError,
}

// Result classifies err into one of Results.
func Result(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case goerrors.Is(err, ErrPermissionDenied):
		return ResultDenied
	case goerrors.Is(err, ErrNoDomain):
		return ResultNoDomain
	case goerrors.Is(err, context.Canceled), goerrors.Is(err, context.DeadlineExceeded):
		return ResultCanceled
	case goerrors.Is(err, iommu.ErrInvalidArgument):
		return ResultInvalidArgument
	case goerrors.Is(err, iommu.ErrOverlap):
		return ResultOverlap
	case goerrors.Is(err, iommu.ErrNotFound):
		return ResultNotFound
	case goerrors.Is(err, iommu.ErrResourceExhausted), goerrors.Is(err, ErrASIDExhausted):
		return ResultExhausted
	case goerrors.Is(err, iommu.ErrWouldBlock):
		return ResultWouldBlock
	default:
		return ResultError
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func denied(subject string, op Op, asid iommu.ASID, err error) error {
	return fmt.Errorf("%w: %q may not %s domain %d: %v", ErrPermissionDenied, subject, op, asid, err)
}
