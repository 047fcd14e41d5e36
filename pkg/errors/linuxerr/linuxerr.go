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

// Package linuxerr contains the error codes used by the IOMMU packages,
// exported as error interface pointers. This allows for fast comparison and
// return operations comperable to unix.Errno constants.
package linuxerr

import (
	goerrors "errors"

	"golang.org/x/sys/unix"
	"gvisor.dev/iommu/pkg/errors"
)

// The following errors are semantically identical to Errno of type unix.Errno.
// However, since the types are distinct (these are *errors.Error), they are
// not directly comparable. The Errno method returns an Errno number such that
// the error can be compared to unix.Errno (e.g. unix.Errno(EPERM.Errno()) ==
// unix.EPERM is true).
var (
	noError *errors.Error = nil
	EPERM                 = errors.New(unix.EPERM, "operation not permitted")
	ENOENT                = errors.New(unix.ENOENT, "no such file or directory")
	EAGAIN                = errors.New(unix.EAGAIN, "try again")
	ENOMEM                = errors.New(unix.ENOMEM, "out of memory")
	EBUSY                 = errors.New(unix.EBUSY, "device or resource busy")
	EEXIST                = errors.New(unix.EEXIST, "file exists")
	EINVAL                = errors.New(unix.EINVAL, "invalid argument")
	ENOSPC                = errors.New(unix.ENOSPC, "no space left on device")
	ERANGE                = errors.New(unix.ERANGE, "math result not representable")
	ECANCELED             = errors.New(unix.ECANCELED, "operation Canceled")

	// Errors equivalent to other errors.
	EWOULDBLOCK = EAGAIN
)

var errorMap = map[unix.Errno]*errors.Error{
	unix.EPERM:     EPERM,
	unix.ENOENT:    ENOENT,
	unix.EAGAIN:    EAGAIN,
	unix.ENOMEM:    ENOMEM,
	unix.EBUSY:     EBUSY,
	unix.EEXIST:    EEXIST,
	unix.EINVAL:    EINVAL,
	unix.ENOSPC:    ENOSPC,
	unix.ERANGE:    ERANGE,
	unix.ECANCELED: ECANCELED,
}

// ErrorFromUnix returns a linuxerr from a unix.Errno. Errnos without a
// sentinel here are returned unchanged.
func ErrorFromUnix(err unix.Errno) error {
	if err == unix.Errno(0) {
		return nil
	}
	if e, ok := errorMap[err]; ok {
		return e
	}
	return err
}

// ToError converts a linuxerr to an error type.
func ToError(err *errors.Error) error {
	if err == noError {
		return nil
	}
	return err
}

// ToUnix converts a linuxerr to a unix.Errno.
func ToUnix(e *errors.Error) unix.Errno {
	var unixErr unix.Errno
	if e != noError {
		unixErr = e.Errno()
	}
	return unixErr
}

// Equals compares a linuxerr to a given error.
func Equals(e *errors.Error, err error) bool {
	var unixErr unix.Errno
	if e != noError {
		unixErr = e.Errno()
	}
	if err == nil {
		err = noError
	}
	return e == err || unixErr == err
}

// ErrnoOf walks the wrap chain of err and returns the errno of the first
// *errors.Error or unix.Errno found. ok is false if there is none.
func ErrnoOf(err error) (unix.Errno, bool) {
	var e *errors.Error
	if goerrors.As(err, &e) {
		return e.Errno(), true
	}
	var errno unix.Errno
	if goerrors.As(err, &errno) {
		return errno, true
	}
	return 0, false
}
