// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by Manager checks and lifecycle calls.
// Match with errors.Is; the wrapped message carries the pid and the
// denied target.
var (
	// ErrCapabilityDenied means no held capability covers the
	// requested operation. This is an expected, routine outcome of
	// normal operation, not a fault.
	ErrCapabilityDenied = errors.New("capability denied")

	// ErrNetworkDenied means no network rule permits the host/port,
	// or the process is under full network isolation.
	ErrNetworkDenied = errors.New("network access denied")

	// ErrSandboxNotFound means no sandbox is registered for the pid.
	// Checks against an unknown pid fail closed with this error.
	ErrSandboxNotFound = errors.New("sandbox not found")

	// ErrDuplicateSandbox means Create was called for a pid that
	// already has a sandbox. The existing sandbox must be destroyed
	// first.
	ErrDuplicateSandbox = errors.New("sandbox already exists")
)

// PathError reports a raw path that could not be canonicalized:
// an unresolvable parent chain, a symlink loop, or an I/O failure
// during resolution. It indicates malformed input or environment
// failure rather than a policy denial.
type PathError struct {
	// Path is the raw path as presented by the caller.
	Path string

	// Err is the underlying resolution failure.
	Err error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("resolving path %q: %v", e.Path, e.Err)
}

func (e *PathError) Unwrap() error {
	return e.Err
}
