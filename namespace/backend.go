// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package namespace

import "context"

// Backend realizes namespaces on one platform. Implementations share
// the registry bookkeeping and differ only in the OS side effects;
// all of them present identical return values so the Manager and its
// callers never branch on platform.
//
// Create and Destroy perform OS configuration and honor the context
// deadline. The query methods are in-memory and never block.
type Backend interface {
	// Create realizes the namespace. The config is already
	// validated. Returns ErrAlreadyExists if the ID is active, or an
	// error wrapping ErrCreateFailed when the OS rejects it.
	Create(ctx context.Context, config Config) error

	// Destroy tears the namespace down. Roll-forward: individual
	// device or rule removals that fail do not abort the rest of the
	// teardown; the joined failure is reported after the namespace
	// is unregistered. Returns ErrNotFound if the ID is not active.
	Destroy(ctx context.Context, id ID) error

	// Exists reports whether the ID is active.
	Exists(id ID) bool

	// Info returns the active namespace's description.
	Info(id ID) (Info, bool)

	// List returns all active namespaces.
	List() []Info

	// ByPid returns the unique active namespace owned by pid.
	ByPid(pid uint32) (Info, bool)

	// Stats returns runtime counters for an active namespace.
	Stats(id ID) (Stats, bool)

	// Supported reports whether this backend can operate on the
	// current host (platform, privileges, required tools).
	Supported() bool

	// Platform identifies the backend.
	Platform() Platform
}
