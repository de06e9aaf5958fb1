// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package namespace

import "errors"

// Sentinel errors for namespace operations. Match with errors.Is.
var (
	// ErrNotFound means the namespace is unknown or already
	// destroyed. Manager.Destroy swallows this (idempotence); query
	// operations surface it.
	ErrNotFound = errors.New("namespace not found")

	// ErrAlreadyExists means an active namespace with this ID, or
	// owned by this pid, already exists.
	ErrAlreadyExists = errors.New("namespace already exists")

	// ErrCreateFailed means an underlying OS call failed:
	// insufficient privilege, resource exhaustion, or unsupported
	// platform features.
	ErrCreateFailed = errors.New("namespace creation failed")

	// ErrUnsupported means the backend cannot operate on this host.
	ErrUnsupported = errors.New("platform not supported")

	// ErrInvalidConfig means the namespace config fails validation.
	ErrInvalidConfig = errors.New("invalid namespace configuration")
)
