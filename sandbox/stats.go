// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import "sync/atomic"

// counters are the Manager's hot-path counters. Plain atomics: checks
// must never contend on a stats lock.
type counters struct {
	capabilityChecks  atomic.Uint64
	permissionDenials atomic.Uint64
	networkChecks     atomic.Uint64
	networkDenials    atomic.Uint64
}

// Stats is a point-in-time snapshot of manager activity, exposed for
// external metrics collection. This package does not push metrics
// itself.
type Stats struct {
	// TotalSandboxes is the number of registered sandboxes.
	TotalSandboxes int

	// CapabilityChecks counts capability and file-operation checks.
	CapabilityChecks uint64

	// PermissionDenials counts denied capability/file checks.
	PermissionDenials uint64

	// NetworkChecks counts network access checks.
	NetworkChecks uint64

	// NetworkDenials counts denied network checks.
	NetworkDenials uint64
}

// Stats returns a snapshot of manager activity. Counter reads are
// individually atomic, not mutually consistent.
func (m *Manager) Stats() Stats {
	return Stats{
		TotalSandboxes:    m.configs.length(),
		CapabilityChecks:  m.counters.capabilityChecks.Load(),
		PermissionDenials: m.counters.permissionDenials.Load(),
		NetworkChecks:     m.counters.networkChecks.Load(),
		NetworkDenials:    m.counters.networkDenials.Load(),
	}
}
