// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/warden-foundation/warden/namespace"
)

// Manager owns the per-process sandbox configurations and is the
// single authorization surface consumed by the syscall dispatcher.
// All Check methods are safe for concurrent use and never block on
// I/O once the path is resolved; lifecycle and grant methods lock
// only the shard holding the affected pid.
type Manager struct {
	configs *shardedMap[*Config]
	spawned *shardedMap[uint32]

	namespaces *namespace.Manager
	logger     *slog.Logger

	counters counters
}

// ManagerConfig holds construction options for a Manager.
type ManagerConfig struct {
	// Namespaces enables network namespace isolation. When nil,
	// CreateNamespace returns an error and full-isolation overrides
	// never apply.
	Namespaces *namespace.Manager

	// Logger for lifecycle events and denial diagnostics. Defaults
	// to slog.Default().
	Logger *slog.Logger
}

// NewManager creates an empty sandbox manager.
func NewManager(config ManagerConfig) *Manager {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	manager := &Manager{
		configs:    newShardedMap[*Config](),
		spawned:    newShardedMap[uint32](),
		namespaces: config.Namespaces,
		logger:     logger,
	}
	if config.Namespaces != nil {
		logger.Info("sandbox manager initialized",
			"namespace_platform", config.Namespaces.Platform())
	} else {
		logger.Info("sandbox manager initialized", "namespace_platform", "disabled")
	}
	return manager
}

// Namespaces returns the attached namespace manager, or nil.
func (m *Manager) Namespaces() *namespace.Manager {
	return m.namespaces
}

// Create registers a new process's sandbox. Fails with
// ErrDuplicateSandbox if the pid already has one; the existing
// sandbox must be destroyed first.
func (m *Manager) Create(config *Config) error {
	if config == nil {
		return fmt.Errorf("sandbox config is required")
	}
	if !m.configs.insert(config.Pid, config.clone()) {
		return fmt.Errorf("pid %d: %w", config.Pid, ErrDuplicateSandbox)
	}
	m.logger.Info("created sandbox", "pid", config.Pid, "tier", config.Tier)
	return nil
}

// Destroy removes a process's sandbox and tears down its network
// namespace if one exists. Idempotent: destroying an absent sandbox
// is a no-op success, since process termination may be reported from
// multiple signal paths.
func (m *Manager) Destroy(ctx context.Context, pid uint32) error {
	if m.namespaces != nil {
		if err := m.namespaces.DestroyByPid(ctx, pid); err != nil {
			// Roll forward: the sandbox entry still goes away, the
			// namespace failure is reported.
			m.configs.remove(pid)
			m.spawned.remove(pid)
			return fmt.Errorf("tearing down namespace for pid %d: %w", pid, err)
		}
	}
	if _, existed := m.configs.remove(pid); existed {
		m.logger.Info("destroyed sandbox", "pid", pid)
	}
	m.spawned.remove(pid)
	return nil
}

// Has reports whether a sandbox is registered for pid.
func (m *Manager) Has(pid uint32) bool {
	_, ok := m.configs.get(pid)
	return ok
}

// Sandbox returns a deep copy of the pid's config, or nil.
func (m *Manager) Sandbox(pid uint32) *Config {
	config, ok := m.configs.get(pid)
	if !ok {
		return nil
	}
	return config.clone()
}

// Update replaces the pid's entire config. Fails with
// ErrSandboxNotFound if no sandbox exists. Intended for the policy
// authority; sandboxed processes never reach this surface.
func (m *Manager) Update(config *Config) error {
	if config == nil {
		return fmt.Errorf("sandbox config is required")
	}
	replaced := m.configs.update(config.Pid, func(*Config) *Config {
		return config.clone()
	})
	if !replaced {
		return fmt.Errorf("pid %d: %w", config.Pid, ErrSandboxNotFound)
	}
	m.logger.Info("updated sandbox", "pid", config.Pid)
	return nil
}

// CheckCapability reports whether any capability held by pid grants
// the requested one. OR semantics across the set: one applicable
// allow is sufficient. Unknown pids fail closed.
func (m *Manager) CheckCapability(pid uint32, requested Capability) bool {
	m.counters.capabilityChecks.Add(1)
	config, ok := m.configs.get(pid)
	if !ok {
		m.counters.permissionDenials.Add(1)
		m.logger.Debug("capability check for unknown pid", "pid", pid)
		return false
	}
	if !config.HasCapability(requested) {
		m.counters.permissionDenials.Add(1)
		m.logger.Debug("capability denied",
			"pid", pid, "capability", requested.String())
		return false
	}
	return true
}

// CheckFileOperation decides whether pid may perform op on rawPath.
// The path is canonicalized exactly once, before any lock is taken
// (resolution may stat the filesystem); the capability set and path
// lists are then evaluated against the canonical form. Returns nil on
// allow, a *PathError if the path cannot be resolved, or an error
// wrapping ErrCapabilityDenied / ErrSandboxNotFound.
//
// Callers that go on to perform the operation should use
// CheckFileHandle instead and reuse the handle for the I/O, keeping
// check and use on the same canonical path.
func (m *Manager) CheckFileOperation(pid uint32, op FileOperation, rawPath string) error {
	handle, err := Resolve(rawPath)
	if err != nil {
		return err
	}
	return m.CheckFileHandle(pid, op, handle)
}

// CheckFileHandle is CheckFileOperation for an already-resolved
// Handle.
func (m *Manager) CheckFileHandle(pid uint32, op FileOperation, handle Handle) error {
	m.counters.capabilityChecks.Add(1)

	kind, ok := op.capabilityKind()
	if !ok {
		return fmt.Errorf("unknown file operation %q", op)
	}

	config, found := m.configs.get(pid)
	if !found {
		m.counters.permissionDenials.Add(1)
		return fmt.Errorf("pid %d: %w", pid, ErrSandboxNotFound)
	}

	requested := Capability{Kind: kind, Scope: handle.Path()}
	if !config.HasCapability(requested) {
		m.counters.permissionDenials.Add(1)
		m.logger.Debug("file operation denied by capability set",
			"pid", pid, "op", op, "path", handle.Path())
		return fmt.Errorf("pid %d lacks %s: %w", pid, requested.String(), ErrCapabilityDenied)
	}
	if !config.CanAccessPath(handle.Path()) {
		m.counters.permissionDenials.Add(1)
		m.logger.Debug("file operation denied by path lists",
			"pid", pid, "op", op, "path", handle.Path())
		return fmt.Errorf("pid %d path %s not accessible: %w", pid, handle.Path(), ErrCapabilityDenied)
	}
	return nil
}

// CheckNetworkAccess decides whether pid may connect to host:port.
// If the process is bound to a namespace in Full isolation mode the
// check denies unconditionally, regardless of rules: full isolation
// is an absolute override. Otherwise the process's rule list is
// evaluated with block-overrides-allow semantics, failing closed when
// nothing matches.
func (m *Manager) CheckNetworkAccess(pid uint32, host string, port uint16) error {
	m.counters.networkChecks.Add(1)

	config, ok := m.configs.get(pid)
	if !ok {
		m.counters.networkDenials.Add(1)
		return fmt.Errorf("pid %d: %w", pid, ErrSandboxNotFound)
	}

	if m.namespaces != nil {
		if info, found := m.namespaces.ByPid(pid); found && info.Config.Mode == namespace.Full {
			m.counters.networkDenials.Add(1)
			m.logger.Debug("network access denied by full isolation",
				"pid", pid, "host", host, "port", port)
			return fmt.Errorf("pid %d is fully isolated: %w", pid, ErrNetworkDenied)
		}
	}

	if !EvaluateRules(config.NetworkRules, host, port) {
		m.counters.networkDenials.Add(1)
		m.logger.Debug("network access denied by rules",
			"pid", pid, "host", host, "port", port)
		return fmt.Errorf("pid %d to %s:%d: %w", pid, host, port, ErrNetworkDenied)
	}
	return nil
}

// Grant adds a capability to pid's set, atomically publishing a
// replacement set. Effective for the next check; checks already in
// flight keep their snapshot.
func (m *Manager) Grant(pid uint32, capability Capability) error {
	granted := m.configs.update(pid, func(config *Config) *Config {
		next := config.clone()
		next.Capabilities[capability] = struct{}{}
		return next
	})
	if !granted {
		return fmt.Errorf("pid %d: %w", pid, ErrSandboxNotFound)
	}
	m.logger.Info("granted capability", "pid", pid, "capability", capability.String())
	return nil
}

// Revoke removes a capability (exact kind+scope match) from pid's
// set, atomically publishing a replacement set.
func (m *Manager) Revoke(pid uint32, capability Capability) error {
	revoked := m.configs.update(pid, func(config *Config) *Config {
		next := config.clone()
		delete(next.Capabilities, capability)
		return next
	})
	if !revoked {
		return fmt.Errorf("pid %d: %w", pid, ErrSandboxNotFound)
	}
	m.logger.Info("revoked capability", "pid", pid, "capability", capability.String())
	return nil
}

// Capabilities returns a copy of pid's capability set, or nil if no
// sandbox exists.
func (m *Manager) Capabilities(pid uint32) []Capability {
	config, ok := m.configs.get(pid)
	if !ok {
		return nil
	}
	capabilities := make([]Capability, 0, len(config.Capabilities))
	for capability := range config.Capabilities {
		capabilities = append(capabilities, capability)
	}
	return capabilities
}

// AllowPath appends a canonical path prefix to pid's allowed list.
func (m *Manager) AllowPath(pid uint32, path string) error {
	updated := m.configs.update(pid, func(config *Config) *Config {
		next := config.clone()
		next.AllowedPaths = append(next.AllowedPaths, path)
		return next
	})
	if !updated {
		return fmt.Errorf("pid %d: %w", pid, ErrSandboxNotFound)
	}
	return nil
}

// BlockPath appends a canonical path prefix to pid's blocked list.
// Blocked prefixes override allowed ones.
func (m *Manager) BlockPath(pid uint32, path string) error {
	updated := m.configs.update(pid, func(config *Config) *Config {
		next := config.clone()
		next.BlockedPaths = append(next.BlockedPaths, path)
		return next
	})
	if !updated {
		return fmt.Errorf("pid %d: %w", pid, ErrSandboxNotFound)
	}
	return nil
}

// CreateNamespace creates a network namespace for pid in the given
// isolation mode. Requires the NetworkNamespace capability: granting
// the capability does not itself create a namespace, and creating one
// without the capability is refused. The namespace lifecycle is
// otherwise independent of the capability set.
func (m *Manager) CreateNamespace(ctx context.Context, pid uint32, mode namespace.IsolationMode) error {
	if m.namespaces == nil {
		return fmt.Errorf("network namespace support not enabled")
	}
	if !m.CheckCapability(pid, Capability{Kind: NetworkNamespace}) {
		return fmt.Errorf("pid %d lacks %s: %w", pid, NetworkNamespace, ErrCapabilityDenied)
	}
	config, err := namespace.ForMode(pid, mode)
	if err != nil {
		return err
	}
	if err := m.namespaces.Create(ctx, config); err != nil {
		return fmt.Errorf("creating namespace for pid %d: %w", pid, err)
	}
	m.logger.Info("created network namespace", "pid", pid, "mode", mode)
	return nil
}

// DestroyNamespace tears down pid's namespace, if any. A pid with no
// namespace is a no-op success.
func (m *Manager) DestroyNamespace(ctx context.Context, pid uint32) error {
	if m.namespaces == nil {
		return fmt.Errorf("network namespace support not enabled")
	}
	return m.namespaces.DestroyByPid(ctx, pid)
}

// CanSpawn reports whether pid may spawn another process within its
// MaxProcesses limit.
func (m *Manager) CanSpawn(pid uint32) bool {
	config, ok := m.configs.get(pid)
	if !ok {
		return false
	}
	count, _ := m.spawned.get(pid)
	return count < config.Limits.MaxProcesses
}

// RecordSpawn counts a process spawned by pid.
func (m *Manager) RecordSpawn(pid uint32) {
	if !m.spawned.update(pid, func(count uint32) uint32 { return count + 1 }) {
		m.spawned.set(pid, 1)
	}
}

// RecordTermination counts the exit of a process spawned by pid.
func (m *Manager) RecordTermination(pid uint32) {
	m.spawned.update(pid, func(count uint32) uint32 {
		if count == 0 {
			return 0
		}
		return count - 1
	})
}

// SpawnCount returns how many live children are recorded for pid.
func (m *Manager) SpawnCount(pid uint32) uint32 {
	count, _ := m.spawned.get(pid)
	return count
}
