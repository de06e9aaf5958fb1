// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package namespace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// createTimeout bounds namespace creation when the caller's context
// has no deadline. Interface and firewall setup involves external
// commands that can hang; a stuck create must not wedge the caller.
const createTimeout = 10 * time.Second

// orphanCleaner is implemented by backends whose namespaces leave OS
// artifacts that survive process restart. The manager calls it for
// namespaces recorded in the state file but unknown to the running
// backend.
type orphanCleaner interface {
	cleanupOrphan(ctx context.Context, info Info) error
}

// Manager owns namespace lifecycle on top of a platform backend. It
// serializes create and destroy per namespace ID, bounds creation
// time, persists active state for crash recovery, and reaps
// namespaces whose owning process is gone.
type Manager struct {
	backend   Backend
	logger    *slog.Logger
	statePath string

	// locksMu guards locks. Each active or in-flight ID gets its own
	// mutex so slow OS work on one namespace never blocks another.
	locksMu sync.Mutex
	locks   map[ID]*sync.Mutex

	// orphansMu guards orphans: namespaces recorded by a previous
	// process whose OS artifacts may still exist. Reap clears them.
	orphansMu sync.Mutex
	orphans   []Info

	// stateMu serializes persist. Per-ID locks let creates and
	// destroys for different pids run in parallel, so persist must
	// order its registry snapshot and file write on its own.
	stateMu sync.Mutex
}

// ManagerConfig configures a namespace manager.
type ManagerConfig struct {
	// Backend realizes namespaces. When nil the manager probes the
	// host: the native backend if it can operate here, otherwise
	// simulation.
	Backend Backend

	// Logger for lifecycle events. Defaults to slog.Default.
	Logger *slog.Logger

	// StatePath is the file where active namespace state is
	// persisted after every mutation. Empty disables persistence
	// and crash recovery.
	StatePath string
}

// NewManager creates a namespace manager. When a state file from a
// previous process exists, its entries are loaded as orphans for
// Reap to clean up; a state file written by a different platform
// backend is discarded since its artifacts cannot be interpreted.
func NewManager(config ManagerConfig) (*Manager, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	backend := config.Backend
	if backend == nil {
		backend = detectBackend(logger)
	}

	manager := &Manager{
		backend:   backend,
		logger:    logger,
		statePath: config.StatePath,
		locks:     make(map[ID]*sync.Mutex),
	}

	if config.StatePath != "" {
		snap, err := readState(config.StatePath)
		if err != nil {
			return nil, err
		}
		switch {
		case len(snap.Namespaces) == 0:
		case snap.Platform != backend.Platform():
			logger.Warn("discarding namespace state from different platform",
				"state_platform", snap.Platform,
				"platform", backend.Platform(),
				"count", len(snap.Namespaces))
		default:
			manager.orphans = snap.Namespaces
			logger.Info("loaded orphaned namespaces from state file",
				"count", len(snap.Namespaces))
		}
	}

	logger.Info("namespace manager initialized", "platform", backend.Platform())
	return manager, nil
}

// Platform identifies the active backend.
func (m *Manager) Platform() Platform {
	return m.backend.Platform()
}

// TrueIsolation reports whether the backend provides real OS-level
// isolation rather than simulated bookkeeping.
func (m *Manager) TrueIsolation() bool {
	return m.backend.Platform() != PlatformSimulation
}

// Create validates the config and realizes the namespace. Creation
// is bounded by createTimeout unless ctx already carries an earlier
// deadline. Returns ErrAlreadyExists when the ID is active or the
// pid already owns a namespace.
func (m *Manager) Create(ctx context.Context, config Config) error {
	if err := config.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, createTimeout)
	defer cancel()

	lock := m.lockFor(config.ID)
	lock.Lock()
	defer lock.Unlock()

	if err := m.backend.Create(ctx, config); err != nil {
		return err
	}
	m.logger.Info("created namespace",
		"id", config.ID, "pid", config.Pid, "mode", config.Mode,
		"platform", m.backend.Platform())
	m.persist()
	return nil
}

// Destroy tears a namespace down. Idempotent: destroying an ID that
// is not active succeeds, since teardown may be requested from
// multiple exit paths.
func (m *Manager) Destroy(ctx context.Context, id ID) error {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	err := m.backend.Destroy(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	m.logger.Info("destroyed namespace", "id", id)
	m.dropLock(id)
	m.persist()
	return nil
}

// DestroyByPid tears down the namespace owned by pid, if any.
// Idempotent like Destroy.
func (m *Manager) DestroyByPid(ctx context.Context, pid uint32) error {
	info, ok := m.backend.ByPid(pid)
	if !ok {
		return nil
	}
	return m.Destroy(ctx, info.Config.ID)
}

// Exists reports whether the ID is active.
func (m *Manager) Exists(id ID) bool {
	return m.backend.Exists(id)
}

// Info returns the active namespace's description.
func (m *Manager) Info(id ID) (Info, bool) {
	return m.backend.Info(id)
}

// ByPid returns the active namespace owned by pid.
func (m *Manager) ByPid(pid uint32) (Info, bool) {
	return m.backend.ByPid(pid)
}

// List returns all active namespaces sorted by ID.
func (m *Manager) List() []Info {
	return m.backend.List()
}

// Stats returns runtime counters for an active namespace.
func (m *Manager) Stats(id ID) (Stats, bool) {
	return m.backend.Stats(id)
}

// Count returns the number of active namespaces.
func (m *Manager) Count() int {
	return len(m.backend.List())
}

// Reap destroys namespaces whose owning process is gone: active
// namespaces whose pid fails the alive check, and orphans recorded
// by a previous process. Orphans whose owner is still alive are kept
// pending for a later pass. Returns the number of namespaces
// removed; individual failures are joined, not short-circuited.
func (m *Manager) Reap(ctx context.Context, alive func(pid uint32) bool) (int, error) {
	var (
		reaped int
		errs   []error
	)

	for _, info := range m.backend.List() {
		if alive(info.Config.Pid) {
			continue
		}
		if err := m.Destroy(ctx, info.Config.ID); err != nil {
			errs = append(errs, fmt.Errorf("reaping %s: %w", info.Config.ID, err))
			continue
		}
		m.logger.Info("reaped namespace of dead process",
			"id", info.Config.ID, "pid", info.Config.Pid)
		reaped++
	}

	m.orphansMu.Lock()
	pending := m.orphans
	m.orphans = nil
	m.orphansMu.Unlock()

	var kept []Info
	for _, info := range pending {
		if alive(info.Config.Pid) {
			kept = append(kept, info)
			continue
		}
		if cleaner, ok := m.backend.(orphanCleaner); ok {
			if err := cleaner.cleanupOrphan(ctx, info); err != nil {
				errs = append(errs, fmt.Errorf("cleaning orphan %s: %w", info.Config.ID, err))
				kept = append(kept, info)
				continue
			}
		}
		m.logger.Info("cleaned orphaned namespace",
			"id", info.Config.ID, "pid", info.Config.Pid)
		reaped++
	}

	m.orphansMu.Lock()
	m.orphans = append(m.orphans, kept...)
	m.orphansMu.Unlock()

	if reaped > 0 {
		m.persist()
	}
	return reaped, errors.Join(errs...)
}

// Orphans returns namespaces loaded from a previous process's state
// file that have not been reaped yet.
func (m *Manager) Orphans() []Info {
	m.orphansMu.Lock()
	defer m.orphansMu.Unlock()
	out := make([]Info, len(m.orphans))
	copy(out, m.orphans)
	return out
}

// lockFor returns the per-ID mutex, creating it on first use.
func (m *Manager) lockFor(id ID) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	lock, ok := m.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[id] = lock
	}
	return lock
}

// dropLock forgets the per-ID mutex after a destroy so the map does
// not grow with dead IDs. A racing creator simply allocates a fresh
// one. Called with the ID's lock held.
func (m *Manager) dropLock(id ID) {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	delete(m.locks, id)
}

// persist rewrites the state file with the current active set plus
// pending orphans. Persistence failures are logged, not returned:
// the in-memory state is authoritative and the namespace operation
// itself succeeded.
func (m *Manager) persist() {
	if m.statePath == "" {
		return
	}

	m.stateMu.Lock()
	defer m.stateMu.Unlock()

	m.orphansMu.Lock()
	entries := append(m.backend.List(), m.orphans...)
	m.orphansMu.Unlock()

	snap := snapshot{
		Version:    stateVersion,
		Platform:   m.backend.Platform(),
		WrittenAt:  time.Now(),
		Namespaces: entries,
	}
	if err := writeState(m.statePath, snap); err != nil {
		m.logger.Error("persisting namespace state failed",
			"path", m.statePath, "error", err)
	}
}

// detectBackend picks the native backend when it can operate on this
// host, falling back to simulation otherwise.
func detectBackend(logger *slog.Logger) Backend {
	if native := nativeBackend(logger); native != nil && native.Supported() {
		return native
	}
	logger.Info("native namespace backend unavailable, using simulation")
	return NewSimulationBackend(logger)
}
