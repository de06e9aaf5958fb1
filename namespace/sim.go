// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package namespace

import (
	"context"
	"log/slog"
)

// SimulationBackend tracks namespace state purely in memory with no
// OS-level effect. It presents the exact same API and return values
// as the Linux and Darwin backends, so code exercised against it
// behaves identically on a real platform. It requires no privilege,
// which makes it the fallback for unprivileged contexts and the
// workhorse for tests.
type SimulationBackend struct {
	registry *registry
	logger   *slog.Logger
}

// NewSimulationBackend creates an in-memory backend.
func NewSimulationBackend(logger *slog.Logger) *SimulationBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &SimulationBackend{
		registry: newRegistry(),
		logger:   logger,
	}
}

// Create registers the namespace. No OS calls are made; the context
// is accepted for interface parity and deadline errors still apply.
func (b *SimulationBackend) Create(ctx context.Context, config Config) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := b.registry.add(config, PlatformSimulation); err != nil {
		return err
	}
	b.logger.Debug("simulated namespace created",
		"id", config.ID, "pid", config.Pid, "mode", config.Mode)
	return nil
}

// Destroy unregisters the namespace.
func (b *SimulationBackend) Destroy(ctx context.Context, id ID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := b.registry.remove(id); !ok {
		return ErrNotFound
	}
	b.logger.Debug("simulated namespace destroyed", "id", id)
	return nil
}

// Exists reports whether the ID is active.
func (b *SimulationBackend) Exists(id ID) bool {
	return b.registry.exists(id)
}

// Info returns the active namespace's description.
func (b *SimulationBackend) Info(id ID) (Info, bool) {
	return b.registry.get(id)
}

// List returns all active namespaces.
func (b *SimulationBackend) List() []Info {
	return b.registry.list()
}

// ByPid returns the active namespace owned by pid.
func (b *SimulationBackend) ByPid(pid uint32) (Info, bool) {
	return b.registry.byPidLookup(pid)
}

// Stats synthesizes counters from the registered state: interface
// counts follow the isolation mode, byte and packet counters stay
// zero because no traffic flows in simulation.
func (b *SimulationBackend) Stats(id ID) (Stats, bool) {
	info, ok := b.registry.get(id)
	if !ok {
		return Stats{}, false
	}
	return Stats{
		ID:             id,
		InterfaceCount: simulatedInterfaceCount(info.Config.Mode),
		CreatedAt:      info.CreatedAt,
	}, true
}

// Supported is always true: simulation runs anywhere, unprivileged.
func (b *SimulationBackend) Supported() bool {
	return true
}

// Platform identifies the backend.
func (b *SimulationBackend) Platform() Platform {
	return PlatformSimulation
}

// simulatedInterfaceCount mirrors what the real backends would
// report: loopback always, plus the veth for connected modes.
func simulatedInterfaceCount(mode IsolationMode) int {
	switch mode {
	case Private, Bridged:
		return 2
	default:
		return 1
	}
}
