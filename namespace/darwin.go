// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

//go:build darwin

package namespace

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/sys/unix"
)

// anchorPrefix namespaces Warden's pf anchors under one parent so
// they can be listed and flushed without touching other rules.
const anchorPrefix = "warden"

// DarwinBackend approximates namespaces with pf(4) anchors. macOS
// has no network namespace primitive, so isolation here is partial:
// full-isolation namespaces get a blocking pf anchor for the
// namespace's address range, and connected modes are bookkeeping
// plus the capability checks enforced above this layer. Processes
// are not moved into a separate stack.
type DarwinBackend struct {
	registry *registry
	logger   *slog.Logger
}

// NewDarwinBackend creates a pf-based backend.
func NewDarwinBackend(logger *slog.Logger) *DarwinBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &DarwinBackend{
		registry: newRegistry(),
		logger:   logger,
	}
}

// Supported reports whether pfctl is available and the process has
// the privileges to use it.
func (b *DarwinBackend) Supported() bool {
	if unix.Geteuid() != 0 {
		return false
	}
	if _, err := os.Stat("/sbin/pfctl"); err != nil {
		return false
	}
	return true
}

// Platform identifies the backend.
func (b *DarwinBackend) Platform() Platform {
	return PlatformDarwin
}

// Create registers the namespace and, for full isolation, loads a
// blocking anchor for its address range.
func (b *DarwinBackend) Create(ctx context.Context, config Config) error {
	if _, err := b.registry.add(config, PlatformDarwin); err != nil {
		return err
	}

	if config.Mode == Full && config.Interface != nil {
		if err := b.loadBlockAnchor(ctx, config); err != nil {
			b.registry.remove(config.ID)
			return fmt.Errorf("%w: %w", ErrCreateFailed, err)
		}
	}
	b.logger.Debug("registered pf namespace",
		"id", config.ID, "pid", config.Pid, "mode", config.Mode)
	return nil
}

// Destroy flushes the namespace's anchor and unregisters it.
func (b *DarwinBackend) Destroy(ctx context.Context, id ID) error {
	info, ok := b.registry.remove(id)
	if !ok {
		return ErrNotFound
	}
	if info.Config.Mode == Full && info.Config.Interface != nil {
		if err := b.flushAnchor(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Exists reports whether the ID is active.
func (b *DarwinBackend) Exists(id ID) bool {
	return b.registry.exists(id)
}

// Info returns the active namespace's description.
func (b *DarwinBackend) Info(id ID) (Info, bool) {
	return b.registry.get(id)
}

// List returns all active namespaces.
func (b *DarwinBackend) List() []Info {
	return b.registry.list()
}

// ByPid returns the active namespace owned by pid.
func (b *DarwinBackend) ByPid(pid uint32) (Info, bool) {
	return b.registry.byPidLookup(pid)
}

// Stats reports registered interface counts. pf does not expose
// per-anchor byte counters without label accounting, so traffic
// counters stay zero.
func (b *DarwinBackend) Stats(id ID) (Stats, bool) {
	info, ok := b.registry.get(id)
	if !ok {
		return Stats{}, false
	}
	count := 1
	if info.Config.Mode == Private || info.Config.Mode == Bridged {
		count = 2
	}
	return Stats{
		ID:             id,
		InterfaceCount: count,
		CreatedAt:      info.CreatedAt,
	}, true
}

// cleanupOrphan flushes an anchor left by a previous process.
func (b *DarwinBackend) cleanupOrphan(ctx context.Context, info Info) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if info.Config.Mode == Full && info.Config.Interface != nil {
		if err := b.flushAnchor(ctx, info.Config.ID); err != nil {
			b.logger.Warn("flushing orphaned pf anchor",
				"id", info.Config.ID, "error", err)
		}
	}
	return nil
}

// loadBlockAnchor loads block rules for the namespace's address
// into its anchor via pfctl's stdin.
func (b *DarwinBackend) loadBlockAnchor(ctx context.Context, config Config) error {
	rules := fmt.Sprintf("block drop from %s to any\nblock drop from any to %s\n",
		config.Interface.Addr, config.Interface.Addr)

	cmd := exec.CommandContext(ctx, "pfctl", "-a", anchorName(config.ID), "-f", "-")
	cmd.Stdin = strings.NewReader(rules)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("loading pf anchor: %w (%s)", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// flushAnchor removes all rules from the namespace's anchor.
func (b *DarwinBackend) flushAnchor(ctx context.Context, id ID) error {
	cmd := exec.CommandContext(ctx, "pfctl", "-a", anchorName(id), "-F", "rules")
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("flushing pf anchor: %w (%s)", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// anchorName is the pf anchor path for a namespace.
func anchorName(id ID) string {
	return anchorPrefix + "/" + id.String()
}
