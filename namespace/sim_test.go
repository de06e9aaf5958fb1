// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package namespace

import (
	"context"
	"errors"
	"net/netip"
	"testing"
)

func TestSimulationSupported(t *testing.T) {
	backend := NewSimulationBackend(quietLogger())
	if !backend.Supported() {
		t.Error("simulation backend must always be supported")
	}
	if backend.Platform() != PlatformSimulation {
		t.Errorf("Platform = %q", backend.Platform())
	}
}

func TestSimulationCreateRespectsContext(t *testing.T) {
	backend := NewSimulationBackend(quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := backend.Create(ctx, FullIsolation(1)); !errors.Is(err, context.Canceled) {
		t.Errorf("Create with canceled context: got %v", err)
	}
	if backend.Exists("ns-1") {
		t.Error("canceled create must not register anything")
	}
}

func TestSimulationDuplicatePid(t *testing.T) {
	backend := NewSimulationBackend(quietLogger())
	ctx := context.Background()

	if err := backend.Create(ctx, FullIsolation(7)); err != nil {
		t.Fatal(err)
	}
	rival := SharedNetwork(7)
	rival.ID = "ns-rival"
	if err := backend.Create(ctx, rival); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("duplicate pid: got %v, want ErrAlreadyExists", err)
	}
	if backend.Exists("ns-rival") {
		t.Error("rejected config must not be registered")
	}
}

func TestSimulationDestroyUnknown(t *testing.T) {
	backend := NewSimulationBackend(quietLogger())
	if err := backend.Destroy(context.Background(), "ns-99"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Destroy of unknown ID: got %v, want ErrNotFound", err)
	}
}

func TestSimulationInfoIsACopy(t *testing.T) {
	backend := NewSimulationBackend(quietLogger())
	ctx := context.Background()

	if err := backend.Create(ctx, PrivateNetwork(8)); err != nil {
		t.Fatal(err)
	}
	first, ok := backend.Info("ns-8")
	if !ok {
		t.Fatal("Info not found")
	}

	// Mutate through every shared-reference path: the interface
	// pointer and the slice backing arrays.
	rogue := netip.AddrFrom4([4]byte{192, 0, 2, 99})
	first.Config.Interface.Addr = rogue
	first.Config.Interface.MTU = 1
	if len(first.Config.DNSServers) > 0 {
		first.Config.DNSServers[0] = rogue
	}

	second, _ := backend.Info("ns-8")
	if second.Config.Interface.Addr == rogue {
		t.Error("interface address mutated through a returned Info")
	}
	if second.Config.Interface.MTU == 1 {
		t.Error("interface MTU mutated through a returned Info")
	}
	if second.Config.DNSServers[0] == rogue {
		t.Error("DNS server mutated through a returned Info")
	}

	byPid, _ := backend.ByPid(8)
	byPid.Config.Interface.Addr = rogue
	listed := backend.List()
	if len(listed) != 1 || listed[0].Config.Interface.Addr == rogue {
		t.Error("List must not alias state reachable from ByPid results")
	}
}

func TestSimulationCreateDetachesCallerConfig(t *testing.T) {
	backend := NewSimulationBackend(quietLogger())
	ctx := context.Background()

	config := PrivateNetwork(12)
	if err := backend.Create(ctx, config); err != nil {
		t.Fatal(err)
	}
	config.Interface.Addr = netip.AddrFrom4([4]byte{192, 0, 2, 1})

	stored, _ := backend.Info("ns-12")
	if stored.Config.Interface.Addr != DefaultInterface().Addr {
		t.Error("mutating the caller's config after Create must not affect stored state")
	}
}

func TestSimulationStats(t *testing.T) {
	backend := NewSimulationBackend(quietLogger())
	ctx := context.Background()

	if err := backend.Create(ctx, BridgedNetwork(9)); err != nil {
		t.Fatal(err)
	}
	stats, ok := backend.Stats("ns-9")
	if !ok {
		t.Fatal("Stats not found")
	}
	if stats.ID != "ns-9" {
		t.Errorf("ID = %q", stats.ID)
	}
	if stats.InterfaceCount != 2 {
		t.Errorf("InterfaceCount = %d, want 2", stats.InterfaceCount)
	}
	if stats.CreatedAt.IsZero() {
		t.Error("CreatedAt should be populated")
	}
}
