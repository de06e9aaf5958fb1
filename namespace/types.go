// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package namespace

import (
	"fmt"
	"net/netip"
	"time"
)

// ID uniquely identifies a network namespace. At any instant an
// active ID is correlated 1:1 with the pid that owns it.
type ID string

// IDForPid derives the canonical namespace ID for a process.
func IDForPid(pid uint32) ID {
	return ID(fmt.Sprintf("ns-%d", pid))
}

func (id ID) String() string {
	return string(id)
}

// IsolationMode selects how much of the host network a namespace can
// reach.
type IsolationMode string

const (
	// Full isolates completely: loopback only, no egress.
	Full IsolationMode = "full"
	// Private gives the namespace its own NATed network behind the
	// host.
	Private IsolationMode = "private"
	// Shared skips isolation; the process uses the host network.
	Shared IsolationMode = "shared"
	// Bridged attaches the namespace to a shared bridge reachable by
	// other bridged namespaces but not the host's external interfaces.
	Bridged IsolationMode = "bridged"
)

// Valid reports whether m is a known isolation mode.
func (m IsolationMode) Valid() bool {
	switch m {
	case Full, Private, Shared, Bridged:
		return true
	}
	return false
}

// Platform identifies which backend implementation is active.
type Platform string

const (
	// PlatformLinux uses true kernel network namespaces.
	PlatformLinux Platform = "linux-netns"
	// PlatformDarwin uses packet-filter anchor rules scoped per
	// process; equivalent allow/deny semantics without true
	// namespaces.
	PlatformDarwin Platform = "darwin-pf"
	// PlatformSimulation tracks identical state in memory with no
	// OS effect. Requires no privilege.
	PlatformSimulation Platform = "simulation"
)

// InterfaceConfig describes the namespace-side virtual interface.
type InterfaceConfig struct {
	// Name of the interface inside the namespace.
	Name string `cbor:"name"`

	// Addr is the interface address.
	Addr netip.Addr `cbor:"addr"`

	// PrefixLen is the subnet prefix length (24 for /24).
	PrefixLen int `cbor:"prefix_len"`

	// Gateway is the default route target, normally the host side of
	// the bridge. Zero value means no default route.
	Gateway netip.Addr `cbor:"gateway,omitempty"`

	// MTU for the interface.
	MTU int `cbor:"mtu"`
}

// DefaultInterface returns the conventional private-network
// interface: veth0 at 10.0.0.2/24 behind a 10.0.0.1 gateway.
func DefaultInterface() InterfaceConfig {
	return InterfaceConfig{
		Name:      "veth0",
		Addr:      netip.AddrFrom4([4]byte{10, 0, 0, 2}),
		PrefixLen: 24,
		Gateway:   netip.AddrFrom4([4]byte{10, 0, 0, 1}),
		MTU:       1500,
	}
}

// PortForward maps a host port to a namespace port.
type PortForward struct {
	HostPort      uint16 `cbor:"host_port"`
	NamespacePort uint16 `cbor:"namespace_port"`
}

// Config declares a namespace to create. Owned by the Manager once
// created; callers must not mutate it afterwards.
type Config struct {
	// ID is the unique namespace identifier.
	ID ID `cbor:"id"`

	// Pid owns this namespace. One active namespace per pid.
	Pid uint32 `cbor:"pid"`

	// Mode is the isolation mode.
	Mode IsolationMode `cbor:"mode"`

	// Interface configures the namespace-side interface. Required
	// for Private and Bridged, ignored for Full and Shared.
	Interface *InterfaceConfig `cbor:"interface,omitempty"`

	// DNSServers are written into the namespace's resolver
	// configuration.
	DNSServers []netip.Addr `cbor:"dns_servers,omitempty"`

	// EnableIPv6 enables IPv6 inside the namespace.
	EnableIPv6 bool `cbor:"enable_ipv6,omitempty"`

	// PortForwards maps host ports into the namespace.
	PortForwards []PortForward `cbor:"port_forwards,omitempty"`
}

// FullIsolation returns a config with loopback only and no egress.
func FullIsolation(pid uint32) Config {
	return Config{
		ID:   IDForPid(pid),
		Pid:  pid,
		Mode: Full,
	}
}

// PrivateNetwork returns a config for a NATed private network with
// the default interface and public DNS resolvers.
func PrivateNetwork(pid uint32) Config {
	iface := DefaultInterface()
	return Config{
		ID:        IDForPid(pid),
		Pid:       pid,
		Mode:      Private,
		Interface: &iface,
		DNSServers: []netip.Addr{
			netip.AddrFrom4([4]byte{8, 8, 8, 8}),
			netip.AddrFrom4([4]byte{8, 8, 4, 4}),
		},
		EnableIPv6: true,
	}
}

// SharedNetwork returns a config that uses the host network
// unchanged.
func SharedNetwork(pid uint32) Config {
	return Config{
		ID:         IDForPid(pid),
		Pid:        pid,
		Mode:       Shared,
		EnableIPv6: true,
	}
}

// BridgedNetwork returns a private-network config attached to the
// shared inter-namespace bridge instead of the NAT bridge.
func BridgedNetwork(pid uint32) Config {
	config := PrivateNetwork(pid)
	config.Mode = Bridged
	return config
}

// ForMode returns the default config for pid in the given mode.
func ForMode(pid uint32, mode IsolationMode) (Config, error) {
	switch mode {
	case Full:
		return FullIsolation(pid), nil
	case Private:
		return PrivateNetwork(pid), nil
	case Shared:
		return SharedNetwork(pid), nil
	case Bridged:
		return BridgedNetwork(pid), nil
	}
	return Config{}, fmt.Errorf("unknown isolation mode %q: %w", mode, ErrInvalidConfig)
}

// Validate checks the config's shape before creation.
func (c Config) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("namespace id is required: %w", ErrInvalidConfig)
	}
	if !c.Mode.Valid() {
		return fmt.Errorf("unknown isolation mode %q: %w", c.Mode, ErrInvalidConfig)
	}
	if c.Mode == Private || c.Mode == Bridged {
		if c.Interface == nil {
			return fmt.Errorf("%s mode requires an interface: %w", c.Mode, ErrInvalidConfig)
		}
		if !c.Interface.Addr.IsValid() {
			return fmt.Errorf("interface address is required: %w", ErrInvalidConfig)
		}
		bits := c.Interface.Addr.BitLen()
		if c.Interface.PrefixLen <= 0 || c.Interface.PrefixLen > bits {
			return fmt.Errorf("prefix length %d out of range for %s: %w",
				c.Interface.PrefixLen, c.Interface.Addr, ErrInvalidConfig)
		}
	}
	return nil
}

// clone returns a deep copy. The registry stores and returns only
// clones, so no caller can reach stored state through the Interface
// pointer or the slices of a config it holds.
func (c Config) clone() Config {
	out := c
	if c.Interface != nil {
		iface := *c.Interface
		out.Interface = &iface
	}
	if c.DNSServers != nil {
		out.DNSServers = append([]netip.Addr(nil), c.DNSServers...)
	}
	if c.PortForwards != nil {
		out.PortForwards = append([]PortForward(nil), c.PortForwards...)
	}
	return out
}

// Stats are read-only runtime counters for an active namespace,
// derived from the backend rather than separately persisted.
type Stats struct {
	// ID of the namespace the counters belong to.
	ID ID

	// InterfaceCount is the number of active interfaces.
	InterfaceCount int

	// TxBytes / RxBytes count bytes from the namespace's point of
	// view.
	TxBytes uint64
	RxBytes uint64

	// TxPackets / RxPackets count packets.
	TxPackets uint64
	RxPackets uint64

	// CreatedAt is when the namespace became active.
	CreatedAt time.Time
}

// Info describes an active namespace.
type Info struct {
	// Config the namespace was created with.
	Config Config `cbor:"config"`

	// Platform that realizes the namespace.
	Platform Platform `cbor:"platform"`

	// CreatedAt is when the namespace became active.
	CreatedAt time.Time `cbor:"created_at"`
}
