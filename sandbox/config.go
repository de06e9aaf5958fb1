// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Tier seeds a sandbox's default capability set, rules, and limits at
// creation. It has no effect after creation; all later changes go
// through explicit Grant/Revoke and path-list calls.
type Tier string

const (
	// TierMinimal is the most restrictive tier: no capabilities, no
	// network, system directories blocked.
	TierMinimal Tier = "minimal"

	// TierStandard grants broad read/write plus system info and time
	// access, scoped to temporary directories.
	TierStandard Tier = "standard"

	// TierPrivileged is for trusted workloads: full file access,
	// process control, and unrestricted network.
	TierPrivileged Tier = "privileged"
)

// ResourceLimits bounds the resources a sandboxed process may
// consume. Enforcement happens in the process scheduler; this package
// only stores the limits and answers CanSpawn queries against
// MaxProcesses.
type ResourceLimits struct {
	MaxMemoryBytes        uint64        `yaml:"max_memory_bytes" json:"max_memory_bytes"`
	MaxCPUTime            time.Duration `yaml:"max_cpu_time" json:"max_cpu_time"`
	MaxFileDescriptors    uint32        `yaml:"max_file_descriptors" json:"max_file_descriptors"`
	MaxProcesses          uint32        `yaml:"max_processes" json:"max_processes"`
	MaxNetworkConnections uint32        `yaml:"max_network_connections" json:"max_network_connections"`
}

// UnmarshalYAML accepts max_cpu_time in Go duration syntax ("30s",
// "5m") as written in policy documents, rather than raw nanoseconds.
func (l *ResourceLimits) UnmarshalYAML(value *yaml.Node) error {
	type rawLimits struct {
		MaxMemoryBytes        uint64 `yaml:"max_memory_bytes"`
		MaxCPUTime            string `yaml:"max_cpu_time"`
		MaxFileDescriptors    uint32 `yaml:"max_file_descriptors"`
		MaxProcesses          uint32 `yaml:"max_processes"`
		MaxNetworkConnections uint32 `yaml:"max_network_connections"`
	}
	var raw rawLimits
	if err := value.Decode(&raw); err != nil {
		return err
	}

	l.MaxMemoryBytes = raw.MaxMemoryBytes
	l.MaxFileDescriptors = raw.MaxFileDescriptors
	l.MaxProcesses = raw.MaxProcesses
	l.MaxNetworkConnections = raw.MaxNetworkConnections
	if raw.MaxCPUTime != "" {
		duration, err := time.ParseDuration(raw.MaxCPUTime)
		if err != nil {
			return fmt.Errorf("invalid max_cpu_time %q: %w", raw.MaxCPUTime, err)
		}
		l.MaxCPUTime = duration
	}
	return nil
}

// DefaultLimits returns the standard-tier resource limits.
func DefaultLimits() ResourceLimits {
	return ResourceLimits{
		MaxMemoryBytes:        512 << 20,
		MaxCPUTime:            60 * time.Second,
		MaxFileDescriptors:    100,
		MaxProcesses:          10,
		MaxNetworkConnections: 20,
	}
}

// Config is the sandbox policy owned by exactly one pid: its
// capability set, its ordered network rules, and its allowed/blocked
// path lists. A Config registered with a Manager must be treated as
// immutable by the caller; the Manager publishes replacement copies
// on every mutation so in-flight checks read a consistent snapshot.
type Config struct {
	// Pid is the process identifier this sandbox belongs to.
	Pid uint32

	// Tier records which preset seeded this config.
	Tier Tier

	// Capabilities is the set of held grants, unique by kind+scope.
	Capabilities map[Capability]struct{}

	// NetworkRules is evaluated in order by EvaluateRules; block
	// rules take precedence regardless of position.
	NetworkRules []NetworkRule

	// AllowedPaths are canonical path prefixes the process may touch.
	// An empty list denies all paths.
	AllowedPaths []string

	// BlockedPaths are canonical path prefixes that always deny,
	// overriding AllowedPaths.
	BlockedPaths []string

	// Environment variables injected when the process is launched.
	// Opaque to this package.
	Environment map[string]string

	// Limits bounds resource consumption.
	Limits ResourceLimits
}

// Minimal returns the most restrictive sandbox config: no
// capabilities, no network rules, system directories blocked.
func Minimal(pid uint32) *Config {
	return &Config{
		Pid:          pid,
		Tier:         TierMinimal,
		Capabilities: map[Capability]struct{}{},
		BlockedPaths: []string{"/etc", "/bin", "/sbin", "/usr/bin", "/usr/sbin"},
		Limits: ResourceLimits{
			MaxMemoryBytes:     128 << 20,
			MaxCPUTime:         30 * time.Second,
			MaxFileDescriptors: 20,
			MaxProcesses:       1,
		},
	}
}

// Standard returns a balanced sandbox config: unrestricted read/write
// capabilities constrained by temp-directory path lists, no network.
func Standard(pid uint32) *Config {
	return &Config{
		Pid:  pid,
		Tier: TierStandard,
		Capabilities: capabilitySet(
			Capability{Kind: ReadFile},
			Capability{Kind: WriteFile},
			Capability{Kind: SystemInfo},
			Capability{Kind: TimeAccess},
		),
		AllowedPaths: []string{"/tmp", "/var/tmp"},
		BlockedPaths: []string{"/etc/passwd", "/etc/shadow"},
		Limits:       DefaultLimits(),
	}
}

// Privileged returns a permissive sandbox config for trusted
// workloads: full file and process capabilities, unrestricted
// network, root-anchored path access.
func Privileged(pid uint32) *Config {
	return &Config{
		Pid:  pid,
		Tier: TierPrivileged,
		Capabilities: capabilitySet(
			Capability{Kind: ReadFile},
			Capability{Kind: WriteFile},
			Capability{Kind: CreateFile},
			Capability{Kind: DeleteFile},
			Capability{Kind: ListDirectory},
			Capability{Kind: SpawnProcess},
			Capability{Kind: KillProcess},
			Capability{Kind: NetworkAccess},
			Capability{Kind: SystemInfo},
			Capability{Kind: TimeAccess},
			Capability{Kind: SendMessage},
			Capability{Kind: ReceiveMessage},
		),
		NetworkRules: []NetworkRule{{Action: AllowAll}},
		AllowedPaths: []string{"/"},
		Limits: ResourceLimits{
			MaxMemoryBytes:        2 << 30,
			MaxCPUTime:            5 * time.Minute,
			MaxFileDescriptors:    500,
			MaxProcesses:          50,
			MaxNetworkConnections: 100,
		},
	}
}

// ForTier returns the preset config for a tier.
func ForTier(pid uint32, tier Tier) (*Config, error) {
	switch tier {
	case TierMinimal:
		return Minimal(pid), nil
	case TierStandard:
		return Standard(pid), nil
	case TierPrivileged:
		return Privileged(pid), nil
	}
	return nil, fmt.Errorf("unknown sandbox tier %q", tier)
}

// HasCapability reports whether any held capability grants the
// requested one.
func (c *Config) HasCapability(requested Capability) bool {
	for held := range c.Capabilities {
		if held.Grants(requested) {
			return true
		}
	}
	return false
}

// CanAccessPath decides whether a canonical path is permitted by the
// allowed/blocked path lists. Blocked prefixes win; an empty allowed
// list denies everything (fail-closed).
func (c *Config) CanAccessPath(canonical string) bool {
	for _, blocked := range c.BlockedPaths {
		if isPathPrefix(blocked, canonical) {
			return false
		}
	}
	if len(c.AllowedPaths) == 0 {
		return false
	}
	for _, allowed := range c.AllowedPaths {
		if isPathPrefix(allowed, canonical) {
			return true
		}
	}
	return false
}

// clone returns a deep copy. The Manager mutates only clones, so a
// *Config handed to an in-flight check never changes underneath it.
func (c *Config) clone() *Config {
	copied := &Config{
		Pid:          c.Pid,
		Tier:         c.Tier,
		Capabilities: make(map[Capability]struct{}, len(c.Capabilities)),
		Limits:       c.Limits,
	}
	for capability := range c.Capabilities {
		copied.Capabilities[capability] = struct{}{}
	}
	if c.NetworkRules != nil {
		copied.NetworkRules = append([]NetworkRule(nil), c.NetworkRules...)
	}
	if c.AllowedPaths != nil {
		copied.AllowedPaths = append([]string(nil), c.AllowedPaths...)
	}
	if c.BlockedPaths != nil {
		copied.BlockedPaths = append([]string(nil), c.BlockedPaths...)
	}
	if c.Environment != nil {
		copied.Environment = make(map[string]string, len(c.Environment))
		for key, value := range c.Environment {
			copied.Environment[key] = value
		}
	}
	return copied
}

func capabilitySet(capabilities ...Capability) map[Capability]struct{} {
	set := make(map[Capability]struct{}, len(capabilities))
	for _, capability := range capabilities {
		set[capability] = struct{}{}
	}
	return set
}
