// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"net/netip"
	"strings"
)

// RuleAction selects the variant of a NetworkRule.
type RuleAction string

// Network rule variants.
const (
	// AllowAll permits any host and port.
	AllowAll RuleAction = "allow-all"
	// AllowHost permits an exact host or wildcard domain, optionally
	// restricted to one port.
	AllowHost RuleAction = "allow-host"
	// AllowCIDR permits any address within a CIDR block.
	AllowCIDR RuleAction = "allow-cidr"
	// BlockHost denies a host regardless of any allow rule.
	BlockHost RuleAction = "block-host"
)

// NetworkRule is one entry in a sandbox's ordered rule list. Host may
// carry a single leading wildcard label ("*.example.com"), which
// matches subdomains but not the apex domain itself. Port 0 matches
// any port. CIDR is set only for AllowCIDR.
type NetworkRule struct {
	Action RuleAction `yaml:"action" json:"action"`
	Host   string     `yaml:"host,omitempty" json:"host,omitempty"`
	Port   uint16     `yaml:"port,omitempty" json:"port,omitempty"`
	CIDR   string     `yaml:"cidr,omitempty" json:"cidr,omitempty"`
}

// Validate checks the rule's shape: the variant is known, host
// variants carry a host, and CIDR blocks parse.
func (r NetworkRule) Validate() error {
	switch r.Action {
	case AllowAll:
		return nil
	case AllowHost, BlockHost:
		if r.Host == "" {
			return fmt.Errorf("%s rule requires a host", r.Action)
		}
		return nil
	case AllowCIDR:
		if _, err := netip.ParsePrefix(r.CIDR); err != nil {
			return fmt.Errorf("invalid CIDR %q: %w", r.CIDR, err)
		}
		return nil
	}
	return fmt.Errorf("unknown rule action %q", r.Action)
}

// EvaluateRules decides whether a connection to host:port is
// permitted by the rule list. Block rules are evaluated first so an
// explicit deny overrides any allow, whatever the declared order;
// remaining rules are scanned in declared order and the first match
// grants access. An empty or non-matching list denies (fail-closed).
func EvaluateRules(rules []NetworkRule, host string, port uint16) bool {
	if len(rules) == 0 {
		return false
	}

	// First pass: explicit blocks win over everything.
	for _, rule := range rules {
		if rule.Action != BlockHost {
			continue
		}
		if hostMatches(host, rule.Host) && portMatches(port, rule.Port) {
			return false
		}
	}

	// Second pass: first matching allow grants access.
	for _, rule := range rules {
		switch rule.Action {
		case AllowAll:
			return true
		case AllowHost:
			if hostMatches(host, rule.Host) && portMatches(port, rule.Port) {
				return true
			}
		case AllowCIDR:
			if cidrContains(rule.CIDR, host) {
				return true
			}
		}
	}

	return false
}

// hostMatches reports whether host matches pattern. "*" matches
// everything. "*.example.com" matches "api.example.com" but not
// "example.com" itself: the apex must be allowed explicitly.
func hostMatches(host, pattern string) bool {
	if pattern == "*" || pattern == host {
		return true
	}
	if suffix, ok := strings.CutPrefix(pattern, "*"); ok {
		// suffix is ".example.com"; require at least one label
		// before it.
		return strings.HasSuffix(host, suffix) && len(host) > len(suffix)
	}
	return false
}

// portMatches reports whether port satisfies the rule's port field
// (0 = any).
func portMatches(port, pattern uint16) bool {
	return pattern == 0 || port == pattern
}

// cidrContains reports whether host is an IP address inside the CIDR
// block. Non-address hosts and malformed blocks never match. IPv4
// addresses are unmapped so "10.0.0.0/8" also covers
// "::ffff:10.1.2.3".
func cidrContains(cidr, host string) bool {
	prefix, err := netip.ParsePrefix(cidr)
	if err != nil {
		return false
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	return prefix.Contains(addr.Unmap())
}
