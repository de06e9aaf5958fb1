// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"testing"
	"time"

	"github.com/warden-foundation/warden/lib/testutil"
)

const builderPolicy = `
sandboxes:
  builder:
    tier: standard
    capabilities:
      - kind: network-access
        scope: "*.proxy.example.com"
      - kind: spawn-process
    network_rules:
      - action: allow-host
        host: "*.proxy.example.com"
        port: 443
    allowed_paths:
      - /build
    blocked_paths:
      - /build/secrets
    environment:
      BUILD_MODE: release
  jailed:
    tier: minimal
`

func TestParsePolicy(t *testing.T) {
	policy, err := ParsePolicy([]byte(builderPolicy))
	if err != nil {
		t.Fatalf("ParsePolicy: %v", err)
	}

	names := policy.Names()
	if len(names) != 2 || names[0] != "builder" || names[1] != "jailed" {
		t.Errorf("Names() = %v", names)
	}

	definition, ok := policy.Definition("builder")
	if !ok {
		t.Fatal("builder definition missing")
	}
	if definition.Tier != TierStandard {
		t.Errorf("Tier = %q", definition.Tier)
	}
	if len(definition.Capabilities) != 2 {
		t.Errorf("Capabilities = %v", definition.Capabilities)
	}
}

func TestInstantiateExtendsTier(t *testing.T) {
	policy, err := ParsePolicy([]byte(builderPolicy))
	if err != nil {
		t.Fatal(err)
	}

	config, err := policy.Instantiate("builder", 77)
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	if config.Pid != 77 {
		t.Errorf("Pid = %d", config.Pid)
	}

	// Tier preset capabilities survive.
	if !config.HasCapability(Capability{Kind: ReadFile, Scope: "/tmp/x"}) {
		t.Error("standard preset read-file should be present")
	}
	// Definition additions are applied.
	if !config.HasCapability(Capability{Kind: SpawnProcess}) {
		t.Error("definition's spawn-process should be present")
	}
	if !config.HasCapability(Capability{Kind: NetworkAccess, Scope: "api.proxy.example.com"}) {
		t.Error("scoped network capability should cover subdomains")
	}
	if !EvaluateRules(config.NetworkRules, "api.proxy.example.com", 443) {
		t.Error("appended network rule should allow the proxy")
	}
	if EvaluateRules(config.NetworkRules, "elsewhere.example.com", 443) {
		t.Error("hosts outside the rules stay denied")
	}
	// Paths: tier preset plus definition, with the definition's block.
	if !config.CanAccessPath("/tmp/work") {
		t.Error("preset allowed path should survive")
	}
	if !config.CanAccessPath("/build/output") {
		t.Error("definition allowed path should apply")
	}
	if config.CanAccessPath("/build/secrets/token") {
		t.Error("definition blocked path should deny")
	}
	if config.Environment["BUILD_MODE"] != "release" {
		t.Errorf("Environment = %v", config.Environment)
	}
}

func TestInstantiateDefaultsToMinimal(t *testing.T) {
	policy, err := ParsePolicy([]byte(builderPolicy))
	if err != nil {
		t.Fatal(err)
	}
	config, err := policy.Instantiate("jailed", 5)
	if err != nil {
		t.Fatal(err)
	}
	if config.Tier != TierMinimal {
		t.Errorf("Tier = %q", config.Tier)
	}
	if len(config.Capabilities) != 0 {
		t.Errorf("minimal instantiation should hold no capabilities, got %d",
			len(config.Capabilities))
	}
}

func TestInstantiateUnknownName(t *testing.T) {
	policy, err := ParsePolicy([]byte(builderPolicy))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := policy.Instantiate("nonexistent", 1); err == nil {
		t.Error("unknown definition must fail")
	}
}

func TestInstantiateLimitsOverride(t *testing.T) {
	document := `
sandboxes:
  tight:
    tier: standard
    limits:
      max_memory_bytes: 1048576
      max_cpu_time: 5s
      max_file_descriptors: 4
      max_processes: 1
      max_network_connections: 0
`
	policy, err := ParsePolicy([]byte(document))
	if err != nil {
		t.Fatal(err)
	}
	config, err := policy.Instantiate("tight", 1)
	if err != nil {
		t.Fatal(err)
	}
	if config.Limits.MaxMemoryBytes != 1<<20 {
		t.Errorf("MaxMemoryBytes = %d", config.Limits.MaxMemoryBytes)
	}
	if config.Limits.MaxCPUTime != 5*time.Second {
		t.Errorf("MaxCPUTime = %v", config.Limits.MaxCPUTime)
	}
}

func TestParsePolicyRejectsBadDefinitions(t *testing.T) {
	cases := []struct {
		name     string
		document string
	}{
		{"unknown tier", "sandboxes:\n  x:\n    tier: ultra\n"},
		{"unknown capability", "sandboxes:\n  x:\n    capabilities:\n      - kind: fly\n"},
		{"bad rule", "sandboxes:\n  x:\n    network_rules:\n      - action: allow-host\n"},
		{"bad cidr", "sandboxes:\n  x:\n    network_rules:\n      - action: allow-cidr\n        cidr: nope\n"},
		{"not yaml", "sandboxes: ["},
	}
	for _, tc := range cases {
		if _, err := ParsePolicy([]byte(tc.document)); err == nil {
			t.Errorf("%s: expected a parse error", tc.name)
		}
	}
}

func TestLoadPolicyDirMergesLexically(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteFile(t, dir, "10-base.yaml", `
sandboxes:
  worker:
    tier: minimal
`)
	testutil.WriteFile(t, dir, "20-override.yaml", `
sandboxes:
  worker:
    tier: standard
`)
	testutil.WriteFile(t, dir, "ignored.txt", "not a policy")

	policy, err := LoadPolicyDir(dir)
	if err != nil {
		t.Fatalf("LoadPolicyDir: %v", err)
	}
	definition, ok := policy.Definition("worker")
	if !ok {
		t.Fatal("worker definition missing")
	}
	if definition.Tier != TierStandard {
		t.Errorf("later file should win: Tier = %q", definition.Tier)
	}
}

func TestLoadPolicyDirMissingIsEmpty(t *testing.T) {
	policy, err := LoadPolicyDir("/nonexistent/" + testutil.UniqueID("policy"))
	if err != nil {
		t.Fatalf("missing directory should not be an error: %v", err)
	}
	if len(policy.Names()) != 0 {
		t.Errorf("Names() = %v", policy.Names())
	}
}

func TestLoadPolicyFile(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteFile(t, dir, "policy.yaml", builderPolicy)

	policy, err := LoadPolicy(path)
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	if _, ok := policy.Definition("builder"); !ok {
		t.Error("builder definition missing")
	}

	if _, err := LoadPolicy(path + ".missing"); err == nil {
		t.Error("missing file must be an error")
	}
}
