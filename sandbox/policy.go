// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Policy is a set of named sandbox definitions loaded from YAML
// policy documents. Definitions are templates: Instantiate stamps one
// out for a concrete pid, seeding tier defaults first and then
// applying the definition's additions. Policies are loaded explicitly
// from a file or directory; there is no automatic discovery.
type Policy struct {
	definitions map[string]*Definition
}

// Definition declares one named sandbox shape in a policy document.
// All fields beyond Tier extend (not replace) the tier's preset.
type Definition struct {
	// Tier seeds the defaults. Empty means minimal.
	Tier Tier `yaml:"tier,omitempty"`

	// Capabilities granted in addition to the tier preset.
	Capabilities []Capability `yaml:"capabilities,omitempty"`

	// NetworkRules appended after the tier preset's rules.
	NetworkRules []NetworkRule `yaml:"network_rules,omitempty"`

	// AllowedPaths appended to the tier preset's allowed list.
	AllowedPaths []string `yaml:"allowed_paths,omitempty"`

	// BlockedPaths appended to the tier preset's blocked list.
	BlockedPaths []string `yaml:"blocked_paths,omitempty"`

	// Environment variables merged over the tier preset's.
	Environment map[string]string `yaml:"environment,omitempty"`

	// Limits overrides the tier preset's limits when set.
	Limits *ResourceLimits `yaml:"limits,omitempty"`
}

// policyDocument is the YAML file shape.
type policyDocument struct {
	Sandboxes map[string]*Definition `yaml:"sandboxes"`
}

// ParsePolicy parses a YAML policy document and validates every
// definition.
func ParsePolicy(data []byte) (*Policy, error) {
	var document policyDocument
	if err := yaml.Unmarshal(data, &document); err != nil {
		return nil, fmt.Errorf("parsing policy document: %w", err)
	}

	policy := &Policy{definitions: make(map[string]*Definition)}
	for name, definition := range document.Sandboxes {
		if definition == nil {
			definition = &Definition{}
		}
		if err := definition.validate(); err != nil {
			return nil, fmt.Errorf("sandbox %q: %w", name, err)
		}
		policy.definitions[name] = definition
	}
	return policy, nil
}

// LoadPolicy loads a policy from a single YAML file.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy file: %w", err)
	}
	policy, err := ParsePolicy(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return policy, nil
}

// LoadPolicyDir loads and merges every .yaml/.yml file in a
// directory, in lexical order. Later files override earlier
// definitions of the same name. A missing directory is an empty
// policy, not an error.
func LoadPolicyDir(dir string) (*Policy, error) {
	merged := &Policy{definitions: make(map[string]*Definition)}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return merged, nil
		}
		return nil, fmt.Errorf("reading policy directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		extension := filepath.Ext(entry.Name())
		if extension != ".yaml" && extension != ".yml" {
			continue
		}
		policy, err := LoadPolicy(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		for name, definition := range policy.definitions {
			merged.definitions[name] = definition
		}
	}
	return merged, nil
}

// Names returns the defined sandbox names, sorted.
func (p *Policy) Names() []string {
	names := make([]string, 0, len(p.definitions))
	for name := range p.definitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definition returns the named definition, if present.
func (p *Policy) Definition(name string) (*Definition, bool) {
	definition, ok := p.definitions[name]
	return definition, ok
}

// Instantiate builds a Config for pid from the named definition: tier
// preset first, then the definition's grants, rules, paths,
// environment, and limit overrides.
func (p *Policy) Instantiate(name string, pid uint32) (*Config, error) {
	definition, ok := p.definitions[name]
	if !ok {
		return nil, fmt.Errorf("sandbox definition not found: %s", name)
	}

	tier := definition.Tier
	if tier == "" {
		tier = TierMinimal
	}
	config, err := ForTier(pid, tier)
	if err != nil {
		return nil, err
	}

	for _, capability := range definition.Capabilities {
		config.Capabilities[capability] = struct{}{}
	}
	config.NetworkRules = append(config.NetworkRules, definition.NetworkRules...)
	config.AllowedPaths = append(config.AllowedPaths, definition.AllowedPaths...)
	config.BlockedPaths = append(config.BlockedPaths, definition.BlockedPaths...)
	if len(definition.Environment) > 0 {
		if config.Environment == nil {
			config.Environment = make(map[string]string, len(definition.Environment))
		}
		for key, value := range definition.Environment {
			config.Environment[key] = value
		}
	}
	if definition.Limits != nil {
		config.Limits = *definition.Limits
	}
	return config, nil
}

// validate checks a definition's tier, capability kinds, and rules.
func (d *Definition) validate() error {
	if d.Tier != "" {
		if _, err := ForTier(0, d.Tier); err != nil {
			return err
		}
	}
	for _, capability := range d.Capabilities {
		if !capability.Kind.Valid() {
			return fmt.Errorf("unknown capability kind %q", capability.Kind)
		}
	}
	for i, rule := range d.NetworkRules {
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("network rule %d: %w", i, err)
		}
	}
	return nil
}
