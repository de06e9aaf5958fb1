// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Kind identifies one category of protectable operation.
type Kind string

// Capability kinds. File kinds take a path-prefix scope, NetworkAccess
// takes a host-pattern scope, BindPort takes a decimal port scope, and
// the rest are unscoped.
const (
	ReadFile      Kind = "read-file"
	WriteFile     Kind = "write-file"
	CreateFile    Kind = "create-file"
	DeleteFile    Kind = "delete-file"
	ListDirectory Kind = "list-directory"

	SpawnProcess Kind = "spawn-process"
	KillProcess  Kind = "kill-process"

	NetworkAccess    Kind = "network-access"
	BindPort         Kind = "bind-port"
	NetworkNamespace Kind = "network-namespace"

	SystemInfo Kind = "system-info"
	TimeAccess Kind = "time-access"

	SendMessage    Kind = "send-message"
	ReceiveMessage Kind = "receive-message"
)

// kindNames enumerates every valid kind for policy validation.
var kindNames = map[Kind]bool{
	ReadFile: true, WriteFile: true, CreateFile: true, DeleteFile: true,
	ListDirectory: true, SpawnProcess: true, KillProcess: true,
	NetworkAccess: true, BindPort: true, NetworkNamespace: true,
	SystemInfo: true, TimeAccess: true, SendMessage: true,
	ReceiveMessage: true,
}

// Valid reports whether k is a known capability kind.
func (k Kind) Valid() bool {
	return kindNames[k]
}

// scoped reports whether the kind carries a meaningful scope.
func (k Kind) scoped() bool {
	switch k {
	case ReadFile, WriteFile, CreateFile, DeleteFile, ListDirectory,
		NetworkAccess, BindPort:
		return true
	}
	return false
}

// Capability is a typed, scoped grant of permission for one category
// of operation. An empty Scope is unrestricted (wildcard). A
// capability is immutable once granted: revocation replaces the
// process's capability set, never a live grant.
type Capability struct {
	Kind  Kind   `yaml:"kind" json:"kind"`
	Scope string `yaml:"scope,omitempty" json:"scope,omitempty"`
}

// String renders the capability for logs and denial messages.
func (c Capability) String() string {
	if c.Scope == "" {
		return string(c.Kind)
	}
	return fmt.Sprintf("%s(%s)", c.Kind, c.Scope)
}

// Grants reports whether holding c permits the requested capability.
// The kinds must match exactly: ReadFile on /tmp never grants
// WriteFile on /tmp. A wildcard (empty) scope grants any scope of the
// same kind. File scopes match component-wise, so /tmp grants
// /tmp/a.txt but not /tmp-private. Network scopes match with the same
// wildcard-domain logic as network rules. BindPort scopes must be
// equal.
func (c Capability) Grants(requested Capability) bool {
	if c.Kind != requested.Kind {
		return false
	}
	if !c.Kind.scoped() {
		return true
	}
	if c.Scope == "" {
		return true
	}
	switch c.Kind {
	case NetworkAccess:
		return hostMatches(requested.Scope, c.Scope)
	case BindPort:
		return c.Scope == requested.Scope
	default:
		return isPathPrefix(c.Scope, requested.Scope)
	}
}

// isPathPrefix reports whether ancestor is a component-wise prefix of
// path. Both are cleaned first; a naive string prefix would let /tmp
// spuriously cover /tmp-private.
func isPathPrefix(ancestor, path string) bool {
	ancestor = filepath.Clean(ancestor)
	path = filepath.Clean(path)
	if ancestor == path {
		return true
	}
	if ancestor == string(filepath.Separator) {
		return strings.HasPrefix(path, ancestor)
	}
	return strings.HasPrefix(path, ancestor+string(filepath.Separator))
}

// FileOperation names a file action presented by the syscall
// dispatcher.
type FileOperation string

// File operations mapped onto capability kinds by Manager checks.
const (
	OpRead   FileOperation = "read"
	OpWrite  FileOperation = "write"
	OpCreate FileOperation = "create"
	OpDelete FileOperation = "delete"
	OpList   FileOperation = "list"
)

// capabilityKind maps a file operation to the capability kind that
// authorizes it.
func (op FileOperation) capabilityKind() (Kind, bool) {
	switch op {
	case OpRead:
		return ReadFile, true
	case OpWrite:
		return WriteFile, true
	case OpCreate:
		return CreateFile, true
	case OpDelete:
		return DeleteFile, true
	case OpList:
		return ListDirectory, true
	}
	return "", false
}
