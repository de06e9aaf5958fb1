// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package sandbox is the authorization gate consulted before the
// runtime honors a privileged operation on behalf of a hosted
// process. It decides, for a given pid, whether a file operation or a
// network connection is permitted, and composes with package
// namespace for per-process network isolation.
//
// The central type is [Manager]. The syscall dispatcher presents
// (pid, operation, target) to [Manager.CheckFileOperation],
// [Manager.CheckNetworkAccess], or [Manager.CheckCapability]; the
// process lifecycle manager drives [Manager.Create] and
// [Manager.Destroy]; the policy authority mutates permissions through
// [Manager.Grant] and [Manager.Revoke]. Checks are pure in-memory
// decisions safe for concurrent callers; the pid-keyed state lives in
// a sharded map so unrelated processes never contend on one lock.
//
// Permissions are expressed as [Capability] values: a kind (read-file,
// network-access, kill-process, ...) plus an optional scope narrowing
// it to a path prefix or host pattern. A check passes when any held
// capability grants the requested one. Network access layers an
// ordered [NetworkRule] list on top, with block rules overriding
// allow rules regardless of declared order. The two precedence
// philosophies are intentionally different: file access is
// permissive-composition (any allow wins), network access is
// deny-overrides-allow. Do not unify them.
//
// File checks canonicalize the target exactly once via [Resolve],
// which returns an immutable [Handle]. The dispatcher must perform
// the guarded operation through the same handle rather than
// re-resolving the raw path, closing the time-of-check-to-time-of-use
// window against concurrent symlink swaps.
//
// Sandbox policies can be seeded from tier presets (minimal,
// standard, privileged) or declared in YAML policy documents loaded
// with [LoadPolicy]. This package performs no I/O on behalf of the
// sandboxed process and installs no host firewall rules; it only
// answers questions.
package sandbox
