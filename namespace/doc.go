// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package namespace creates, queries, and destroys isolated network
// environments for sandboxed processes.
//
// The lifecycle authority is [Manager]. Each namespace belongs to
// exactly one pid at a time and moves through Uncreated → Active →
// Destroyed; destroy is idempotent because process termination may be
// reported from multiple signal paths. Creation and destruction
// perform real OS configuration and are comparatively slow, so they
// are never on the authorization hot path: each namespace has its own
// creation lock, and namespaces for different processes are set up in
// parallel.
//
// Isolation modes:
//
//   - [Full]: loopback only, no egress path exists.
//   - [Private]: a veth pair into a NAT-capable bridge; the process
//     reaches the external network through the host, optionally with
//     port forwards back in.
//   - [Shared]: no isolation; the process uses the host network.
//   - [Bridged]: like Private, but the host-side veth attaches to a
//     shared bridge so namespaces can talk to each other without
//     touching the host.
//
// Platform support is a [Backend] chosen once at construction, never
// per call: true kernel namespaces on Linux (netns registry files,
// veth and bridge devices, nftables NAT), packet-filter anchors on
// macOS, and an in-memory simulation everywhere else (including
// unprivileged test runs). All three present identical semantics and
// return values, so calling code is platform-agnostic.
//
// The manager optionally persists its registry to a CBOR state file.
// A restarted manager reloads it and [Manager.Reap] destroys
// namespaces whose owning process is gone, so a crashed host process
// does not leak OS network objects.
package namespace
