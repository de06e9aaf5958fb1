// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// warden-sandbox inspects and evaluates sandbox policy from the
// command line.
//
// Usage:
//
//	warden-sandbox detect
//	warden-sandbox validate <policy-file-or-dir>
//	warden-sandbox show --policy <path> <name>
//	warden-sandbox check file --policy <path> --name <def> --op <op> <path>
//	warden-sandbox check network --policy <path> --name <def> <host> <port>
//	warden-sandbox netns list [--state <path>]
package main
