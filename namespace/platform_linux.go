// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package namespace

import "log/slog"

// nativeBackend returns this platform's real backend. The manager
// still checks Supported before committing to it.
func nativeBackend(logger *slog.Logger) Backend {
	return NewLinuxBackend(logger)
}
