// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux && !darwin

package namespace

import "log/slog"

// nativeBackend returns nil on platforms without a real backend;
// the manager falls back to simulation.
func nativeBackend(logger *slog.Logger) Backend {
	return nil
}
