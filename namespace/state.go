// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package namespace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/warden-foundation/warden/lib/codec"
)

// stateVersion guards the on-disk format. A snapshot with a different
// version is discarded rather than misinterpreted.
const stateVersion = 1

// snapshot is the on-disk record of active namespaces. The manager
// rewrites it after every create and destroy so that a restart can
// find namespaces whose owning processes died while it was down.
type snapshot struct {
	Version    int       `cbor:"version"`
	Platform   Platform  `cbor:"platform"`
	WrittenAt  time.Time `cbor:"written_at"`
	Namespaces []Info    `cbor:"namespaces,omitempty"`
}

// writeState atomically writes the snapshot: encode, write to a
// temporary file in the same directory, fsync, rename into place.
// Readers never see a partial write.
func writeState(path string, snap snapshot) error {
	data, err := codec.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding namespace state: %w", err)
	}

	// A unique temporary name keeps concurrent writers from
	// truncating each other's in-progress file; only complete
	// snapshots are ever renamed into place.
	file, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temporary state file: %w", err)
	}
	temporaryPath := file.Name()
	if err := file.Chmod(0600); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("setting state file mode: %w", err)
	}

	// Write, sync, close. If any step fails, remove the temporary
	// file and report the first error.
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary state file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary state file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary state file: %w", err)
	}

	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming state file into place: %w", err)
	}

	// Sync the parent directory so the rename survives power loss
	// between the rename and the OS flushing directory metadata.
	parentDirectory, err := os.Open(filepath.Dir(path))
	if err == nil {
		parentDirectory.Sync()
		parentDirectory.Close()
	}

	return nil
}

// readState reads and decodes a state snapshot. A missing file is not
// an error: it returns an empty snapshot, since first boot has no
// state yet. A snapshot with an unknown version is rejected.
func readState(path string) (snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return snapshot{Version: stateVersion}, nil
		}
		return snapshot{}, fmt.Errorf("reading namespace state: %w", err)
	}

	var snap snapshot
	if err := codec.Unmarshal(data, &snap); err != nil {
		return snapshot{}, fmt.Errorf("parsing namespace state %s: %w", path, err)
	}
	if snap.Version != stateVersion {
		return snapshot{}, fmt.Errorf("namespace state %s: unsupported version %d", path, snap.Version)
	}
	return snap, nil
}
