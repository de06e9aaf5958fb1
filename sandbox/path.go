// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// Handle is a canonicalized, immutable snapshot of a filesystem path
// taken at check time. Symlinks and relative segments are resolved
// exactly once, at construction; Path returns the same bytes for the
// handle's whole lifetime even if the underlying filesystem changes.
// The caller must perform the guarded operation through Path rather
// than re-resolving the raw input, or the time-of-check-to-time-of-use
// guarantee is lost.
type Handle struct {
	raw       string
	canonical string
}

// Resolve canonicalizes rawPath into a Handle. If the final component
// does not exist yet, the existing parent directory is canonicalized
// and the leaf re-appended, so create and write checks work for
// not-yet-existing targets. A missing or unresolvable parent chain
// (nonexistent grandparent, symlink loop, permission failure during
// traversal) yields a *PathError.
func Resolve(rawPath string) (Handle, error) {
	if rawPath == "" {
		return Handle{}, &PathError{Path: rawPath, Err: errors.New("empty path")}
	}

	absolute, err := filepath.Abs(rawPath)
	if err != nil {
		return Handle{}, &PathError{Path: rawPath, Err: err}
	}

	canonical, err := filepath.EvalSymlinks(absolute)
	if err == nil {
		return Handle{raw: rawPath, canonical: canonical}, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return Handle{}, &PathError{Path: rawPath, Err: err}
	}

	// The leaf does not exist. Canonicalize the parent and re-append
	// the leaf so create-style operations can still be authorized.
	parent := filepath.Dir(absolute)
	canonicalParent, err := filepath.EvalSymlinks(parent)
	if err != nil {
		return Handle{}, &PathError{Path: rawPath, Err: err}
	}
	canonical = filepath.Join(canonicalParent, filepath.Base(absolute))
	return Handle{raw: rawPath, canonical: canonical}, nil
}

// Path returns the canonical form. Stable for the handle's lifetime.
func (h Handle) Path() string {
	return h.canonical
}

// Raw returns the path as originally presented by the caller, for
// diagnostics only. Never use it for access decisions or I/O.
func (h Handle) Raw() string {
	return h.raw
}

// Exists reports whether the canonical path currently exists. This is
// advisory (the filesystem may change immediately after); access
// decisions never depend on it.
func (h Handle) Exists() bool {
	_, err := os.Lstat(h.canonical)
	return err == nil
}
