// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides Warden's standard CBOR encoding configuration.
//
// Warden uses two serialization formats with a clear boundary:
//
//   - YAML for operator-facing documents: sandbox policy files and
//     CLI configuration.
//   - CBOR for internal state: the namespace manager's on-disk
//     snapshot that survives restarts and drives leak reaping.
//
// This package provides the shared CBOR encoding and decoding modes so
// that every Warden package encodes identically without duplicating
// configuration. The encoder uses Core Deterministic Encoding (RFC 8949
// §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items. Same logical data always produces identical
// bytes.
//
// For buffer-oriented operations (files):
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations:
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// Types serialized by this package carry `cbor` struct tags; a type
// with a `cbor` tag is only ever serialized as CBOR and never
// marshaled to YAML or JSON.
package codec
