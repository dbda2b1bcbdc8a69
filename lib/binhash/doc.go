// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package binhash computes the BLAKE3-256 content digests carried in
// transfer envelopes.
//
// The sender hashes a package once before streaming it; the receiver
// hashes the reassembled payload and compares. Digests travel as
// lowercase hex so they read the same in envelopes, logs, and the
// operator CLI.
//
//   - [Sum] and [HashFile] compute a [Digest]
//   - [NewHasher] hashes incrementally as chunks arrive
//   - [FormatDigest] and [ParseDigest] convert to and from hex
package binhash
