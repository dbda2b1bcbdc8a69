// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transfer moves one named file payload across a framed
// connection.
//
// The exchange is always the same four steps:
//
//  1. the sender writes an [Envelope] message (name, size, BLAKE3 hash)
//  2. the receiver answers with the literal ACK frame
//  3. the sender streams the payload as chunk frames
//  4. the receiver stops once it holds exactly the declared size
//
// Each chunk body starts with a one-byte compression tag and the
// uncompressed length, so a sender can compress with lz4 or zstd
// per chunk and fall back to raw bytes when compression does not help.
// The receiver never negotiates; it decodes whatever tag arrives.
//
// Failures are not retried. A timeout, short read, or hash mismatch
// aborts the transfer and the caller decides what to report.
package transfer
