// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the CBOR encoding configuration shared by every
// driverfleet wire protocol: the agent session protocol (message frames)
// and the operator control socket.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2), so the
// same logical message always produces identical bytes. The decoder
// ignores unknown fields, which keeps older agents and servers
// interoperable when a peer adds fields to a message.
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// [IsMap] reports whether a byte slice is one complete CBOR map with
// nothing trailing it. The wire package uses it to decide whether a
// frame body is a structured message at all before routing on its
// fields.
//
// # Struct Tag Rules
//
// Types that only ever travel on the wire use `cbor` tags. Types that
// also appear in the operator CLI's --json output (SystemInfo, Result,
// package and session listings) use `json` tags; fxamacker/cbor reads
// `json` tags when `cbor` tags are absent, so one tag names the field in
// both formats. Never put both tags on one field.
package codec
