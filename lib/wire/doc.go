// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire implements the framing and message codec of the
// driverfleet session protocol, the byte-level layer shared by the
// server and the remote agent.
//
// Every unit on the stream is a frame:
//
//	+------+----------------+-----------------+
//	| type | length (u32 BE)| body (length B) |
//	+------+----------------+-----------------+
//
// The type tag says what the body is: a structured message
// ([FrameMessage], a CBOR map), the transfer acknowledgement
// ([FrameAck], the literal bytes "ACK"), or a chunk of file payload
// ([FrameChunk]). Receivers never have to guess whether bytes are a
// command or file data.
//
// [DecodeMessage] still applies the structured-record check on top of
// the tag: a frame is a message only if its body is exactly one
// well-formed CBOR map. Anything else yields [ErrNotMessage], which
// callers treat as "ignore this frame" rather than a protocol crash.
//
// [Conn] owns a net.Conn. One goroutine reads frames into a buffered
// channel; [Conn.Next] waits for the next frame with a timeout taken
// from lib/clock. Because the reader always consumes whole frames, a
// timed-out wait never leaves a partial frame on the stream. Writes are
// serialized, so a frame is never interleaved with another.
package wire
