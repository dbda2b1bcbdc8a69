// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package service implements the operator socket: a CBOR
// request-response protocol on a Unix socket.
//
// Each connection carries exactly one request and one response. The
// request is a CBOR map whose "action" field selects a handler
// registered with [SocketServer.Handle]; the remaining fields are the
// handler's parameters. The response is a [Response] envelope:
// {ok: true, data: ...} or {ok: false, error: "..."}.
//
// [Client] is the caller side used by the driverfleet CLI. A failure
// reported by the server comes back as a *[ServiceError]; transport
// failures are plain errors.
//
// Access control is the socket file's permissions. The server creates
// it with mode 0660.
package service
