// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package session holds the server-side state of connected agents.
//
// A [Registry] maps session identifiers to live [Session] values. Its
// mutex guards only in-memory map and field edits. No method holds it
// across network I/O, so a slow agent never stalls listings or other
// sessions.
//
// A [Handler] owns one accepted connection for its whole life: it waits
// for a register_client message, inserts the Session, services inbound
// messages, and removes the Session when the connection ends. The
// connection belongs to that one goroutine. Anything else that needs
// to talk to the agent (a deployment, an operator custom flow)
// submits a function with [Session.Do] and gets exclusive use of the
// connection while it runs.
package session
