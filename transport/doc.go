// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport carries agent connections between driverfleet
// agents and the server.
//
// The package defines two interfaces: [Listener] accepts inbound agent
// connections on the server and hands each one to a [ConnHandler] on
// its own goroutine, and [Dialer] opens the agent's outbound
// connection. [TCPListener] and [TCPDialer] are the implementations in
// use; tests substitute in-memory pipes through the same interfaces.
//
// The transport moves bytes only. Framing lives in lib/wire and the
// message vocabulary in lib/protocol.
package transport
