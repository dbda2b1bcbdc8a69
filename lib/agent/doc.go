// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent is the remote side of driverfleet: it connects to the
// server, registers, and services commands for the rest of its life.
//
// [Agent.Run] cycles through four states:
//
//	Disconnected -> Connecting -> Registering -> Servicing -> Disconnected
//
// Any failure returns the agent to Disconnected, where it waits the
// [RetryPolicy] backoff (constant, not exponential) before dialing
// again. With the default policy this repeats until the context is
// cancelled.
//
// While servicing, get_system_info is answered from the descriptor
// given in [Config], and install_driver receives the package through
// lib/transfer, stages it on disk, runs the [Installer], removes the
// staged file, and reports the result. Other commands are ignored.
package agent
