// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for driverfleet packages.
//
// [RequireReceive] and [RequireClosed] wrap the select-with-timeout
// safety valve so a broken test fails instead of hanging. [WaitFor]
// polls a condition for state that is only observable by looking (the
// server registry filling up as agents connect). [SocketDir] returns a
// short directory for Unix sockets, whose paths are limited to 108
// bytes. These helpers are the only place tests use wall-clock
// timeouts; everything else uses lib/clock.
//
// Helpers call t.Fatalf on failure rather than returning errors.
package testutil
