// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source so that timeouts and
// backoff delays can be driven deterministically in tests.
//
// Code that waits (frame reads, reconnect backoff) takes a [Clock]
// rather than calling time.Now or time.After directly. Production code
// passes [Real]; tests pass [Fake] and move time with
// [FakeClock.Advance]:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go conn.Next(5 * time.Second)
//	fake.WaitForTimers(1)         // the read has registered its deadline
//	fake.Advance(5 * time.Second) // the read now returns ErrTimeout
//
// Network deadlines (net.Conn.SetDeadline) are not covered: they are
// enforced by the kernel against wall-clock time.
package clock
