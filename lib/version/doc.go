// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version provides build version information for the
// driverfleet binaries.
//
// Three package-level variables are injected at build time via
// -ldflags -X: [GitCommit], [BuildTime], and [Version]. They default to
// "unknown" / "0.1.0-dev" during development builds and test runs.
//
// [Info] formats them for --version output; [Full] adds the Go version
// and platform. [SelfDigest] hashes the running executable so the
// operator status can tell two server builds with the same version
// string apart.
package version
