// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers for the driverfleet
// binaries: fatal error reporting before the structured logger exists,
// and the process exit that follows it.
package process
