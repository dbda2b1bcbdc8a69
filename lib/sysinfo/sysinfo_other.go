// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !unix

package sysinfo

import (
	"runtime"

	"github.com/bureau-foundation/driverfleet/lib/protocol"
)

// probeKernel has no uname on this platform. Architecture uses the
// names Windows itself reports.
func probeKernel() protocol.SystemInfo {
	architecture := runtime.GOARCH
	switch architecture {
	case "amd64":
		architecture = "AMD64"
	case "arm64":
		architecture = "ARM64"
	case "386":
		architecture = "x86"
	}
	return protocol.SystemInfo{
		OS:           osFamily(runtime.GOOS),
		Architecture: architecture,
	}
}
