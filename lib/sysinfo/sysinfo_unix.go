// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build unix

package sysinfo

import (
	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/driverfleet/lib/protocol"
)

// probeKernel fills OS, OSVersion, and Architecture from uname(2).
func probeKernel() protocol.SystemInfo {
	var utsname unix.Utsname
	if err := unix.Uname(&utsname); err != nil {
		return protocol.SystemInfo{}
	}
	return protocol.SystemInfo{
		OS:           unix.ByteSliceToString(utsname.Sysname[:]),
		OSVersion:    unix.ByteSliceToString(utsname.Version[:]),
		Architecture: unix.ByteSliceToString(utsname.Machine[:]),
	}
}
