// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package deploy

import (
	"strings"

	"github.com/bureau-foundation/driverfleet/lib/protocol"
)

// IsCompatible decides whether a package is offered to a machine during
// mass deploy. It matches substrings of the lowercased package name and
// OS family only:
//
//   - a Windows machine takes packages whose name contains "win"
//   - a Linux machine takes packages whose name contains "linux"
//   - any machine takes packages whose name contains "network"
//
// Versions and architectures are not considered. Mass deploy results
// depend on this exact rule, so it must not be refined here.
func IsCompatible(packageName string, info protocol.SystemInfo) bool {
	name := strings.ToLower(packageName)
	osFamily := strings.ToLower(info.OS)

	switch {
	case strings.Contains(osFamily, "windows") && strings.Contains(name, "win"):
		return true
	case strings.Contains(osFamily, "linux") && strings.Contains(name, "linux"):
		return true
	case strings.Contains(name, "network"):
		return true
	}
	return false
}
