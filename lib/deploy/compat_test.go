// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package deploy

import (
	"testing"

	"github.com/bureau-foundation/driverfleet/lib/protocol"
)

func TestIsCompatible(t *testing.T) {
	tests := []struct {
		pkg  string
		os   string
		want bool
	}{
		{"amd_linux.deb", "Linux", true},
		{"nvidia_windows.exe", "Linux", false},
		{"intel_network.inf", "Windows", true},
		{"nvidia_windows.exe", "Windows", true},
		{"realtek_audio_windows.zip", "Windows", true},
		{"amd_linux.deb", "Windows", false},
		{"intel_network.inf", "unknown", true},
		{"amd_linux.deb", "unknown", false},
		{"AMD_LINUX.DEB", "linux", true},
		{"winmodem.sys", "Microsoft Windows 11", true},
		{"darwin_audio.pkg", "Darwin", false},
		{"intel_network.inf", "", true},
		{"amd_linux.deb", "Server", false},
	}
	for _, test := range tests {
		got := IsCompatible(test.pkg, protocol.SystemInfo{OS: test.os})
		if got != test.want {
			t.Errorf("IsCompatible(%q, {os: %q}) = %v, want %v", test.pkg, test.os, got, test.want)
		}
	}
}
