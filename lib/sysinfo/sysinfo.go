// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sysinfo collects the system descriptor an agent reports to
// the server.
//
// Probe never fails. Fields it cannot determine are left empty, except
// OS which always has a value because the server's compatibility
// filter keys on it.
package sysinfo

import (
	"bufio"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/bureau-foundation/driverfleet/lib/protocol"
)

// Probe describes the local machine.
func Probe() protocol.SystemInfo {
	return probeFrom("/proc")
}

func probeFrom(procRoot string) protocol.SystemInfo {
	info := probeKernel()
	if info.OS == "" {
		info.OS = osFamily(runtime.GOOS)
	}
	if info.Architecture == "" {
		info.Architecture = runtime.GOARCH
	}
	info.Hostname, _ = os.Hostname()
	info.Processor = cpuModel(filepath.Join(procRoot, "cpuinfo"))
	if info.Processor == "" {
		info.Processor = info.Architecture
	}
	return info
}

// osFamily maps a GOOS value to the capitalized family names agents
// have always reported ("Linux", "Windows", "Darwin").
func osFamily(goos string) string {
	switch goos {
	case "linux", "android":
		return "Linux"
	case "windows":
		return "Windows"
	case "darwin", "ios":
		return "Darwin"
	case "freebsd":
		return "FreeBSD"
	case "openbsd":
		return "OpenBSD"
	case "netbsd":
		return "NetBSD"
	}
	if goos == "" {
		return "unknown"
	}
	return strings.ToUpper(goos[:1]) + goos[1:]
}

// cpuModel returns the first "model name" in a /proc/cpuinfo-format
// file, or the empty string.
func cpuModel(path string) string {
	file, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		key, value, found := strings.Cut(scanner.Text(), ":")
		if !found {
			continue
		}
		if strings.TrimSpace(key) == "model name" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
