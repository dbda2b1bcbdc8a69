// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"os"
	"runtime"

	"github.com/bureau-foundation/driverfleet/lib/binhash"
)

// These variables are set via -ldflags at build time.
var (
	// GitCommit is the short git SHA of the build.
	GitCommit = "unknown"

	// BuildTime is the UTC timestamp of the build.
	BuildTime = "unknown"

	// Version is the semantic version. This is set manually for releases.
	Version = "0.1.0-dev"
)

// Info returns a formatted version string suitable for --version output.
func Info() string {
	return fmt.Sprintf("%s (%s, %s)", Version, GitCommit, BuildTime)
}

// Full returns detailed version information including Go version.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s",
		Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// SelfDigest returns the BLAKE3 digest of the running executable.
func SelfDigest() (binhash.Digest, error) {
	path, err := os.Executable()
	if err != nil {
		return binhash.Digest{}, fmt.Errorf("locating executable: %w", err)
	}
	digest, err := binhash.HashFile(path)
	if err != nil {
		return binhash.Digest{}, fmt.Errorf("hashing executable: %w", err)
	}
	return digest, nil
}
