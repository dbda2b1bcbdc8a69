// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"fmt"
	"io"
	"os"
)

// Fatal writes "error: err" to stderr and exits. An error carrying its
// own exit code (an ExitCode() int method) exits with that code and no
// message, since the command has already reported.
func Fatal(err error) {
	os.Exit(report(os.Stderr, err))
}

func report(w io.Writer, err error) int {
	if coder, ok := err.(interface{ ExitCode() int }); ok {
		return coder.ExitCode()
	}
	fmt.Fprintf(w, "error: %v\n", err)
	return 1
}
