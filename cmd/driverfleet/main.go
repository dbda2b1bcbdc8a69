// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// driverfleet is the operator CLI. It talks to a running
// driverfleet-server over its operator socket.
package main

import (
	"os"

	"github.com/bureau-foundation/driverfleet/lib/process"
)

func main() {
	if err := root(os.Stdout).Execute(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}
