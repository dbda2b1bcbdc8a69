// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the small command framework shared by the driverfleet
// binaries.
//
// A [Command] tree dispatches on the first positional argument, parses
// pflag flag sets lazily, and renders structured help. Unknown commands
// and flags get a "did you mean" suggestion by edit distance.
//
// [NewLogger] builds the slog logger every binary uses: text when
// stderr is a terminal, JSON otherwise. [WriteJSON] is the --json
// output path for operator commands.
package cli
