// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the driverfleet
// server and agent.
//
// Configuration is loaded from a single file specified by either the
// DRIVERFLEET_CONFIG environment variable (via [Load]) or a --config
// flag (via [LoadFile]). There is no automatic file search. Binaries
// started with neither run on [Default], which carries the standard
// constants of the protocol (port 8888, ten-second registration window,
// three-minute install wait).
//
// Files are YAML. Files named *.json or *.jsonc are accepted too: the
// comments and trailing commas are stripped and the result, being
// valid YAML, goes through the same decoder.
//
// Durations are Go duration strings ("5s", "3m"). Path fields expand
// ${HOME} and ${VAR:-default} after loading.
//
// Key exports:
//
//   - [Config] -- master struct with Server, Agent, Transfer sections
//   - [Default] -- the standard configuration
//   - [Load], [LoadFile], [LoadOrDefault] -- the entry points
//   - [Config.Validate] -- reports every invalid field at once
//
// The conversion methods ([Config.TransferOptions],
// [Config.DeployOptions], [Config.RetryPolicy], [Config.Installer])
// turn the string-typed file format into the typed option structs the
// library packages take.
package config
