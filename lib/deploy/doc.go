// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package deploy pushes driver packages to connected agents.
//
// [Orchestrator.DeployToSession] is the single-target path: read the
// package from the store, send install_driver, run the file transfer,
// and wait for the agent's result. Every step runs inside
// [session.Session.Do], so the deployment has the connection to itself.
//
// [Orchestrator.MassDeploy] snapshots the registered sessions, asks each
// one for its live system info, filters with [IsCompatible], and
// deploys to the compatible ones. Each snapshot entry gets exactly one
// [Outcome] in snapshot order.
//
// Neither path returns an error. Every failure becomes a
// protocol.Result with status error, so one agent's trouble never
// aborts another's deployment.
package deploy
