// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package server assembles the deployment server: a TCP listener for
// agents, the session registry, the package store, the deployment
// orchestrator, metrics, and the optional operator socket.
//
// Every accepted connection gets the next client_N identifier from a
// per-server counter and is handed to a [session.Handler]. It becomes
// visible in [Server.Sessions] once it registers.
//
// The operator surface ([Server.Sessions], [Server.Packages],
// [Server.Deploy], [Server.MassDeploy], [Server.Upload], [Server.Exec])
// is available in-process and, when Config.SocketPath is set, over the
// operator socket under the Action* names.
package server
