// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package protocol defines the messages exchanged between the
// driverfleet server and its agents.
//
// Every message is a CBOR map carried in a wire message frame. Commands
// carry an "action" field; replies are recognized by a "status" field
// (registration acknowledgements and deployment results) or by their
// content (system info replies). Field names are part of the protocol
// and are shared across implementations, so they never change.
//
// The exchanges are:
//
//	agent  -> server  register_client {system_info, client_name}
//	server -> agent   {status: "registered", client_id}
//	server -> agent   get_system_info
//	agent  -> server  {system_info: {...}}
//	server -> agent   install_driver {driver_name}
//	                  then a lib/transfer exchange
//	agent  -> server  {status, message}
package protocol
