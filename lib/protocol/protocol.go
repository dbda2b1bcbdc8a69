// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

// Actions.
const (
	ActionRegisterClient = "register_client"
	ActionGetSystemInfo  = "get_system_info"
	ActionInstallDriver  = "install_driver"
)

// StatusRegistered is the status of a successful registration reply.
const StatusRegistered = "registered"

// SystemInfo describes the machine an agent runs on. Every field is
// free-form text reported by the agent; OS is the only one the server
// interprets (see the deploy compatibility filter).
type SystemInfo struct {
	OS           string `cbor:"os" json:"os"`
	OSVersion    string `cbor:"os_version,omitempty" json:"os_version,omitempty"`
	Architecture string `cbor:"architecture,omitempty" json:"architecture,omitempty"`
	Hostname     string `cbor:"hostname,omitempty" json:"hostname,omitempty"`
	Processor    string `cbor:"processor,omitempty" json:"processor,omitempty"`

	// Status is only set in the server's own descriptor.
	Status string `cbor:"status,omitempty" json:"status,omitempty"`
}

// UnknownSystemInfo is what the server assumes about an agent whose
// system info query failed.
var UnknownSystemInfo = SystemInfo{OS: "unknown", Architecture: "unknown"}

// ServerSystemInfo is the static descriptor the server returns when a
// peer asks it for system info.
var ServerSystemInfo = SystemInfo{OS: "Server", Status: "active"}

// RegisterRequest is the first message an agent sends.
type RegisterRequest struct {
	Action     string     `cbor:"action"`
	SystemInfo SystemInfo `cbor:"system_info"`
	ClientName string     `cbor:"client_name"`
}

// RegisterReply acknowledges a registration. Status is
// StatusRegistered on success.
type RegisterReply struct {
	Status   string `cbor:"status"`
	ClientID string `cbor:"client_id,omitempty"`
}

// Command is a server-to-agent command. DriverName is set only for
// install_driver.
type Command struct {
	Action     string `cbor:"action"`
	DriverName string `cbor:"driver_name,omitempty"`
}

// SystemInfoReply answers get_system_info.
type SystemInfoReply struct {
	SystemInfo SystemInfo `cbor:"system_info"`
}
