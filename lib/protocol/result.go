// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import "fmt"

// Status is the outcome class of one deployment attempt.
type Status string

const (
	// StatusSuccess means the installer reported success.
	StatusSuccess Status = "success"

	// StatusFailed means the installer ran and rejected the
	// installation.
	StatusFailed Status = "failed"

	// StatusError means the attempt broke down before the installer
	// could give a verdict: missing package, transfer failure, timeout,
	// disconnect.
	StatusError Status = "error"

	// StatusSkipped marks a mass-deploy entry filtered out as
	// incompatible. Single-target deploys never produce it.
	StatusSkipped Status = "skipped"
)

// Valid reports whether s is one of the four defined statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusError, StatusSkipped:
		return true
	}
	return false
}

// Result is the outcome of one (session, package) deployment. It
// travels over the wire from agent to server unchanged, and from the
// server to the operator.
type Result struct {
	Status  Status `cbor:"status" json:"status"`
	Message string `cbor:"message" json:"message"`
}

// Succeeded returns a success result.
func Succeeded(message string) Result {
	return Result{Status: StatusSuccess, Message: message}
}

// Failed returns a failed result.
func Failed(format string, args ...any) Result {
	return Result{Status: StatusFailed, Message: fmt.Sprintf(format, args...)}
}

// Errored returns an error result.
func Errored(format string, args ...any) Result {
	return Result{Status: StatusError, Message: fmt.Sprintf(format, args...)}
}

// Skipped returns a skipped result.
func Skipped(message string) Result {
	return Result{Status: StatusSkipped, Message: message}
}

// String renders the result for logs and CLI output.
func (r Result) String() string {
	if r.Message == "" {
		return string(r.Status)
	}
	return string(r.Status) + ": " + r.Message
}
