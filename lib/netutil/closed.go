// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil holds small helpers for classifying network errors.
package netutil

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// IsExpectedCloseError reports whether err is an ordinary end of a
// connection: EOF, use of a closed connection, broken pipe, or
// connection reset. A peer that disconnects produces one of these on
// the surviving side, and they are logged as disconnects rather than
// errors.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET || errno == syscall.ECONNABORTED
	}
	return false
}

// IsTimeout reports whether err is a network timeout, as produced by an
// expired read or write deadline or a dial that took too long.
func IsTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
