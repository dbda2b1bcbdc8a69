// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"fmt"
	"io"
	"maps"
	"net"
	"time"

	"github.com/bureau-foundation/driverfleet/lib/codec"
)

// dialTimeout covers only the connect phase.
const dialTimeout = 5 * time.Second

const maxResponseSize = 16 * 1024 * 1024

// ServiceError is returned by Call when the server responds with
// ok=false.
type ServiceError struct {
	Action  string
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Action, e.Message)
}

// Client sends requests to an operator socket. Each Call opens a new
// connection, matching the server's one-request-per-connection model.
type Client struct {
	socketPath string
}

// NewClient returns a client for the socket at socketPath.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// Call sends a request and decodes the response data into result.
//
// fields holds the handler's parameters; Call adds "action". Pass nil
// for actions without parameters. A deploy can take minutes, so the
// wait for the response is bounded only by ctx.
//
// On ok=false Call returns a *ServiceError. Connection and encoding
// errors are returned as plain errors.
func (c *Client) Call(ctx context.Context, action string, fields map[string]any, result any) error {
	request := make(map[string]any, len(fields)+1)
	maps.Copy(request, fields)
	request["action"] = action

	response, err := c.send(ctx, request)
	if err != nil {
		return fmt.Errorf("calling %q on %s: %w", action, c.socketPath, err)
	}
	if !response.OK {
		return &ServiceError{Action: action, Message: response.Error}
	}

	if result != nil && len(response.Data) > 0 {
		if err := codec.Unmarshal(response.Data, result); err != nil {
			return fmt.Errorf("decoding response data for %q: %w", action, err)
		}
	}
	return nil
}

func (c *Client) send(ctx context.Context, request any) (*Response, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}

	// Half-close so the server's read side sees EOF cleanly.
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	var response Response
	if err := codec.NewDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&response); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return &response, nil
}
