// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/bureau-foundation/driverfleet/lib/clock"
)

// ErrTimeout is returned by Next when no frame arrives in time. The
// connection remains usable.
var ErrTimeout = errors.New("wire: timed out waiting for frame")

// ErrClosed is returned by Next after Close has been called locally. It
// wraps net.ErrClosed so close classification treats it as an ordinary
// disconnect.
var ErrClosed = fmt.Errorf("wire: connection closed: %w", net.ErrClosed)

// writeTimeout bounds a single frame write. A chunk frame is at most a
// few kilobytes, so a peer that cannot drain that much in this time is
// not making progress.
const writeTimeout = 30 * time.Second

// incomingBuffer is how many decoded frames the reader goroutine may
// hold ahead of the consumer.
const incomingBuffer = 8

// Conn is a framed connection. Exactly one goroutine should consume
// frames (via Next or Incoming); any goroutine may Send.
type Conn struct {
	conn  net.Conn
	clock clock.Clock

	writeMu sync.Mutex

	incoming chan Frame
	done     chan struct{}
	once     sync.Once

	// readErr is written by the reader goroutine before it closes
	// incoming, and only read after incoming is observed closed.
	readErr error
}

// NewConn takes ownership of conn and starts its reader goroutine.
// Close the returned Conn to release both.
func NewConn(conn net.Conn, clk clock.Clock) *Conn {
	c := &Conn{
		conn:     conn,
		clock:    clk,
		incoming: make(chan Frame, incomingBuffer),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *Conn) readLoop() {
	defer close(c.incoming)

	reader := bufio.NewReader(c.conn)
	for {
		frame, err := ReadFrame(reader)
		if err != nil {
			select {
			case <-c.done:
				c.readErr = ErrClosed
			default:
				c.readErr = err
			}
			return
		}
		select {
		case c.incoming <- frame:
		case <-c.done:
			c.readErr = ErrClosed
			return
		}
	}
}

// Next returns the next frame, or ErrTimeout if none arrives within
// timeout. Once the stream has ended every call returns the terminal
// read error (io.EOF for a clean close by the peer).
func (c *Conn) Next(timeout time.Duration) (Frame, error) {
	select {
	case frame, ok := <-c.incoming:
		if !ok {
			return Frame{}, c.readErr
		}
		return frame, nil
	case <-c.clock.After(timeout):
		return Frame{}, ErrTimeout
	}
}

// Incoming exposes the frame channel for callers that multiplex frame
// arrival with other events. The channel is closed when the stream
// ends; Err then reports why.
func (c *Conn) Incoming() <-chan Frame {
	return c.incoming
}

// Err returns the terminal read error. It is only meaningful after the
// Incoming channel has been observed closed.
func (c *Conn) Err() error {
	return c.readErr
}

// Send writes one frame.
func (c *Conn) Send(frame Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := WriteFrame(c.conn, frame); err != nil {
		return fmt.Errorf("writing %s frame: %w", frame.Type, err)
	}
	return nil
}

// SendMessage encodes v and writes it as a message frame.
func (c *Conn) SendMessage(v any) error {
	frame, err := EncodeMessage(v)
	if err != nil {
		return err
	}
	return c.Send(frame)
}

// SendAck writes the acknowledgement frame.
func (c *Conn) SendAck() error {
	return c.Send(AckFrame())
}

// RemoteAddr returns the peer's network address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Close closes the underlying connection and stops the reader. It is
// safe to call more than once. Closing is the only way to abort an
// operation blocked on this connection.
func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}
