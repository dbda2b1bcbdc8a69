// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// FrameType is the one-byte tag at the start of every frame. The values
// are protocol constants.
type FrameType uint8

const (
	// FrameMessage carries one CBOR-encoded structured message.
	FrameMessage FrameType = 1

	// FrameAck carries the transfer acknowledgement token.
	FrameAck FrameType = 2

	// FrameChunk carries one chunk of a file payload. The body layout
	// belongs to lib/transfer.
	FrameChunk FrameType = 3
)

// String returns the frame type name used in logs.
func (t FrameType) String() string {
	switch t {
	case FrameMessage:
		return "message"
	case FrameAck:
		return "ack"
	case FrameChunk:
		return "chunk"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// headerSize is the type byte plus the 32-bit length.
const headerSize = 5

// MaxFrameSize bounds a single frame body. File chunks are far smaller;
// the limit exists so a corrupt length cannot make a reader allocate
// gigabytes.
const MaxFrameSize = 16 * 1024 * 1024

// ErrFrameTooLarge is returned when a frame header declares a body
// larger than MaxFrameSize. The stream cannot be resynchronized after
// this error.
var ErrFrameTooLarge = errors.New("wire: frame exceeds maximum size")

// Frame is one unit on the wire.
type Frame struct {
	Type FrameType
	Body []byte
}

// WriteFrame writes frame to w as a single Write call.
func WriteFrame(w io.Writer, frame Frame) error {
	if len(frame.Body) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(frame.Body))
	}
	buffer := make([]byte, headerSize+len(frame.Body))
	buffer[0] = byte(frame.Type)
	binary.BigEndian.PutUint32(buffer[1:headerSize], uint32(len(frame.Body)))
	copy(buffer[headerSize:], frame.Body)
	_, err := w.Write(buffer)
	return err
}

// ReadFrame reads one frame from r. It returns io.EOF only when the
// stream ends cleanly between frames; a stream that ends inside a frame
// returns io.ErrUnexpectedEOF. Frames with unknown type tags are
// returned as-is so that callers can skip them.
func ReadFrame(r io.Reader) (Frame, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Frame{}, err
	}

	length := binary.BigEndian.Uint32(header[1:])
	if length > MaxFrameSize {
		return Frame{}, fmt.Errorf("%w: header declares %d bytes", ErrFrameTooLarge, length)
	}

	frame := Frame{Type: FrameType(header[0])}
	if length == 0 {
		return frame, nil
	}
	frame.Body = make([]byte, length)
	if _, err := io.ReadFull(r, frame.Body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Frame{}, err
	}
	return frame, nil
}
