// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/bureau-foundation/driverfleet/lib/codec"
)

// ErrNotMessage is returned by DecodeMessage for any frame that is not
// a well-formed structured message: the wrong frame type, an empty
// body, or a body that is not exactly one CBOR map.
var ErrNotMessage = errors.New("wire: not a structured message")

// AckToken is the literal acknowledgement sent by a transfer receiver
// once it has accepted the envelope.
var AckToken = []byte("ACK")

// Header holds the discriminator fields shared by every message.
// Commands carry Action; replies carry Status or are identified by
// their content.
type Header struct {
	Action string `cbor:"action,omitempty"`
	Status string `cbor:"status,omitempty"`
}

// EncodeMessage encodes v as a message frame. v must encode as a CBOR
// map (a struct or a map with string keys).
func EncodeMessage(v any) (Frame, error) {
	body, err := codec.Marshal(v)
	if err != nil {
		return Frame{}, fmt.Errorf("encoding message: %w", err)
	}
	if !codec.IsMap(body) {
		return Frame{}, fmt.Errorf("encoding message: %T does not encode as a map", v)
	}
	return Frame{Type: FrameMessage, Body: body}, nil
}

// DecodeMessage decodes a message frame into v. It returns
// ErrNotMessage (possibly wrapped) when the frame is not a structured
// message, and a plain decode error when the record is well-formed but
// its fields do not fit v.
func DecodeMessage(frame Frame, v any) error {
	if frame.Type != FrameMessage {
		return fmt.Errorf("%w: %s frame", ErrNotMessage, frame.Type)
	}
	if !codec.IsMap(frame.Body) {
		return ErrNotMessage
	}
	if err := codec.Unmarshal(frame.Body, v); err != nil {
		return fmt.Errorf("decoding message: %w", err)
	}
	return nil
}

// PeekHeader decodes only the discriminator fields of a message frame.
func PeekHeader(frame Frame) (Header, error) {
	var header Header
	err := DecodeMessage(frame, &header)
	return header, err
}

// AckFrame returns the transfer acknowledgement frame.
func AckFrame() Frame {
	return Frame{Type: FrameAck, Body: AckToken}
}

// IsAck reports whether frame is exactly the acknowledgement token.
func IsAck(frame Frame) bool {
	return frame.Type == FrameAck && bytes.Equal(frame.Body, AckToken)
}
