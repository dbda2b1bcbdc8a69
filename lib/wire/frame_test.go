// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

func TestFrameRoundtrip(t *testing.T) {
	frames := []Frame{
		{Type: FrameMessage, Body: []byte{0xA0}},
		{Type: FrameAck, Body: AckToken},
		{Type: FrameChunk, Body: bytes.Repeat([]byte{0x5A}, 8192)},
		{Type: FrameChunk},
	}

	var buffer bytes.Buffer
	for _, frame := range frames {
		if err := WriteFrame(&buffer, frame); err != nil {
			t.Fatalf("WriteFrame(%s): %v", frame.Type, err)
		}
	}

	for i, want := range frames {
		got, err := ReadFrame(&buffer)
		if err != nil {
			t.Fatalf("ReadFrame %d: %v", i, err)
		}
		if got.Type != want.Type || !bytes.Equal(got.Body, want.Body) {
			t.Errorf("frame %d: got %s/%d bytes, want %s/%d bytes",
				i, got.Type, len(got.Body), want.Type, len(want.Body))
		}
	}

	if _, err := ReadFrame(&buffer); !errors.Is(err, io.EOF) {
		t.Errorf("ReadFrame at end of stream = %v, want io.EOF", err)
	}
}

func TestReadFrameTruncatedBody(t *testing.T) {
	var buffer bytes.Buffer
	if err := WriteFrame(&buffer, Frame{Type: FrameChunk, Body: []byte("0123456789")}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	truncated := buffer.Bytes()[:buffer.Len()-4]

	_, err := ReadFrame(bytes.NewReader(truncated))
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("ReadFrame on truncated body = %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestReadFrameRejectsOversizedHeader(t *testing.T) {
	header := make([]byte, headerSize)
	header[0] = byte(FrameChunk)
	binary.BigEndian.PutUint32(header[1:], MaxFrameSize+1)

	_, err := ReadFrame(bytes.NewReader(header))
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("ReadFrame = %v, want ErrFrameTooLarge", err)
	}
}

func TestWriteFrameRejectsOversizedBody(t *testing.T) {
	err := WriteFrame(io.Discard, Frame{Type: FrameChunk, Body: make([]byte, MaxFrameSize+1)})
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("WriteFrame = %v, want ErrFrameTooLarge", err)
	}
}

func TestUnknownFrameTypePassesThrough(t *testing.T) {
	var buffer bytes.Buffer
	if err := WriteFrame(&buffer, Frame{Type: FrameType(42), Body: []byte("x")}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	frame, err := ReadFrame(&buffer)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if frame.Type != 42 || frame.Type.String() != "unknown(42)" {
		t.Errorf("frame type = %s, want unknown(42)", frame.Type)
	}
}
