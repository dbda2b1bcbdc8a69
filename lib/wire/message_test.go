// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"errors"
	"reflect"
	"testing"
)

func TestMessageRoundtripReproducesFields(t *testing.T) {
	original := map[string]any{
		"action":      "register_client",
		"client_name": "client_5",
		"system_info": map[string]any{
			"os":           "Linux",
			"os_version":   "#1 SMP PREEMPT_DYNAMIC",
			"architecture": "x86_64",
			"hostname":     "build-07",
			"processor":    "AMD EPYC 7763 64-Core Processor",
		},
	}

	frame, err := EncodeMessage(original)
	if err != nil {
		t.Fatalf("EncodeMessage: %v", err)
	}
	if frame.Type != FrameMessage {
		t.Fatalf("frame type = %s, want message", frame.Type)
	}

	var decoded map[string]any
	if err := DecodeMessage(frame, &decoded); err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if !reflect.DeepEqual(decoded, original) {
		t.Errorf("roundtrip mismatch:\n got %#v\nwant %#v", decoded, original)
	}
}

func TestEncodeMessageRejectsNonRecord(t *testing.T) {
	for _, value := range []any{"text", 42, []string{"a"}} {
		if _, err := EncodeMessage(value); err == nil {
			t.Errorf("EncodeMessage(%#v) succeeded, want error", value)
		}
	}
}

func TestDecodeMessageRejectsNonMessages(t *testing.T) {
	valid, err := EncodeMessage(map[string]string{"action": "get_system_info"})
	if err != nil {
		t.Fatalf("EncodeMessage: %v", err)
	}

	tests := []struct {
		name  string
		frame Frame
	}{
		{"empty body", Frame{Type: FrameMessage}},
		{"chunk frame carrying a record", Frame{Type: FrameChunk, Body: valid.Body}},
		{"ack frame", AckFrame()},
		{"binary payload", Frame{Type: FrameMessage, Body: []byte{0x7F, 0x45, 0x4C, 0x46, 0x02}}},
		{"text that looks like json", Frame{Type: FrameMessage, Body: []byte(`{"action":"x"}`)}},
		{"trailing garbage", Frame{Type: FrameMessage, Body: append(append([]byte{}, valid.Body...), 0x01)}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var decoded map[string]any
			err := DecodeMessage(test.frame, &decoded)
			if !errors.Is(err, ErrNotMessage) {
				t.Errorf("DecodeMessage = %v, want ErrNotMessage", err)
			}
		})
	}
}

func TestPeekHeader(t *testing.T) {
	frame, err := EncodeMessage(struct {
		Action     string `cbor:"action"`
		DriverName string `cbor:"driver_name"`
	}{Action: "install_driver", DriverName: "intel_network.inf"})
	if err != nil {
		t.Fatalf("EncodeMessage: %v", err)
	}

	header, err := PeekHeader(frame)
	if err != nil {
		t.Fatalf("PeekHeader: %v", err)
	}
	if header.Action != "install_driver" || header.Status != "" {
		t.Errorf("header = %+v, want action install_driver and no status", header)
	}
}

func TestIsAck(t *testing.T) {
	if !IsAck(AckFrame()) {
		t.Error("IsAck(AckFrame()) = false")
	}
	if IsAck(Frame{Type: FrameAck, Body: []byte("NAK")}) {
		t.Error("IsAck accepted a different token")
	}
	if IsAck(Frame{Type: FrameChunk, Body: AckToken}) {
		t.Error("IsAck accepted the token in a chunk frame")
	}
}
