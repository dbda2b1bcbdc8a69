// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transfer

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/bureau-foundation/driverfleet/lib/binhash"
	"github.com/bureau-foundation/driverfleet/lib/wire"
)

var (
	// ErrSizeMismatch means the payload did not arrive at exactly the
	// declared size: the stream stalled or closed early, or a chunk
	// overran the declared length.
	ErrSizeMismatch = errors.New("transfer: payload size does not match envelope")

	// ErrHashMismatch means the reassembled payload does not hash to
	// the envelope digest.
	ErrHashMismatch = errors.New("transfer: payload hash does not match envelope")

	// ErrBadAck means the receiver answered the envelope with something
	// other than the ACK token.
	ErrBadAck = errors.New("transfer: receiver did not acknowledge envelope")

	// ErrBadEnvelope means the first frame of a transfer was not a
	// usable envelope.
	ErrBadEnvelope = errors.New("transfer: invalid envelope")

	// ErrPayloadTooLarge means the envelope declares more bytes than
	// the receiver accepts.
	ErrPayloadTooLarge = errors.New("transfer: declared payload exceeds limit")
)

// Envelope is the metadata message that precedes a payload.
type Envelope struct {
	Name string `cbor:"name"`
	Size int64  `cbor:"size"`
	// Hash is the hex BLAKE3-256 digest of the whole payload.
	Hash string `cbor:"hash"`
}

// Options tunes one side of a transfer. Senders use ChunkSize,
// AckTimeout, and Compression; receivers use the remaining fields.
type Options struct {
	ChunkSize   int
	Compression Compression

	AckTimeout      time.Duration
	EnvelopeTimeout time.Duration
	StallTimeout    time.Duration

	// MaxSize caps the declared payload size a receiver will buffer.
	// Zero means no limit.
	MaxSize int64

	VerifyHash bool
}

// DefaultOptions returns the standard tunables.
func DefaultOptions() Options {
	return Options{
		ChunkSize:       8192,
		Compression:     CompressionNone,
		AckTimeout:      5 * time.Second,
		EnvelopeTimeout: 10 * time.Second,
		StallTimeout:    30 * time.Second,
		MaxSize:         1 << 30,
		VerifyHash:      true,
	}
}

// Send transfers data as a payload called name. It returns after the
// last chunk is written; the receiver's verdict, if any, is a separate
// message the caller reads.
func Send(conn *wire.Conn, name string, data []byte, options Options) error {
	chunkSize := options.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultOptions().ChunkSize
	}
	if chunkSize > MaxChunkSize {
		return fmt.Errorf("chunk size %d exceeds the limit of %d", chunkSize, MaxChunkSize)
	}

	envelope := Envelope{
		Name: name,
		Size: int64(len(data)),
		Hash: binhash.FormatDigest(binhash.Sum(data)),
	}
	if err := conn.SendMessage(envelope); err != nil {
		return fmt.Errorf("sending envelope: %w", err)
	}

	frame, err := conn.Next(options.AckTimeout)
	if err != nil {
		return fmt.Errorf("waiting for acknowledgement: %w", err)
	}
	if !wire.IsAck(frame) {
		return fmt.Errorf("%w: got %s frame of %d bytes", ErrBadAck, frame.Type, len(frame.Body))
	}

	for offset := 0; offset < len(data); offset += chunkSize {
		end := min(offset+chunkSize, len(data))
		body, err := encodeChunk(data[offset:end], options.Compression)
		if err != nil {
			return fmt.Errorf("encoding chunk at offset %d: %w", offset, err)
		}
		if err := conn.Send(wire.Frame{Type: wire.FrameChunk, Body: body}); err != nil {
			return fmt.Errorf("sending chunk at offset %d: %w", offset, err)
		}
	}
	return nil
}

// Receive reads an envelope, acknowledges it, and collects exactly the
// declared number of payload bytes. The envelope is returned even when
// the payload fails so callers can name the file in their report.
func Receive(conn *wire.Conn, options Options) (Envelope, []byte, error) {
	frame, err := conn.Next(options.EnvelopeTimeout)
	if err != nil {
		return Envelope{}, nil, fmt.Errorf("waiting for envelope: %w", err)
	}
	var envelope Envelope
	if err := wire.DecodeMessage(frame, &envelope); err != nil {
		return Envelope{}, nil, fmt.Errorf("%w: %w", ErrBadEnvelope, err)
	}
	if err := validateEnvelope(envelope, options); err != nil {
		return envelope, nil, err
	}

	if err := conn.SendAck(); err != nil {
		return envelope, nil, fmt.Errorf("acknowledging envelope: %w", err)
	}

	var payload bytes.Buffer
	payload.Grow(int(min(envelope.Size, 64<<20)))
	for int64(payload.Len()) < envelope.Size {
		frame, err := conn.Next(options.StallTimeout)
		if err != nil {
			return envelope, nil, fmt.Errorf("%w: received %d of %d bytes: %w",
				ErrSizeMismatch, payload.Len(), envelope.Size, err)
		}
		if frame.Type != wire.FrameChunk {
			return envelope, nil, fmt.Errorf("unexpected %s frame after %d of %d bytes",
				frame.Type, payload.Len(), envelope.Size)
		}
		chunk, err := decodeChunk(frame.Body, envelope.Size-int64(payload.Len()))
		if err != nil {
			return envelope, nil, fmt.Errorf("decoding chunk at offset %d: %w", payload.Len(), err)
		}
		payload.Write(chunk)
	}

	data := payload.Bytes()
	if options.VerifyHash {
		if err := verifyHash(envelope, data); err != nil {
			return envelope, nil, err
		}
	}
	return envelope, data, nil
}

func validateEnvelope(envelope Envelope, options Options) error {
	if envelope.Name == "" {
		return fmt.Errorf("%w: empty name", ErrBadEnvelope)
	}
	if envelope.Size < 0 {
		return fmt.Errorf("%w: negative size %d", ErrBadEnvelope, envelope.Size)
	}
	if options.MaxSize > 0 && envelope.Size > options.MaxSize {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, envelope.Size, options.MaxSize)
	}
	return nil
}

func verifyHash(envelope Envelope, data []byte) error {
	declared, err := binhash.ParseDigest(envelope.Hash)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrHashMismatch, err)
	}
	if actual := binhash.Sum(data); actual != declared {
		return fmt.Errorf("%w: got %s, envelope says %s", ErrHashMismatch, actual, envelope.Hash)
	}
	return nil
}
