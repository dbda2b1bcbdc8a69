// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transfer

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/bureau-foundation/driverfleet/lib/wire"
)

// Compression identifies how a chunk body is encoded. The values are
// protocol constants.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZstd Compression = 2
)

// String returns the name used in configuration files.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression parses a configuration name. The empty string means
// none.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression %q (want none, lz4, or zstd)", name)
	}
}

// chunkHeaderSize is the tag byte plus the 32-bit uncompressed length.
const chunkHeaderSize = 5

// MaxChunkSize is the largest chunk size whose worst-case lz4 or zstd
// encoding, plus the chunk header, still fits in one frame.
const MaxChunkSize = (wire.MaxFrameSize - chunkHeaderSize - 64) / 256 * 255

var errIncompressible = errors.New("chunk is incompressible")

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("transfer: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(wire.MaxFrameSize))
	if err != nil {
		panic("transfer: zstd decoder initialization failed: " + err.Error())
	}
}

// encodeChunk builds a chunk frame body. If the requested compression
// does not shrink the data the chunk is sent raw.
func encodeChunk(data []byte, compression Compression) ([]byte, error) {
	payload, tag := data, CompressionNone

	var compressed []byte
	var err error
	switch compression {
	case CompressionNone:
	case CompressionLZ4:
		compressed, err = compressLZ4(data)
	case CompressionZstd:
		compressed, err = compressZstd(data)
	default:
		return nil, fmt.Errorf("unsupported compression %s", compression)
	}
	switch {
	case errors.Is(err, errIncompressible):
	case err != nil:
		return nil, err
	case compressed != nil:
		payload, tag = compressed, compression
	}

	body := make([]byte, chunkHeaderSize+len(payload))
	body[0] = byte(tag)
	binary.BigEndian.PutUint32(body[1:chunkHeaderSize], uint32(len(data)))
	copy(body[chunkHeaderSize:], payload)
	return body, nil
}

// decodeChunk reverses encodeChunk and returns the uncompressed bytes.
// A chunk whose header declares more than limit bytes, or more than
// MaxChunkSize, is rejected before any buffer is allocated for it.
func decodeChunk(body []byte, limit int64) ([]byte, error) {
	if len(body) < chunkHeaderSize {
		return nil, fmt.Errorf("chunk body is %d bytes, shorter than its header", len(body))
	}
	tag := Compression(body[0])
	size := int(binary.BigEndian.Uint32(body[1:chunkHeaderSize]))
	payload := body[chunkHeaderSize:]
	if int64(size) > limit {
		return nil, fmt.Errorf("%w: chunk declares %d bytes, %d remain", ErrSizeMismatch, size, limit)
	}
	if size == 0 || size > MaxChunkSize {
		return nil, fmt.Errorf("chunk declares %d bytes, want 1 to %d", size, MaxChunkSize)
	}

	switch tag {
	case CompressionNone:
		if len(payload) != size {
			return nil, fmt.Errorf("raw chunk holds %d bytes, header says %d", len(payload), size)
		}
		return payload, nil
	case CompressionLZ4:
		destination := make([]byte, size)
		read, err := lz4.UncompressBlock(payload, destination)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if read != size {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, size)
		}
		return destination, nil
	case CompressionZstd:
		var header zstd.Header
		if err := header.Decode(payload); err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if header.HasFCS && header.FrameContentSize != uint64(size) {
			return nil, fmt.Errorf("zstd decompress: frame holds %d bytes, header says %d", header.FrameContentSize, size)
		}
		decoded, err := zstdDecoder.DecodeAll(payload, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(decoded) != size {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(decoded), size)
		}
		return decoded, nil
	default:
		return nil, fmt.Errorf("chunk uses unknown compression %s", tag)
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	destination := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	// CompressBlock reports 0 for incompressible input.
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return destination[:written], nil
}

func compressZstd(data []byte) ([]byte, error) {
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, errIncompressible
	}
	return compressed, nil
}
