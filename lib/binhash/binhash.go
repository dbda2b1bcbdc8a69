// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package binhash

import (
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// DigestSize is the length of a BLAKE3-256 digest in bytes.
const DigestSize = 32

// Digest is a BLAKE3-256 digest.
type Digest [DigestSize]byte

// String returns the hex form.
func (d Digest) String() string {
	return FormatDigest(d)
}

// Sum returns the digest of data.
func Sum(data []byte) Digest {
	return Digest(blake3.Sum256(data))
}

// NewHasher returns an incremental hasher. Pass its Sum(nil) output to
// DigestOf.
func NewHasher() hash.Hash {
	return blake3.New()
}

// DigestOf converts the output of a NewHasher hash into a Digest.
func DigestOf(h hash.Hash) Digest {
	var digest Digest
	copy(digest[:], h.Sum(nil))
	return digest
}

// HashReader streams r through the hasher and returns the digest and
// the number of bytes read.
func HashReader(r io.Reader) (Digest, int64, error) {
	hasher := blake3.New()
	n, err := io.Copy(hasher, r)
	if err != nil {
		return Digest{}, n, err
	}
	return DigestOf(hasher), n, nil
}

// HashFile computes the digest of the file at path with constant
// memory.
func HashFile(path string) (Digest, error) {
	file, err := os.Open(path)
	if err != nil {
		return Digest{}, fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer file.Close()

	digest, _, err := HashReader(file)
	if err != nil {
		return Digest{}, fmt.Errorf("hashing %s: %w", path, err)
	}
	return digest, nil
}

// FormatDigest returns the lowercase hex encoding of digest.
func FormatDigest(digest Digest) string {
	return hex.EncodeToString(digest[:])
}

// ParseDigest parses a 64-character hex digest. Upper and lower case
// are both accepted.
func ParseDigest(hexString string) (Digest, error) {
	var digest Digest
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return digest, fmt.Errorf("parsing hash digest: %w", err)
	}
	if len(decoded) != DigestSize {
		return digest, fmt.Errorf("hash digest is %d bytes, want %d", len(decoded), DigestSize)
	}
	copy(digest[:], decoded)
	return digest, nil
}
