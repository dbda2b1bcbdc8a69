// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package binhash

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// BLAKE3-256 of the empty input, from the reference test vectors.
const emptyDigest = "af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262"

func TestSumEmpty(t *testing.T) {
	if got := FormatDigest(Sum(nil)); got != emptyDigest {
		t.Errorf("Sum(nil) = %s, want %s", got, emptyDigest)
	}
}

func TestHashFileMatchesSum(t *testing.T) {
	content := make([]byte, 256*1024)
	for i := range content {
		content[i] = byte(i % 251)
	}
	path := filepath.Join(t.TempDir(), "intel_network.inf")
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := HashFile(path)
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}
	if want := Sum(content); got != want {
		t.Errorf("HashFile = %s, want %s", got, want)
	}
}

func TestHashFileNonexistent(t *testing.T) {
	if _, err := HashFile(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("HashFile should fail for a nonexistent file")
	}
}

func TestIncrementalHasherMatchesSum(t *testing.T) {
	content := bytes.Repeat([]byte("driver payload "), 2000)

	hasher := NewHasher()
	for offset := 0; offset < len(content); offset += 8192 {
		end := min(offset+8192, len(content))
		hasher.Write(content[offset:end])
	}
	if got, want := DigestOf(hasher), Sum(content); got != want {
		t.Errorf("incremental digest = %s, want %s", got, want)
	}

	digest, n, err := HashReader(bytes.NewReader(content))
	if err != nil {
		t.Fatalf("HashReader: %v", err)
	}
	if n != int64(len(content)) || digest != Sum(content) {
		t.Errorf("HashReader = %s/%d, want %s/%d", digest, n, Sum(content), len(content))
	}
}

func TestParseDigest(t *testing.T) {
	digest, err := ParseDigest(strings.ToUpper(emptyDigest))
	if err != nil {
		t.Fatalf("ParseDigest: %v", err)
	}
	if digest != Sum(nil) {
		t.Errorf("ParseDigest = %s, want %s", digest, emptyDigest)
	}

	for _, bad := range []string{"", "zz", emptyDigest[:62], emptyDigest + "00"} {
		if _, err := ParseDigest(bad); err == nil {
			t.Errorf("ParseDigest(%q) succeeded, want error", bad)
		}
	}
}
