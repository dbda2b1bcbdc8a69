// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"errors"
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// encMode encodes with Core Deterministic Encoding: sorted map keys,
// smallest integer encoding, no indefinite-length items.
var encMode cbor.EncMode

// decMode accepts standard CBOR and decodes any-typed maps as
// map[string]any rather than the CBOR default of
// map[interface{}]interface{}. driverfleet never uses non-string keys.
var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v. Trailing bytes after the first
// data item are an error.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// RawMessage is a raw encoded CBOR value, used to delay decoding of
// action-specific fields until the action is known.
type RawMessage = cbor.RawMessage

// Encoder is a CBOR stream encoder. Type alias so consumers import only
// lib/codec, not fxamacker/cbor directly.
type Encoder = cbor.Encoder

// Decoder is a CBOR stream decoder.
type Decoder = cbor.Decoder

// NewEncoder returns a CBOR encoder that writes to w.
func NewEncoder(w io.Writer) *Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder returns a CBOR decoder that reads from r.
func NewDecoder(r io.Reader) *Decoder {
	return decMode.NewDecoder(r)
}

// errNotMap is returned by validateMap for well-formed CBOR whose
// top-level item is something other than a map.
var errNotMap = errors.New("top-level CBOR item is not a map")

// IsMap reports whether data is exactly one well-formed CBOR data item
// whose major type is map (major type 5), with no trailing bytes.
func IsMap(data []byte) bool {
	return validateMap(data) == nil
}

func validateMap(data []byte) error {
	if len(data) == 0 {
		return io.ErrUnexpectedEOF
	}
	// The major type lives in the top three bits of the initial byte.
	if data[0]>>5 != 5 {
		return errNotMap
	}
	// Wellformed checks the whole item and rejects trailing bytes.
	return decMode.Wellformed(data)
}
