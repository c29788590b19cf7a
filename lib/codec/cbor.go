// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides switchboard's standard CBOR encoding
// configuration.
//
// The pipeline uses two serialization formats with a clear boundary:
//
//   - JSON for external interfaces: the upstream agent API, the SSE
//     stream protocol, snapshot HTTP responses, and the debug event
//     log (which is meant to be read by humans).
//   - CBOR for values at rest in the coordination store: session info,
//     messages, part arrays, status, diff, and todo records.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2): sorted
// map keys, smallest integer encoding, no indefinite-length items.
// Same logical data always produces identical bytes, which keeps
// store writes idempotent at the byte level.
//
// Schema types carry `json` struct tags only: fxamacker/cbor v2 reads
// json tags as fallback when cbor tags are absent, so one tag controls
// field naming and omitempty for both formats.
package codec

import (
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// encMode is the CBOR encoder configured with Core Deterministic
// Encoding.
var encMode cbor.EncMode

// decMode is the CBOR decoder configured to accept standard CBOR.
// Unknown fields are silently ignored for forward compatibility.
var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Store keys and schema map fields always use string keys.
		// When the decode target is any (tool inputs, raw event
		// payloads decoded for inspection), the decoder must pick a
		// concrete map type; the CBOR default map[any]any is
		// incompatible with encoding/json and everything downstream
		// that expects map[string]any. Struct field decoding is
		// unaffected.
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

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Encoder is a CBOR stream encoder. Type alias so consumers import
// only lib/codec, not fxamacker/cbor directly.
type Encoder = cbor.Encoder

// Decoder is a CBOR stream decoder. Type alias so consumers import
// only lib/codec, not fxamacker/cbor directly.
type Decoder = cbor.Decoder

// RawMessage is a raw encoded CBOR value, used to delay decoding or
// pass through pre-encoded output.
type RawMessage = cbor.RawMessage

// NewEncoder returns a CBOR encoder that writes to w using the
// standard deterministic configuration.
func NewEncoder(w io.Writer) *Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder returns a CBOR decoder that reads from r using the
// standard decoding configuration.
func NewDecoder(r io.Reader) *Decoder {
	return decMode.NewDecoder(r)
}
