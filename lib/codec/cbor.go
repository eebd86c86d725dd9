// Copyright 2026 The Floppy Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the CBOR configuration used for CBOR event logs.
//
// Matrix events arrive as JSON and the archive's primary formats (HTML,
// JSON lines) keep them that way. A CBOR event log stores the same
// events as a CBOR sequence: one data item per event, Core
// Deterministic Encoding (RFC 8949 §4.2), so the same event always
// produces identical bytes.
//
// [FromJSON] and [ToJSON] convert a single event between the two
// forms. Integers stay integers in both directions: JSON numbers
// without a fraction or exponent become CBOR integers, so timestamps
// and counters round-trip exactly.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"strconv"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// encMode uses Core Deterministic Encoding: sorted map keys, smallest
// integer encoding, no indefinite-length items.
var encMode cbor.EncMode

// decMode decodes maps into map[string]any so that decoded values can
// be handed straight to encoding/json.
var decMode cbor.DecMode

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	// ref types (RoomID, EventID, ContentURI) encode as text strings.
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
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

// Encoder is a CBOR stream encoder.
type Encoder = cbor.Encoder

// Decoder is a CBOR stream decoder.
type Decoder = cbor.Decoder

// NewEncoder returns a deterministic CBOR encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder returns a CBOR decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return decMode.NewDecoder(r)
}

// FromJSON converts one JSON value into its CBOR encoding.
func FromJSON(raw json.RawMessage) ([]byte, error) {
	value, err := decodeJSON(raw)
	if err != nil {
		return nil, err
	}
	return Marshal(value)
}

// ToJSON converts one CBOR data item into JSON.
func ToJSON(data []byte) (json.RawMessage, error) {
	var value any
	if err := Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("codec: decoding CBOR: %w", err)
	}
	return marshalJSON(value)
}

// DecodeJSON reads the next CBOR data item from decoder and returns it
// as JSON. Returns io.EOF at the end of the stream.
func DecodeJSON(decoder *Decoder) (json.RawMessage, error) {
	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}
	return marshalJSON(value)
}

// EncodeJSON writes one JSON value to encoder as a CBOR data item.
func EncodeJSON(encoder *Encoder, raw json.RawMessage) error {
	value, err := decodeJSON(raw)
	if err != nil {
		return err
	}
	return encoder.Encode(value)
}

func decodeJSON(raw json.RawMessage) (any, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, fmt.Errorf("codec: decoding JSON: %w", err)
	}
	return normalizeNumbers(value)
}

// normalizeNumbers replaces json.Number values with int64 (or uint64
// when too large for int64) when they are integral, float64 otherwise.
func normalizeNumbers(value any) (any, error) {
	switch typed := value.(type) {
	case json.Number:
		text := typed.String()
		if !strings.ContainsAny(text, ".eE") {
			if integer, err := strconv.ParseInt(text, 10, 64); err == nil {
				return integer, nil
			}
			if unsigned, err := strconv.ParseUint(text, 10, 64); err == nil {
				return unsigned, nil
			}
		}
		float, err := typed.Float64()
		if err != nil {
			return nil, fmt.Errorf("codec: number %s: %w", text, err)
		}
		return float, nil
	case map[string]any:
		for key, element := range typed {
			normalized, err := normalizeNumbers(element)
			if err != nil {
				return nil, err
			}
			typed[key] = normalized
		}
		return typed, nil
	case []any:
		for index, element := range typed {
			normalized, err := normalizeNumbers(element)
			if err != nil {
				return nil, err
			}
			typed[index] = normalized
		}
		return typed, nil
	default:
		return value, nil
	}
}

func marshalJSON(value any) (json.RawMessage, error) {
	var buffer bytes.Buffer
	encoder := json.NewEncoder(&buffer)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(value); err != nil {
		return nil, fmt.Errorf("codec: encoding JSON: %w", err)
	}
	return json.RawMessage(bytes.TrimRight(buffer.Bytes(), "\n")), nil
}
