// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the CBOR encoding configuration shared by the
// action filesystem's internal protocols.
//
// Two serialization formats are used with a clear boundary:
//
//   - JSON (JSONC on input) for human-authored and human-read data:
//     action manifests and CLI output.
//   - CBOR for machine-to-machine data: the content-addressed store's
//     fetch protocol headers.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2): sorted
// map keys, smallest integer encoding, no indefinite-length items. Types
// implementing encoding.TextMarshaler (artifact.Hash) serialize as CBOR
// text strings, so a digest has the same hex form in a manifest, in CLI
// output and on the wire.
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// Protocol types carry `json` struct tags only; fxamacker/cbor reads
// them as a fallback when `cbor` tags are absent.
package codec
