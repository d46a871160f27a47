// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
)

// Hash is a 32-byte BLAKE3 content digest.
type Hash [32]byte

// contentDomainKey keys every content hash. Changing it invalidates
// every digest recorded in manifests and stores. The bytes are the
// ASCII domain name zero-padded to 32 bytes so the key is readable in
// hex dumps.
var contentDomainKey = [32]byte{
	'b', 'u', 'r', 'e', 'a', 'u', '.', 'a', 'c', 't', 'i', 'o', 'n', 'f', 's', '.',
	'c', 'o', 'n', 't', 'e', 'n', 't', 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// HashBytes returns the content digest of data.
func HashBytes(data []byte) Hash {
	hasher := newHasher()
	hasher.Write(data)
	return sum(hasher)
}

// HashReader streams r through the content hasher and returns the
// digest together with the number of bytes read.
func HashReader(r io.Reader) (Hash, int64, error) {
	hasher := newHasher()
	size, err := io.Copy(hasher, r)
	if err != nil {
		return Hash{}, size, fmt.Errorf("hashing content: %w", err)
	}
	return sum(hasher), size, nil
}

// NewHashWriter returns a writer that hashes everything written to it.
// Call Sum on the result to obtain the digest.
func NewHashWriter() *HashWriter {
	return &HashWriter{hasher: newHasher()}
}

// HashWriter accumulates a content digest. It is used by the fetcher
// to hash bytes while they are copied to disk, avoiding a second pass.
type HashWriter struct {
	hasher *blake3.Hasher
	size   int64
}

// Write implements io.Writer. It never fails.
func (w *HashWriter) Write(p []byte) (int, error) {
	w.hasher.Write(p)
	w.size += int64(len(p))
	return len(p), nil
}

// Sum returns the digest of everything written so far.
func (w *HashWriter) Sum() Hash {
	return sum(w.hasher)
}

// Size returns the number of bytes written so far.
func (w *HashWriter) Size() int64 {
	return w.size
}

// FormatHash returns the hex-encoded string representation of a hash.
// This is the canonical format used in manifests, logs and CLI output.
func FormatHash(hash Hash) string {
	return hex.EncodeToString(hash[:])
}

// ParseHash parses a 64-character hex string into a Hash.
func ParseHash(hexString string) (Hash, error) {
	var hash Hash
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return hash, fmt.Errorf("parsing content hash: %w", err)
	}
	if len(decoded) != len(hash) {
		return hash, fmt.Errorf("content hash is %d bytes, want %d", len(decoded), len(hash))
	}
	copy(hash[:], decoded)
	return hash, nil
}

// String implements fmt.Stringer.
func (h Hash) String() string {
	return FormatHash(h)
}

// Short returns the first 12 hex characters, for log lines.
func (h Hash) Short() string {
	return hex.EncodeToString(h[:6])
}

// IsZero reports whether h is the zero hash (no digest recorded).
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(FormatHash(h)), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

func newHasher() *blake3.Hasher {
	// NewKeyed only fails for keys that are not 32 bytes long.
	hasher, err := blake3.NewKeyed(contentDomainKey[:])
	if err != nil {
		panic("artifact: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	return hasher
}

func sum(hasher *blake3.Hasher) Hash {
	var hash Hash
	copy(hash[:], hasher.Sum(nil))
	return hash
}
