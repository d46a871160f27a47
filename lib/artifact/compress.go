// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies the codec applied to a fetch body on the
// wire. Stored blobs are always uncompressed; compression is a
// property of one transfer.
type Compression uint8

const (
	// CompressionNone sends the body raw, sized by the header.
	CompressionNone Compression = 0

	// CompressionLZ4 uses the LZ4 frame format. Fast to decode and the
	// choice for binary content with a modest compression ratio.
	CompressionLZ4 Compression = 1

	// CompressionZstd uses zstd at the default level. Chosen for text
	// like sources, headers and generated code.
	CompressionZstd Compression = 2
)

// String returns the wire name of a compression codec.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", c)
	}
}

// ParseCompression parses a codec from its wire name.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", name)
	}
}

// ParseCompressionList parses a list of wire names, as found in
// configuration and in fetch requests.
func ParseCompressionList(names []string) ([]Compression, error) {
	result := make([]Compression, 0, len(names))
	for _, name := range names {
		compression, err := ParseCompression(name)
		if err != nil {
			return nil, err
		}
		result = append(result, compression)
	}
	return result, nil
}

// probeEncoder is only used for EncodeAll while selecting a codec. An
// Encoder is safe for concurrent EncodeAll calls.
var probeEncoder *zstd.Encoder

func init() {
	var err error
	probeEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		panic("artifact: zstd encoder initialization failed: " + err.Error())
	}
}

// SelectCompression picks the codec for a transfer from a sample of
// the blob's leading bytes and the codecs the receiver accepts. zstd is
// chosen above a 1.5x probe ratio, LZ4 between 1.1x and 1.5x, and no
// compression below that. When the preferred codec is not accepted the
// next cheaper one is tried.
func SelectCompression(sample []byte, accepted []Compression) Compression {
	if len(sample) == 0 || len(accepted) == 0 {
		return CompressionNone
	}

	compressed := probeEncoder.EncodeAll(sample, nil)
	ratio := float64(len(sample)) / float64(len(compressed))

	var preference []Compression
	switch {
	case ratio >= 1.5:
		preference = []Compression{CompressionZstd, CompressionLZ4}
	case ratio >= 1.1:
		preference = []Compression{CompressionLZ4, CompressionZstd}
	default:
		return CompressionNone
	}

	for _, candidate := range preference {
		for _, allowed := range accepted {
			if candidate == allowed {
				return candidate
			}
		}
	}
	return CompressionNone
}

// newCompressWriter wraps w with the encoder for c. Closing the
// returned writer flushes the encoder but does not close w.
func newCompressWriter(w io.Writer, c Compression) (io.WriteCloser, error) {
	switch c {
	case CompressionLZ4:
		return lz4.NewWriter(w), nil
	case CompressionZstd:
		encoder, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}
		return encoder, nil
	default:
		return nil, fmt.Errorf("unsupported stream compression: %s", c)
	}
}

// newDecompressReader wraps r with the decoder for c.
func newDecompressReader(r io.Reader, c Compression) (io.ReadCloser, error) {
	switch c {
	case CompressionLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case CompressionZstd:
		decoder, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("creating zstd decoder: %w", err)
		}
		return decoder.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("unsupported stream compression: %s", c)
	}
}
