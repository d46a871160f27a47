// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/bureau-foundation/actionfs/lib/codec"
)

// Transfer protocol constants.
const (
	// MaxFrameSize is the maximum payload of one data frame. Frames
	// carry compressed bodies whose length is unknown until the encoder
	// finishes.
	MaxFrameSize = 1024 * 1024

	// MaxHeaderSize bounds a length-prefixed CBOR header.
	MaxHeaderSize = 64 * 1024

	// SmallBlobThreshold is the largest blob sent inline in the
	// FetchResponse Data field instead of as a body stream.
	SmallBlobThreshold = 32 * 1024
)

// --- Protocol types ---
//
// Wire layout for a fetch:
//
//	[4-byte length][CBOR FetchRequest]
//	[4-byte length][CBOR FetchResponse or ErrorResponse]
//	[body: Size raw bytes | frames of compressed bytes + zero terminator]
//
// No body follows when the response carries Data inline or is an
// error.

// FetchRequest asks for the blob with the given digest.
type FetchRequest struct {
	Action string `cbor:"action" json:"action"`
	Digest Hash   `cbor:"digest" json:"digest"`

	// Size is the size the caller expects. The server rejects the
	// request when the stored blob has a different size, which catches
	// stale metadata before any bytes move.
	Size int64 `cbor:"size" json:"size"`

	// Accept lists the codecs the caller can decode, by wire name.
	Accept []string `cbor:"accept,omitempty" json:"accept,omitempty"`
}

// FetchResponse precedes the body of a successful fetch.
type FetchResponse struct {
	Digest      Hash   `cbor:"digest" json:"digest"`
	Size        int64  `cbor:"size" json:"size"`
	Compression string `cbor:"compression" json:"compression"`

	// Data holds blobs up to SmallBlobThreshold. Nil for larger blobs,
	// whose bytes follow as a body.
	Data []byte `cbor:"data,omitempty" json:"data,omitempty"`
}

// StatusResponse answers the "status" action.
type StatusResponse struct {
	Service     string   `cbor:"service" json:"service"`
	Compression []string `cbor:"compression" json:"compression"`
}

// ErrorResponse is sent instead of a response header when a request
// fails.
type ErrorResponse struct {
	Error    string `cbor:"error" json:"error"`
	NotFound bool   `cbor:"not_found,omitempty" json:"not_found,omitempty"`
}

// --- Frame writer ---

// FrameWriter writes data as length-prefixed frames: a 4-byte
// big-endian length followed by that many bytes. Close writes the
// zero-length terminator. The underlying writer is never closed.
type FrameWriter struct {
	writer io.Writer
	closed bool
}

// NewFrameWriter creates a frame writer that writes to w.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{writer: w}
}

// Write splits p into frames of at most MaxFrameSize bytes.
func (fw *FrameWriter) Write(p []byte) (int, error) {
	if fw.closed {
		return 0, fmt.Errorf("write to closed FrameWriter")
	}

	totalWritten := 0
	for len(p) > 0 {
		frameSize := min(len(p), MaxFrameSize)
		if err := fw.writeFrame(p[:frameSize]); err != nil {
			return totalWritten, err
		}
		totalWritten += frameSize
		p = p[frameSize:]
	}
	return totalWritten, nil
}

// Close writes the zero-length terminator frame.
func (fw *FrameWriter) Close() error {
	if fw.closed {
		return nil
	}
	fw.closed = true

	var header [4]byte
	_, err := fw.writer.Write(header[:])
	return err
}

func (fw *FrameWriter) writeFrame(data []byte) error {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(data)))
	if _, err := fw.writer.Write(header[:]); err != nil {
		return fmt.Errorf("writing frame header: %w", err)
	}
	if _, err := fw.writer.Write(data); err != nil {
		return fmt.Errorf("writing frame data: %w", err)
	}
	return nil
}

// --- Frame reader ---

// FrameReader reads the payload of a frame stream and returns io.EOF
// after the zero-length terminator. A stream that ends without the
// terminator yields io.ErrUnexpectedEOF.
type FrameReader struct {
	reader         io.Reader
	frameRemaining int
	done           bool
}

// NewFrameReader creates a frame reader that reads from r.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{reader: r}
}

// Read fills p from the frame stream, crossing frame boundaries as
// needed.
func (fr *FrameReader) Read(p []byte) (int, error) {
	if fr.done {
		return 0, io.EOF
	}

	totalRead := 0
	for len(p) > 0 {
		if fr.frameRemaining == 0 {
			var header [4]byte
			if _, err := io.ReadFull(fr.reader, header[:]); err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
					fr.done = true
					return totalRead, io.ErrUnexpectedEOF
				}
				return totalRead, err
			}
			fr.frameRemaining = int(binary.BigEndian.Uint32(header[:]))
			if fr.frameRemaining == 0 {
				fr.done = true
				if totalRead > 0 {
					return totalRead, nil
				}
				return 0, io.EOF
			}
			if fr.frameRemaining > MaxFrameSize {
				return totalRead, fmt.Errorf("frame size %d exceeds maximum %d",
					fr.frameRemaining, MaxFrameSize)
			}
		}

		readSize := min(len(p), fr.frameRemaining)
		bytesRead, err := fr.reader.Read(p[:readSize])
		totalRead += bytesRead
		p = p[bytesRead:]
		fr.frameRemaining -= bytesRead

		if err != nil {
			if errors.Is(err, io.EOF) {
				fr.done = true
				return totalRead, io.ErrUnexpectedEOF
			}
			return totalRead, err
		}
		// Return what we have rather than blocking on the next frame
		// header when the caller's buffer is partly filled.
		if fr.frameRemaining == 0 {
			return totalRead, nil
		}
	}
	return totalRead, nil
}

// --- Sized reader ---

// SizedReader reads exactly the given number of bytes and then returns
// io.EOF. A short underlying stream yields io.ErrUnexpectedEOF.
type SizedReader struct {
	reader    io.Reader
	remaining int64
}

// NewSizedReader wraps r to read exactly size bytes.
func NewSizedReader(r io.Reader, size int64) *SizedReader {
	return &SizedReader{reader: r, remaining: size}
}

// Read reads up to len(p) bytes, bounded by the remaining byte count.
func (sr *SizedReader) Read(p []byte) (int, error) {
	if sr.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > sr.remaining {
		p = p[:sr.remaining]
	}

	bytesRead, err := sr.reader.Read(p)
	sr.remaining -= int64(bytesRead)

	if errors.Is(err, io.EOF) && sr.remaining > 0 {
		return bytesRead, io.ErrUnexpectedEOF
	}
	if sr.remaining == 0 && err == nil {
		return bytesRead, nil
	}
	return bytesRead, err
}

// Remaining returns the number of bytes left to read.
func (sr *SizedReader) Remaining() int64 {
	return sr.remaining
}

// --- Message helpers ---
//
// Headers are length-prefixed so that a CBOR stream decoder's
// read-ahead cannot swallow body bytes.

// WriteMessage encodes v as CBOR and writes it with a 4-byte length
// prefix.
func WriteMessage(w io.Writer, v any) error {
	data, err := codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	if len(data) > MaxHeaderSize {
		return fmt.Errorf("message size %d exceeds maximum %d", len(data), MaxHeaderSize)
	}
	var lengthPrefix [4]byte
	binary.BigEndian.PutUint32(lengthPrefix[:], uint32(len(data)))
	if _, err := w.Write(lengthPrefix[:]); err != nil {
		return fmt.Errorf("writing message length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing message body: %w", err)
	}
	return nil
}

// ReadRawMessage reads one length-prefixed message and returns its
// undecoded CBOR bytes.
func ReadRawMessage(r io.Reader) ([]byte, error) {
	var lengthPrefix [4]byte
	if _, err := io.ReadFull(r, lengthPrefix[:]); err != nil {
		return nil, fmt.Errorf("reading message length: %w", err)
	}
	length := binary.BigEndian.Uint32(lengthPrefix[:])
	if length > MaxHeaderSize {
		return nil, fmt.Errorf("message size %d exceeds maximum %d", length, MaxHeaderSize)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("reading message body: %w", err)
	}
	return data, nil
}

// ReadMessage reads one length-prefixed message and decodes it into v.
func ReadMessage(r io.Reader, v any) error {
	data, err := ReadRawMessage(r)
	if err != nil {
		return err
	}
	if err := codec.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding message: %w", err)
	}
	return nil
}

// BodyReader returns the reader for the body that follows response on
// r: a SizedReader for raw bodies, or a FrameReader feeding the
// decompressor for compressed ones. The returned reader yields exactly
// response.Size bytes of uncompressed content or fails.
func BodyReader(r io.Reader, response *FetchResponse) (io.ReadCloser, error) {
	compression, err := ParseCompression(response.Compression)
	if err != nil {
		return nil, err
	}
	if compression == CompressionNone {
		return io.NopCloser(NewSizedReader(r, response.Size)), nil
	}

	decompressor, err := newDecompressReader(NewFrameReader(r), compression)
	if err != nil {
		return nil, err
	}
	return &exactReader{
		reader:   decompressor,
		closer:   decompressor,
		expected: response.Size,
	}, nil
}

// WriteBody writes content as the body for a response with the given
// compression. For CompressionNone exactly size bytes are copied.
func WriteBody(w io.Writer, content io.Reader, size int64, compression Compression) error {
	if compression == CompressionNone {
		written, err := io.CopyN(w, content, size)
		if err != nil {
			return fmt.Errorf("streaming body (%d/%d bytes written): %w", written, size, err)
		}
		return nil
	}

	frames := NewFrameWriter(w)
	compressor, err := newCompressWriter(frames, compression)
	if err != nil {
		return err
	}
	if _, err := io.CopyN(compressor, content, size); err != nil {
		compressor.Close()
		return fmt.Errorf("streaming %s body: %w", compression, err)
	}
	if err := compressor.Close(); err != nil {
		return fmt.Errorf("flushing %s body: %w", compression, err)
	}
	return frames.Close()
}

// exactReader fails with io.ErrUnexpectedEOF when the decompressed
// stream ends short, and with an error when it runs long.
type exactReader struct {
	reader   io.Reader
	closer   io.Closer
	expected int64
	read     int64
}

func (er *exactReader) Read(p []byte) (int, error) {
	n, err := er.reader.Read(p)
	er.read += int64(n)
	if er.read > er.expected {
		return n, fmt.Errorf("body exceeds announced size %d", er.expected)
	}
	if errors.Is(err, io.EOF) && er.read < er.expected {
		return n, io.ErrUnexpectedEOF
	}
	return n, err
}

func (er *exactReader) Close() error {
	return er.closer.Close()
}
