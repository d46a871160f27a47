// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"testing"
)

// --- FrameWriter tests ---

func TestFrameWriterSingleFrame(t *testing.T) {
	var buffer bytes.Buffer
	fw := NewFrameWriter(&buffer)

	data := []byte("hello frames")
	n, err := fw.Write(data)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(data) {
		t.Errorf("Write returned %d, want %d", n, len(data))
	}
	if err := fw.Close(); err != nil {
		t.Fatal(err)
	}

	raw := buffer.Bytes()
	if len(raw) != 4+len(data)+4 {
		t.Fatalf("wire bytes = %d, want %d", len(raw), 4+len(data)+4)
	}
	if got := binary.BigEndian.Uint32(raw[0:4]); got != uint32(len(data)) {
		t.Errorf("frame length = %d, want %d", got, len(data))
	}
	if !bytes.Equal(raw[4:4+len(data)], data) {
		t.Error("frame data mismatch")
	}
	if got := binary.BigEndian.Uint32(raw[4+len(data):]); got != 0 {
		t.Errorf("terminator = %d, want 0", got)
	}
}

func TestFrameWriterLargeWriteSplitsFrames(t *testing.T) {
	var buffer bytes.Buffer
	fw := NewFrameWriter(&buffer)

	data := bytes.Repeat([]byte{0xAB}, MaxFrameSize+100)
	if _, err := fw.Write(data); err != nil {
		t.Fatal(err)
	}
	fw.Close()

	raw := buffer.Bytes()
	if got := binary.BigEndian.Uint32(raw[0:4]); got != MaxFrameSize {
		t.Errorf("first frame length = %d, want %d", got, MaxFrameSize)
	}
	second := raw[4+MaxFrameSize:]
	if got := binary.BigEndian.Uint32(second[0:4]); got != 100 {
		t.Errorf("second frame length = %d, want 100", got)
	}

	result, err := io.ReadAll(NewFrameReader(bytes.NewReader(raw)))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(result, data) {
		t.Error("round-trip mismatch across frames")
	}
}

func TestFrameWriterWriteAfterClose(t *testing.T) {
	fw := NewFrameWriter(io.Discard)
	fw.Close()
	if _, err := fw.Write([]byte("late")); err == nil {
		t.Fatal("expected error writing after Close")
	}
	if err := fw.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

// --- FrameReader tests ---

func TestFrameReaderSmallReads(t *testing.T) {
	var buffer bytes.Buffer
	fw := NewFrameWriter(&buffer)
	fw.Write([]byte("abc"))
	fw.Write([]byte("defg"))
	fw.Close()

	fr := NewFrameReader(&buffer)
	var result []byte
	one := make([]byte, 1)
	for {
		n, err := fr.Read(one)
		result = append(result, one[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
	}
	if string(result) != "abcdefg" {
		t.Errorf("result = %q, want %q", result, "abcdefg")
	}
}

func TestFrameReaderMissingTerminator(t *testing.T) {
	var buffer bytes.Buffer
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], 5)
	buffer.Write(header[:])
	buffer.WriteString("hello")

	_, err := io.ReadAll(NewFrameReader(&buffer))
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("err = %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestFrameReaderOversizedFrame(t *testing.T) {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], MaxFrameSize+1)

	_, err := NewFrameReader(bytes.NewReader(header[:])).Read(make([]byte, 16))
	if err == nil || !strings.Contains(err.Error(), "exceeds maximum") {
		t.Fatalf("err = %v, want frame size error", err)
	}
}

// --- SizedReader tests ---

func TestSizedReaderStopsAtSize(t *testing.T) {
	sr := NewSizedReader(strings.NewReader("0123456789"), 4)
	result, err := io.ReadAll(sr)
	if err != nil {
		t.Fatal(err)
	}
	if string(result) != "0123" {
		t.Errorf("result = %q, want %q", result, "0123")
	}
	if sr.Remaining() != 0 {
		t.Errorf("Remaining = %d, want 0", sr.Remaining())
	}
}

func TestSizedReaderUnderlyingShort(t *testing.T) {
	sr := NewSizedReader(strings.NewReader("abc"), 10)
	_, err := io.ReadAll(sr)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("err = %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestSizedReaderZeroSize(t *testing.T) {
	n, err := NewSizedReader(strings.NewReader("data"), 0).Read(make([]byte, 4))
	if n != 0 || err != io.EOF {
		t.Errorf("Read = (%d, %v), want (0, EOF)", n, err)
	}
}

// --- Message tests ---

func TestMessageWriteRead(t *testing.T) {
	var buffer bytes.Buffer
	request := FetchRequest{
		Action: "fetch",
		Digest: HashBytes([]byte("payload")),
		Size:   7,
		Accept: []string{"zstd", "lz4"},
	}
	if err := WriteMessage(&buffer, request); err != nil {
		t.Fatal(err)
	}
	// A trailing body must be left unread.
	buffer.WriteString("BODY")

	var decoded FetchRequest
	if err := ReadMessage(&buffer, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Digest != request.Digest || decoded.Size != 7 || decoded.Action != "fetch" {
		t.Errorf("decoded = %+v, want %+v", decoded, request)
	}
	if len(decoded.Accept) != 2 || decoded.Accept[0] != "zstd" {
		t.Errorf("Accept = %v", decoded.Accept)
	}
	if buffer.String() != "BODY" {
		t.Errorf("remaining = %q, want BODY", buffer.String())
	}
}

func TestReadMessageRejectsOversizedHeader(t *testing.T) {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], MaxHeaderSize+1)
	if _, err := ReadRawMessage(bytes.NewReader(header[:])); err == nil {
		t.Fatal("expected error for oversized header")
	}
}

// --- Body tests ---

func TestBodyRoundTrip(t *testing.T) {
	content := bytes.Repeat([]byte("action output line\n"), 20000)

	for _, compression := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		t.Run(compression.String(), func(t *testing.T) {
			var wire bytes.Buffer
			if err := WriteBody(&wire, bytes.NewReader(content), int64(len(content)), compression); err != nil {
				t.Fatal(err)
			}
			if compression != CompressionNone && wire.Len() >= len(content) {
				t.Errorf("compressed body is %d bytes, content is %d", wire.Len(), len(content))
			}

			response := &FetchResponse{Size: int64(len(content)), Compression: compression.String()}
			body, err := BodyReader(&wire, response)
			if err != nil {
				t.Fatal(err)
			}
			defer body.Close()

			result, err := io.ReadAll(body)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(result, content) {
				t.Error("body content mismatch")
			}
		})
	}
}

func TestBodyReaderShortCompressedBody(t *testing.T) {
	content := bytes.Repeat([]byte("x"), 4096)
	var wire bytes.Buffer
	if err := WriteBody(&wire, bytes.NewReader(content), int64(len(content)), CompressionZstd); err != nil {
		t.Fatal(err)
	}

	// Announce more than was sent.
	response := &FetchResponse{Size: int64(len(content)) + 10, Compression: "zstd"}
	body, err := BodyReader(&wire, response)
	if err != nil {
		t.Fatal(err)
	}
	defer body.Close()

	if _, err := io.ReadAll(body); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("err = %v, want io.ErrUnexpectedEOF", err)
	}
}
