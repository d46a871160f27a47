// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/bureau-foundation/actionfs/lib/codec"
)

// Client timeouts.
const (
	// clientDialTimeout is the maximum time to wait for a connection
	// to the blob server socket.
	clientDialTimeout = 5 * time.Second

	// clientResponseTimeout bounds the wait for a response header after
	// the request is written. Body reads are bounded by the caller's
	// context instead.
	clientResponseTimeout = 120 * time.Second
)

// Client fetches blobs from a Server over its Unix socket protocol.
// Each call opens a new connection, performs one request/response
// exchange, and closes the connection (for streamed bodies, when the
// caller closes the returned reader).
//
// Requests and response headers are length-prefixed CBOR messages
// rather than a bare CBOR stream because body bytes follow the header
// on the same connection.
type Client struct {
	socketPath string
	accept     []string
}

var _ BlobSource = (*Client)(nil)

// NewClient creates a client for the server listening on socketPath.
// The accept list names the codecs the client will decode; nil
// accepts every supported codec.
func NewClient(socketPath string, accept []Compression) *Client {
	if accept == nil {
		accept = []Compression{CompressionZstd, CompressionLZ4}
	}
	names := make([]string, 0, len(accept))
	for _, compression := range accept {
		if compression != CompressionNone {
			names = append(names, compression.String())
		}
	}
	return &Client{socketPath: socketPath, accept: names}
}

// Status returns the server's identity and supported codecs.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := WriteMessage(conn, map[string]any{"action": "status"}); err != nil {
		return nil, fmt.Errorf("status: writing request: %w", err)
	}
	conn.SetReadDeadline(time.Now().Add(clientResponseTimeout))
	raw, err := ReadRawMessage(conn)
	if err != nil {
		return nil, fmt.Errorf("status: reading response: %w", err)
	}
	if err := checkError(raw); err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	var response StatusResponse
	if err := codec.Unmarshal(raw, &response); err != nil {
		return nil, fmt.Errorf("status: decoding response: %w", err)
	}
	return &response, nil
}

// Fetch downloads the blob with the given digest. The returned reader
// yields exactly size bytes; the caller MUST close it. Cancelling ctx
// closes the connection, which fails any in-progress read.
func (c *Client) Fetch(ctx context.Context, digest Hash, size int64) (io.ReadCloser, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}

	request := FetchRequest{
		Action: "fetch",
		Digest: digest,
		Size:   size,
		Accept: c.accept,
	}
	if err := WriteMessage(conn, request); err != nil {
		conn.Close()
		return nil, fmt.Errorf("writing fetch request: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(clientResponseTimeout))
	raw, err := ReadRawMessage(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("reading fetch response: %w", err)
	}
	if err := checkError(raw); err != nil {
		conn.Close()
		return nil, fmt.Errorf("fetching %s: %w", digest.Short(), err)
	}

	var response FetchResponse
	if err := codec.Unmarshal(raw, &response); err != nil {
		conn.Close()
		return nil, fmt.Errorf("decoding fetch response: %w", err)
	}
	if response.Digest != digest || response.Size != size {
		conn.Close()
		return nil, fmt.Errorf("server answered %s (%d bytes) for %s (%d bytes)",
			response.Digest.Short(), response.Size, digest.Short(), size)
	}

	if response.Data != nil || response.Size == 0 {
		conn.Close()
		if int64(len(response.Data)) != size {
			return nil, fmt.Errorf("inline data is %d bytes, expected %d", len(response.Data), size)
		}
		return io.NopCloser(bytes.NewReader(response.Data)), nil
	}

	// The body is read under the caller's context, not the header
	// deadline.
	conn.SetReadDeadline(time.Time{})
	body, err := BodyReader(conn, &response)
	if err != nil {
		conn.Close()
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	return &connReader{reader: body, body: body, conn: conn, stop: stop}, nil
}

// dial establishes a connection to the blob server socket.
func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{Timeout: clientDialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to blob server at %s: %w", c.socketPath, err)
	}
	return conn, nil
}

// checkError inspects raw CBOR bytes for an ErrorResponse. A missing
// blob is reported as ErrBlobNotFound.
func checkError(raw []byte) error {
	var errResp ErrorResponse
	if err := codec.Unmarshal(raw, &errResp); err != nil {
		// Not an error response; the caller decodes the expected type.
		return nil
	}
	if errResp.Error == "" {
		return nil
	}
	serviceError := &ServiceError{Message: errResp.Error}
	if errResp.NotFound {
		return fmt.Errorf("%w: %w", ErrBlobNotFound, serviceError)
	}
	return serviceError
}

// ServiceError is returned when the blob server responds with an
// error message.
type ServiceError struct {
	Message string
}

func (e *ServiceError) Error() string {
	return e.Message
}

// connReader closes the connection when the caller closes the body.
type connReader struct {
	reader io.Reader
	body   io.Closer
	conn   net.Conn
	stop   func() bool
}

func (cr *connReader) Read(p []byte) (int, error) {
	n, err := cr.reader.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, fmt.Errorf("reading blob body: %w", err)
	}
	return n, err
}

func (cr *connReader) Close() error {
	cr.stop()
	cr.body.Close()
	return cr.conn.Close()
}
