// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/bureau-foundation/actionfs/lib/codec"
)

// Server timeouts.
const (
	// serverReadTimeout is how long the server waits for the request
	// header after accepting a connection.
	serverReadTimeout = 30 * time.Second

	// serverWriteTimeout bounds writing the response header. Bodies
	// are bounded by serverBodyTimeout.
	serverWriteTimeout = 10 * time.Second

	// serverBodyTimeout bounds streaming one body.
	serverBodyTimeout = 10 * time.Minute

	// compressionSampleSize is how much of a blob is probed to pick a
	// transfer codec.
	compressionSampleSize = 64 * 1024
)

// Server serves blobs from a DiskStore on a Unix socket. Each
// connection carries one request: "fetch" streams a blob, "status"
// reports the server's codecs.
type Server struct {
	socketPath  string
	store       *DiskStore
	compression []Compression
	logger      *slog.Logger
	ready       chan struct{}

	// activeConnections tracks in-flight transfers. Serve waits for
	// them before returning.
	activeConnections sync.WaitGroup
}

// ServerOptions configures a Server.
type ServerOptions struct {
	SocketPath string
	Store      *DiskStore

	// Compression lists the codecs the server may use. Nil enables
	// zstd and LZ4; an empty non-nil slice disables compression.
	Compression []Compression

	// Logger receives transfer logs. Nil logs errors to stderr.
	Logger *slog.Logger
}

// NewServer creates a server. Call Serve to start accepting.
func NewServer(options ServerOptions) (*Server, error) {
	if options.SocketPath == "" {
		return nil, fmt.Errorf("socket path is required")
	}
	if options.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	compression := options.Compression
	if compression == nil {
		compression = []Compression{CompressionZstd, CompressionLZ4}
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	}
	return &Server{
		socketPath:  options.SocketPath,
		store:       options.Store,
		compression: compression,
		logger:      logger,
		ready:       make(chan struct{}),
	}, nil
}

// Serve accepts connections until ctx is cancelled, then waits for
// active transfers to finish. Any stale socket file at the configured
// path is removed before listening, and the socket file is removed on
// return.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(s.socketPath)
	}()

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("blob server listening", "path", s.socketPath, "store", s.store.Root())
	close(s.ready)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.activeConnections.Wait()
	return nil
}

// Ready is closed once the server is accepting connections.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(serverReadTimeout))
	raw, err := ReadRawMessage(conn)
	if err != nil {
		if !errors.Is(err, io.EOF) {
			s.writeError(conn, fmt.Sprintf("invalid request: %v", err), false)
		}
		return
	}

	var header struct {
		Action string `cbor:"action"`
	}
	if err := codec.Unmarshal(raw, &header); err != nil {
		s.writeError(conn, fmt.Sprintf("invalid request: %v", err), false)
		return
	}

	switch header.Action {
	case "fetch":
		var request FetchRequest
		if err := codec.Unmarshal(raw, &request); err != nil {
			s.writeError(conn, fmt.Sprintf("invalid fetch request: %v", err), false)
			return
		}
		s.handleFetch(ctx, conn, &request)
	case "status":
		s.writeMessage(conn, StatusResponse{
			Service:     "actionfs",
			Compression: compressionNames(s.compression),
		})
	case "":
		s.writeError(conn, "missing required field: action", false)
	default:
		s.writeError(conn, fmt.Sprintf("unknown action %q", header.Action), false)
	}
}

func (s *Server) handleFetch(ctx context.Context, conn net.Conn, request *FetchRequest) {
	file, size, err := s.store.Open(request.Digest)
	if err != nil {
		s.logger.Debug("fetch failed", "digest", request.Digest.Short(), "error", err)
		s.writeError(conn, err.Error(), errors.Is(err, ErrBlobNotFound))
		return
	}
	defer file.Close()

	if size != request.Size {
		s.writeError(conn, fmt.Sprintf("blob %s has size %d, requested %d",
			request.Digest.Short(), size, request.Size), false)
		return
	}

	response := FetchResponse{
		Digest:      request.Digest,
		Size:        size,
		Compression: CompressionNone.String(),
	}

	if size <= SmallBlobThreshold {
		data, err := io.ReadAll(io.LimitReader(file, size+1))
		if err != nil || int64(len(data)) != size {
			s.writeError(conn, fmt.Sprintf("reading blob %s: short read", request.Digest.Short()), false)
			return
		}
		response.Data = data
		s.writeMessage(conn, response)
		return
	}

	compression := s.selectCompression(file, request.Accept)
	response.Compression = compression.String()
	if !s.writeMessage(conn, response) {
		return
	}

	conn.SetWriteDeadline(time.Now().Add(serverBodyTimeout))
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	start := time.Now()
	if err := WriteBody(conn, file, size, compression); err != nil {
		s.logger.Warn("blob transfer failed",
			"digest", request.Digest.Short(),
			"error", err,
		)
		return
	}
	s.logger.Debug("blob transferred",
		"digest", request.Digest.Short(),
		"size", size,
		"compression", compression.String(),
		"duration", time.Since(start),
	)
}

// selectCompression probes the head of the blob and picks a codec the
// client accepts and this server has enabled. The file offset is left
// at zero.
func (s *Server) selectCompression(file *os.File, accept []string) Compression {
	var allowed []Compression
	for _, name := range accept {
		candidate, err := ParseCompression(name)
		if err != nil {
			continue
		}
		for _, enabled := range s.compression {
			if candidate == enabled {
				allowed = append(allowed, candidate)
			}
		}
	}
	if len(allowed) == 0 {
		return CompressionNone
	}

	sample := make([]byte, compressionSampleSize)
	n, err := file.ReadAt(sample, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return CompressionNone
	}
	return SelectCompression(sample[:n], allowed)
}

func (s *Server) writeMessage(conn net.Conn, message any) bool {
	conn.SetWriteDeadline(time.Now().Add(serverWriteTimeout))
	if err := WriteMessage(conn, message); err != nil {
		s.logger.Debug("failed to write response", "error", err)
		return false
	}
	return true
}

func (s *Server) writeError(conn net.Conn, message string, notFound bool) {
	s.writeMessage(conn, ErrorResponse{Error: message, NotFound: notFound})
}

func compressionNames(list []Compression) []string {
	names := make([]string, 0, len(list))
	for _, compression := range list {
		names = append(names, compression.String())
	}
	return names
}
