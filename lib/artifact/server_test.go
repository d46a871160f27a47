// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau-foundation/actionfs/lib/testutil"
)

// startServer runs a Server over a fresh store and returns the store
// and the socket path. The server stops when the test ends.
func startServer(t *testing.T, compression []Compression) (*DiskStore, string) {
	t.Helper()
	store := newTestStore(t)
	socketPath := filepath.Join(testutil.SocketDir(t), "blobs.sock")

	server, err := NewServer(ServerOptions{
		SocketPath:  socketPath,
		Store:       store,
		Compression: compression,
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		testutil.RequireReceive(t, done, 5*time.Second, "server shutdown")
	})
	testutil.RequireClosed(t, server.Ready(), 5*time.Second, "server ready")
	return store, socketPath
}

func fetchAll(t *testing.T, client *Client, metadata FileMetadata) []byte {
	t.Helper()
	reader, err := client.Fetch(context.Background(), metadata.Digest, metadata.Size)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	defer reader.Close()
	content, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("reading fetched body: %v", err)
	}
	return content
}

func TestServerFetchSmallBlob(t *testing.T) {
	store, socketPath := startServer(t, nil)
	metadata, err := store.PutBytes([]byte("small output"))
	if err != nil {
		t.Fatal(err)
	}

	content := fetchAll(t, NewClient(socketPath, nil), metadata)
	if string(content) != "small output" {
		t.Errorf("content = %q, want %q", content, "small output")
	}
}

func TestServerFetchLargeBlob(t *testing.T) {
	compressible := bytes.Repeat([]byte("package main\n\nfunc main() {}\n"), 10000)
	random := make([]byte, 256*1024)
	rand.Read(random)

	tests := []struct {
		name    string
		content []byte
		server  []Compression
		client  []Compression
	}{
		{"zstd", compressible, nil, nil},
		{"lz4 only", compressible, nil, []Compression{CompressionLZ4}},
		{"server disables compression", compressible, []Compression{}, nil},
		{"incompressible", random, nil, nil},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			store, socketPath := startServer(t, test.server)
			metadata, err := store.PutBytes(test.content)
			if err != nil {
				t.Fatal(err)
			}

			content := fetchAll(t, NewClient(socketPath, test.client), metadata)
			if !bytes.Equal(content, test.content) {
				t.Errorf("fetched %d bytes, content mismatch", len(content))
			}
		})
	}
}

func TestServerFetchEmptyBlob(t *testing.T) {
	store, socketPath := startServer(t, nil)
	metadata, err := store.PutBytes(nil)
	if err != nil {
		t.Fatal(err)
	}
	if content := fetchAll(t, NewClient(socketPath, nil), metadata); len(content) != 0 {
		t.Errorf("content = %q, want empty", content)
	}
}

func TestServerFetchNotFound(t *testing.T) {
	_, socketPath := startServer(t, nil)
	client := NewClient(socketPath, nil)

	_, err := client.Fetch(context.Background(), HashBytes([]byte("absent")), 6)
	if !errors.Is(err, ErrBlobNotFound) {
		t.Fatalf("err = %v, want ErrBlobNotFound", err)
	}
	var serviceError *ServiceError
	if !errors.As(err, &serviceError) {
		t.Errorf("err = %v, want a *ServiceError in the chain", err)
	}
}

func TestServerFetchSizeMismatch(t *testing.T) {
	store, socketPath := startServer(t, nil)
	metadata, _ := store.PutBytes([]byte("sized"))

	_, err := NewClient(socketPath, nil).Fetch(context.Background(), metadata.Digest, metadata.Size+3)
	if err == nil {
		t.Fatal("expected size mismatch error")
	}
	if errors.Is(err, ErrBlobNotFound) {
		t.Errorf("size mismatch reported as not found: %v", err)
	}
}

func TestServerStatus(t *testing.T) {
	_, socketPath := startServer(t, []Compression{CompressionLZ4})

	status, err := NewClient(socketPath, nil).Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if status.Service != "actionfs" {
		t.Errorf("service = %q, want actionfs", status.Service)
	}
	if len(status.Compression) != 1 || status.Compression[0] != "lz4" {
		t.Errorf("compression = %v, want [lz4]", status.Compression)
	}
}

func TestClientDialFailure(t *testing.T) {
	socketPath := filepath.Join(testutil.SocketDir(t), "missing.sock")
	if _, err := NewClient(socketPath, nil).Fetch(context.Background(), Hash{}, 0); err == nil {
		t.Fatal("expected dial error")
	}
}

func TestNewServerValidation(t *testing.T) {
	if _, err := NewServer(ServerOptions{Store: newTestStore(t)}); err == nil {
		t.Error("expected error without socket path")
	}
	if _, err := NewServer(ServerOptions{SocketPath: "/tmp/x.sock"}); err == nil {
		t.Error("expected error without store")
	}
}
