// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remotefs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bureau-foundation/actionfs/lib/artifact"
	"github.com/bureau-foundation/actionfs/lib/testutil"
	"github.com/bureau-foundation/actionfs/lib/vfs"
)

// gatedSource serves fixed content once released. Every call
// announces itself on started (non-blocking, capacity one).
type gatedSource struct {
	content []byte
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func newGatedSource(content []byte) *gatedSource {
	return &gatedSource{
		content: content,
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
}

func (s *gatedSource) Fetch(ctx context.Context, digest artifact.Hash, size int64) (io.ReadCloser, error) {
	s.calls.Add(1)
	select {
	case s.started <- struct{}{}:
	default:
	}
	select {
	case <-s.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return io.NopCloser(bytes.NewReader(s.content)), nil
}

// fixedSource returns content regardless of the digest asked for.
type fixedSource struct {
	content []byte
}

func (s fixedSource) Fetch(ctx context.Context, digest artifact.Hash, size int64) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(s.content)), nil
}

func newFetcher(t *testing.T, options FetcherOptions) *InputFetcher {
	t.Helper()
	fetcher, err := NewInputFetcher(options)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { fetcher.Close() })
	return fetcher
}

func scratchDestination(t *testing.T) (*vfs.LocalFS, vfs.Path) {
	t.Helper()
	local := vfs.NewOSFS()
	return local, local.Path(filepath.Join(t.TempDir(), "out", "bin", "staged"))
}

func assertNoTemporaries(t *testing.T, local *vfs.LocalFS, destination vfs.Path) {
	t.Helper()
	parent, _ := destination.Parent()
	names, err := local.DirectoryEntries(parent)
	if err != nil {
		return
	}
	for _, name := range names {
		if strings.HasSuffix(name, ".fetch") {
			t.Errorf("temporary file %s left behind", name)
		}
	}
}

func TestInputFetcherStagesFromStore(t *testing.T) {
	store, err := artifact.NewDiskStore(filepath.Join(t.TempDir(), "store"))
	if err != nil {
		t.Fatal(err)
	}
	content := bytes.Repeat([]byte("staged content\n"), 1000)
	stored, err := store.PutBytes(content)
	if err != nil {
		t.Fatal(err)
	}
	metadata := artifact.RemoteFile(stored.Digest, stored.Size)

	fetcher := newFetcher(t, FetcherOptions{Source: store})
	local, destination := scratchDestination(t)

	if err := fetcher.Stage(context.Background(), destination, metadata); err != nil {
		t.Fatal(err)
	}
	digest, err := local.Digest(destination)
	if err != nil || digest != metadata.Digest {
		t.Errorf("staged digest = (%s, %v)", digest, err)
	}
	info, _ := local.Stat(destination, false)
	if info.Mode().Perm() != stagedMode {
		t.Errorf("mode = %o, want %o", info.Mode().Perm(), stagedMode)
	}
	assertNoTemporaries(t, local, destination)

	// A second stage finds the content in place.
	if err := fetcher.Stage(context.Background(), destination, metadata); err != nil {
		t.Fatal(err)
	}
	stats := fetcher.Stats()
	if stats.Downloads != 1 || stats.Skipped != 1 || stats.Bytes != metadata.Size {
		t.Errorf("stats = %+v, want 1 download of %d bytes and 1 skip", stats, metadata.Size)
	}
}

func TestInputFetcherSharesConcurrentDownloads(t *testing.T) {
	content := []byte("shared download")
	source := newGatedSource(content)
	fetcher := newFetcher(t, FetcherOptions{Source: source})
	_, destination := scratchDestination(t)
	metadata := artifact.RemoteFile(artifact.HashBytes(content), int64(len(content)))

	const callers = 6
	results := make(chan error, callers)
	for i := 0; i < callers; i++ {
		go func() { results <- fetcher.Stage(context.Background(), destination, metadata) }()
	}

	testutil.RequireReceive(t, source.started, 5*time.Second, "first download started")
	close(source.release)
	for i := 0; i < callers; i++ {
		if err := testutil.RequireReceive(t, results, 5*time.Second, "stage result"); err != nil {
			t.Errorf("Stage: %v", err)
		}
	}
	if calls := source.calls.Load(); calls != 1 {
		t.Errorf("source fetched %d times, want 1", calls)
	}
}

func TestInputFetcherWaiterCancellation(t *testing.T) {
	content := []byte("outlives the first waiter")
	source := newGatedSource(content)
	fetcher := newFetcher(t, FetcherOptions{Source: source})
	local, destination := scratchDestination(t)
	metadata := artifact.RemoteFile(artifact.HashBytes(content), int64(len(content)))

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() { first <- fetcher.Stage(ctx, destination, metadata) }()
	testutil.RequireReceive(t, source.started, 5*time.Second, "download started")

	cancel()
	if err := testutil.RequireReceive(t, first, 5*time.Second, "cancelled waiter"); !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled Stage = %v, want context.Canceled", err)
	}
	if local.Exists(destination) {
		t.Fatal("destination exists before the download finished")
	}

	second := make(chan error, 1)
	go func() { second <- fetcher.Stage(context.Background(), destination, metadata) }()
	close(source.release)
	if err := testutil.RequireReceive(t, second, 5*time.Second, "second waiter"); err != nil {
		t.Fatal(err)
	}
	if calls := source.calls.Load(); calls != 1 {
		t.Errorf("source fetched %d times, want 1", calls)
	}
	if !local.IsFile(destination) {
		t.Error("destination not staged")
	}
}

func TestInputFetcherDigestMismatch(t *testing.T) {
	expected := []byte("expected content")
	tampered := []byte("tampered content")
	metadata := artifact.RemoteFile(artifact.HashBytes(expected), int64(len(expected)))

	fetcher := newFetcher(t, FetcherOptions{Source: fixedSource{content: tampered}})
	local, destination := scratchDestination(t)

	err := fetcher.Stage(context.Background(), destination, metadata)
	if !errors.Is(err, ErrDigestMismatch) {
		t.Fatalf("err = %v, want ErrDigestMismatch", err)
	}
	if local.Exists(destination) {
		t.Error("mismatched content was moved into place")
	}
	assertNoTemporaries(t, local, destination)

	unverified := newFetcher(t, FetcherOptions{Source: fixedSource{content: tampered}, SkipVerify: true})
	if err := unverified.Stage(context.Background(), destination, metadata); err != nil {
		t.Errorf("SkipVerify Stage = %v", err)
	}
}

func TestInputFetcherSizeMismatch(t *testing.T) {
	content := []byte("short")
	metadata := artifact.RemoteFile(artifact.HashBytes(content), 100)

	fetcher := newFetcher(t, FetcherOptions{Source: fixedSource{content: content}, SkipVerify: true})
	local, destination := scratchDestination(t)

	if err := fetcher.Stage(context.Background(), destination, metadata); err == nil {
		t.Fatal("expected size mismatch error")
	}
	if local.Exists(destination) {
		t.Error("short content was moved into place")
	}
}

func TestInputFetcherClose(t *testing.T) {
	source := newGatedSource([]byte("never delivered"))
	fetcher, err := NewInputFetcher(FetcherOptions{Source: source})
	if err != nil {
		t.Fatal(err)
	}
	local, destination := scratchDestination(t)
	metadata := artifact.RemoteFile(artifact.HashBytes(source.content), int64(len(source.content)))

	result := make(chan error, 1)
	go func() { result <- fetcher.Stage(context.Background(), destination, metadata) }()
	testutil.RequireReceive(t, source.started, 5*time.Second, "download started")

	var closeOnce sync.WaitGroup
	closeOnce.Add(1)
	go func() {
		defer closeOnce.Done()
		fetcher.Close()
	}()

	err = testutil.RequireReceive(t, result, 5*time.Second, "stage after close")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("in-flight Stage = %v, want context.Canceled", err)
	}
	closeOnce.Wait()

	if err := fetcher.Stage(context.Background(), destination, metadata); !errors.Is(err, ErrFetcherClosed) {
		t.Errorf("Stage after Close = %v, want ErrFetcherClosed", err)
	}
	if local.Exists(destination) {
		t.Error("closed fetcher staged content")
	}
	assertNoTemporaries(t, local, destination)
}

func TestInputFetcherThroughActionFS(t *testing.T) {
	content := []byte("read through the overlay")
	metadata := artifact.RemoteFile(artifact.HashBytes(content), int64(len(content)))
	fetcher := newFetcher(t, FetcherOptions{Source: fixedSource{content: content}})

	execRoot := t.TempDir()
	actionFS, err := New(Options{
		Local:              vfs.NewOSFS(),
		ExecRoot:           execRoot,
		RelativeOutputPath: "out",
		Inputs: artifact.NewInputMap(map[string]artifact.FileMetadata{
			"out/data.bin": metadata,
		}),
		Fetcher: fetcher,
	})
	if err != nil {
		t.Fatal(err)
	}

	file, err := actionFS.OpenRead(context.Background(), actionFS.ExecRoot().Relative("out/data.bin"))
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()
	read, _ := io.ReadAll(file)
	if !bytes.Equal(read, content) {
		t.Errorf("content = %q", read)
	}
}

func TestNewInputFetcherRequiresSource(t *testing.T) {
	if _, err := NewInputFetcher(FetcherOptions{}); err == nil {
		t.Fatal("expected error without a source")
	}
}
