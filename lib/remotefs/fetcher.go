// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remotefs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/bureau-foundation/actionfs/lib/artifact"
	"github.com/bureau-foundation/actionfs/lib/vfs"
)

// DefaultMaxConcurrentFetches bounds parallel downloads when
// FetcherOptions.MaxConcurrent is zero.
const DefaultMaxConcurrentFetches = 8

// stagedMode is the mode of a staged input: inputs are never modified
// by actions, and the executable bit is kept so staged tools run.
const stagedMode os.FileMode = 0o555

// FetcherOptions configures an InputFetcher.
type FetcherOptions struct {
	// Source provides blob content by digest.
	Source artifact.BlobSource

	// MaxConcurrent bounds downloads in flight across all
	// destinations.
	MaxConcurrent int64

	// SkipVerify disables the digest check of downloaded content.
	// Sizes are always checked.
	SkipVerify bool

	// Logger receives download logs. Nil logs errors to stderr.
	Logger *slog.Logger
}

// FetchStats counts the work an InputFetcher has done.
type FetchStats struct {
	// Downloads is the number of completed downloads.
	Downloads int64

	// Skipped is the number of stages satisfied by content already
	// present at the destination.
	Skipped int64

	// Bytes is the total size of completed downloads.
	Bytes int64
}

// InputFetcher stages remote inputs from a BlobSource. It is safe for
// concurrent use.
//
// Concurrent Stage calls for one destination share a single download.
// A caller whose context ends stops waiting at once, but the shared
// download runs on under the fetcher's own lifetime so that other
// waiters, and later callers, still benefit from it. Close cancels
// in-flight downloads and waits for them to clean up.
//
// Content is written to a temporary file next to the destination and
// renamed into place only after its size and digest match the
// metadata, so the destination never holds partial content.
type InputFetcher struct {
	source  artifact.BlobSource
	limiter *semaphore.Weighted
	group   singleflight.Group
	verify  bool
	logger  *slog.Logger

	lifetime context.Context
	cancel   context.CancelFunc

	mu         sync.Mutex
	closed     bool
	inProgress sync.WaitGroup

	tempCounter atomic.Uint64
	downloads   atomic.Int64
	skipped     atomic.Int64
	bytes       atomic.Int64
}

var _ Fetcher = (*InputFetcher)(nil)

// NewInputFetcher creates a fetcher. Call Close when done.
func NewInputFetcher(options FetcherOptions) (*InputFetcher, error) {
	if options.Source == nil {
		return nil, fmt.Errorf("blob source is required")
	}
	maxConcurrent := options.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentFetches
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	}

	lifetime, cancel := context.WithCancel(context.Background())
	return &InputFetcher{
		source:   options.Source,
		limiter:  semaphore.NewWeighted(maxConcurrent),
		verify:   !options.SkipVerify,
		logger:   logger,
		lifetime: lifetime,
		cancel:   cancel,
	}, nil
}

// Stage implements Fetcher.
func (f *InputFetcher) Stage(ctx context.Context, destination vfs.Path, metadata artifact.FileMetadata) error {
	if f.lifetime.Err() != nil {
		return ErrFetcherClosed
	}

	result := f.group.DoChan(destination.String(), func() (any, error) {
		if !f.begin() {
			return nil, ErrFetcherClosed
		}
		defer f.inProgress.Done()
		return nil, f.download(f.lifetime, destination, metadata)
	})

	select {
	case outcome := <-result:
		return outcome.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns the fetcher's counters.
func (f *InputFetcher) Stats() FetchStats {
	return FetchStats{
		Downloads: f.downloads.Load(),
		Skipped:   f.skipped.Load(),
		Bytes:     f.bytes.Load(),
	}
}

// Close cancels in-flight downloads, waits for them to remove their
// temporary files, and rejects further Stage calls.
func (f *InputFetcher) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()

	f.cancel()
	f.inProgress.Wait()
	return nil
}

// begin registers a download unless the fetcher is closed. Adding to
// the WaitGroup under the mutex keeps it ordered before Close's Wait.
func (f *InputFetcher) begin() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	f.inProgress.Add(1)
	return true
}

func (f *InputFetcher) download(ctx context.Context, destination vfs.Path, metadata artifact.FileMetadata) error {
	fsys := destination.FileSystem()

	if f.alreadyStaged(fsys, destination, metadata) {
		f.skipped.Add(1)
		f.logger.Debug("remote input already staged",
			"path", destination.String(),
			"digest", metadata.Digest.Short(),
		)
		return nil
	}

	if err := f.limiter.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("waiting for download slot: %w", err)
	}
	defer f.limiter.Release(1)

	parent, ok := destination.Parent()
	if !ok {
		return fmt.Errorf("cannot stage to the filesystem root")
	}
	if err := fsys.CreateDirectoryAndParents(parent); err != nil {
		return fmt.Errorf("creating parent directory %s: %w", parent, err)
	}

	temporary := parent.Relative(fmt.Sprintf(".%s.%d.fetch", destination.Base(), f.tempCounter.Add(1)))
	success := false
	defer func() {
		if !success {
			fsys.Delete(temporary)
		}
	}()

	start := time.Now()
	if err := f.writeContent(ctx, fsys, temporary, metadata); err != nil {
		return err
	}
	if err := fsys.Chmod(temporary, stagedMode); err != nil {
		return fmt.Errorf("setting mode on %s: %w", temporary, err)
	}
	if err := fsys.Rename(temporary, destination); err != nil {
		return fmt.Errorf("moving staged content to %s: %w", destination, err)
	}
	success = true

	f.downloads.Add(1)
	f.bytes.Add(metadata.Size)
	f.logger.Debug("staged remote input",
		"path", destination.String(),
		"digest", metadata.Digest.Short(),
		"size", metadata.Size,
		"duration", time.Since(start),
	)
	return nil
}

// writeContent downloads the blob into temporary and checks its size
// and, unless disabled, its digest.
func (f *InputFetcher) writeContent(ctx context.Context, fsys vfs.FileSystem, temporary vfs.Path, metadata artifact.FileMetadata) error {
	reader, err := f.source.Fetch(ctx, metadata.Digest, metadata.Size)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", metadata.Digest.Short(), err)
	}
	defer reader.Close()

	file, err := fsys.OpenWrite(temporary, false)
	if err != nil {
		return fmt.Errorf("creating %s: %w", temporary, err)
	}

	hasher := artifact.NewHashWriter()
	written, copyErr := io.Copy(io.MultiWriter(file, hasher), &contextReader{ctx: ctx, reader: reader})
	closeErr := file.Close()
	if copyErr != nil {
		return fmt.Errorf("downloading %s: %w", metadata.Digest.Short(), copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("closing %s: %w", temporary, closeErr)
	}

	if written != metadata.Size {
		return fmt.Errorf("downloaded %d bytes of %s, expected %d", written, metadata.Digest.Short(), metadata.Size)
	}
	if f.verify && hasher.Sum() != metadata.Digest {
		return fmt.Errorf("%w: expected %s, downloaded content hashes to %s",
			ErrDigestMismatch, metadata.Digest.Short(), hasher.Sum().Short())
	}
	return nil
}

// alreadyStaged reports whether destination already holds the
// expected content.
func (f *InputFetcher) alreadyStaged(fsys vfs.FileSystem, destination vfs.Path, metadata artifact.FileMetadata) bool {
	info, err := fsys.StatIfFound(destination, false)
	if err != nil || info == nil || !info.Mode().IsRegular() || info.Size() != metadata.Size {
		return false
	}
	digest, err := fsys.Digest(destination)
	if err != nil {
		return false
	}
	return digest == metadata.Digest
}

// contextReader fails reads once ctx ends. Sources that do not watch
// the context themselves (a local store) are cut off between reads.
type contextReader struct {
	ctx    context.Context
	reader io.Reader
}

func (r *contextReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := r.reader.Read(p)
	if err != nil && !errors.Is(err, io.EOF) && r.ctx.Err() != nil {
		return n, r.ctx.Err()
	}
	return n, err
}
