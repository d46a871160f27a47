// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Directory names within the store root.
const (
	casDir = "cas"
	tmpDir = "tmp"
)

// DiskStore is a content-addressed blob store on the local disk. Blobs
// live at cas/<first two hex chars>/<full hex digest> under the root
// and are immutable once written.
//
// DiskStore is safe for concurrent use. Concurrent Puts of the same
// content race on the final rename, which is harmless because both
// writers produce identical bytes.
type DiskStore struct {
	root string
}

var _ BlobSource = (*DiskStore)(nil)

// NewDiskStore creates a DiskStore rooted at the given directory. The
// directory structure is created if it does not exist.
func NewDiskStore(root string) (*DiskStore, error) {
	for _, dir := range []string{
		root,
		filepath.Join(root, casDir),
		filepath.Join(root, tmpDir),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory %s: %w", dir, err)
		}
	}
	return &DiskStore{root: root}, nil
}

// Root returns the store's root directory.
func (s *DiskStore) Root() string {
	return s.root
}

// Put ingests content from r and returns its digest and size. The
// returned metadata is not marked remote; callers that publish the
// blob for staging set Remote themselves.
func (s *DiskStore) Put(r io.Reader) (FileMetadata, error) {
	tmpFile, err := os.CreateTemp(filepath.Join(s.root, tmpDir), "put-*")
	if err != nil {
		return FileMetadata{}, fmt.Errorf("creating temp blob file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	hasher := NewHashWriter()
	if _, err := io.Copy(io.MultiWriter(tmpFile, hasher), r); err != nil {
		tmpFile.Close()
		return FileMetadata{}, fmt.Errorf("writing blob content: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return FileMetadata{}, fmt.Errorf("closing blob file: %w", err)
	}

	digest := hasher.Sum()
	finalPath := s.Path(digest)
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return FileMetadata{}, fmt.Errorf("creating blob shard directory: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return FileMetadata{}, fmt.Errorf("renaming blob to %s: %w", finalPath, err)
	}

	success = true
	return FileMetadata{Digest: digest, Size: hasher.Size()}, nil
}

// PutBytes is Put for in-memory content.
func (s *DiskStore) PutBytes(content []byte) (FileMetadata, error) {
	return s.Put(bytes.NewReader(content))
}

// Has reports whether the store holds the digest.
func (s *DiskStore) Has(digest Hash) bool {
	_, err := os.Stat(s.Path(digest))
	return err == nil
}

// Stat returns the size of a stored blob, or ErrBlobNotFound.
func (s *DiskStore) Stat(digest Hash) (int64, error) {
	info, err := os.Stat(s.Path(digest))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("%s: %w", digest.Short(), ErrBlobNotFound)
		}
		return 0, fmt.Errorf("stat blob %s: %w", digest.Short(), err)
	}
	return info.Size(), nil
}

// Open returns the stored blob and its size. The caller closes the
// file.
func (s *DiskStore) Open(digest Hash) (*os.File, int64, error) {
	file, err := os.Open(s.Path(digest))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0, fmt.Errorf("%s: %w", digest.Short(), ErrBlobNotFound)
		}
		return nil, 0, fmt.Errorf("opening blob %s: %w", digest.Short(), err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, 0, fmt.Errorf("stat blob %s: %w", digest.Short(), err)
	}
	return file, info.Size(), nil
}

// Fetch implements BlobSource against the local store.
func (s *DiskStore) Fetch(ctx context.Context, digest Hash, size int64) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, storedSize, err := s.Open(digest)
	if err != nil {
		return nil, err
	}
	if storedSize != size {
		file.Close()
		return nil, fmt.Errorf("blob %s has size %d, expected %d", digest.Short(), storedSize, size)
	}
	return file, nil
}

// Path returns the sharded filesystem path for a blob.
func (s *DiskStore) Path(digest Hash) string {
	hex := FormatHash(digest)
	return filepath.Join(s.root, casDir, hex[:2], hex)
}
