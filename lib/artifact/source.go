// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"context"
	"errors"
	"io"
)

// ErrBlobNotFound is returned by a BlobSource that does not hold the
// requested digest.
var ErrBlobNotFound = errors.New("blob not found")

// BlobSource provides the content of remote files by digest. The
// returned reader yields exactly size bytes; implementations report a
// size mismatch as an error rather than returning a short or long
// stream. The caller closes the reader.
type BlobSource interface {
	Fetch(ctx context.Context, digest Hash, size int64) (io.ReadCloser, error)
}
