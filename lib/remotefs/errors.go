// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remotefs

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/actionfs/lib/artifact"
)

var (
	// ErrUnknownOutput is returned when a symbolic link to a remote
	// input is created at a path that is not a declared output of the
	// action.
	ErrUnknownOutput = errors.New("unknown output")

	// ErrFetchInterrupted is returned when staging a remote input was
	// cancelled or timed out. The context error is wrapped alongside.
	ErrFetchInterrupted = errors.New("received interrupt while fetching file")

	// ErrSinkNotAttached is returned when metadata injection is
	// attempted before the orchestrator attached a sink.
	ErrSinkNotAttached = errors.New("metadata sink not attached")

	// ErrSinkAlreadyAttached is returned by a second Attach.
	ErrSinkAlreadyAttached = errors.New("metadata sink already attached")

	// ErrFetcherClosed is returned by Stage after Close.
	ErrFetcherClosed = errors.New("input fetcher closed")

	// ErrDigestMismatch is returned when downloaded content does not
	// hash to the expected digest.
	ErrDigestMismatch = errors.New("digest mismatch")
)

// StagingError reports a failure of the Fetcher to stage a remote
// input for reading.
type StagingError struct {
	Path     string
	Metadata artifact.FileMetadata
	Err      error
}

func (e *StagingError) Error() string {
	return fmt.Sprintf("staging %s (%s): %v", e.Path, e.Metadata, e.Err)
}

func (e *StagingError) Unwrap() error {
	return e.Err
}
