// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remotefs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/bureau-foundation/actionfs/lib/artifact"
	"github.com/bureau-foundation/actionfs/lib/vfs"
)

// Fetcher stages remote content at a local path. Stage blocks until
// the file at destination holds content matching metadata, or fails.
// Cancelling ctx abandons the wait and surfaces ctx's error.
type Fetcher interface {
	Stage(ctx context.Context, destination vfs.Path, metadata artifact.FileMetadata) error
}

// Options configures an ActionFS.
type Options struct {
	// Local is the filesystem that holds everything not intercepted.
	Local vfs.FileSystem

	// ExecRoot is the absolute directory actions run in.
	ExecRoot string

	// RelativeOutputPath locates the output base beneath ExecRoot.
	// Only paths under the output base are ever treated as remote.
	RelativeOutputPath string

	// Inputs is the metadata index for the action's inputs, keyed by
	// exec path. Nil means no input is remote.
	Inputs *artifact.InputMap

	// Outputs are the action's declared outputs. When two entries
	// resolve to the same path the later one wins.
	Outputs []artifact.Artifact

	// Fetcher stages remote inputs on read.
	Fetcher Fetcher

	// Logger receives staging and injection logs. Nil logs errors to
	// stderr.
	Logger *slog.Logger
}

// ActionFS is the filesystem of one build's actions. It embeds a
// *vfs.DelegateFS bound to itself, so every operation it does not
// override goes straight to the local filesystem.
type ActionFS struct {
	*vfs.DelegateFS

	execRoot   vfs.Path
	outputBase vfs.Path
	inputs     *artifact.InputMap
	outputs    map[string]artifact.Artifact
	fetcher    Fetcher
	logger     *slog.Logger

	sink atomic.Pointer[attachedSink]
}

// attachedSink is the state of an ActionFS after Attach. Before that
// the pointer is nil.
type attachedSink struct {
	sink artifact.MetadataSink
}

var _ vfs.FileSystem = (*ActionFS)(nil)

// New creates the filesystem for one build.
func New(options Options) (*ActionFS, error) {
	if options.Local == nil {
		return nil, fmt.Errorf("local filesystem is required")
	}
	if options.Fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if !path.IsAbs(options.ExecRoot) {
		return nil, fmt.Errorf("exec root %q is not absolute", options.ExecRoot)
	}
	relativeOutput := path.Clean(options.RelativeOutputPath)
	if path.IsAbs(relativeOutput) || relativeOutput == ".." || strings.HasPrefix(relativeOutput, "../") {
		return nil, fmt.Errorf("output path %q must be relative to the exec root", options.RelativeOutputPath)
	}

	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	}

	a := &ActionFS{
		inputs:  options.Inputs,
		fetcher: options.Fetcher,
		logger:  logger,
	}
	a.DelegateFS = vfs.NewDelegateFSFor(a, options.Local)
	a.execRoot = a.Path(options.ExecRoot)
	a.outputBase = a.execRoot.Relative(relativeOutput)

	a.outputs = make(map[string]artifact.Artifact, len(options.Outputs))
	for _, output := range options.Outputs {
		a.outputs[a.execRoot.Relative(output.ExecPath).String()] = output
	}
	return a, nil
}

// ExecRoot returns the exec root, bound to a.
func (a *ActionFS) ExecRoot() vfs.Path {
	return a.execRoot
}

// OutputBase returns the output base, bound to a.
func (a *ActionFS) OutputBase() vfs.Path {
	return a.outputBase
}

// Inputs returns the input metadata index.
func (a *ActionFS) Inputs() *artifact.InputMap {
	return a.inputs
}

// Outputs returns the declared outputs keyed by absolute path, sorted
// by path.
func (a *ActionFS) Outputs() []artifact.Artifact {
	paths := make([]string, 0, len(a.outputs))
	for outputPath := range a.outputs {
		paths = append(paths, outputPath)
	}
	sort.Strings(paths)
	outputs := make([]artifact.Artifact, len(paths))
	for i, outputPath := range paths {
		outputs[i] = a.outputs[outputPath]
	}
	return outputs
}

// Attach binds the metadata sink. It may be called once; the sink is
// never rebound.
func (a *ActionFS) Attach(sink artifact.MetadataSink) error {
	if sink == nil {
		return fmt.Errorf("attaching nil metadata sink")
	}
	if !a.sink.CompareAndSwap(nil, &attachedSink{sink: sink}) {
		a.logger.Error("metadata sink attached twice", "exec_root", a.execRoot.String())
		return ErrSinkAlreadyAttached
	}
	return nil
}

// Attached reports whether a sink has been attached.
func (a *ActionFS) Attached() bool {
	return a.sink.Load() != nil
}

// RemoteMetadata returns the metadata of p when p is a remote input:
// it lies under the output base and the index marks its exec path
// remote.
func (a *ActionFS) RemoteMetadata(p vfs.Path) (artifact.FileMetadata, bool) {
	if !p.StartsWith(a.outputBase) {
		return artifact.FileMetadata{}, false
	}
	execPath, err := p.RelativeTo(a.execRoot)
	if err != nil {
		return artifact.FileMetadata{}, false
	}
	return a.inputs.RemoteMetadata(execPath)
}

// remoteMetadataForTarget classifies a symbolic link target. Relative
// targets are never remote.
func (a *ActionFS) remoteMetadataForTarget(target string) (artifact.FileMetadata, bool) {
	if !path.IsAbs(target) {
		return artifact.FileMetadata{}, false
	}
	return a.RemoteMetadata(a.Path(target))
}

// Prefetch stages p when it is a remote input, without opening it. It
// reports whether p was remote.
func (a *ActionFS) Prefetch(ctx context.Context, p vfs.Path) (bool, error) {
	metadata, ok := a.RemoteMetadata(p)
	if !ok {
		return false, nil
	}
	return true, a.stage(ctx, p, metadata)
}

func (a *ActionFS) stage(ctx context.Context, p vfs.Path, metadata artifact.FileMetadata) error {
	destination := a.DelegatePath(p)
	a.logger.Debug("staging remote input",
		"path", p.String(),
		"digest", metadata.Digest.Short(),
		"size", metadata.Size,
	)

	err := a.fetcher.Stage(ctx, destination, metadata)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w %s: %w", ErrFetchInterrupted, p, err)
	}
	return &StagingError{Path: p.String(), Metadata: metadata, Err: err}
}

// OpenRead stages p if it is a remote input and then opens it on the
// local filesystem.
func (a *ActionFS) OpenRead(ctx context.Context, p vfs.Path) (vfs.File, error) {
	if metadata, ok := a.RemoteMetadata(p); ok {
		if err := a.stage(ctx, p, metadata); err != nil {
			return nil, err
		}
	}
	return a.DelegateFS.OpenRead(ctx, p)
}

// CreateSymbolicLink creates a real link unless target is a remote
// input. A link to a remote input is recorded by injecting the
// target's metadata for the declared output at link; nothing is
// written to disk.
func (a *ActionFS) CreateSymbolicLink(link vfs.Path, target string) error {
	metadata, remote := a.remoteMetadataForTarget(target)
	if !remote {
		return a.DelegateFS.CreateSymbolicLink(link, target)
	}

	// Rejects paths bound to another filesystem.
	a.DelegatePath(link)

	output, declared := a.outputs[link.String()]
	if !declared {
		return fmt.Errorf("%w '%s'", ErrUnknownOutput, link)
	}

	state := a.sink.Load()
	if state == nil {
		a.logger.Error("symbolic link injection before metadata sink attached",
			"link", link.String(),
			"target", target,
		)
		return fmt.Errorf("injecting %s: %w", link, ErrSinkNotAttached)
	}

	a.logger.Debug("injecting symbolic link",
		"link", link.String(),
		"target", target,
		"digest", metadata.Digest.Short(),
	)
	if err := state.sink.InjectMetadata(output, metadata); err != nil {
		return fmt.Errorf("injecting metadata for %s: %w", link, err)
	}
	return nil
}

// Exists reports true for remote inputs without consulting the disk.
func (a *ActionFS) Exists(p vfs.Path) bool {
	if _, ok := a.RemoteMetadata(p); ok {
		return true
	}
	return a.DelegateFS.Exists(p)
}

// IsFile reports true for remote inputs without consulting the disk.
func (a *ActionFS) IsFile(p vfs.Path) bool {
	if _, ok := a.RemoteMetadata(p); ok {
		return true
	}
	return a.DelegateFS.IsFile(p)
}

// IsReadable reports true for remote inputs.
func (a *ActionFS) IsReadable(p vfs.Path) (bool, error) {
	if _, ok := a.RemoteMetadata(p); ok {
		return true, nil
	}
	return a.DelegateFS.IsReadable(p)
}

// IsWritable reports true for remote inputs.
func (a *ActionFS) IsWritable(p vfs.Path) (bool, error) {
	if _, ok := a.RemoteMetadata(p); ok {
		return true, nil
	}
	return a.DelegateFS.IsWritable(p)
}

// IsExecutable reports true for remote inputs.
func (a *ActionFS) IsExecutable(p vfs.Path) (bool, error) {
	if _, ok := a.RemoteMetadata(p); ok {
		return true, nil
	}
	return a.DelegateFS.IsExecutable(p)
}
