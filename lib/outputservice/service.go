// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package outputservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/bureau-foundation/actionfs/lib/artifact"
	"github.com/bureau-foundation/actionfs/lib/remotefs"
	"github.com/bureau-foundation/actionfs/lib/vfs"
)

// FileSystemName is the name the service reports for the action
// filesystems it creates.
const FileSystemName = "remoteActionFS"

var (
	// ErrRemoteExecutionDisabled is returned when an action
	// filesystem is requested before a fetcher was enabled.
	ErrRemoteExecutionDisabled = errors.New("remote execution is not enabled")

	// ErrNotActionFileSystem is returned when a filesystem passed
	// back to the service was not created by it.
	ErrNotActionFileSystem = errors.New("filesystem is not a remote action filesystem")
)

// Support describes what kind of action filesystem a service offers.
type Support int

const (
	// SupportNone means actions run against the plain local
	// filesystem.
	SupportNone Support = iota

	// SupportStageRemoteFiles means actions run against an
	// ActionFS that stages remote inputs on read.
	SupportStageRemoteFiles
)

// String implements fmt.Stringer.
func (s Support) String() string {
	switch s {
	case SupportNone:
		return "none"
	case SupportStageRemoteFiles:
		return "stage-remote-files"
	default:
		return fmt.Sprintf("Support(%d)", int(s))
	}
}

// ModifiedFileSet is the build-start diffing signal: either every
// file is treated as modified, or only the listed exec paths are.
type ModifiedFileSet struct {
	everything bool
	paths      []string
}

// EverythingModified invalidates all previous build state.
var EverythingModified = ModifiedFileSet{everything: true}

// NewModifiedFileSet returns a set naming exactly paths.
func NewModifiedFileSet(paths ...string) ModifiedFileSet {
	return ModifiedFileSet{paths: append([]string(nil), paths...)}
}

// Everything reports whether every file must be treated as modified.
func (m ModifiedFileSet) Everything() bool {
	return m.everything
}

// Paths returns the modified exec paths. It is meaningless when
// Everything is true.
func (m ModifiedFileSet) Paths() []string {
	return append([]string(nil), m.paths...)
}

// FilesetLink is one entry of a fileset: a symbolic link Name in the
// fileset's tree pointing at Target.
type FilesetLink struct {
	Name   string `json:"name"`
	Target string `json:"target"`
}

// BatchStatter stats many paths in one call.
type BatchStatter interface {
	BatchStat(ctx context.Context, paths []vfs.Path) ([]os.FileInfo, error)
}

// ExecError reports a failure the user can act on, as opposed to a
// bug in the build.
type ExecError struct {
	Op  string
	Err error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// OutputService is the lifecycle an orchestrator drives against its
// output layer.
type OutputService interface {
	SupportsActionFileSystem() Support
	CreateActionFileSystem(local vfs.FileSystem, execRoot, relativeOutputPath string, sourceRoots []string, inputs *artifact.InputMap, outputs []artifact.Artifact) (*remotefs.ActionFS, error)
	UpdateActionFileSystemContext(fsys vfs.FileSystem, sink artifact.MetadataSink, filesets map[artifact.Artifact][]FilesetLink) error
	FileSystemName() string
	StartBuild(ctx context.Context, buildID string, finalizeActions bool) (ModifiedFileSet, error)
	FinalizeBuild(success bool)
	FinalizeAction(actionID string, outputs []artifact.Artifact)
	BatchStatter() BatchStatter
	CanCreateSymlinkTree() bool
	CreateSymlinkTree(inputManifest, outputManifest vfs.Path, filesetTree bool, symlinkTreeRoot string) error
	Clean() error
	IsRemoteFile(file artifact.Artifact) bool
}

// Options configures a Service.
type Options struct {
	// Logger receives lifecycle and precondition logs. Nil logs
	// errors to stderr.
	Logger *slog.Logger

	// ActionLogger, when set, is handed to each ActionFS instead
	// of Logger.
	ActionLogger *slog.Logger
}

// Service coordinates remote action filesystems for one server
// lifetime. It is safe for concurrent use.
type Service struct {
	logger       *slog.Logger
	actionLogger *slog.Logger

	remote atomic.Pointer[remoteExecution]
}

// remoteExecution is the state of a Service after
// EnableRemoteExecution.
type remoteExecution struct {
	fetcher remotefs.Fetcher
}

var _ OutputService = (*Service)(nil)

// New creates a service with remote execution disabled.
func New(options Options) *Service {
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	}
	actionLogger := options.ActionLogger
	if actionLogger == nil {
		actionLogger = logger
	}
	return &Service{logger: logger, actionLogger: actionLogger}
}

// EnableRemoteExecution configures the fetcher used by every action
// filesystem created afterwards. Calling it again replaces the
// fetcher for later filesystems only.
func (s *Service) EnableRemoteExecution(fetcher remotefs.Fetcher) error {
	if fetcher == nil {
		s.logger.Error("enabling remote execution without a fetcher")
		return fmt.Errorf("enabling remote execution: fetcher is required")
	}
	s.remote.Store(&remoteExecution{fetcher: fetcher})
	s.logger.Info("remote execution enabled")
	return nil
}

// SupportsActionFileSystem reports SupportStageRemoteFiles once a
// fetcher is enabled and SupportNone before.
func (s *Service) SupportsActionFileSystem() Support {
	if s.remote.Load() == nil {
		return SupportNone
	}
	return SupportStageRemoteFiles
}

// CreateActionFileSystem builds the ActionFS for one action. The
// source roots are accepted for interface compatibility and not
// consulted: source files are never remote.
func (s *Service) CreateActionFileSystem(local vfs.FileSystem, execRoot, relativeOutputPath string, sourceRoots []string, inputs *artifact.InputMap, outputs []artifact.Artifact) (*remotefs.ActionFS, error) {
	remote := s.remote.Load()
	if remote == nil {
		s.logger.Error("action filesystem requested before remote execution was enabled",
			"exec_root", execRoot,
		)
		return nil, ErrRemoteExecutionDisabled
	}
	actionFS, err := remotefs.New(remotefs.Options{
		Local:              local,
		ExecRoot:           execRoot,
		RelativeOutputPath: relativeOutputPath,
		Inputs:             inputs,
		Outputs:            outputs,
		Fetcher:            remote.fetcher,
		Logger:             s.actionLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating action filesystem: %w", err)
	}
	s.logger.Debug("action filesystem created",
		"exec_root", execRoot,
		"output_path", relativeOutputPath,
		"inputs", inputs.Len(),
		"remote_inputs", inputs.RemoteCount(),
		"outputs", len(outputs),
	)
	return actionFS, nil
}

// UpdateActionFileSystemContext attaches sink to fsys, which must have
// been created by CreateActionFileSystem. Filesets are not consulted.
func (s *Service) UpdateActionFileSystemContext(fsys vfs.FileSystem, sink artifact.MetadataSink, filesets map[artifact.Artifact][]FilesetLink) error {
	actionFS, ok := fsys.(*remotefs.ActionFS)
	if !ok {
		s.logger.Error("updating context of a foreign filesystem", "type", fmt.Sprintf("%T", fsys))
		return fmt.Errorf("%w: got %T", ErrNotActionFileSystem, fsys)
	}
	return actionFS.Attach(sink)
}

// FileSystemName returns FileSystemName.
func (s *Service) FileSystemName() string {
	return FileSystemName
}

// StartBuild returns EverythingModified. Remote inputs are present
// without being on disk, so no on-disk state can show what changed.
func (s *Service) StartBuild(ctx context.Context, buildID string, finalizeActions bool) (ModifiedFileSet, error) {
	s.logger.Debug("build started", "build_id", buildID, "finalize_actions", finalizeActions)
	return EverythingModified, nil
}

// FinalizeBuild does nothing.
func (s *Service) FinalizeBuild(success bool) {}

// FinalizeAction does nothing.
func (s *Service) FinalizeAction(actionID string, outputs []artifact.Artifact) {}

// BatchStatter returns nil: there is no batch stat support.
func (s *Service) BatchStatter() BatchStatter {
	return nil
}

// CanCreateSymlinkTree returns false. Callers must build symlink
// trees some other way.
func (s *Service) CanCreateSymlinkTree() bool {
	return false
}

// CreateSymlinkTree does not build the tree. It only links
// outputManifest to inputManifest, so the tree looks complete to
// anything that checks for the marker.
func (s *Service) CreateSymlinkTree(inputManifest, outputManifest vfs.Path, filesetTree bool, symlinkTreeRoot string) error {
	fsys := outputManifest.FileSystem()
	if err := fsys.CreateSymbolicLink(outputManifest, inputManifest.String()); err != nil {
		return &ExecError{
			Op:  fmt.Sprintf("creating symlink tree marker %s", outputManifest),
			Err: err,
		}
	}
	return nil
}

// Clean does nothing.
func (s *Service) Clean() error {
	return nil
}

// IsRemoteFile always returns false, even for artifacts whose content
// is remote.
func (s *Service) IsRemoteFile(file artifact.Artifact) bool {
	return false
}
