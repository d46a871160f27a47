// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fuse

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/bureau-foundation/actionfs/lib/artifact"
	"github.com/bureau-foundation/actionfs/lib/remotefs"
	"github.com/bureau-foundation/actionfs/lib/vfs"
	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// remoteMode is the permission set reported for remote inputs before
// they are staged. It matches what the fetcher installs.
const remoteMode = 0o555

// Options configures the FUSE mount.
type Options struct {
	// Mountpoint is the directory where the filesystem is mounted.
	Mountpoint string

	// FS is the action filesystem to expose. Its local filesystem
	// must be the real disk; its exec root is the loopback source.
	FS *remotefs.ActionFS

	// AllowOther permits other users (including root) to access
	// the mount. Requires user_allow_other in /etc/fuse.conf.
	AllowOther bool

	// Logger receives diagnostic messages. If nil, errors are
	// logged to stderr.
	Logger *slog.Logger
}

// Mount mounts the action filesystem at the configured mountpoint.
// The caller must call Unmount on the returned Server when done. The
// mountpoint directory is created if it does not exist, as are the
// parent directories of every remote input, so remote files always
// have a real directory to be listed in.
func Mount(options Options) (*fuse.Server, error) {
	if options.Mountpoint == "" {
		return nil, fmt.Errorf("mountpoint is required")
	}
	if options.FS == nil {
		return nil, fmt.Errorf("action filesystem is required")
	}
	local, ok := options.FS.Delegate().(*vfs.LocalFS)
	if !ok || !local.OnDisk() {
		return nil, fmt.Errorf("action filesystem must be backed by the local disk, got %T", options.FS.Delegate())
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
	}

	state := &mountState{
		fs:     options.FS,
		logger: options.Logger,
		links:  make(map[string]string),
	}
	if err := state.createRemoteParents(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(options.Mountpoint, 0o755); err != nil {
		return nil, fmt.Errorf("creating mountpoint %s: %w", options.Mountpoint, err)
	}

	execRoot := options.FS.ExecRoot().String()
	var rootStat syscall.Stat_t
	if err := syscall.Stat(execRoot, &rootStat); err != nil {
		return nil, fmt.Errorf("exec root %s: %w", execRoot, err)
	}

	loopback := &gofuse.LoopbackRoot{
		Path: execRoot,
		Dev:  uint64(rootStat.Dev),
	}
	loopback.NewNode = func(rootData *gofuse.LoopbackRoot, parent *gofuse.Inode, name string, st *syscall.Stat_t) gofuse.InodeEmbedder {
		return state.newNode(rootData)
	}
	root := state.newNode(loopback)
	loopback.RootNode = root

	entryTimeout := 1 * time.Second
	attrTimeout := 1 * time.Second
	negativeTimeout := 100 * time.Millisecond

	server, err := gofuse.Mount(options.Mountpoint, root, &gofuse.Options{
		EntryTimeout:    &entryTimeout,
		AttrTimeout:     &attrTimeout,
		NegativeTimeout: &negativeTimeout,
		MountOptions: fuse.MountOptions{
			FsName:     "actionfs",
			Name:       "actionfs",
			AllowOther: options.AllowOther,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mounting FUSE filesystem at %s: %w", options.Mountpoint, err)
	}

	options.Logger.Info("action filesystem mounted",
		"mountpoint", options.Mountpoint,
		"exec_root", execRoot,
		"remote_inputs", options.FS.Inputs().RemoteCount(),
	)
	return server, nil
}

// mountState is shared by every node of one mount.
type mountState struct {
	fs     *remotefs.ActionFS
	logger *slog.Logger

	mu sync.Mutex
	// links holds injected symbolic links by absolute path. They
	// have no on-disk presence.
	links map[string]string
}

func (s *mountState) newNode(rootData *gofuse.LoopbackRoot) *actionNode {
	return &actionNode{
		LoopbackNode: gofuse.LoopbackNode{RootData: rootData},
		state:        s,
	}
}

func (s *mountState) createRemoteParents() error {
	execRoot := s.fs.ExecRoot()
	for _, execPath := range s.fs.Inputs().ExecPaths() {
		p := execRoot.Relative(execPath)
		if _, remote := s.fs.RemoteMetadata(p); !remote {
			continue
		}
		parent, ok := p.Parent()
		if !ok {
			continue
		}
		if err := s.fs.CreateDirectoryAndParents(parent); err != nil {
			return fmt.Errorf("creating parent of remote input %s: %w", execPath, err)
		}
	}
	return nil
}

func (s *mountState) link(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.links[name]
	return target, ok
}

func (s *mountState) addLink(name, target string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[name] = target
}

func (s *mountState) removeLink(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.links[name]
	delete(s.links, name)
	return ok
}

// virtualChildren returns the remote inputs and injected links that
// live directly in dir and are not on disk.
func (s *mountState) virtualChildren(dir string) []fuse.DirEntry {
	var entries []fuse.DirEntry

	execRoot := s.fs.ExecRoot()
	relativeDir, err := s.fs.Path(dir).RelativeTo(execRoot)
	if err == nil {
		if relativeDir == "" {
			relativeDir = "."
		}
		for _, execPath := range s.fs.Inputs().ExecPaths() {
			if path.Dir(execPath) != relativeDir {
				continue
			}
			full := execRoot.Relative(execPath)
			if _, remote := s.fs.RemoteMetadata(full); !remote || onDisk(full.String()) {
				continue
			}
			entries = append(entries, fuse.DirEntry{
				Name: path.Base(execPath),
				Mode: syscall.S_IFREG,
				Ino:  virtualIno(full.String()),
			})
		}
	}

	s.mu.Lock()
	for name := range s.links {
		if filepath.Dir(name) != dir || onDisk(name) {
			continue
		}
		entries = append(entries, fuse.DirEntry{
			Name: filepath.Base(name),
			Mode: syscall.S_IFLNK,
			Ino:  virtualIno(name),
		})
	}
	s.mu.Unlock()

	return entries
}

// actionNode is a loopback node over the exec root. A node with
// remote set stands for a remote input; one with linkTarget set is an
// injected symbolic link. Both are served from synthesized attributes
// until something appears on disk at their path.
type actionNode struct {
	gofuse.LoopbackNode
	state *mountState

	remote     *artifact.FileMetadata
	linkTarget string
}

var (
	_ gofuse.NodeLookuper       = (*actionNode)(nil)
	_ gofuse.NodeGetattrer      = (*actionNode)(nil)
	_ gofuse.NodeOpener         = (*actionNode)(nil)
	_ gofuse.NodeSymlinker      = (*actionNode)(nil)
	_ gofuse.NodeReadlinker     = (*actionNode)(nil)
	_ gofuse.NodeUnlinker       = (*actionNode)(nil)
	_ gofuse.NodeOpendirHandler = (*actionNode)(nil)
)

// hostPath is the absolute path of the node in the exec root.
func (n *actionNode) hostPath() string {
	return filepath.Join(n.RootData.Path, n.Path(n.RootData.RootNode.EmbeddedInode()))
}

func (n *actionNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	full := filepath.Join(n.hostPath(), name)

	var st syscall.Stat_t
	err := syscall.Lstat(full, &st)
	if err == nil {
		out.Attr.FromStat(&st)
		child := n.state.newNode(n.RootData)
		return n.NewInode(ctx, child, n.stableAttr(&st)), gofuse.OK
	}
	if !errors.Is(err, syscall.ENOENT) {
		return nil, gofuse.ToErrno(err)
	}

	if metadata, ok := n.state.fs.RemoteMetadata(n.state.fs.Path(full)); ok {
		child := n.state.newNode(n.RootData)
		child.remote = &metadata
		fillRemoteAttr(&out.Attr, full, metadata)
		return n.NewInode(ctx, child, gofuse.StableAttr{Mode: syscall.S_IFREG, Ino: virtualIno(full)}), gofuse.OK
	}
	if target, ok := n.state.link(full); ok {
		child := n.state.newNode(n.RootData)
		child.linkTarget = target
		fillLinkAttr(&out.Attr, full, target)
		return n.NewInode(ctx, child, gofuse.StableAttr{Mode: syscall.S_IFLNK, Ino: virtualIno(full)}), gofuse.OK
	}
	return nil, syscall.ENOENT
}

func (n *actionNode) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	if n.remote == nil && n.linkTarget == "" {
		return n.LoopbackNode.Getattr(ctx, f, out)
	}
	if f != nil {
		return n.LoopbackNode.Getattr(ctx, f, out)
	}

	full := n.hostPath()
	var st syscall.Stat_t
	if err := syscall.Lstat(full, &st); err == nil {
		out.FromStat(&st)
		return gofuse.OK
	}
	if n.remote != nil {
		fillRemoteAttr(&out.Attr, full, *n.remote)
	} else {
		fillLinkAttr(&out.Attr, full, n.linkTarget)
	}
	return gofuse.OK
}

// Open stages a remote input before handing the local copy to the
// loopback. The fuse context is cancelled on interrupt, which aborts
// the wait but not the download.
func (n *actionNode) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	if n.remote != nil {
		full := n.hostPath()
		if _, err := n.state.fs.Prefetch(ctx, n.state.fs.Path(full)); err != nil {
			n.state.logger.Error("staging remote input for open failed",
				"path", full,
				"error", err,
			)
			return nil, 0, errnoFor(err)
		}
	}
	return n.LoopbackNode.Open(ctx, flags)
}

func (n *actionNode) Symlink(ctx context.Context, target, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	full := filepath.Join(n.hostPath(), name)
	if err := n.state.fs.CreateSymbolicLink(n.state.fs.Path(full), target); err != nil {
		n.state.logger.Warn("symbolic link rejected",
			"link", full,
			"target", target,
			"error", err,
		)
		return nil, errnoFor(err)
	}

	var st syscall.Stat_t
	if err := syscall.Lstat(full, &st); err == nil {
		out.Attr.FromStat(&st)
		child := n.state.newNode(n.RootData)
		return n.NewInode(ctx, child, n.stableAttr(&st)), gofuse.OK
	}

	n.state.addLink(full, target)
	child := n.state.newNode(n.RootData)
	child.linkTarget = target
	fillLinkAttr(&out.Attr, full, target)
	return n.NewInode(ctx, child, gofuse.StableAttr{Mode: syscall.S_IFLNK, Ino: virtualIno(full)}), gofuse.OK
}

func (n *actionNode) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	if n.linkTarget != "" {
		if target, ok := n.state.link(n.hostPath()); ok {
			return []byte(target), gofuse.OK
		}
	}
	return n.LoopbackNode.Readlink(ctx)
}

func (n *actionNode) Unlink(ctx context.Context, name string) syscall.Errno {
	full := filepath.Join(n.hostPath(), name)
	if !onDisk(full) && n.state.removeLink(full) {
		return gofuse.OK
	}
	return n.LoopbackNode.Unlink(ctx, name)
}

// OpendirHandle lists the directory on disk plus the remote inputs and
// injected links that belong in it.
func (n *actionNode) OpendirHandle(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	dir := n.hostPath()
	onDiskEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, 0, gofuse.ToErrno(err)
	}

	entries := make([]fuse.DirEntry, 0, len(onDiskEntries))
	for _, entry := range onDiskEntries {
		info, err := entry.Info()
		if err != nil {
			// Removed between the listing and the stat.
			continue
		}
		st, ok := info.Sys().(*syscall.Stat_t)
		if !ok {
			continue
		}
		entries = append(entries, fuse.DirEntry{
			Name: entry.Name(),
			Mode: uint32(st.Mode),
			Ino:  n.stableAttr(st).Ino,
		})
	}
	entries = append(entries, n.state.virtualChildren(dir)...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	return gofuse.NewListDirStream(entries), 0, gofuse.OK
}

// stableAttr mixes the device into the inode number the same way the
// loopback root does, so entries from nested mounts do not collide.
func (n *actionNode) stableAttr(st *syscall.Stat_t) gofuse.StableAttr {
	swapped := (uint64(st.Dev) << 32) | (uint64(st.Dev) >> 32)
	swappedRoot := (n.RootData.Dev << 32) | (n.RootData.Dev >> 32)
	return gofuse.StableAttr{
		Mode: uint32(st.Mode),
		Gen:  1,
		Ino:  (swapped ^ swappedRoot) ^ st.Ino,
	}
}

// virtualIno derives an inode number for a path with no disk
// presence. The top bit is set to stay clear of real inode numbers.
func virtualIno(name string) uint64 {
	digest := artifact.HashBytes([]byte(name))
	return binary.BigEndian.Uint64(digest[:8]) | 1<<63
}

func fillRemoteAttr(attr *fuse.Attr, name string, metadata artifact.FileMetadata) {
	attr.Mode = syscall.S_IFREG | remoteMode
	attr.Size = uint64(metadata.Size)
	attr.Blocks = (attr.Size + 511) / 512
	attr.Nlink = 1
	attr.Ino = virtualIno(name)
	attr.Owner = fuse.Owner{Uid: uint32(os.Getuid()), Gid: uint32(os.Getgid())}
}

func fillLinkAttr(attr *fuse.Attr, name, target string) {
	attr.Mode = syscall.S_IFLNK | 0o777
	attr.Size = uint64(len(target))
	attr.Nlink = 1
	attr.Ino = virtualIno(name)
	attr.Owner = fuse.Owner{Uid: uint32(os.Getuid()), Gid: uint32(os.Getgid())}
}

func onDisk(name string) bool {
	var st syscall.Stat_t
	return syscall.Lstat(name, &st) == nil
}

// errnoFor maps ActionFS errors onto what a process sees.
func errnoFor(err error) syscall.Errno {
	var stagingError *remotefs.StagingError
	switch {
	case errors.Is(err, remotefs.ErrFetchInterrupted):
		return syscall.EINTR
	case errors.Is(err, remotefs.ErrUnknownOutput):
		return syscall.EPERM
	case errors.Is(err, remotefs.ErrSinkNotAttached):
		return syscall.EIO
	case errors.As(err, &stagingError):
		return syscall.EIO
	}
	return gofuse.ToErrno(err)
}
