// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package vfs

import (
	"context"
	"os"
	"time"

	"github.com/spf13/afero"

	"github.com/bureau-foundation/actionfs/lib/artifact"
)

// File is an open file. It is afero's file interface so that
// afero-backed and OS-backed files are interchangeable.
type File = afero.File

// FileSystem is the set of operations a build action performs against
// its view of the disk. Every method taking a Path requires a path
// bound to the receiver (see [Path]).
//
// Query methods that return a bare bool (Exists, IsFile and so on)
// report false for any error, including a missing file. Methods that
// return an error propagate the underlying I/O error unchanged.
type FileSystem interface {
	// Path binds an absolute name to this filesystem.
	Path(name string) Path

	// --- Queries ---

	// Exists reports whether anything exists at p, following
	// symbolic links.
	Exists(p Path) bool

	// IsFile reports whether p is a regular file, following links.
	IsFile(p Path) bool

	// IsDirectory reports whether p is a directory, following links.
	IsDirectory(p Path) bool

	// IsSymbolicLink reports whether p itself is a symbolic link.
	IsSymbolicLink(p Path) bool

	// IsSpecialFile reports whether p is neither a regular file, a
	// directory nor a symbolic link (sockets, devices, fifos),
	// following links.
	IsSpecialFile(p Path) bool

	// Stat returns file information, following symbolic links when
	// follow is set.
	Stat(p Path, follow bool) (os.FileInfo, error)

	// StatIfFound is Stat returning (nil, nil) when nothing exists at
	// p.
	StatIfFound(p Path, follow bool) (os.FileInfo, error)

	// FileSize returns the size of the file at p, following links.
	FileSize(p Path) (int64, error)

	// ModTime returns the modification time, following links.
	ModTime(p Path) (time.Time, error)

	// SetModTime sets both the access and the modification time.
	SetModTime(p Path, modified time.Time) error

	// DirectoryEntries returns the sorted names in the directory p.
	DirectoryEntries(p Path) ([]string, error)

	// ReadDir returns the sorted entries of the directory p. Entries
	// describe the directory members themselves, not link targets.
	ReadDir(p Path) ([]os.FileInfo, error)

	// --- Content ---

	// OpenRead opens p for reading. Implementations that must fetch
	// content before it can be read block until the content is
	// present or ctx ends.
	OpenRead(ctx context.Context, p Path) (File, error)

	// OpenWrite opens p for writing, creating it if needed. With
	// appendMode set writes go to the end of the existing content;
	// otherwise the file is truncated.
	OpenWrite(p Path, appendMode bool) (File, error)

	// Digest computes the content digest of the file at p.
	Digest(p Path) (artifact.Hash, error)

	// FastDigest returns a digest the filesystem already knows
	// without reading content. The bool is false when none is
	// available.
	FastDigest(p Path) (artifact.Hash, bool, error)

	// Getxattr returns the value of an extended attribute, or
	// (nil, nil) when the attribute is not set.
	Getxattr(p Path, name string, follow bool) ([]byte, error)

	// --- Mutations ---

	// CreateDirectory creates a single directory. It reports false
	// without error when a directory already exists at p.
	CreateDirectory(p Path) (bool, error)

	// CreateDirectoryAndParents creates p and any missing parents.
	CreateDirectoryAndParents(p Path) error

	// CreateSymbolicLink creates a symbolic link at link pointing at
	// target. The target is stored verbatim and may be relative.
	CreateSymbolicLink(link Path, target string) error

	// ReadSymbolicLink returns the stored target of the link at p.
	ReadSymbolicLink(p Path) (string, error)

	// ResolveOneLink resolves one level of symbolic link at p. The
	// bool is false when p is not a link.
	ResolveOneLink(p Path) (Path, bool, error)

	// ResolveSymbolicLinks returns the canonical path of p with
	// every symbolic link in every component resolved.
	ResolveSymbolicLinks(p Path) (Path, error)

	// CreateHardLink creates link as a hard link to existing.
	CreateHardLink(link, existing Path) error

	// IsReadable, IsWritable and IsExecutable test the owner
	// permission bits of p, following links.
	IsReadable(p Path) (bool, error)
	IsWritable(p Path) (bool, error)
	IsExecutable(p Path) (bool, error)

	// SetReadable, SetWritable and SetExecutable set or clear the
	// owner permission bit.
	SetReadable(p Path, readable bool) error
	SetWritable(p Path, writable bool) error
	SetExecutable(p Path, executable bool) error

	// Chmod sets the permission bits of p.
	Chmod(p Path, mode os.FileMode) error

	// Rename moves source to target, replacing target if it is a
	// file.
	Rename(source, target Path) error

	// Delete removes the file, link or empty directory at p. It
	// reports false without error when nothing exists at p.
	Delete(p Path) (bool, error)

	// DeleteTree removes p and everything beneath it without
	// following symbolic links. Read-only directories are made
	// writable first.
	DeleteTree(p Path) error

	// DeleteTreesBelow empties the directory p, keeping p itself.
	DeleteTreesBelow(p Path) error

	// --- Capabilities ---

	// FileSystemType names the kind of filesystem holding p (for
	// example "ext4" or "tmpfs").
	FileSystemType(p Path) string

	// IsCaseSensitive reports whether names differing only in case
	// are distinct.
	IsCaseSensitive() bool

	// SupportsModifications reports whether p may be changed.
	SupportsModifications(p Path) bool

	// SupportsSymbolicLinksNatively reports whether symbolic links
	// can be created at p.
	SupportsSymbolicLinksNatively(p Path) bool

	// SupportsHardLinksNatively reports whether hard links can be
	// created at p.
	SupportsHardLinksNatively(p Path) bool
}
