// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package vfs

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/bureau-foundation/actionfs/lib/artifact"
)

// DelegateFS is a FileSystem that forwards every operation to a
// delegate after rebinding the path to the delegate. The path string
// is unchanged by the translation.
//
// Paths passed to a DelegateFS must be bound to its owner: the
// DelegateFS itself when built with NewDelegateFS, or the embedding
// filesystem when built with NewDelegateFSFor.
type DelegateFS struct {
	owner    FileSystem
	delegate FileSystem
}

var _ FileSystem = (*DelegateFS)(nil)

// NewDelegateFS returns a proxy that owns its own paths.
func NewDelegateFS(delegate FileSystem) *DelegateFS {
	d := &DelegateFS{delegate: delegate}
	d.owner = d
	return d
}

// NewDelegateFSFor returns a proxy whose paths are bound to owner. A
// type that embeds *DelegateFS passes itself as owner so that the
// promoted Path method produces paths the embedding type's own
// methods accept.
func NewDelegateFSFor(owner, delegate FileSystem) *DelegateFS {
	if owner == nil || delegate == nil {
		panic("vfs: NewDelegateFSFor requires an owner and a delegate")
	}
	return &DelegateFS{owner: owner, delegate: delegate}
}

// Delegate returns the wrapped filesystem.
func (d *DelegateFS) Delegate() FileSystem {
	return d.delegate
}

// Path binds name to the proxy's owner.
func (d *DelegateFS) Path(name string) Path {
	return NewPath(d.owner, name)
}

// DelegatePath translates a path bound to the owner into the same
// location on the delegate. A path bound to any other filesystem
// panics.
func (d *DelegateFS) DelegatePath(p Path) Path {
	if p.fs != d.owner {
		panic(fmt.Sprintf("vfs: path %s is bound to %T, not to this proxy (owner %T)", p.name, p.fs, d.owner))
	}
	return d.delegate.Path(p.name)
}

// fromDelegate rebinds a path returned by the delegate to the owner.
func (d *DelegateFS) fromDelegate(p Path) Path {
	return NewPath(d.owner, p.name)
}

func (d *DelegateFS) Exists(p Path) bool {
	return d.delegate.Exists(d.DelegatePath(p))
}

func (d *DelegateFS) IsFile(p Path) bool {
	return d.delegate.IsFile(d.DelegatePath(p))
}

func (d *DelegateFS) IsDirectory(p Path) bool {
	return d.delegate.IsDirectory(d.DelegatePath(p))
}

func (d *DelegateFS) IsSymbolicLink(p Path) bool {
	return d.delegate.IsSymbolicLink(d.DelegatePath(p))
}

func (d *DelegateFS) IsSpecialFile(p Path) bool {
	return d.delegate.IsSpecialFile(d.DelegatePath(p))
}

func (d *DelegateFS) Stat(p Path, follow bool) (os.FileInfo, error) {
	return d.delegate.Stat(d.DelegatePath(p), follow)
}

func (d *DelegateFS) StatIfFound(p Path, follow bool) (os.FileInfo, error) {
	return d.delegate.StatIfFound(d.DelegatePath(p), follow)
}

func (d *DelegateFS) FileSize(p Path) (int64, error) {
	return d.delegate.FileSize(d.DelegatePath(p))
}

func (d *DelegateFS) ModTime(p Path) (time.Time, error) {
	return d.delegate.ModTime(d.DelegatePath(p))
}

func (d *DelegateFS) SetModTime(p Path, modified time.Time) error {
	return d.delegate.SetModTime(d.DelegatePath(p), modified)
}

func (d *DelegateFS) DirectoryEntries(p Path) ([]string, error) {
	return d.delegate.DirectoryEntries(d.DelegatePath(p))
}

func (d *DelegateFS) ReadDir(p Path) ([]os.FileInfo, error) {
	return d.delegate.ReadDir(d.DelegatePath(p))
}

func (d *DelegateFS) OpenRead(ctx context.Context, p Path) (File, error) {
	return d.delegate.OpenRead(ctx, d.DelegatePath(p))
}

func (d *DelegateFS) OpenWrite(p Path, appendMode bool) (File, error) {
	return d.delegate.OpenWrite(d.DelegatePath(p), appendMode)
}

func (d *DelegateFS) Digest(p Path) (artifact.Hash, error) {
	return d.delegate.Digest(d.DelegatePath(p))
}

func (d *DelegateFS) FastDigest(p Path) (artifact.Hash, bool, error) {
	return d.delegate.FastDigest(d.DelegatePath(p))
}

func (d *DelegateFS) Getxattr(p Path, name string, follow bool) ([]byte, error) {
	return d.delegate.Getxattr(d.DelegatePath(p), name, follow)
}

func (d *DelegateFS) CreateDirectory(p Path) (bool, error) {
	return d.delegate.CreateDirectory(d.DelegatePath(p))
}

func (d *DelegateFS) CreateDirectoryAndParents(p Path) error {
	return d.delegate.CreateDirectoryAndParents(d.DelegatePath(p))
}

func (d *DelegateFS) CreateSymbolicLink(link Path, target string) error {
	return d.delegate.CreateSymbolicLink(d.DelegatePath(link), target)
}

func (d *DelegateFS) ReadSymbolicLink(p Path) (string, error) {
	return d.delegate.ReadSymbolicLink(d.DelegatePath(p))
}

func (d *DelegateFS) ResolveOneLink(p Path) (Path, bool, error) {
	target, isLink, err := d.delegate.ResolveOneLink(d.DelegatePath(p))
	if err != nil || !isLink {
		return Path{}, isLink, err
	}
	return d.fromDelegate(target), true, nil
}

func (d *DelegateFS) ResolveSymbolicLinks(p Path) (Path, error) {
	resolved, err := d.delegate.ResolveSymbolicLinks(d.DelegatePath(p))
	if err != nil {
		return Path{}, err
	}
	return d.fromDelegate(resolved), nil
}

func (d *DelegateFS) CreateHardLink(link, existing Path) error {
	return d.delegate.CreateHardLink(d.DelegatePath(link), d.DelegatePath(existing))
}

func (d *DelegateFS) IsReadable(p Path) (bool, error) {
	return d.delegate.IsReadable(d.DelegatePath(p))
}

func (d *DelegateFS) IsWritable(p Path) (bool, error) {
	return d.delegate.IsWritable(d.DelegatePath(p))
}

func (d *DelegateFS) IsExecutable(p Path) (bool, error) {
	return d.delegate.IsExecutable(d.DelegatePath(p))
}

func (d *DelegateFS) SetReadable(p Path, readable bool) error {
	return d.delegate.SetReadable(d.DelegatePath(p), readable)
}

func (d *DelegateFS) SetWritable(p Path, writable bool) error {
	return d.delegate.SetWritable(d.DelegatePath(p), writable)
}

func (d *DelegateFS) SetExecutable(p Path, executable bool) error {
	return d.delegate.SetExecutable(d.DelegatePath(p), executable)
}

func (d *DelegateFS) Chmod(p Path, mode os.FileMode) error {
	return d.delegate.Chmod(d.DelegatePath(p), mode)
}

func (d *DelegateFS) Rename(source, target Path) error {
	return d.delegate.Rename(d.DelegatePath(source), d.DelegatePath(target))
}

func (d *DelegateFS) Delete(p Path) (bool, error) {
	return d.delegate.Delete(d.DelegatePath(p))
}

func (d *DelegateFS) DeleteTree(p Path) error {
	return d.delegate.DeleteTree(d.DelegatePath(p))
}

func (d *DelegateFS) DeleteTreesBelow(p Path) error {
	return d.delegate.DeleteTreesBelow(d.DelegatePath(p))
}

func (d *DelegateFS) FileSystemType(p Path) string {
	return d.delegate.FileSystemType(d.DelegatePath(p))
}

func (d *DelegateFS) IsCaseSensitive() bool {
	return d.delegate.IsCaseSensitive()
}

func (d *DelegateFS) SupportsModifications(p Path) bool {
	return d.delegate.SupportsModifications(d.DelegatePath(p))
}

func (d *DelegateFS) SupportsSymbolicLinksNatively(p Path) bool {
	return d.delegate.SupportsSymbolicLinksNatively(d.DelegatePath(p))
}

func (d *DelegateFS) SupportsHardLinksNatively(p Path) bool {
	return d.delegate.SupportsHardLinksNatively(d.DelegatePath(p))
}
