// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package vfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/actionfs/lib/artifact"
)

// maxSymlinkHops bounds symbolic link resolution, matching the
// kernel's MAXSYMLINKS.
const maxSymlinkHops = 40

// Filesystem magic numbers reported by statfs(2).
var fileSystemTypes = map[int64]string{
	0xEF53:     "ext4",
	0x01021994: "tmpfs",
	0x9123683E: "btrfs",
	0x58465342: "xfs",
	0x794C7630: "overlayfs",
	0x65735546: "fuse",
	0x6969:     "nfs",
	0x2FC12FC2: "zfs",
	0x00009FA0: "proc",
	0x62656572: "sysfs",
}

// LocalFS implements FileSystem over an afero.Fs. Path names are
// passed to the afero filesystem unchanged.
type LocalFS struct {
	fs afero.Fs
}

var _ FileSystem = (*LocalFS)(nil)

// NewLocalFS wraps an afero filesystem.
func NewLocalFS(backing afero.Fs) *LocalFS {
	return &LocalFS{fs: backing}
}

// NewOSFS returns a LocalFS over the real disk.
func NewOSFS() *LocalFS {
	return NewLocalFS(afero.NewOsFs())
}

// Afero returns the backing afero filesystem.
func (l *LocalFS) Afero() afero.Fs {
	return l.fs
}

// Path binds name to l.
func (l *LocalFS) Path(name string) Path {
	return NewPath(l, name)
}

// nameOf returns the afero name for p, panicking if p belongs to a
// different filesystem.
func (l *LocalFS) nameOf(p Path) string {
	if p.fs != FileSystem(l) {
		panic(fmt.Sprintf("vfs: path %s is bound to %T, not this LocalFS", p.name, p.fs))
	}
	return p.name
}

// OnDisk reports whether l reaches the real disk, where x/sys/unix
// calls can be made against the same names.
func (l *LocalFS) OnDisk() bool {
	switch l.fs.(type) {
	case *afero.OsFs, afero.OsFs:
		return true
	}
	return false
}

func (l *LocalFS) lstat(name string) (os.FileInfo, error) {
	if lstater, ok := l.fs.(afero.Lstater); ok {
		info, _, err := lstater.LstatIfPossible(name)
		return info, err
	}
	return l.fs.Stat(name)
}

func (l *LocalFS) stat(name string, follow bool) (os.FileInfo, error) {
	if follow {
		return l.fs.Stat(name)
	}
	return l.lstat(name)
}

// --- Queries ---

func (l *LocalFS) Exists(p Path) bool {
	_, err := l.fs.Stat(l.nameOf(p))
	return err == nil
}

func (l *LocalFS) IsFile(p Path) bool {
	info, err := l.fs.Stat(l.nameOf(p))
	return err == nil && info.Mode().IsRegular()
}

func (l *LocalFS) IsDirectory(p Path) bool {
	info, err := l.fs.Stat(l.nameOf(p))
	return err == nil && info.IsDir()
}

func (l *LocalFS) IsSymbolicLink(p Path) bool {
	info, err := l.lstat(l.nameOf(p))
	return err == nil && info.Mode()&os.ModeSymlink != 0
}

func (l *LocalFS) IsSpecialFile(p Path) bool {
	info, err := l.fs.Stat(l.nameOf(p))
	if err != nil {
		return false
	}
	return !info.Mode().IsRegular() && !info.IsDir() && info.Mode()&os.ModeSymlink == 0
}

func (l *LocalFS) Stat(p Path, follow bool) (os.FileInfo, error) {
	return l.stat(l.nameOf(p), follow)
}

func (l *LocalFS) StatIfFound(p Path, follow bool) (os.FileInfo, error) {
	info, err := l.stat(l.nameOf(p), follow)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return info, err
}

func (l *LocalFS) FileSize(p Path) (int64, error) {
	info, err := l.fs.Stat(l.nameOf(p))
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (l *LocalFS) ModTime(p Path) (time.Time, error) {
	info, err := l.fs.Stat(l.nameOf(p))
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

func (l *LocalFS) SetModTime(p Path, modified time.Time) error {
	return l.fs.Chtimes(l.nameOf(p), modified, modified)
}

func (l *LocalFS) DirectoryEntries(p Path) ([]string, error) {
	directory, err := l.fs.Open(l.nameOf(p))
	if err != nil {
		return nil, err
	}
	defer directory.Close()

	names, err := directory.Readdirnames(-1)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (l *LocalFS) ReadDir(p Path) ([]os.FileInfo, error) {
	return afero.ReadDir(l.fs, l.nameOf(p))
}

// --- Content ---

// OpenRead opens p for reading. The local disk never blocks on
// fetching, so ctx is only checked before opening.
func (l *LocalFS) OpenRead(ctx context.Context, p Path) (File, error) {
	name := l.nameOf(p)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l.fs.Open(name)
}

func (l *LocalFS) OpenWrite(p Path, appendMode bool) (File, error) {
	flags := os.O_WRONLY | os.O_CREATE
	if appendMode {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	return l.fs.OpenFile(l.nameOf(p), flags, 0o666)
}

func (l *LocalFS) Digest(p Path) (artifact.Hash, error) {
	file, err := l.fs.Open(l.nameOf(p))
	if err != nil {
		return artifact.Hash{}, err
	}
	defer file.Close()

	digest, _, err := artifact.HashReader(file)
	if err != nil {
		return artifact.Hash{}, fmt.Errorf("digesting %s: %w", p.name, err)
	}
	return digest, nil
}

// FastDigest always reports no digest: the local disk keeps none.
func (l *LocalFS) FastDigest(p Path) (artifact.Hash, bool, error) {
	l.nameOf(p)
	return artifact.Hash{}, false, nil
}

func (l *LocalFS) Getxattr(p Path, name string, follow bool) ([]byte, error) {
	fileName := l.nameOf(p)
	if !l.OnDisk() {
		return nil, fmt.Errorf("getxattr on %s: %w", l.fs.Name(), errors.ErrUnsupported)
	}

	get := unix.Getxattr
	if !follow {
		get = unix.Lgetxattr
	}
	buffer := make([]byte, 256)
	for {
		size, err := get(fileName, name, buffer)
		switch {
		case errors.Is(err, unix.ENODATA):
			return nil, nil
		case errors.Is(err, unix.ERANGE):
			// Ask for the size and retry with a large enough buffer.
			needed, sizeErr := get(fileName, name, nil)
			if sizeErr != nil {
				return nil, &os.PathError{Op: "getxattr", Path: fileName, Err: sizeErr}
			}
			buffer = make([]byte, needed)
			continue
		case err != nil:
			return nil, &os.PathError{Op: "getxattr", Path: fileName, Err: err}
		}
		return buffer[:size], nil
	}
}

// --- Mutations ---

func (l *LocalFS) CreateDirectory(p Path) (bool, error) {
	name := l.nameOf(p)
	err := l.fs.Mkdir(name, 0o777)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrExist) {
		if info, statErr := l.lstat(name); statErr == nil && info.IsDir() {
			return false, nil
		}
	}
	return false, err
}

func (l *LocalFS) CreateDirectoryAndParents(p Path) error {
	return l.fs.MkdirAll(l.nameOf(p), 0o777)
}

func (l *LocalFS) CreateSymbolicLink(link Path, target string) error {
	name := l.nameOf(link)
	linker, ok := l.fs.(afero.Linker)
	if !ok {
		return &os.LinkError{Op: "symlink", Old: target, New: name, Err: afero.ErrNoSymlink}
	}
	return linker.SymlinkIfPossible(target, name)
}

func (l *LocalFS) ReadSymbolicLink(p Path) (string, error) {
	name := l.nameOf(p)
	reader, ok := l.fs.(afero.LinkReader)
	if !ok {
		return "", &os.PathError{Op: "readlink", Path: name, Err: afero.ErrNoReadlink}
	}
	return reader.ReadlinkIfPossible(name)
}

func (l *LocalFS) ResolveOneLink(p Path) (Path, bool, error) {
	name := l.nameOf(p)
	info, err := l.lstat(name)
	if err != nil {
		return Path{}, false, err
	}
	if info.Mode()&os.ModeSymlink == 0 {
		return Path{}, false, nil
	}
	target, err := l.ReadSymbolicLink(p)
	if err != nil {
		return Path{}, false, err
	}
	return NewPath(l, path.Dir(name)).Relative(target), true, nil
}

func (l *LocalFS) ResolveSymbolicLinks(p Path) (Path, error) {
	name := l.nameOf(p)
	resolved := "/"
	remaining := strings.Split(strings.TrimPrefix(name, "/"), "/")
	hops := 0

	for len(remaining) > 0 {
		component := remaining[0]
		remaining = remaining[1:]
		if component == "" || component == "." {
			continue
		}
		if component == ".." {
			resolved = path.Dir(resolved)
			continue
		}

		candidate := path.Join(resolved, component)
		info, err := l.lstat(candidate)
		if err != nil {
			return Path{}, err
		}
		if info.Mode()&os.ModeSymlink == 0 {
			resolved = candidate
			continue
		}

		hops++
		if hops > maxSymlinkHops {
			return Path{}, &os.PathError{Op: "resolve", Path: name, Err: unix.ELOOP}
		}
		target, err := l.ReadSymbolicLink(NewPath(l, candidate))
		if err != nil {
			return Path{}, err
		}
		if path.IsAbs(target) {
			resolved = "/"
		}
		remaining = append(strings.Split(target, "/"), remaining...)
	}
	return NewPath(l, resolved), nil
}

func (l *LocalFS) CreateHardLink(link, existing Path) error {
	linkName := l.nameOf(link)
	existingName := l.nameOf(existing)
	if !l.OnDisk() {
		return &os.LinkError{Op: "link", Old: existingName, New: linkName, Err: errors.ErrUnsupported}
	}
	return os.Link(existingName, linkName)
}

func (l *LocalFS) IsReadable(p Path) (bool, error) {
	return l.hasOwnerBit(p, 0o400)
}

func (l *LocalFS) IsWritable(p Path) (bool, error) {
	return l.hasOwnerBit(p, 0o200)
}

func (l *LocalFS) IsExecutable(p Path) (bool, error) {
	return l.hasOwnerBit(p, 0o100)
}

func (l *LocalFS) SetReadable(p Path, readable bool) error {
	return l.setOwnerBit(p, 0o400, readable)
}

func (l *LocalFS) SetWritable(p Path, writable bool) error {
	return l.setOwnerBit(p, 0o200, writable)
}

func (l *LocalFS) SetExecutable(p Path, executable bool) error {
	return l.setOwnerBit(p, 0o100, executable)
}

func (l *LocalFS) hasOwnerBit(p Path, bit os.FileMode) (bool, error) {
	info, err := l.fs.Stat(l.nameOf(p))
	if err != nil {
		return false, err
	}
	return info.Mode().Perm()&bit != 0, nil
}

func (l *LocalFS) setOwnerBit(p Path, bit os.FileMode, set bool) error {
	name := l.nameOf(p)
	info, err := l.fs.Stat(name)
	if err != nil {
		return err
	}
	mode := info.Mode().Perm()
	if set {
		mode |= bit
	} else {
		mode &^= bit
	}
	return l.fs.Chmod(name, mode)
}

func (l *LocalFS) Chmod(p Path, mode os.FileMode) error {
	return l.fs.Chmod(l.nameOf(p), mode)
}

func (l *LocalFS) Rename(source, target Path) error {
	return l.fs.Rename(l.nameOf(source), l.nameOf(target))
}

func (l *LocalFS) Delete(p Path) (bool, error) {
	err := l.fs.Remove(l.nameOf(p))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (l *LocalFS) DeleteTree(p Path) error {
	name := l.nameOf(p)
	info, err := l.lstat(name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.IsDir() {
		if err := l.removeContents(name); err != nil {
			return err
		}
	}
	return l.fs.Remove(name)
}

func (l *LocalFS) DeleteTreesBelow(p Path) error {
	name := l.nameOf(p)
	info, err := l.lstat(name)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return &os.PathError{Op: "delete trees below", Path: name, Err: unix.ENOTDIR}
	}
	return l.removeContents(name)
}

// removeContents deletes everything inside the directory name without
// following links, granting the owner write access to each directory
// before emptying it.
func (l *LocalFS) removeContents(name string) error {
	info, err := l.lstat(name)
	if err != nil {
		return err
	}
	if info.Mode().Perm()&0o700 != 0o700 {
		if err := l.fs.Chmod(name, info.Mode().Perm()|0o700); err != nil {
			return err
		}
	}

	entries, err := afero.ReadDir(l.fs, name)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		child := path.Join(name, entry.Name())
		if entry.IsDir() && entry.Mode()&os.ModeSymlink == 0 {
			if err := l.removeContents(child); err != nil {
				return err
			}
		}
		if err := l.fs.Remove(child); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// --- Capabilities ---

func (l *LocalFS) FileSystemType(p Path) string {
	name := l.nameOf(p)
	if !l.OnDisk() {
		return l.fs.Name()
	}
	var statfs unix.Statfs_t
	if err := unix.Statfs(name, &statfs); err != nil {
		return "unknown"
	}
	if typeName, ok := fileSystemTypes[int64(statfs.Type)]; ok {
		return typeName
	}
	return fmt.Sprintf("0x%x", statfs.Type)
}

func (l *LocalFS) IsCaseSensitive() bool {
	return true
}

func (l *LocalFS) SupportsModifications(p Path) bool {
	l.nameOf(p)
	_, readOnly := l.fs.(*afero.ReadOnlyFs)
	return !readOnly
}

func (l *LocalFS) SupportsSymbolicLinksNatively(p Path) bool {
	l.nameOf(p)
	_, ok := l.fs.(afero.Linker)
	return ok
}

func (l *LocalFS) SupportsHardLinksNatively(p Path) bool {
	l.nameOf(p)
	return l.OnDisk()
}
