// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package vfs

import (
	"fmt"
	"path"
	"strings"
)

// Path is an absolute, cleaned location bound to one FileSystem
// instance. The zero Path is bound to nothing and is only useful as a
// "no path" sentinel.
type Path struct {
	fs   FileSystem
	name string
}

// NewPath binds name to fsys. The name must be absolute; it is
// cleaned. FileSystem implementations call this from their Path
// method.
func NewPath(fsys FileSystem, name string) Path {
	if fsys == nil {
		panic("vfs: NewPath called with a nil filesystem")
	}
	if !path.IsAbs(name) {
		panic(fmt.Sprintf("vfs: path %q is not absolute", name))
	}
	return Path{fs: fsys, name: path.Clean(name)}
}

// FileSystem returns the filesystem the path is bound to.
func (p Path) FileSystem() FileSystem {
	return p.fs
}

// String returns the absolute path string.
func (p Path) String() string {
	return p.name
}

// IsZero reports whether p is the zero Path.
func (p Path) IsZero() bool {
	return p.fs == nil
}

// Relative resolves fragment against p. An absolute fragment replaces
// p's location but keeps the filesystem binding.
func (p Path) Relative(fragment string) Path {
	if path.IsAbs(fragment) {
		return NewPath(p.fs, fragment)
	}
	return NewPath(p.fs, path.Join(p.name, fragment))
}

// Parent returns the containing directory. The root has no parent.
func (p Path) Parent() (Path, bool) {
	if p.name == "/" {
		return Path{}, false
	}
	return Path{fs: p.fs, name: path.Dir(p.name)}, true
}

// Base returns the last element of the path.
func (p Path) Base() string {
	return path.Base(p.name)
}

// StartsWith reports whether p is ancestor or lies beneath it, on the
// same filesystem. The comparison is by whole path components.
func (p Path) StartsWith(ancestor Path) bool {
	if p.fs != ancestor.fs || p.fs == nil {
		return false
	}
	if ancestor.name == "/" || p.name == ancestor.name {
		return true
	}
	return strings.HasPrefix(p.name, ancestor.name+"/")
}

// RelativeTo returns p relative to ancestor, or an error if p is not
// beneath it. A path is relative to itself as the empty string.
func (p Path) RelativeTo(ancestor Path) (string, error) {
	if !p.StartsWith(ancestor) {
		return "", fmt.Errorf("%s is not beneath %s", p.name, ancestor.name)
	}
	if p.name == ancestor.name {
		return "", nil
	}
	if ancestor.name == "/" {
		return p.name[1:], nil
	}
	return p.name[len(ancestor.name)+1:], nil
}
