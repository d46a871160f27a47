// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fuse exposes an [remotefs.ActionFS] to unmodified processes
// as a FUSE filesystem.
//
// The mount is a loopback over the action's exec root. Everything
// present on disk is passed through. Remote inputs that have not been
// staged yet appear as read-only regular files with their recorded
// size; the first open stages them through the ActionFS fetcher and
// then serves the local copy. Symbolic links created under the mount
// go through [remotefs.ActionFS.CreateSymbolicLink], so a link to a
// remote input from a declared output is reported to the attached
// metadata sink instead of being written. Such injected links stay
// visible in the mount for the lifetime of the server.
//
// Mounting requires /dev/fuse and an ActionFS whose local filesystem
// is the real disk.
package fuse
