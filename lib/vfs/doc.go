// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package vfs defines the filesystem abstraction that build actions
// run against, a local implementation, and a transparent proxy.
//
// A [Path] is bound to the [FileSystem] that created it. Operations on
// a filesystem accept only its own paths; passing a path bound to a
// different instance is a programming error and panics. Paths are
// comparable values, so two paths are equal exactly when they name the
// same absolute location on the same filesystem instance.
//
// [LocalFS] implements FileSystem over an [afero.Fs]. Backed by
// [afero.OsFs] it reaches the real disk and supports extended
// attributes, hard links and filesystem type detection through
// golang.org/x/sys/unix; backed by an in-memory afero filesystem it
// serves tests and reports those operations as unsupported.
//
// [DelegateFS] forwards every operation to a delegate filesystem after
// rebinding the path. Types that embed a *DelegateFS and override a
// handful of methods get a complete FileSystem that intercepts only
// what they override; [NewDelegateFSFor] binds the proxy's paths to
// the embedding type so that paths created through either one are
// accepted by both.
package vfs
