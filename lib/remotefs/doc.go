// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package remotefs implements the filesystem a build action sees when
// some of its inputs live only in a content-addressed store.
//
// [ActionFS] wraps a local [vfs.FileSystem] for the duration of one
// build. It consults an immutable index of input metadata for paths
// under the output base and answers existence and permission queries
// for remote inputs without touching the disk. Reading a remote input
// stages it first through a [Fetcher]. Creating a symbolic link whose
// target is a remote input does not touch the disk either: the link's
// declared output is reported to the attached
// [artifact.MetadataSink] with the target's metadata, so the link
// materialises as metadata rather than bytes. Everything else is
// forwarded to the local filesystem unchanged.
//
// [InputFetcher] is the Fetcher used outside tests. It downloads from
// an [artifact.BlobSource], runs at most one download per destination,
// bounds concurrent downloads, and renames content into place only
// after its size and digest check out.
package remotefs
