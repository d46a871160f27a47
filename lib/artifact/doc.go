// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package artifact defines the metadata model the action filesystem
// works with and the content-addressed store collaborators that supply
// remote bytes.
//
// The package is organized in layers:
//
//   - Hashing: BLAKE3 in keyed mode with a content domain key. A
//     [Hash] is the digest half of [FileMetadata]; it marshals as lower
//     case hex text in JSON, CBOR and logs.
//
//   - Metadata: [FileMetadata] (digest, size, remote flag), [Artifact]
//     (the identity of a declared output), the immutable [InputMap]
//     that the orchestrator builds before an action runs, and the
//     [MetadataSink] through which injected outputs are reported.
//
//   - Storage: [DiskStore] keeps blobs in a sharded directory and is
//     the simplest [BlobSource]. [Server] exposes any BlobSource over a
//     Unix socket, and [Client] is the matching BlobSource that fetches
//     from it.
//
//   - Transfer: length-prefixed CBOR headers followed by either a sized
//     raw body or a framed, compressed body (LZ4 or zstd). The framing
//     lets the receiver find the end of a compressed stream whose length
//     is not known upfront.
//
// Staging (writing fetched bytes to the path an action will read) is
// not done here; see remotefs.InputFetcher.
package artifact
