// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build version information for the actionfs
// binary.
//
// [GitCommit], [GitDirty], [BuildTime] and [Version] are injected at
// build time with -ldflags -X and default to "unknown" / "0.1.0-dev"
// in development builds and tests:
//
//	go build -ldflags "-X github.com/bureau-foundation/actionfs/lib/version.GitCommit=$(git rev-parse --short HEAD)"
package version
