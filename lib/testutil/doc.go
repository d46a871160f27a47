// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for actionfs packages.
//
// [SocketDir] creates a short temporary directory in /tmp for Unix
// domain sockets, whose paths are limited to 108 bytes (sun_path in
// sockaddr_un). Test runners often nest t.TempDir() deep enough to
// exceed that.
//
// [RequireReceive] and [RequireClosed] wrap the select-with-timeout
// pattern so tests that wait on goroutines never call time.After
// themselves. They are the only place in the test suite where a real
// wall-clock timeout appears.
//
// All helpers call t.Fatalf on failure rather than returning errors.
package testutil
