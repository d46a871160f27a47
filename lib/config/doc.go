// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the actionfs
// command.
//
// Configuration is loaded from a single file specified by either the
// ACTIONFS_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks and no automatic file
// search.
//
// The file may contain development and production sections that
// override base values when [Config].Environment matches. Production
// never skips digest verification of fetched content and defaults to
// JSON logs.
//
// Variable expansion is performed on path fields after loading:
// ${HOME} and ${VAR:-default} patterns are expanded. No other
// environment variables override config values.
//
// This package depends on no other actionfs packages.
package config
