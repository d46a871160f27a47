// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// actionfs runs build actions against a filesystem in which some
// inputs live only in a content-addressed store.
//
// Store side:
//
//	actionfs serve                 serve the store over a Unix socket
//	actionfs put FILE...           add files to the store
//	actionfs stat                  query the running service
//	actionfs cat DIGEST SIZE       fetch one blob through the service
//
// Action side, each driven by a JSONC action manifest:
//
//	actionfs read  --manifest M PATH          read a file through the action filesystem
//	actionfs link  --manifest M TARGET LINK   create a symbolic link through it
//	actionfs mount --manifest M --mountpoint DIR
//	                                          expose it over FUSE until interrupted
//
// link and mount print the metadata injected for declared outputs as
// JSON on stdout. Configuration comes from --config or ACTIONFS_CONFIG.
package main
