// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package manifest reads action manifests: JSONC files that describe
// one action to run against a remote action filesystem.
//
// A manifest names the exec root, the output path relative to it, the
// metadata of every input keyed by exec path, and the declared
// outputs. Comments and trailing commas are allowed:
//
//	{
//	    "exec_root": "/work/execroot",
//	    "output_path": "bazel-out",
//	    "inputs": {
//	        // Built remotely; staged on first read.
//	        "bazel-out/k8-fastbuild/bin/lib/liblib.a": {
//	            "digest": "3b0c…",
//	            "size": 1048576,
//	            "remote": true,
//	        },
//	    },
//	    "outputs": ["bazel-out/k8-fastbuild/bin/app/liblib.a"],
//	}
//
// The typical flow is ReadFile, then Validate, then InputMap and
// Outputs to build a [remotefs.ActionFS].
package manifest
