// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package outputservice is the build-facing coordinator for remote
// action filesystems. A [Service] exists from the start of a build
// but claims no capability until [Service.EnableRemoteExecution]
// hands it a fetcher. From then on it constructs one
// [remotefs.ActionFS] per action and answers the lifecycle questions
// an orchestrator asks of its output layer.
//
// Because remote inputs can be present in an ActionFS without being
// on disk, local modification times say nothing about what changed,
// and [Service.StartBuild] always reports every file as modified.
package outputservice
