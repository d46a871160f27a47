// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"fmt"
	"path"
	"sort"
	"sync"
)

// FileMetadata identifies the content of one file: its digest, its
// size in bytes, and whether the authoritative copy lives in the remote
// store. Metadata for a locally cached copy of the same logical file has
// Remote unset and never triggers remote behavior.
type FileMetadata struct {
	Digest Hash  `json:"digest"`
	Size   int64 `json:"size"`
	Remote bool  `json:"remote,omitempty"`
}

// RemoteFile returns metadata describing a remote file.
func RemoteFile(digest Hash, size int64) FileMetadata {
	return FileMetadata{Digest: digest, Size: size, Remote: true}
}

// String implements fmt.Stringer for log output.
func (m FileMetadata) String() string {
	location := "local"
	if m.Remote {
		location = "remote"
	}
	return fmt.Sprintf("%s/%d (%s)", m.Digest.Short(), m.Size, location)
}

// Artifact is the identity of a declared output: the file the
// orchestrator expects an action to produce at ExecPath, which is
// relative to the exec root.
type Artifact struct {
	ExecPath string `json:"exec_path"`
}

// NewArtifact returns the artifact for execPath, cleaned with
// slash-separated semantics.
func NewArtifact(execPath string) Artifact {
	return Artifact{ExecPath: path.Clean(execPath)}
}

// String implements fmt.Stringer.
func (a Artifact) String() string {
	return a.ExecPath
}

// MetadataSink accepts metadata for outputs that an action produced
// logically but not physically. The orchestrator persists each pair as
// if the output had been written to disk.
type MetadataSink interface {
	InjectMetadata(output Artifact, metadata FileMetadata) error
}

// SinkFunc adapts a function to the MetadataSink interface.
type SinkFunc func(output Artifact, metadata FileMetadata) error

// InjectMetadata implements MetadataSink.
func (f SinkFunc) InjectMetadata(output Artifact, metadata FileMetadata) error {
	return f(output, metadata)
}

// Injection is one recorded MetadataSink call.
type Injection struct {
	Output   Artifact     `json:"output"`
	Metadata FileMetadata `json:"metadata"`
}

// Recorder is a MetadataSink that keeps every injection in memory. The
// CLI prints its contents after an action; tests assert on them. Safe
// for concurrent use.
type Recorder struct {
	mu         sync.Mutex
	injections []Injection
}

var _ MetadataSink = (*Recorder)(nil)

// InjectMetadata implements MetadataSink.
func (r *Recorder) InjectMetadata(output Artifact, metadata FileMetadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.injections = append(r.injections, Injection{Output: output, Metadata: metadata})
	return nil
}

// Injections returns a copy of the recorded injections in call order.
func (r *Recorder) Injections() []Injection {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]Injection, len(r.injections))
	copy(result, r.injections)
	return result
}

// Outputs returns the latest metadata recorded per output, keyed by
// exec path, with the keys sorted.
func (r *Recorder) Outputs() ([]string, map[string]FileMetadata) {
	r.mu.Lock()
	defer r.mu.Unlock()
	latest := make(map[string]FileMetadata, len(r.injections))
	for _, injection := range r.injections {
		latest[injection.Output.ExecPath] = injection.Metadata
	}
	keys := make([]string, 0, len(latest))
	for key := range latest {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, latest
}
