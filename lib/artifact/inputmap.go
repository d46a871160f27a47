// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"path"
	"sort"
)

// InputMap is the read-only index from exec-relative path to the
// metadata of an action's inputs. It is built once before the action
// runs and never mutated, so lookups need no synchronization.
type InputMap struct {
	entries map[string]FileMetadata
}

// NewInputMap builds an InputMap from entries. Keys are cleaned with
// slash-separated semantics; the map is copied so later changes by the
// caller are not observed.
func NewInputMap(entries map[string]FileMetadata) *InputMap {
	copied := make(map[string]FileMetadata, len(entries))
	for execPath, metadata := range entries {
		copied[path.Clean(execPath)] = metadata
	}
	return &InputMap{entries: copied}
}

// Metadata returns the metadata recorded for execPath.
func (m *InputMap) Metadata(execPath string) (FileMetadata, bool) {
	if m == nil {
		return FileMetadata{}, false
	}
	metadata, ok := m.entries[execPath]
	return metadata, ok
}

// RemoteMetadata returns the metadata for execPath only when the entry
// exists and is marked remote.
func (m *InputMap) RemoteMetadata(execPath string) (FileMetadata, bool) {
	metadata, ok := m.Metadata(execPath)
	if !ok || !metadata.Remote {
		return FileMetadata{}, false
	}
	return metadata, true
}

// Len returns the number of inputs.
func (m *InputMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}

// RemoteCount returns the number of inputs marked remote.
func (m *InputMap) RemoteCount() int {
	if m == nil {
		return 0
	}
	count := 0
	for _, metadata := range m.entries {
		if metadata.Remote {
			count++
		}
	}
	return count
}

// ExecPaths returns every exec path in sorted order.
func (m *InputMap) ExecPaths() []string {
	if m == nil {
		return nil
	}
	paths := make([]string, 0, len(m.entries))
	for execPath := range m.entries {
		paths = append(paths, execPath)
	}
	sort.Strings(paths)
	return paths
}
