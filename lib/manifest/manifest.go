// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/bureau-foundation/actionfs/lib/artifact"
)

// Manifest describes one action.
type Manifest struct {
	// ExecRoot is the absolute directory the action runs in.
	ExecRoot string `json:"exec_root"`

	// OutputPath is the output base relative to ExecRoot. Only
	// inputs beneath it can be remote.
	OutputPath string `json:"output_path"`

	// Inputs maps exec paths to the metadata of their content.
	Inputs map[string]artifact.FileMetadata `json:"inputs"`

	// Outputs are the exec paths the action declares.
	Outputs []string `json:"outputs"`
}

// Parse strips JSONC comments and trailing commas from data and
// unmarshals the result. Unknown fields are rejected.
func Parse(data []byte) (*Manifest, error) {
	stripped := jsonc.ToJSON(data)

	decoder := json.NewDecoder(bytes.NewReader(stripped))
	decoder.DisallowUnknownFields()
	var manifest Manifest
	if err := decoder.Decode(&manifest); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	return &manifest, nil
}

// ReadFile reads and parses a JSONC manifest file.
func ReadFile(filename string) (*Manifest, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", filename, err)
	}
	manifest, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return manifest, nil
}

// Validate checks the manifest and returns every problem found.
func (m *Manifest) Validate() error {
	var errs []error

	if m.ExecRoot == "" {
		errs = append(errs, fmt.Errorf("exec_root is required"))
	} else if !path.IsAbs(m.ExecRoot) {
		errs = append(errs, fmt.Errorf("exec_root %q must be absolute", m.ExecRoot))
	}

	outputPath := path.Clean(m.OutputPath)
	if m.OutputPath == "" {
		errs = append(errs, fmt.Errorf("output_path is required"))
	} else if !isRelative(outputPath) {
		errs = append(errs, fmt.Errorf("output_path %q must be relative to exec_root", m.OutputPath))
	}

	for _, execPath := range sortedKeys(m.Inputs) {
		metadata := m.Inputs[execPath]
		if !isRelative(path.Clean(execPath)) {
			errs = append(errs, fmt.Errorf("input %q must be relative to exec_root", execPath))
			continue
		}
		if metadata.Size < 0 {
			errs = append(errs, fmt.Errorf("input %q has negative size %d", execPath, metadata.Size))
		}
		if !metadata.Remote {
			continue
		}
		if metadata.Digest.IsZero() {
			errs = append(errs, fmt.Errorf("remote input %q has no digest", execPath))
		}
		if m.OutputPath != "" && !under(path.Clean(execPath), outputPath) {
			errs = append(errs, fmt.Errorf("remote input %q is outside output_path %q and would never be staged", execPath, m.OutputPath))
		}
	}

	for _, output := range m.Outputs {
		if output == "" || !isRelative(path.Clean(output)) {
			errs = append(errs, fmt.Errorf("output %q must be a relative exec path", output))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// InputMap returns the inputs as an immutable index.
func (m *Manifest) InputMap() *artifact.InputMap {
	return artifact.NewInputMap(m.Inputs)
}

// Artifacts returns the declared outputs in manifest order.
func (m *Manifest) Artifacts() []artifact.Artifact {
	artifacts := make([]artifact.Artifact, len(m.Outputs))
	for i, output := range m.Outputs {
		artifacts[i] = artifact.NewArtifact(output)
	}
	return artifacts
}

func isRelative(cleaned string) bool {
	return !path.IsAbs(cleaned) && cleaned != ".." && !strings.HasPrefix(cleaned, "../")
}

func under(cleaned, base string) bool {
	return base == "." || cleaned == base || strings.HasPrefix(cleaned, base+"/")
}

func sortedKeys(inputs map[string]artifact.FileMetadata) []string {
	keys := make([]string, 0, len(inputs))
	for key := range inputs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
