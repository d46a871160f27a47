// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"bytes"
	"strings"
	"testing"
)

func TestInfo(t *testing.T) {
	originalCommit, originalDirty := GitCommit, GitDirty
	t.Cleanup(func() { GitCommit, GitDirty = originalCommit, originalDirty })

	GitCommit = "abc1234"
	GitDirty = "false"
	if info := Info(); !strings.Contains(info, "(abc1234, ") {
		t.Errorf("Info() = %q", info)
	}

	GitDirty = "true"
	if info := Info(); !strings.Contains(info, "abc1234-dirty") {
		t.Errorf("dirty Info() = %q", info)
	}
}

func TestFprint(t *testing.T) {
	var buffer bytes.Buffer
	Fprint(&buffer, "actionfs")
	output := buffer.String()
	if !strings.HasPrefix(output, "actionfs "+Version) {
		t.Errorf("output = %q", output)
	}
	if !strings.Contains(output, "Platform: ") {
		t.Errorf("output lacks platform: %q", output)
	}
}
