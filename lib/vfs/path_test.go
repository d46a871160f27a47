// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package vfs

import (
	"testing"

	"github.com/spf13/afero"
)

func TestPathCleaning(t *testing.T) {
	local := NewLocalFS(afero.NewMemMapFs())
	tests := []struct {
		input, want string
	}{
		{"/exec/root", "/exec/root"},
		{"/exec//root/", "/exec/root"},
		{"/exec/./root/../root", "/exec/root"},
		{"/", "/"},
	}
	for _, test := range tests {
		if got := local.Path(test.input).String(); got != test.want {
			t.Errorf("Path(%q) = %q, want %q", test.input, got, test.want)
		}
	}
}

func TestPathRejectsRelative(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for relative path")
		}
	}()
	NewLocalFS(afero.NewMemMapFs()).Path("relative/path")
}

func TestPathIdentityIsPerFileSystem(t *testing.T) {
	first := NewLocalFS(afero.NewMemMapFs())
	second := NewLocalFS(afero.NewMemMapFs())

	if first.Path("/a") != first.Path("/a/") {
		t.Error("same location on same filesystem should be equal")
	}
	if first.Path("/a") == second.Path("/a") {
		t.Error("same string on different filesystems should differ")
	}
	if first.Path("/a").StartsWith(second.Path("/")) {
		t.Error("StartsWith should not cross filesystems")
	}
}

func TestPathRelativeAndParent(t *testing.T) {
	local := NewLocalFS(afero.NewMemMapFs())
	root := local.Path("/exec")

	output := root.Relative("bazel-out/k8-fastbuild/bin/lib.a")
	if output.String() != "/exec/bazel-out/k8-fastbuild/bin/lib.a" {
		t.Errorf("Relative = %s", output)
	}
	if root.Relative("/elsewhere").String() != "/elsewhere" {
		t.Error("absolute fragment should replace the location")
	}
	if output.Base() != "lib.a" {
		t.Errorf("Base = %q, want lib.a", output.Base())
	}

	parent, ok := output.Parent()
	if !ok || parent.String() != "/exec/bazel-out/k8-fastbuild/bin" {
		t.Errorf("Parent = %s, %v", parent, ok)
	}
	if _, ok := local.Path("/").Parent(); ok {
		t.Error("root should have no parent")
	}
}

func TestPathStartsWithAndRelativeTo(t *testing.T) {
	local := NewLocalFS(afero.NewMemMapFs())
	base := local.Path("/exec/out")

	tests := []struct {
		path         string
		startsWith   bool
		relativePath string
	}{
		{"/exec/out", true, ""},
		{"/exec/out/a/b", true, "a/b"},
		{"/exec/output", false, ""},
		{"/exec", false, ""},
	}
	for _, test := range tests {
		p := local.Path(test.path)
		if got := p.StartsWith(base); got != test.startsWith {
			t.Errorf("%s.StartsWith(%s) = %v, want %v", p, base, got, test.startsWith)
		}
		relative, err := p.RelativeTo(base)
		if test.startsWith {
			if err != nil || relative != test.relativePath {
				t.Errorf("%s.RelativeTo = (%q, %v), want %q", p, relative, err, test.relativePath)
			}
		} else if err == nil {
			t.Errorf("%s.RelativeTo(%s) should fail", p, base)
		}
	}

	rooted, err := local.Path("/exec/out").RelativeTo(local.Path("/"))
	if err != nil || rooted != "exec/out" {
		t.Errorf("RelativeTo(/) = (%q, %v)", rooted, err)
	}
}

func TestZeroPath(t *testing.T) {
	var zero Path
	if !zero.IsZero() {
		t.Error("zero Path should report IsZero")
	}
	if NewLocalFS(afero.NewMemMapFs()).Path("/").IsZero() {
		t.Error("bound path should not report IsZero")
	}
}
