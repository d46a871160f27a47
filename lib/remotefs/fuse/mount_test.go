// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fuse

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/bureau-foundation/actionfs/lib/artifact"
	"github.com/bureau-foundation/actionfs/lib/remotefs"
	"github.com/bureau-foundation/actionfs/lib/vfs"
	"github.com/spf13/afero"
)

const (
	remoteInput    = "out/bin/lib/libremote.a"
	localInput     = "out/bin/lib/local.o"
	declaredOutput = "out/bin/app/libremote.a"
)

// fuseAvailable checks whether /dev/fuse is accessible. Tests that
// need a real FUSE mount call this and skip if the device is absent.
func fuseAvailable(t *testing.T) {
	t.Helper()
	_, err := os.Stat("/dev/fuse")
	if err != nil {
		t.Skip("skipping: /dev/fuse not available")
	}
}

type mountFixture struct {
	mountpoint string
	execRoot   string
	content    []byte
	metadata   artifact.FileMetadata
	recorder   *artifact.Recorder
}

// testMount stores remote content in a DiskStore, builds an ActionFS
// over a fresh exec root, and mounts it.
func testMount(t *testing.T) *mountFixture {
	t.Helper()
	fuseAvailable(t)

	root := t.TempDir()
	store, err := artifact.NewDiskStore(filepath.Join(root, "store"))
	if err != nil {
		t.Fatalf("NewDiskStore: %v", err)
	}
	content := bytes.Repeat([]byte("remote archive member\n"), 4096)
	stored, err := store.PutBytes(content)
	if err != nil {
		t.Fatalf("PutBytes: %v", err)
	}
	metadata := artifact.RemoteFile(stored.Digest, stored.Size)

	execRoot := filepath.Join(root, "execroot")
	if err := os.MkdirAll(filepath.Join(execRoot, "out", "bin", "app"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(execRoot, "out", "bin", "lib"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(execRoot, localInput), []byte("local object"), 0o644); err != nil {
		t.Fatal(err)
	}

	fetcher, err := remotefs.NewInputFetcher(remotefs.FetcherOptions{Source: store})
	if err != nil {
		t.Fatalf("NewInputFetcher: %v", err)
	}
	t.Cleanup(func() { fetcher.Close() })

	actionFS, err := remotefs.New(remotefs.Options{
		Local:              vfs.NewOSFS(),
		ExecRoot:           execRoot,
		RelativeOutputPath: "out",
		Inputs: artifact.NewInputMap(map[string]artifact.FileMetadata{
			remoteInput: metadata,
		}),
		Outputs: []artifact.Artifact{artifact.NewArtifact(declaredOutput)},
		Fetcher: fetcher,
	})
	if err != nil {
		t.Fatalf("remotefs.New: %v", err)
	}
	recorder := &artifact.Recorder{}
	if err := actionFS.Attach(recorder); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	mountpoint := filepath.Join(root, "mount")
	server, err := Mount(Options{
		Mountpoint: mountpoint,
		FS:         actionFS,
	})
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	t.Cleanup(func() {
		if err := server.Unmount(); err != nil {
			t.Errorf("Unmount: %v", err)
		}
	})

	return &mountFixture{
		mountpoint: mountpoint,
		execRoot:   execRoot,
		content:    content,
		metadata:   metadata,
		recorder:   recorder,
	}
}

func TestMountRemoteInputStat(t *testing.T) {
	f := testMount(t)

	info, err := os.Stat(filepath.Join(f.mountpoint, remoteInput))
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if !info.Mode().IsRegular() {
		t.Errorf("mode = %v, want regular file", info.Mode())
	}
	if info.Size() != f.metadata.Size {
		t.Errorf("size = %d, want %d", info.Size(), f.metadata.Size)
	}
	if _, err := os.Lstat(filepath.Join(f.execRoot, remoteInput)); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("remote input staged by stat: %v", err)
	}
}

func TestMountRemoteInputRead(t *testing.T) {
	f := testMount(t)

	read, err := os.ReadFile(filepath.Join(f.mountpoint, remoteInput))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(read, f.content) {
		t.Errorf("read %d bytes, want %d matching bytes", len(read), len(f.content))
	}

	staged, err := os.ReadFile(filepath.Join(f.execRoot, remoteInput))
	if err != nil {
		t.Fatalf("remote input not staged on disk: %v", err)
	}
	if !bytes.Equal(staged, f.content) {
		t.Error("staged content differs")
	}
}

func TestMountLocalPassthrough(t *testing.T) {
	f := testMount(t)

	read, err := os.ReadFile(filepath.Join(f.mountpoint, localInput))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(read) != "local object" {
		t.Errorf("content = %q", read)
	}

	if err := os.WriteFile(filepath.Join(f.mountpoint, "out", "bin", "written"), []byte("new"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if read, err := os.ReadFile(filepath.Join(f.execRoot, "out", "bin", "written")); err != nil || string(read) != "new" {
		t.Errorf("write not passed through: %q, %v", read, err)
	}
}

func TestMountListsRemoteInputs(t *testing.T) {
	f := testMount(t)

	entries, err := os.ReadDir(filepath.Join(f.mountpoint, "out", "bin", "lib"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	names := make(map[string]bool)
	for _, entry := range entries {
		names[entry.Name()] = true
	}
	if !names["libremote.a"] {
		t.Error("missing remote input libremote.a")
	}
	if !names["local.o"] {
		t.Error("missing local input local.o")
	}
	if len(entries) != 2 {
		t.Errorf("expected 2 entries, got %d", len(entries))
	}
}

func TestMountSymlinkToRemoteInjects(t *testing.T) {
	f := testMount(t)

	target := filepath.Join(f.execRoot, remoteInput)
	link := filepath.Join(f.mountpoint, declaredOutput)
	if err := os.Symlink(target, link); err != nil {
		t.Fatalf("Symlink: %v", err)
	}

	injections := f.recorder.Injections()
	if len(injections) != 1 {
		t.Fatalf("injections = %v, want one", injections)
	}
	if injections[0].Output.ExecPath != declaredOutput || injections[0].Metadata != f.metadata {
		t.Errorf("injection = %+v", injections[0])
	}

	if _, err := os.Lstat(filepath.Join(f.execRoot, declaredOutput)); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("injected link written to disk: %v", err)
	}
	readTarget, err := os.Readlink(link)
	if err != nil {
		t.Fatalf("Readlink: %v", err)
	}
	if readTarget != target {
		t.Errorf("link target = %q, want %q", readTarget, target)
	}
}

func TestMountSymlinkToLocalTarget(t *testing.T) {
	f := testMount(t)

	target := filepath.Join(f.execRoot, localInput)
	if err := os.Symlink(target, filepath.Join(f.mountpoint, declaredOutput)); err != nil {
		t.Fatalf("Symlink: %v", err)
	}
	onDiskTarget, err := os.Readlink(filepath.Join(f.execRoot, declaredOutput))
	if err != nil {
		t.Fatalf("link not created on disk: %v", err)
	}
	if onDiskTarget != target {
		t.Errorf("target = %q, want %q", onDiskTarget, target)
	}
	if len(f.recorder.Injections()) != 0 {
		t.Error("local link reported to the sink")
	}
}

func TestMountSymlinkUndeclaredOutput(t *testing.T) {
	f := testMount(t)

	err := os.Symlink(filepath.Join(f.execRoot, remoteInput), filepath.Join(f.mountpoint, "out", "bin", "app", "stray"))
	if !errors.Is(err, syscall.EPERM) {
		t.Fatalf("Symlink error = %v, want EPERM", err)
	}
}

func TestMountRequiresDiskBackedFilesystem(t *testing.T) {
	actionFS, err := remotefs.New(remotefs.Options{
		Local:    vfs.NewLocalFS(afero.NewMemMapFs()),
		ExecRoot: "/execroot",
		Fetcher:  nopFetcher{},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Mount(Options{Mountpoint: t.TempDir(), FS: actionFS}); err == nil {
		t.Fatal("expected error for an in-memory filesystem")
	}
	if _, err := Mount(Options{FS: actionFS}); err == nil {
		t.Fatal("expected error without a mountpoint")
	}
}

func TestErrnoFor(t *testing.T) {
	tests := []struct {
		err  error
		want syscall.Errno
	}{
		{remotefs.ErrFetchInterrupted, syscall.EINTR},
		{remotefs.ErrUnknownOutput, syscall.EPERM},
		{remotefs.ErrSinkNotAttached, syscall.EIO},
		{&remotefs.StagingError{Path: "/x", Err: errors.New("boom")}, syscall.EIO},
		{syscall.ENOENT, syscall.ENOENT},
	}
	for _, test := range tests {
		if got := errnoFor(test.err); got != test.want {
			t.Errorf("errnoFor(%v) = %v, want %v", test.err, got, test.want)
		}
	}
}

func TestVirtualInoStable(t *testing.T) {
	first := virtualIno("/execroot/out/a")
	if first != virtualIno("/execroot/out/a") {
		t.Error("virtualIno is not deterministic")
	}
	if first == virtualIno("/execroot/out/b") {
		t.Error("distinct paths share an inode number")
	}
	if first&(1<<63) == 0 {
		t.Error("virtual inode number missing the high bit")
	}
}

type nopFetcher struct{}

func (nopFetcher) Stage(ctx context.Context, destination vfs.Path, metadata artifact.FileMetadata) error {
	return nil
}
