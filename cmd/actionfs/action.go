// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/actionfs/lib/artifact"
	"github.com/bureau-foundation/actionfs/lib/manifest"
	"github.com/bureau-foundation/actionfs/lib/outputservice"
	"github.com/bureau-foundation/actionfs/lib/remotefs"
	"github.com/bureau-foundation/actionfs/lib/remotefs/fuse"
	"github.com/bureau-foundation/actionfs/lib/vfs"
)

// action is one action filesystem built from a manifest, with the
// fetcher behind it and a recorder as its metadata sink.
type action struct {
	fs       *remotefs.ActionFS
	fetcher  *remotefs.InputFetcher
	recorder *artifact.Recorder
	env      *environment
}

func openAction(env *environment, manifestPath string) (*action, error) {
	if manifestPath == "" {
		return nil, fmt.Errorf("--manifest is required")
	}
	actionManifest, err := manifest.ReadFile(manifestPath)
	if err != nil {
		return nil, err
	}
	if err := actionManifest.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", manifestPath, err)
	}

	source := env.source
	if source == nil {
		client, err := newClient(env)
		if err != nil {
			return nil, err
		}
		source = client
	}
	fetcher, err := remotefs.NewInputFetcher(remotefs.FetcherOptions{
		Source:        source,
		MaxConcurrent: env.config.Fetch.MaxConcurrent,
		SkipVerify:    env.config.Fetch.SkipVerify,
		Logger:        env.logger,
	})
	if err != nil {
		return nil, err
	}

	service := outputservice.New(outputservice.Options{Logger: env.logger})
	if err := service.EnableRemoteExecution(fetcher); err != nil {
		fetcher.Close()
		return nil, err
	}
	actionFS, err := service.CreateActionFileSystem(
		vfs.NewOSFS(),
		actionManifest.ExecRoot,
		actionManifest.OutputPath,
		nil,
		actionManifest.InputMap(),
		actionManifest.Artifacts(),
	)
	if err != nil {
		fetcher.Close()
		return nil, err
	}
	recorder := &artifact.Recorder{}
	if err := service.UpdateActionFileSystemContext(actionFS, recorder, nil); err != nil {
		fetcher.Close()
		return nil, err
	}

	return &action{fs: actionFS, fetcher: fetcher, recorder: recorder, env: env}, nil
}

// path resolves name against the exec root.
func (a *action) path(name string) vfs.Path {
	return a.fs.ExecRoot().Relative(filepath.ToSlash(name))
}

func (a *action) Close() {
	a.fetcher.Close()
	stats := a.fetcher.Stats()
	a.env.logger.Debug("action finished",
		"downloads", stats.Downloads,
		"skipped", stats.Skipped,
		"bytes", stats.Bytes,
		"injections", len(a.recorder.Injections()),
	)
}

func (a *action) printInjections() error {
	injections := a.recorder.Injections()
	if injections == nil {
		injections = []artifact.Injection{}
	}
	encoder := json.NewEncoder(a.env.stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(injections)
}

func actionFlags(name string) (*pflag.FlagSet, *string) {
	flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
	manifestPath := flagSet.String("manifest", "", "path to the JSONC action manifest (required)")
	return flagSet, manifestPath
}

func runRead(ctx context.Context, env *environment, args []string) error {
	flagSet, manifestPath := actionFlags("read")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if flagSet.NArg() != 1 {
		return fmt.Errorf("usage: actionfs read --manifest M PATH")
	}

	opened, err := openAction(env, *manifestPath)
	if err != nil {
		return err
	}
	defer opened.Close()

	file, err := opened.fs.OpenRead(ctx, opened.path(flagSet.Arg(0)))
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = io.Copy(env.stdout, file)
	return err
}

func runLink(ctx context.Context, env *environment, args []string) error {
	flagSet, manifestPath := actionFlags("link")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if flagSet.NArg() != 2 {
		return fmt.Errorf("usage: actionfs link --manifest M TARGET LINK")
	}

	opened, err := openAction(env, *manifestPath)
	if err != nil {
		return err
	}
	defer opened.Close()

	if err := opened.fs.CreateSymbolicLink(opened.path(flagSet.Arg(1)), flagSet.Arg(0)); err != nil {
		return err
	}
	return opened.printInjections()
}

func runMount(ctx context.Context, env *environment, args []string) error {
	flagSet, manifestPath := actionFlags("mount")
	mountpoint := flagSet.String("mountpoint", "", "directory to mount the action filesystem at (required)")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if flagSet.NArg() != 0 {
		return fmt.Errorf("usage: actionfs mount --manifest M --mountpoint DIR")
	}
	if *mountpoint == "" {
		return fmt.Errorf("--mountpoint is required")
	}

	opened, err := openAction(env, *manifestPath)
	if err != nil {
		return err
	}
	defer opened.Close()

	server, err := fuse.Mount(fuse.Options{
		Mountpoint: *mountpoint,
		FS:         opened.fs,
		AllowOther: env.config.Mount.AllowOther,
		Logger:     env.logger,
	})
	if err != nil {
		return err
	}

	<-ctx.Done()
	env.logger.Info("unmounting", "mountpoint", *mountpoint)
	if err := server.Unmount(); err != nil {
		return fmt.Errorf("unmounting %s: %w", *mountpoint, err)
	}
	return opened.printInjections()
}
