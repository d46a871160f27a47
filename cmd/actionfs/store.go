// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/bureau-foundation/actionfs/lib/artifact"
)

func runServe(ctx context.Context, env *environment, args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("serve takes no arguments")
	}
	server, err := newServer(env)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

func newServer(env *environment) (*artifact.Server, error) {
	if err := env.config.EnsurePaths(); err != nil {
		return nil, err
	}
	store, err := artifact.NewDiskStore(env.config.Store.Directory)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	compression, err := artifact.ParseCompressionList(env.config.Store.Compression)
	if err != nil {
		return nil, fmt.Errorf("store.compression: %w", err)
	}

	server, err := artifact.NewServer(artifact.ServerOptions{
		SocketPath:  env.config.Store.SocketPath,
		Store:       store,
		Compression: compression,
		Logger:      env.logger,
	})
	if err != nil {
		return nil, err
	}
	env.logger.Info("serving store",
		"directory", store.Root(),
		"socket", env.config.Store.SocketPath,
		"compression", env.config.Store.Compression,
	)
	return server, nil
}

func runPut(ctx context.Context, env *environment, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: actionfs put FILE...")
	}
	store, err := artifact.NewDiskStore(env.config.Store.Directory)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	for _, filename := range args {
		if err := ctx.Err(); err != nil {
			return err
		}
		metadata, err := putFile(store, filename)
		if err != nil {
			return err
		}
		env.logger.Debug("stored file", "path", filename, "digest", metadata.Digest.Short())
		fmt.Fprintf(env.stdout, "%s %d %s\n", metadata.Digest, metadata.Size, filename)
	}
	return nil
}

func putFile(store *artifact.DiskStore, filename string) (artifact.FileMetadata, error) {
	file, err := os.Open(filename)
	if err != nil {
		return artifact.FileMetadata{}, err
	}
	defer file.Close()
	metadata, err := store.Put(file)
	if err != nil {
		return artifact.FileMetadata{}, fmt.Errorf("storing %s: %w", filename, err)
	}
	return metadata, nil
}

func runStat(ctx context.Context, env *environment, args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("stat takes no arguments")
	}
	client, err := newClient(env)
	if err != nil {
		return err
	}
	status, err := client.Status(ctx)
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(env.stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(status)
}

func runCat(ctx context.Context, env *environment, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: actionfs cat DIGEST SIZE")
	}
	digest, err := artifact.ParseHash(args[0])
	if err != nil {
		return fmt.Errorf("parsing digest: %w", err)
	}
	size, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || size < 0 {
		return fmt.Errorf("invalid size %q", args[1])
	}

	client, err := newClient(env)
	if err != nil {
		return err
	}
	body, err := client.Fetch(ctx, digest, size)
	if err != nil {
		return err
	}
	defer body.Close()
	_, err = io.Copy(env.stdout, body)
	return err
}

func newClient(env *environment) (*artifact.Client, error) {
	accept, err := artifact.ParseCompressionList(env.config.Fetch.Accept)
	if err != nil {
		return nil, fmt.Errorf("fetch.accept: %w", err)
	}
	return artifact.NewClient(env.config.Store.SocketPath, accept), nil
}
