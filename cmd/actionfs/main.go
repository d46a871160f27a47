// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/actionfs/lib/artifact"
	"github.com/bureau-foundation/actionfs/lib/config"
	"github.com/bureau-foundation/actionfs/lib/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// environment is what every subcommand runs with.
type environment struct {
	config *config.Config
	logger *slog.Logger
	stdout io.Writer

	// source overrides the fetch client for action commands. Tests
	// set it to read straight from a store.
	source artifact.BlobSource
}

type command struct {
	name    string
	usage   string
	summary string
	run     func(ctx context.Context, env *environment, args []string) error
}

var commands = []command{
	{"serve", "serve", "serve the store over its Unix socket", runServe},
	{"put", "put FILE...", "add files to the store", runPut},
	{"stat", "stat", "query the running fetch service", runStat},
	{"cat", "cat DIGEST SIZE", "fetch one blob through the service", runCat},
	{"read", "read --manifest M PATH", "read a file through an action filesystem", runRead},
	{"link", "link --manifest M TARGET LINK", "create a symbolic link through an action filesystem", runLink},
	{"mount", "mount --manifest M --mountpoint DIR", "expose an action filesystem over FUSE", runMount},
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	flagSet := pflag.NewFlagSet("actionfs", pflag.ContinueOnError)
	flagSet.SetInterspersed(false)
	flagSet.SetOutput(stderr)
	configPath := flagSet.String("config", "", "path to actionfs.yaml (default: $"+config.EnvironmentVariable+")")
	showVersion := flagSet.Bool("version", false, "print version information and exit")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			printHelp(stderr, flagSet)
			return nil
		}
		return err
	}
	if *showVersion {
		version.Fprint(stdout, "actionfs")
		return nil
	}
	if help, _ := flagSet.GetBool("help"); help || flagSet.NArg() == 0 {
		printHelp(stderr, flagSet)
		return nil
	}

	name := flagSet.Arg(0)
	var selected *command
	for i := range commands {
		if commands[i].name == name {
			selected = &commands[i]
			break
		}
	}
	if selected == nil {
		return fmt.Errorf("unknown command %q (see actionfs --help)", name)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	env := &environment{
		config: cfg,
		logger: newLogger(stderr, cfg.Log),
		stdout: stdout,
	}
	return selected.run(ctx, env, flagSet.Args()[1:])
}

func loadConfig(path string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger(w io.Writer, logConfig config.LogConfig) *slog.Logger {
	options := &slog.HandlerOptions{Level: logConfig.SlogLevel()}
	if logConfig.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, options))
	}
	return slog.New(slog.NewTextHandler(w, options))
}

func printHelp(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(w, "usage: actionfs [--config FILE] COMMAND [ARGS]\n\ncommands:\n")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-40s %s\n", c.usage, c.summary)
	}
	fmt.Fprintf(w, "\nflags:\n%s", flagSet.FlagUsages())
}
