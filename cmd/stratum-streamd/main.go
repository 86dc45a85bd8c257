// Copyright (C) 2026 The Stratum Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Command stratum-streamd runs the inter-node streaming subsystem as a
// standalone daemon: a stream acceptor for inbound transfers and a REST
// interface for status and metrics.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/thejerf/suture/v4"

	"github.com/stratumdb/stratum/lib/api"
	"github.com/stratumdb/stratum/lib/config"
	"github.com/stratumdb/stratum/lib/logger"
	"github.com/stratumdb/stratum/lib/sstable"
	"github.com/stratumdb/stratum/lib/streaming"
)

var l = logger.DefaultLogger.NewFacility("main", "Daemon startup and shutdown")

type cliOptions struct {
	Config  string `name:"config" default:"stratum-streamd.yaml" placeholder:"PATH" help:"Configuration file"`
	DataDir string `name:"data-dir" default:"data" placeholder:"PATH" help:"Directory for received data files"`
	Listen  string `name:"listen" placeholder:"ADDR" help:"Override the stream listen address"`
	Verbose bool   `name:"verbose" short:"v" help:"Enable debug logging for all facilities"`
}

func main() {
	var opts cliOptions
	kong.Parse(&opts, kong.Description("Stratum inter-node streaming daemon"))

	if err := run(opts); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(opts cliOptions) error {
	if opts.Verbose {
		for fac := range logger.DefaultLogger.Facilities() {
			logger.DefaultLogger.SetDebug(fac, true)
		}
	}

	cfg, err := config.Load(opts.Config)
	if errors.Is(err, os.ErrNotExist) {
		l.Infof("no configuration at %s, using defaults", opts.Config)
		cfg = config.Wrap(opts.Config, config.New())
	} else if err != nil {
		return err
	}
	if opts.Listen != "" {
		cfg.Modify(func(c *config.Configuration) {
			c.Options.ListenAddress = opts.Listen
		})
	}

	manager := streaming.NewManager(cfg, sstable.NewDirStore(opts.DataDir), nil)

	main := suture.NewSimple("main")
	main.Add(streaming.NewAcceptor(cfg, manager))
	main.Add(api.New(cfg, manager))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err = main.Serve(ctx)

	// In-flight plans are failed so peers find out, rather than waiting
	// for their sockets to time out.
	for _, id := range manager.PlanIDs() {
		if f, ok := manager.Plan(id); ok {
			l.Infof("aborting plan %s on shutdown", id)
			f.Abort()
		}
	}

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
