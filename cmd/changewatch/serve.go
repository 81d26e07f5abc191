// Copyright (C) 2026 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/automaxprocs/maxprocs"

	"github.com/syncthing/changewatch/lib/build"
	"github.com/syncthing/changewatch/lib/config"
	"github.com/syncthing/changewatch/lib/daemon"
	"github.com/syncthing/changewatch/lib/events"
	"github.com/syncthing/changewatch/lib/logger"
	"github.com/syncthing/changewatch/lib/svcutil"
)

type serveCommand struct {
	Config  string `name:"config" short:"c" placeholder:"PATH" env:"CHANGEWATCH_CONFIG" default:"/etc/changewatch.yml" help:"Configuration file"`
	Verbose bool   `short:"v" help:"Print verbose log output"`
	Audit   string `placeholder:"PATH" help:"Write events to this file, one JSON object per line"`
	Backend string `placeholder:"NAME" help:"Override the configured event source (notify, fsnotify, none)"`
}

func (c *serveCommand) Run(ctx Context) error {
	l.Infoln(build.LongVersion)

	if _, err := maxprocs.Set(maxprocs.Logger(l.Debugf)); err != nil {
		l.Debugln("Setting GOMAXPROCS:", err)
	}
	if c.Verbose {
		logger.SetVerbose(true)
	}

	cfg, err := config.Load(c.Config)
	if err != nil {
		l.Warnln("Loading configuration:", err)
		os.Exit(svcutil.ExitConfig.AsInt())
	}
	if c.Backend != "" {
		cfg.Source.Backend = config.Backend(c.Backend)
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	if ctx.socket != "" {
		cfg.API.Address = ctx.socket
	}

	var opts daemon.Options
	opts.Verbose = c.Verbose
	if c.Audit != "" {
		fd, err := os.OpenFile(c.Audit, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("audit log: %w", err)
		}
		defer fd.Close()
		opts.AuditWriter = fd
	}

	app := daemon.New(cfg, events.NewLogger(), opts)
	if err := app.Start(); err != nil {
		os.Exit(app.Wait().AsInt())
	}

	stopSig := make(chan os.Signal, 1)
	signal.Notify(stopSig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-stopSig
		l.Infoln("Received", sig, "; shutting down")
		app.Stop(svcutil.ExitSuccess)
	}()

	status := app.Wait()
	if err := app.Error(); err != nil {
		l.Warnln("Exiting:", err)
	}
	if status != svcutil.ExitSuccess {
		os.Exit(status.AsInt())
	}
	return nil
}

type defaultConfigCommand struct{}

func (*defaultConfigCommand) Run() error {
	return config.New().WriteYAML(os.Stdout)
}
