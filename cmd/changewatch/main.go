// Copyright (C) 2019 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Command changewatch runs the change tracking daemon and talks to it.
package main

import (
	"os"

	"github.com/alecthomas/kong"
	"github.com/willabides/kongplete"

	"github.com/syncthing/changewatch/lib/api"
	"github.com/syncthing/changewatch/lib/build"
	"github.com/syncthing/changewatch/lib/config"
	"github.com/syncthing/changewatch/lib/logger"
)

var l = logger.DefaultLogger.NewFacility("main", "Main package")

type CLI struct {
	Version kong.VersionFlag `help:"Show version and exit"`
	Socket  string           `name:"socket" placeholder:"PATH" env:"CHANGEWATCH_SOCKET" help:"API socket (default from the configuration)"`

	Serve         serveCommand         `cmd:"" help:"Run the change tracking daemon"`
	Set           setCommand           `cmd:"" help:"Watch a directory"`
	Remove        removeCommand        `cmd:"" help:"Stop watching a directory"`
	Count         countCommand         `cmd:"" help:"Show the number of changed objects under a watched directory"`
	Flush         flushCommand         `cmd:"" help:"Forget the changes under a watched directory"`
	Get           getCommand           `cmd:"" help:"Show the changes under a watched directory"`
	Watches       watchesCommand       `cmd:"" help:"Show the number of watched directories"`
	List          listCommand          `cmd:"" help:"List the watched directories"`
	Capture       captureCommand       `cmd:"" help:"Look up an object about to be deleted and print a capture token"`
	Report        reportCommand        `cmd:"" help:"Report a completed filesystem operation"`
	Status        statusCommand        `cmd:"" help:"Show daemon status"`
	DefaultConfig defaultConfigCommand `cmd:"" help:"Print the default configuration"`
	Stdin         stdinCommand         `cmd:"" name:"-" aliases:"stdin" help:"Read commands from stdin"`

	InstallCompletions kongplete.InstallCompletions `cmd:"" help:"Install shell completions"`
}

type Context struct {
	client *api.Client
	socket string // as given on the command line
}

func (cli CLI) AfterApply(kongCtx *kong.Context) error {
	socket := cli.Socket
	if socket == "" {
		socket = config.New().API.Address
	}
	kongCtx.Bind(Context{
		client: api.NewClient(socket),
		socket: cli.Socket,
	})
	return nil
}

func main() {
	var cli CLI
	parser := kong.Must(&cli,
		kong.Name("changewatch"),
		kong.Description("Tracks which files changed, and where, beneath watched directories."),
		kong.Vars{"version": build.LongVersion},
		kong.UsageOnError(),
	)
	kongplete.Complete(parser)

	ctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)
	ctx.FatalIfErrorf(ctx.Run())
}
