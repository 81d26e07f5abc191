// Copyright (C) 2026 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/syncthing/changewatch/lib/api"
	"github.com/syncthing/changewatch/lib/classifier"
	"github.com/syncthing/changewatch/lib/identity"
	"github.com/syncthing/changewatch/lib/registry"
)

type setCommand struct {
	Path string `arg:"" type:"path" help:"Directory or file"`
}

func (c *setCommand) Run(ctx Context) error {
	w, err := ctx.client.SetWatch(context.Background(), c.Path)
	if err != nil {
		return err
	}
	fmt.Printf("Watching %s (%v)\n", w.Path, w.ID)
	return nil
}

type removeCommand struct {
	Path string `arg:"" type:"path" help:"Directory or file"`
}

func (c *removeCommand) Run(ctx Context) error {
	return ctx.client.RemoveWatch(context.Background(), c.Path)
}

type countCommand struct {
	Path string `arg:"" type:"path" help:"Directory or file"`
}

func (c *countCommand) Run(ctx Context) error {
	n, err := ctx.client.NumChanges(context.Background(), c.Path)
	if err != nil {
		return err
	}
	fmt.Println(n)
	return nil
}

type flushCommand struct {
	Path string `arg:"" type:"path" help:"Directory or file"`
}

func (c *flushCommand) Run(ctx Context) error {
	return ctx.client.FlushWatch(context.Background(), c.Path)
}

type getCommand struct {
	Path   string `arg:"" type:"path" help:"Watched directory"`
	Max    int    `default:"-1" help:"Return at most this many records (all if negative)"`
	Budget int    `help:"Return the packed records fitting in this many bytes"`
}

func (c *getCommand) Run(ctx Context) error {
	var recs []registry.Record
	var err error
	if c.Budget > 0 {
		recs, err = ctx.client.ChangesWithin(context.Background(), c.Path, c.Budget)
	} else {
		recs, err = ctx.client.GetChanges(context.Background(), c.Path, c.Max)
	}
	if err != nil {
		return err
	}
	printRecords(os.Stdout, recs)
	return nil
}

func printRecords(w io.Writer, recs []registry.Record) {
	for _, r := range recs {
		fmt.Fprintf(w, "%v\t%s\n", r.ID, r.Changes.Describe())
	}
}

type watchesCommand struct{}

func (*watchesCommand) Run(ctx Context) error {
	n, err := ctx.client.NumWatches(context.Background())
	if err != nil {
		return err
	}
	fmt.Println(n)
	return nil
}

type listCommand struct {
	Max    int `default:"-1" help:"List at most this many directories (all if negative)"`
	Budget int `help:"List the packed identities fitting in this many bytes"`
}

func (c *listCommand) Run(ctx Context) error {
	if c.Budget > 0 {
		ids, err := ctx.client.WatchedWithin(context.Background(), c.Budget)
		if err != nil {
			return err
		}
		printIdentities(os.Stdout, ids)
		return nil
	}
	ws, err := ctx.client.ListWatchedDirectories(context.Background(), c.Max)
	if err != nil {
		return err
	}
	printWatches(os.Stdout, ws)
	return nil
}

func printIdentities(w io.Writer, ids []identity.ID) {
	for i, id := range ids {
		fmt.Fprintf(w, "Directory %d :: %v\n", i, id)
	}
}

func printWatches(w io.Writer, ws []registry.Watch) {
	for i, wp := range ws {
		fmt.Fprintf(w, "Directory %d :: %v %s\n", i, wp.ID, wp.Path)
	}
}

type captureCommand struct {
	Path string `arg:"" type:"path" help:"Directory or file"`
}

func (c *captureCommand) Run(ctx Context) error {
	res, err := ctx.client.Capture(context.Background(), c.Path)
	if err != nil {
		return err
	}
	fmt.Printf("%s\t%s\t%s\n", res.Token, res.ID, res.Path)
	return nil
}

type reportCommand struct {
	Kind    string `arg:"" enum:"open,mkdir,write,truncate,rename,unlink,rmdir,chmod,chown,utimes" help:"Operation kind"`
	Path    string `arg:"" type:"path" help:"Object operated on; the new name for rename"`
	Offset  int64  `help:"Start of the written range"`
	Length  int64  `help:"Length of the written range, or the new size for truncate"`
	Flags   int    `help:"Open flags"`
	Existed bool   `help:"The file existed before the open"`
	Capture string `placeholder:"TOKEN" help:"Token from capture, for unlink or rmdir"`
	Failed  bool   `help:"The operation failed"`
}

func (c *reportCommand) Run(ctx Context) error {
	var kind classifier.Kind
	if err := kind.UnmarshalText([]byte(c.Kind)); err != nil {
		return err
	}
	recorded, err := ctx.client.Report(context.Background(), api.OperationRequest{
		Kind:    kind,
		Path:    c.Path,
		Offset:  c.Offset,
		Length:  c.Length,
		Flags:   c.Flags,
		Existed: c.Existed,
		Capture: c.Capture,
		Failed:  c.Failed,
	})
	if err != nil {
		return err
	}
	if recorded {
		fmt.Println("recorded")
	} else {
		fmt.Println("not recorded")
	}
	return nil
}

type statusCommand struct{}

func (*statusCommand) Run(ctx Context) error {
	res, err := ctx.client.Status(context.Background())
	if err != nil {
		return err
	}
	bs, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	fmt.Printf("%s\n", bs)
	return nil
}
