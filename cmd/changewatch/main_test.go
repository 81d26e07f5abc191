// Copyright (C) 2026 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"bytes"
	"testing"

	"github.com/alecthomas/kong"

	"github.com/syncthing/changewatch/lib/bitmap"
	"github.com/syncthing/changewatch/lib/identity"
	"github.com/syncthing/changewatch/lib/registry"
)

func TestPrintRecords(t *testing.T) {
	var buf bytes.Buffer
	printRecords(&buf, []registry.Record{
		{ID: identity.ID{Dev: 1, Ino: 2}, Changes: bitmap.Of(bitmap.Modified, bitmap.BucketOffset)},
	})
	expected := "1:2\t" + bitmap.Of(bitmap.Modified, bitmap.BucketOffset).Describe() + "\n"
	if buf.String() != expected {
		t.Errorf("got %q, expected %q", buf.String(), expected)
	}
}

func TestPrintIdentities(t *testing.T) {
	var buf bytes.Buffer
	printIdentities(&buf, []identity.ID{{Dev: 1, Ino: 2}, {Dev: 1, Ino: 9}})
	expected := "Directory 0 :: 1:2\nDirectory 1 :: 1:9\n"
	if buf.String() != expected {
		t.Errorf("got %q, expected %q", buf.String(), expected)
	}
}

func TestParseCommandLine(t *testing.T) {
	var cli CLI
	parser, err := kong.New(&cli, kong.Exit(func(int) { t.Fatal("unexpected exit") }))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := parser.Parse([]string{"--socket", "/tmp/s", "get", "/srv", "--max", "3"}); err != nil {
		t.Fatal(err)
	}
	if cli.Socket != "/tmp/s" || cli.Get.Path != "/srv" || cli.Get.Max != 3 {
		t.Errorf("unexpected parse result %+v", cli.Get)
	}

	if _, err := parser.Parse([]string{"report", "frobnicate", "/srv/f"}); err == nil {
		t.Error("expected an error for an unknown operation kind")
	}
}
