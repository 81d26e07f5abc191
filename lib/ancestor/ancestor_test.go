// Copyright (C) 2026 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package ancestor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/d4l3k/messagediff"
	"github.com/syncthing/changewatch/lib/identity"
)

func fakeStat(ids map[string]identity.ID) statFunc {
	return func(path string) (identity.ID, error) {
		id, ok := ids[path]
		if !ok {
			return identity.ID{}, identity.ErrNotFound
		}
		return id, nil
	}
}

// fakeTree gives every directory along path a distinct identity, so walks
// can be tested without a filesystem.
func fakeTree(path string) map[string]identity.ID {
	ids := map[string]identity.ID{"/": {Dev: 1, Ino: 2}}
	cur := "/"
	for i, part := range strings.Split(strings.Trim(path, "/"), "/") {
		cur = filepath.Join(cur, part)
		ids[cur] = identity.ID{Dev: 1, Ino: uint64(100 + i)}
	}
	return ids
}

func TestChainStopsAtRoot(t *testing.T) {
	w := New(0)
	w.stat = fakeStat(fakeTree("/a/b/c"))

	chain := w.Chain("/a/b/c/d.txt")
	var paths []string
	for _, link := range chain {
		paths = append(paths, link.Path)
	}
	expected := []string{"/a/b/c", "/a/b", "/a", "/"}
	if diff, equal := messagediff.PrettyDiff(expected, paths); !equal {
		t.Errorf("unexpected chain:\n%s", diff)
	}

	if root := New(0).Chain("/"); len(root) != 0 {
		t.Errorf("root has no parents, got %v", root)
	}
}

func TestChainMaxHops(t *testing.T) {
	deep := "/" + strings.Repeat("d/", 30) + "file"
	w := New(0)
	w.stat = fakeStat(fakeTree(filepath.Dir(deep)))

	if n := len(w.Chain(deep)); n != DefaultMaxHops {
		t.Errorf("expected %d hops, got %d", DefaultMaxHops, n)
	}

	w.maxHops = 3
	if n := len(w.Chain(deep)); n != 3 {
		t.Errorf("expected 3 hops, got %d", n)
	}
}

func TestChainLoop(t *testing.T) {
	w := New(0)
	w.stat = func(string) (identity.ID, error) {
		return identity.ID{Dev: 1, Ino: 7}, nil
	}
	if n := len(w.Chain("/a/b/c/d")); n != 1 {
		t.Errorf("expected the walk to stop at the repeated identity, got %d links", n)
	}
}

func TestNearestSkipsUnwatched(t *testing.T) {
	ids := fakeTree("/a/b/c")
	w := New(0)
	w.stat = fakeStat(ids)

	watched := map[identity.ID]bool{ids["/a"]: true}
	link, ok := w.Nearest("/a/b/c/d.txt", func(id identity.ID) bool { return watched[id] })
	if !ok {
		t.Fatal("expected a watched ancestor")
	}
	if link.Path != "/a" || link.ID != ids["/a"] {
		t.Errorf("unexpected nearest %+v", link)
	}

	// The nearest one wins.
	watched[ids["/a/b"]] = true
	link, _ = w.Nearest("/a/b/c/d.txt", func(id identity.ID) bool { return watched[id] })
	if link.Path != "/a/b" {
		t.Errorf("expected /a/b, got %s", link.Path)
	}

	if _, ok := w.Nearest("/x/y", func(id identity.ID) bool { return watched[id] }); ok {
		t.Error("unexpected match outside the tree")
	}
}

func TestChainOnDisk(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "b", "c")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	top, err := identity.Stat(dir)
	if err != nil {
		t.Skip("identity lookups unavailable:", err)
	}

	link, ok := New(0).Nearest(filepath.Join(sub, "file"), func(id identity.ID) bool { return id == top })
	if !ok || link.Path != dir {
		t.Errorf("expected %s, got %+v (%v)", dir, link, ok)
	}
}
