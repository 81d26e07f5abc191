// Copyright (C) 2026 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package ancestor walks the parent directories of a filesystem object to
// find the nearest one that is under watch.
package ancestor

import (
	"path/filepath"

	"github.com/syncthing/changewatch/lib/identity"
)

const DefaultMaxHops = 20

// A Link is one visited parent directory.
type Link struct {
	ID   identity.ID
	Path string
}

// A Chain is the list of parent directories of an object, nearest first.
type Chain []Link

// IDs returns the identities in the chain, nearest first.
func (c Chain) IDs() []identity.ID {
	ids := make([]identity.ID, len(c))
	for i, link := range c {
		ids[i] = link.ID
	}
	return ids
}

// Nearest returns the first link in the chain for which watched returns
// true.
func (c Chain) Nearest(watched func(identity.ID) bool) (Link, bool) {
	for _, link := range c {
		if watched(link.ID) {
			return link, true
		}
	}
	return Link{}, false
}

type statFunc func(path string) (identity.ID, error)

// The Walker builds parent chains. The zero value is not usable; use New.
type Walker struct {
	maxHops int
	stat    statFunc
}

// New returns a Walker that visits at most maxHops parent directories.
// A non-positive maxHops means DefaultMaxHops.
func New(maxHops int) *Walker {
	if maxHops <= 0 {
		maxHops = DefaultMaxHops
	}
	return &Walker{maxHops: maxHops, stat: identity.Stat}
}

// Chain returns the parents of path, starting with its immediate parent.
// The walk ends after the filesystem root has been visited, after maxHops
// directories, or at the first parent that cannot be looked up. A
// directory that reappears ends the walk as well.
func (w *Walker) Chain(path string) Chain {
	abs, err := filepath.Abs(path)
	if err != nil {
		l.Debugf("chain %s: %v", path, err)
		return nil
	}

	var chain Chain
	seen := make(map[identity.ID]struct{}, w.maxHops)
	cur := abs
	for hops := 0; hops < w.maxHops; hops++ {
		parent := filepath.Dir(cur)
		if parent == cur {
			// Already at the root, which has no parent.
			break
		}
		id, err := w.stat(parent)
		if err != nil {
			l.Debugf("chain %s: stopping at %s: %v", path, parent, err)
			break
		}
		if _, ok := seen[id]; ok {
			l.Debugf("chain %s: loop at %s", path, parent)
			break
		}
		seen[id] = struct{}{}
		chain = append(chain, Link{ID: id, Path: parent})
		cur = parent
	}
	return chain
}

// Nearest is a convenience for w.Chain(path).Nearest(watched).
func (w *Walker) Nearest(path string, watched func(identity.ID) bool) (Link, bool) {
	return w.Chain(path).Nearest(watched)
}
