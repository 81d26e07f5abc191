// Copyright (C) 2026 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package identity

import (
	"fmt"

	"github.com/gobwas/glob"
)

// DefaultBlocklist holds the system directories that are never tracked. A
// path is blocked when it and an entry agree over the length of the
// shorter of the two.
var DefaultBlocklist = []string{
	"/proc", "/dev", "/ptmx", "ptmx", "/var",
	"/tmp", "/bin", "/sbin", "/boot",
	"/lib", "/mnt", "/etc", "/opt",
	"/srv",
}

// minPrefixLen is the shortest path length the prefix list is applied to.
// Shorter paths are only checked against the root.
const minPrefixLen = 4

type blocklist struct {
	prefixes []string
	patterns []glob.Glob
}

func newBlocklist(prefixes, patterns []string) (*blocklist, error) {
	b := &blocklist{prefixes: prefixes}
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("blocked pattern %q: %w", p, err)
		}
		b.patterns = append(b.patterns, g)
	}
	return b, nil
}

func (b *blocklist) blocked(path string) bool {
	switch n := len(path); {
	case n == 0:
		return true
	case n == 1:
		return path == "/"
	case n >= minPrefixLen:
		for _, prefix := range b.prefixes {
			k := min(n, len(prefix))
			if path[:k] == prefix[:k] {
				return true
			}
		}
	}
	for _, g := range b.patterns {
		if g.Match(path) {
			return true
		}
	}
	return false
}
