// Copyright (C) 2026 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package identity

import (
	"fmt"
	"os"
	"path/filepath"
)

// Options configures a Resolver. A nil Blocklist means DefaultBlocklist;
// use an empty, non-nil slice to disable the prefix list. The root
// directory is always blocked.
type Options struct {
	Blocklist []string
	Patterns  []string
}

// The Resolver produces identities for paths and open files. It is safe
// for concurrent use.
type Resolver struct {
	blocked *blocklist
}

func NewResolver(opts Options) (*Resolver, error) {
	prefixes := opts.Blocklist
	if prefixes == nil {
		prefixes = DefaultBlocklist
	}
	b, err := newBlocklist(prefixes, opts.Patterns)
	if err != nil {
		return nil, err
	}
	return &Resolver{blocked: b}, nil
}

// Blocked reports whether the path is excluded from tracking.
func (r *Resolver) Blocked(path string) bool {
	return r.blocked.blocked(path)
}

// Resolve looks up path on behalf of user. Blocked and empty paths fail
// with ErrInvalidArgument before any lookup. The object must be a regular
// file or directory, and user must own it or be privileged.
func (r *Resolver) Resolve(user User, path string) (Target, error) {
	if r.blocked.blocked(path) {
		return Target{}, fmt.Errorf("%w: blocked path %q", ErrInvalidArgument, path)
	}

	abs, err := canonical(path)
	if err != nil {
		return Target{}, fmt.Errorf("%w: %s: %v", ErrInvalidArgument, path, err)
	}
	if abs != path && r.blocked.blocked(abs) {
		return Target{}, fmt.Errorf("%w: blocked path %q", ErrInvalidArgument, abs)
	}

	st, err := stat(abs)
	if err != nil {
		return Target{}, fmt.Errorf("%s: %w", path, err)
	}
	if !st.regular && !st.dir {
		return Target{}, fmt.Errorf("%s: %w", path, ErrInvalidType)
	}
	if !user.MayAccess(st.uid) {
		l.Debugf("%v denied on %s owned by uid %d", user, path, st.uid)
		return Target{}, fmt.Errorf("%s: %w", path, ErrPermissionDenied)
	}

	return st.target(abs), nil
}

// ResolveFile returns the identity of an open file. Standard input, output
// and error are rejected, as are files whose name is blocked. Holding the
// descriptor is taken as sufficient authority, so no ownership check is
// made.
func (r *Resolver) ResolveFile(f *os.File) (Target, error) {
	if f == nil || f.Fd() < 3 {
		return Target{}, fmt.Errorf("%w: file descriptor", ErrInvalidArgument)
	}
	name := f.Name()
	if name != "" && r.blocked.blocked(name) {
		return Target{}, fmt.Errorf("%w: blocked path %q", ErrInvalidArgument, name)
	}

	st, err := fstat(f)
	if err != nil {
		return Target{}, fmt.Errorf("%s: %w", name, err)
	}
	if !st.regular && !st.dir {
		return Target{}, fmt.Errorf("%s: %w", name, ErrInvalidType)
	}

	abs, err := canonical(name)
	if err != nil {
		return Target{}, fmt.Errorf("%w: %s: %v", ErrInvalidArgument, name, err)
	}
	if abs != name && r.blocked.blocked(abs) {
		return Target{}, fmt.Errorf("%w: blocked path %q", ErrInvalidArgument, abs)
	}
	return st.target(abs), nil
}

// canonical returns the absolute path of path with every symlink resolved,
// so that walking its parents visits the real directories. A path that
// does not resolve is returned absolute but otherwise untouched, leaving
// the error to the lookup.
func canonical(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	return abs, nil
}

// Stat returns the identity of path without any filtering or ownership
// checks.
func Stat(path string) (ID, error) {
	st, err := stat(path)
	if err != nil {
		return ID{}, err
	}
	return st.id, nil
}

// Attributes is the subset of inode metadata used to tell apart the kinds
// of attribute changes.
type Attributes struct {
	ID    ID
	Size  int64
	Mode  uint32
	UID   int
	GID   int
	Mtime int64 // nanoseconds
	Atime int64 // nanoseconds
	IsDir bool
}

// Lstat returns the attributes of path without following a final symlink.
func Lstat(path string) (Attributes, error) {
	st, err := lstat(path)
	if err != nil {
		return Attributes{}, err
	}
	return st.attributes(), nil
}

type statResult struct {
	id      ID
	size    int64
	mode    uint32
	uid     int
	gid     int
	mtime   int64
	atime   int64
	regular bool
	dir     bool
}

func (st statResult) target(path string) Target {
	return Target{
		ID:    st.id,
		Path:  path,
		Owner: st.uid,
		Group: st.gid,
		IsDir: st.dir,
	}
}

func (st statResult) attributes() Attributes {
	return Attributes{
		ID:    st.id,
		Size:  st.size,
		Mode:  st.mode,
		UID:   st.uid,
		GID:   st.gid,
		Mtime: st.mtime,
		Atime: st.atime,
		IsDir: st.dir,
	}
}
