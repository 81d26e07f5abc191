// Copyright (C) 2026 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package identity turns paths and open files into stable identities,
// applying the path blocklist and the ownership check on the way.
package identity

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrNotFound         = errors.New("no such file or directory")
	ErrPermissionDenied = errors.New("permission denied")
	ErrInvalidType      = errors.New("not a regular file or directory")
	ErrInvalidArgument  = errors.New("invalid argument")
)

// An ID identifies a filesystem object by device and inode number. It is
// stable while the object exists and may be reused by the filesystem once
// the object is gone.
type ID struct {
	Dev uint64 `json:"dev"`
	Ino uint64 `json:"ino"`
}

func (id ID) IsZero() bool {
	return id == ID{}
}

func (id ID) String() string {
	return fmt.Sprintf("%d:%d", id.Dev, id.Ino)
}

// ParseID parses the "dev:ino" form returned by String.
func ParseID(s string) (ID, error) {
	devStr, inoStr, ok := strings.Cut(s, ":")
	if !ok {
		return ID{}, fmt.Errorf("%w: identity %q", ErrInvalidArgument, s)
	}
	dev, err := strconv.ParseUint(devStr, 10, 64)
	if err != nil {
		return ID{}, fmt.Errorf("%w: identity %q", ErrInvalidArgument, s)
	}
	ino, err := strconv.ParseUint(inoStr, 10, 64)
	if err != nil {
		return ID{}, fmt.Errorf("%w: identity %q", ErrInvalidArgument, s)
	}
	return ID{Dev: dev, Ino: ino}, nil
}

// A User is the acting user of an operation.
type User struct {
	UID int `json:"uid"`
}

// Root is the privileged user. Operations performed by Root pass every
// ownership check.
var Root = User{UID: 0}

// Nobody matches no owner and has no privileges.
var Nobody = User{UID: -1}

func (u User) Privileged() bool {
	return u.UID == 0
}

// MayAccess reports whether u may operate on an object owned by uid.
func (u User) MayAccess(uid int) bool {
	return u.Privileged() || (u.UID >= 0 && u.UID == uid)
}

func (u User) String() string {
	return "uid " + strconv.Itoa(u.UID)
}

// A Target is a resolved filesystem object.
type Target struct {
	ID    ID
	Path  string // absolute, symlinks resolved
	Owner int
	Group int
	IsDir bool
}
