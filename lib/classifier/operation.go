// Copyright (C) 2026 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package classifier

import (
	"fmt"
	"os"
	"strings"

	"github.com/syncthing/changewatch/lib/identity"
)

// Kind is the type of a filesystem operation.
type Kind int

const (
	Open Kind = iota + 1
	Mkdir
	Write
	Truncate
	Rename
	Unlink
	Rmdir
	Chmod
	Chown
	Utimes
)

var kindNames = map[Kind]string{
	Open:     "open",
	Mkdir:    "mkdir",
	Write:    "write",
	Truncate: "truncate",
	Rename:   "rename",
	Unlink:   "unlink",
	Rmdir:    "rmdir",
	Chmod:    "chmod",
	Chown:    "chown",
	Utimes:   "utimes",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(bs []byte) error {
	s := strings.ToLower(string(bs))
	for kind, name := range kindNames {
		if name == s {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("%w: operation kind %q", identity.ErrInvalidArgument, bs)
}

// An Operation is a completed filesystem operation as reported by an event
// source or interception layer.
type Operation struct {
	Kind Kind
	// Path names the object operated on. For Rename it is the new name.
	Path string
	// File is set instead of Path for operations on an open file.
	File *os.File
	// Offset and Length give the written range for Write. Length is the
	// new size for Truncate.
	Offset int64
	Length int64
	// Flags are the open flags for Open. Existed tells whether the file
	// was there before the open.
	Flags   int
	Existed bool
	// User is the acting user.
	User identity.User
	// Captured is the identity of the object taken before an Unlink or
	// Rmdir, when it still existed.
	Captured *Capture
	// Err is the outcome of the operation itself. Failed operations are
	// not recorded.
	Err error
}

// A Capture holds what is known about an object before it is deleted, and
// who looked it up.
type Capture struct {
	ID   identity.ID
	Path string
	User identity.User
}
