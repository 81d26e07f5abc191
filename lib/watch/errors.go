// Copyright (C) 2026 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package watch

import (
	"errors"

	"github.com/syncthing/changewatch/lib/identity"
	"github.com/syncthing/changewatch/lib/registry"
)

// The error kinds reported to clients.
const (
	KindNotFound         = "NotFound"
	KindPermissionDenied = "PermissionDenied"
	KindInvalidType      = "InvalidType"
	KindInvalidArgument  = "InvalidArgument"
	KindAlreadyWatched   = "AlreadyWatched"
	KindNotWatched       = "NotWatched"
	KindNestedWatch      = "NestedWatch"
	KindOutOfMemory      = "OutOfMemory"
	KindInternal         = "Internal"
)

var kinds = []struct {
	kind string
	err  error
}{
	{KindNotFound, identity.ErrNotFound},
	{KindPermissionDenied, identity.ErrPermissionDenied},
	{KindInvalidType, identity.ErrInvalidType},
	{KindInvalidArgument, identity.ErrInvalidArgument},
	{KindAlreadyWatched, registry.ErrAlreadyWatched},
	{KindNotWatched, registry.ErrNotWatched},
	{KindNestedWatch, registry.ErrNestedWatch},
	{KindOutOfMemory, registry.ErrOutOfMemory},
}

// ErrorKind names the kind of err, or KindInternal if it is not one of the
// known failures.
func ErrorKind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// KindError returns the sentinel error for a kind, or nil if the kind is
// not known.
func KindError(kind string) error {
	for _, k := range kinds {
		if k.kind == kind {
			return k.err
		}
	}
	return nil
}
