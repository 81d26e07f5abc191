// Copyright (C) 2026 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

//go:build !linux

package source

import "github.com/syncthing/notify"

const notifyEventMask = notify.All

func notifyEventType(e notify.Event) EventType {
	switch {
	case e&notify.Create != 0:
		return Create
	case e&notify.Remove != 0:
		return Remove
	case e&notify.Rename != 0:
		return Rename
	case e&notify.Write != 0:
		return Write
	default:
		return 0
	}
}
