// Copyright (C) 2026 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package source feeds filesystem notifications for watched directories
// into the classifier. Notification APIs do not say who acted or which
// byte range changed, so the source keeps a cache of recent attributes per
// path and derives the operation from the difference.
package source

import (
	"context"
	"fmt"

	"github.com/syncthing/changewatch/lib/classifier"
	"github.com/syncthing/changewatch/lib/config"
	"github.com/syncthing/changewatch/lib/registry"
)

type EventType int

const (
	Create EventType = 1 << iota
	Write
	Remove
	Rename
	Attrib
	// Overflow means events have been lost.
	Overflow
)

func (t EventType) String() string {
	switch t {
	case Create:
		return "create"
	case Write:
		return "write"
	case Remove:
		return "remove"
	case Rename:
		return "rename"
	case Attrib:
		return "attrib"
	case Overflow:
		return "overflow"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

type Event struct {
	Path string
	Type EventType
}

// A Backend produces events for the tree rooted at a directory. The
// returned channel is closed once ctx is done.
type Backend interface {
	Watch(ctx context.Context, root string) (<-chan Event, error)
	String() string
}

// Intake receives the derived operations.
type Intake interface {
	OnOperation(op classifier.Operation) (bool, error)
}

// Lister lists the current watch points.
type Lister interface {
	ListWatched(limit int) []registry.Watch
}

// NewBackend returns the configured backend, or nil for BackendNone.
func NewBackend(b config.Backend) (Backend, error) {
	switch b {
	case config.BackendNotify:
		return newNotifyBackend(), nil
	case config.BackendFSNotify:
		return newFSNotifyBackend(), nil
	case config.BackendNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown source backend %q", string(b))
	}
}
