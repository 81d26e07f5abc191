// Copyright (C) 2026 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package source

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// fsnotifyBackend watches every directory of a tree individually, adding
// new directories as they appear.
type fsnotifyBackend struct{}

func newFSNotifyBackend() *fsnotifyBackend {
	return &fsnotifyBackend{}
}

func (*fsnotifyBackend) String() string {
	return "fsnotify"
}

func (b *fsnotifyBackend) Watch(ctx context.Context, root string) (<-chan Event, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := addTree(w, root); err != nil {
		w.Close()
		return nil, err
	}

	outChan := make(chan Event)
	go b.watchLoop(ctx, root, w, outChan)
	return outChan, nil
}

func addTree(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.Add(path); err != nil && path == root {
			return err
		}
		return nil
	})
}

func (b *fsnotifyBackend) watchLoop(ctx context.Context, root string, w *fsnotify.Watcher, outChan chan<- Event) {
	defer close(outChan)
	defer w.Close()

	send := func(ev Event) bool {
		select {
		case outChan <- ev:
			l.Debugln(b, root, "Watch: Sending", ev.Path, ev.Type)
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			evType := fsnotifyEventType(ev.Op)
			if evType == 0 {
				continue
			}
			if evType == Create {
				// Directories created below the root need their own watch.
				// Errors mean the path is gone or not a directory.
				_ = addTree(w, ev.Name)
			}
			if !send(Event{Path: ev.Name, Type: evType}) {
				return
			}

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				if !send(Event{Path: root, Type: Overflow}) {
					return
				}
				continue
			}
			l.Infof("Watch error on %s: %v", root, err)

		case <-ctx.Done():
			l.Debugln(b, root, "Watch: Stopped")
			return
		}
	}
}

func fsnotifyEventType(op fsnotify.Op) EventType {
	switch {
	case op.Has(fsnotify.Create):
		return Create
	case op.Has(fsnotify.Remove):
		return Remove
	case op.Has(fsnotify.Rename):
		return Rename
	case op.Has(fsnotify.Write):
		return Write
	case op.Has(fsnotify.Chmod):
		return Attrib
	default:
		return 0
	}
}
