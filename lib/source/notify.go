// Copyright (C) 2016 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"syscall"

	"github.com/syncthing/notify"
)

// Notify does not block on sending to channel, so the channel must be buffered.
// The actual number is magic.
// Not meant to be changed, but must be changeable for tests
var backendBuffer = 500

// notifyBackend watches a tree recursively using the platform's native
// mechanism.
type notifyBackend struct{}

func newNotifyBackend() *notifyBackend {
	return &notifyBackend{}
}

func (*notifyBackend) String() string {
	return "notify"
}

func (b *notifyBackend) Watch(ctx context.Context, root string) (<-chan Event, error) {
	backendChan := make(chan notify.EventInfo, backendBuffer)
	if err := notify.Watch(filepath.Join(root, "..."), backendChan, notifyEventMask); err != nil {
		notify.Stop(backendChan)
		if reachedMaxUserWatches(err) {
			err = errors.New("failed to set up the notification handler; the per user watch limit may need to be raised")
		}
		return nil, err
	}

	outChan := make(chan Event)
	go b.watchLoop(ctx, root, backendChan, outChan)
	return outChan, nil
}

func (b *notifyBackend) watchLoop(ctx context.Context, root string, backendChan chan notify.EventInfo, outChan chan<- Event) {
	defer close(outChan)
	defer notify.Stop(backendChan)

	for {
		// Detect channel overflow
		if len(backendChan) == backendBuffer {
		outer:
			for {
				select {
				case <-backendChan:
				default:
					break outer
				}
			}
			l.Debugln(b, root, "Watch: Event overflow")
			select {
			case outChan <- Event{Path: root, Type: Overflow}:
			case <-ctx.Done():
				return
			}
		}

		select {
		case ev := <-backendChan:
			evType := notifyEventType(ev.Event())
			if evType == 0 {
				continue
			}
			select {
			case outChan <- Event{Path: ev.Path(), Type: evType}:
				l.Debugln(b, root, "Watch: Sending", ev.Path(), evType)
			case <-ctx.Done():
				l.Debugln(b, root, "Watch: Stopped")
				return
			}
		case <-ctx.Done():
			l.Debugln(b, root, "Watch: Stopped")
			return
		}
	}
}

func reachedMaxUserWatches(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EMFILE || errno == syscall.ENOSPC
	}
	var pathErr *os.PathError
	return errors.As(err, &pathErr) && errors.Is(pathErr.Err, syscall.ENOSPC)
}
