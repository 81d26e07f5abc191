// Copyright (C) 2015 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package daemon

import (
	"context"
	"fmt"

	"github.com/syncthing/changewatch/lib/events"
)

// The verbose logging service subscribes to events and prints these in
// verbose format to the console using INFO level.
type verboseService struct {
	evLogger *events.Logger
}

func newVerboseService(evLogger *events.Logger) *verboseService {
	return &verboseService{
		evLogger: evLogger,
	}
}

// serve runs the verbose logging service.
func (s *verboseService) Serve(ctx context.Context) error {
	sub := s.evLogger.Subscribe(events.AllEvents)
	defer s.evLogger.Unsubscribe(sub)
	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				<-ctx.Done()
				return ctx.Err()
			}
			formatted := s.formatEvent(ev)
			if formatted != "" {
				l.Verboseln(formatted)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (*verboseService) String() string {
	return "verboseService"
}

func (*verboseService) formatEvent(ev events.Event) string {
	data, _ := ev.Data.(map[string]string)

	switch ev.Type {
	case events.Starting:
		return fmt.Sprintf("Starting up (API at %s, %s source)", data["address"], data["backend"])

	case events.StartupComplete:
		return "Startup complete"

	case events.WatchSet:
		return fmt.Sprintf("Watching %s (%s)", data["path"], data["id"])

	case events.WatchRemoved:
		return fmt.Sprintf("No longer watching %s (%s)", data["path"], data["id"])

	case events.WatchFlushed:
		return fmt.Sprintf("Flushed changes under %s", data["path"])

	case events.ChangeRecorded:
		return fmt.Sprintf("Change to %s (%s) under %s: %s", data["path"], data["id"], data["watch"], data["changes"])

	case events.ChangeRejected:
		return fmt.Sprintf("Change to %s was not recorded: %s", data["path"], data["error"])

	case events.SourceOverflow:
		return fmt.Sprintf("Event source overflowed under %s; changes may have been missed", data["path"])
	}

	return fmt.Sprintf("%s %#v", ev.Type, ev)
}
