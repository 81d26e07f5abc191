// Copyright (C) 2026 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package watch implements the query operations on the watch registry:
// setting, removing and flushing watches, and reading out their changes.
// Every path is resolved on behalf of the acting user, who must own it or
// be privileged.
package watch

import (
	"github.com/syncthing/changewatch/lib/ancestor"
	"github.com/syncthing/changewatch/lib/events"
	"github.com/syncthing/changewatch/lib/identity"
	"github.com/syncthing/changewatch/lib/registry"
)

type Service struct {
	reg      *registry.Registry
	resolver *identity.Resolver
	walker   *ancestor.Walker
	evLogger *events.Logger
}

func New(reg *registry.Registry, resolver *identity.Resolver, walker *ancestor.Walker, evLogger *events.Logger) *Service {
	return &Service{
		reg:      reg,
		resolver: resolver,
		walker:   walker,
		evLogger: evLogger,
	}
}

// SetWatch starts tracking changes beneath path.
func (s *Service) SetWatch(user identity.User, path string) (registry.Watch, error) {
	target, err := s.resolver.Resolve(user, path)
	if err != nil {
		return registry.Watch{}, err
	}
	parents := s.walker.Chain(target.Path).IDs()
	if err := s.reg.Create(target, parents); err != nil {
		return registry.Watch{}, err
	}
	w, err := s.reg.Watch(target.ID)
	if err != nil {
		// Removed again by a concurrent caller.
		return registry.Watch{}, err
	}

	l.Infof("Watching %s (%v) for %v", w.Path, w.ID, user)
	s.evLogger.Log(events.WatchSet, eventData(w))
	return w, nil
}

// RemoveWatch stops tracking path and discards its changes.
func (s *Service) RemoveWatch(user identity.User, path string) error {
	target, err := s.resolver.Resolve(user, path)
	if err != nil {
		return err
	}
	w, err := s.reg.Watch(target.ID)
	if err != nil {
		return err
	}
	if err := s.reg.Remove(target.ID); err != nil {
		return err
	}

	l.Infof("Stopped watching %s (%v) for %v", w.Path, w.ID, user)
	s.evLogger.Log(events.WatchRemoved, eventData(w))
	return nil
}

// NumChanges returns the number of change records under path.
func (s *Service) NumChanges(user identity.User, path string) (int, error) {
	target, err := s.resolver.Resolve(user, path)
	if err != nil {
		return 0, err
	}
	return s.reg.Count(target.ID)
}

// NumWatches returns the number of watch points.
func (s *Service) NumWatches() int {
	return s.reg.Len()
}

// FlushWatch discards the change records under path.
func (s *Service) FlushWatch(user identity.User, path string) error {
	target, err := s.resolver.Resolve(user, path)
	if err != nil {
		return err
	}
	if err := s.reg.Flush(target.ID); err != nil {
		return err
	}
	s.evLogger.Log(events.WatchFlushed, map[string]string{
		"id":   target.ID.String(),
		"path": target.Path,
	})
	return nil
}

// GetChanges returns up to maxRecords change records under path, in the
// order the objects first changed. Returning fewer records than exist is
// not an error.
func (s *Service) GetChanges(user identity.User, path string, maxRecords int) ([]registry.Record, error) {
	target, err := s.resolver.Resolve(user, path)
	if err != nil {
		return nil, err
	}
	return s.reg.ChangesOf(target.ID, max(maxRecords, 0))
}

// ListWatchedDirectories returns up to maxRecords watch points in the
// order they were created.
func (s *Service) ListWatchedDirectories(maxRecords int) []registry.Watch {
	return s.reg.ListWatched(max(maxRecords, 0))
}

// ChangesWithin is GetChanges with the record count derived from a byte
// budget. It returns the encoded records and how many there are.
func (s *Service) ChangesWithin(user identity.User, path string, budget int) ([]byte, int, error) {
	recs, err := s.GetChanges(user, path, registry.RecordsFor(budget, registry.ChangeRecordSize))
	if err != nil {
		return nil, 0, err
	}
	bs, err := registry.MarshalRecords(recs)
	if err != nil {
		return nil, 0, err
	}
	return bs, len(recs), nil
}

// WatchedWithin is ListWatchedDirectories with the record count derived
// from a byte budget.
func (s *Service) WatchedWithin(budget int) ([]byte, int, error) {
	ws := s.ListWatchedDirectories(registry.RecordsFor(budget, registry.IdentityRecordSize))
	bs, err := registry.MarshalIdentities(ws)
	if err != nil {
		return nil, 0, err
	}
	return bs, len(ws), nil
}

func eventData(w registry.Watch) map[string]string {
	return map[string]string{
		"id":   w.ID.String(),
		"path": w.Path,
	}
}
