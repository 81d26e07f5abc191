// Copyright (C) 2026 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package source

import (
	"context"
	"fmt"
	"time"

	"github.com/syncthing/changewatch/lib/events"
	"github.com/syncthing/changewatch/lib/identity"
	"github.com/syncthing/changewatch/lib/sync"
)

// defaultReconcileInterval is how often the running backend watches are
// compared against the registry, catching watch events the subscription
// dropped.
const defaultReconcileInterval = time.Minute

// The Service runs a backend watch for every watch point, starting and
// stopping them as watch points come and go.
type Service struct {
	backend           Backend
	intake            Intake
	lister            Lister
	evLogger          *events.Logger
	cacheSize         int
	reconcileInterval time.Duration

	mut     sync.Mutex
	running map[identity.ID]context.CancelFunc
}

func New(backend Backend, intake Intake, lister Lister, evLogger *events.Logger, cacheSize int) *Service {
	return &Service{
		backend:           backend,
		intake:            intake,
		lister:            lister,
		evLogger:          evLogger,
		cacheSize:         cacheSize,
		reconcileInterval: defaultReconcileInterval,
		mut:               sync.NewMutex(),
		running:           make(map[identity.ID]context.CancelFunc),
	}
}

func (s *Service) Serve(ctx context.Context) error {
	sub := s.evLogger.Subscribe(events.WatchSet | events.WatchRemoved)
	defer s.evLogger.Unsubscribe(sub)
	defer s.stopAll()

	// Watch points that were set before we subscribed.
	s.reconcile(ctx)

	ticker := time.NewTicker(s.reconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				return nil
			}
			s.handle(ctx, ev)
		case <-ticker.C:
			s.reconcile(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

// reconcile starts backend watches for watch points that lack one and stops
// those whose watch point is gone.
func (s *Service) reconcile(ctx context.Context) {
	current := s.lister.ListWatched(-1)
	want := make(map[identity.ID]struct{}, len(current))
	for _, w := range current {
		want[w.ID] = struct{}{}
		s.start(ctx, w.ID, w.Path)
	}

	s.mut.Lock()
	var stale []identity.ID
	for id := range s.running {
		if _, ok := want[id]; !ok {
			stale = append(stale, id)
		}
	}
	s.mut.Unlock()

	for _, id := range stale {
		l.Debugln("stopping watch on removed watch point", id)
		s.stop(id)
	}
}

func (s *Service) String() string {
	return fmt.Sprintf("source.Service@%p (%v)", s, s.backend)
}

// Running returns the number of active backend watches.
func (s *Service) Running() int {
	s.mut.Lock()
	defer s.mut.Unlock()
	return len(s.running)
}

func (s *Service) handle(ctx context.Context, ev events.Event) {
	data, ok := ev.Data.(map[string]string)
	if !ok {
		return
	}
	id, err := identity.ParseID(data["id"])
	if err != nil {
		l.Debugln("bad watch event:", err)
		return
	}
	switch ev.Type {
	case events.WatchSet:
		s.start(ctx, id, data["path"])
	case events.WatchRemoved:
		s.stop(id)
	}
}

func (s *Service) start(ctx context.Context, id identity.ID, root string) {
	s.mut.Lock()
	defer s.mut.Unlock()
	if _, ok := s.running[id]; ok {
		return
	}

	tr, err := newTranslator(root, s.cacheSize)
	if err != nil {
		l.Warnln("Starting watch:", err)
		return
	}
	tr.prime(root)

	wctx, cancel := context.WithCancel(ctx)
	evs, err := s.backend.Watch(wctx, root)
	if err != nil {
		cancel()
		l.Warnf("Failed to start %v watch on %s: %v", s.backend, root, err)
		return
	}
	s.running[id] = cancel
	metricRunning.Set(float64(len(s.running)))
	l.Verbosef("Started %v watch on %s", s.backend, root)

	go s.loop(root, tr, evs)
}

func (s *Service) stop(id identity.ID) {
	s.mut.Lock()
	defer s.mut.Unlock()
	if cancel, ok := s.running[id]; ok {
		cancel()
		delete(s.running, id)
		metricRunning.Set(float64(len(s.running)))
	}
}

func (s *Service) stopAll() {
	s.mut.Lock()
	defer s.mut.Unlock()
	for id, cancel := range s.running {
		cancel()
		delete(s.running, id)
	}
	metricRunning.Set(0)
}

func (s *Service) loop(root string, tr *translator, evs <-chan Event) {
	for ev := range evs {
		metricEvents.WithLabelValues(ev.Type.String()).Inc()
		if ev.Type == Overflow {
			l.Infof("Events lost on %s; changes may be missing", root)
			s.evLogger.Log(events.SourceOverflow, map[string]string{"path": root})
			continue
		}
		for _, op := range tr.translate(ev) {
			if _, err := s.intake.OnOperation(op); err != nil {
				l.Debugf("%v %s: %v", op.Kind, op.Path, err)
			}
		}
	}
	l.Debugln("watch loop on", root, "stopped")
}
