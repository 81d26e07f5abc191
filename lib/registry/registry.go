// Copyright (C) 2026 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package registry holds the set of watched directories and the change
// records accumulated beneath each of them.
//
// The set of watch points is guarded by a registry wide lock. Each watch
// point has its own lock for its change log, so changes recorded under
// different watch points do not contend. A change is recorded while the
// registry lock is held for reading, which means a watch point that has
// been removed can never receive a late change.
package registry

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/syncthing/changewatch/lib/bitmap"
	"github.com/syncthing/changewatch/lib/identity"
	"github.com/syncthing/changewatch/lib/sync"
)

var (
	ErrAlreadyWatched = errors.New("directory is already watched")
	ErrNotWatched     = errors.New("directory is not watched")
	ErrNestedWatch    = errors.New("a parent directory is already watched")
	ErrOutOfMemory    = errors.New("change record limit reached")
)

// A Record is the accumulated change bitmap of one object beneath a watch
// point.
type Record struct {
	ID      identity.ID   `json:"id"`
	Changes bitmap.Bitmap `json:"changes"`
}

// A Watch describes a watch point.
type Watch struct {
	ID      identity.ID `json:"id"`
	Path    string      `json:"path"`
	Created time.Time   `json:"created"`
}

type watchPoint struct {
	Watch

	mut     sync.Mutex
	records []Record
	index   map[identity.ID]int
}

func newWatchPoint(w Watch) *watchPoint {
	return &watchPoint{
		Watch: w,
		mut:   sync.NewMutex(),
		index: make(map[identity.ID]int),
	}
}

// merge records bm for target. It returns true if a new record was
// created.
func (p *watchPoint) merge(target identity.ID, bm bitmap.Bitmap, limit int) (bool, error) {
	p.mut.Lock()
	defer p.mut.Unlock()

	if i, ok := p.index[target]; ok {
		p.records[i].Changes = p.records[i].Changes.Merge(bm)
		return false, nil
	}
	if limit > 0 && len(p.records) >= limit {
		return false, fmt.Errorf("%v: %w (%d records)", p.ID, ErrOutOfMemory, limit)
	}
	p.index[target] = len(p.records)
	p.records = append(p.records, Record{ID: target, Changes: bm})
	return true, nil
}

func (p *watchPoint) count() int {
	p.mut.Lock()
	defer p.mut.Unlock()
	return len(p.records)
}

func (p *watchPoint) flush() int {
	p.mut.Lock()
	defer p.mut.Unlock()
	n := len(p.records)
	p.records = nil
	clear(p.index)
	return n
}

func (p *watchPoint) snapshot(limit int) []Record {
	p.mut.Lock()
	defer p.mut.Unlock()
	n := len(p.records)
	if limit >= 0 && limit < n {
		n = limit
	}
	return slices.Clone(p.records[:n])
}

// Options configures a Registry.
type Options struct {
	// MaxRecordsPerWatch bounds the number of records under a single watch
	// point. Zero means no limit.
	MaxRecordsPerWatch int
}

// The Registry is safe for concurrent use.
type Registry struct {
	opts Options

	mut    sync.RWMutex
	points map[identity.ID]*watchPoint
	order  []identity.ID // creation order
}

func New(opts Options) *Registry {
	return &Registry{
		opts:   opts,
		mut:    sync.NewRWMutex(),
		points: make(map[identity.ID]*watchPoint),
	}
}

// Create adds a watch point for dir. The parents are the identities of
// the directories above dir, nearest first. Creation fails if dir is
// already watched or if any of the parents is. Watching a directory that
// lies above an existing watch point is allowed.
func (r *Registry) Create(dir identity.Target, parents []identity.ID) error {
	r.mut.Lock()
	defer r.mut.Unlock()

	if _, ok := r.points[dir.ID]; ok {
		return fmt.Errorf("%s: %w", dir.Path, ErrAlreadyWatched)
	}
	for _, parent := range parents {
		if p, ok := r.points[parent]; ok {
			return fmt.Errorf("%s: %w (%s)", dir.Path, ErrNestedWatch, p.Path)
		}
	}

	r.points[dir.ID] = newWatchPoint(Watch{
		ID:      dir.ID,
		Path:    dir.Path,
		Created: time.Now(),
	})
	r.order = append(r.order, dir.ID)

	metricWatchPoints.Set(float64(len(r.points)))
	l.Debugf("created watch point %v at %s", dir.ID, dir.Path)
	return nil
}

// Remove deletes the watch point dir together with its records.
func (r *Registry) Remove(dir identity.ID) error {
	r.mut.Lock()
	defer r.mut.Unlock()

	p, ok := r.points[dir]
	if !ok {
		return fmt.Errorf("%v: %w", dir, ErrNotWatched)
	}
	delete(r.points, dir)
	r.order = slices.DeleteFunc(r.order, func(id identity.ID) bool { return id == dir })

	metricWatchPoints.Set(float64(len(r.points)))
	metricRecords.Sub(float64(p.flush()))
	l.Debugf("removed watch point %v at %s", dir, p.Path)
	return nil
}

// RecordChange merges bm into the record for target under the watch point
// dir. It does nothing if dir is not watched. When the per watch point
// limit would be exceeded, ErrOutOfMemory is returned and the existing
// records are left as they were.
func (r *Registry) RecordChange(dir, target identity.ID, bm bitmap.Bitmap) error {
	r.mut.RLock()
	defer r.mut.RUnlock()

	p, ok := r.points[dir]
	if !ok {
		metricChanges.WithLabelValues(metricResultDropped).Inc()
		return nil
	}
	return r.mergeLocked(p, target, bm)
}

// RecordNearest merges bm into the record for target under the first of
// the parents that is a watch point. The membership test and the merge
// happen atomically with respect to Create and Remove. It returns the
// watch point used, or false if none of the parents is watched.
func (r *Registry) RecordNearest(parents []identity.ID, target identity.ID, bm bitmap.Bitmap) (identity.ID, bool, error) {
	r.mut.RLock()
	defer r.mut.RUnlock()

	for _, parent := range parents {
		if p, ok := r.points[parent]; ok {
			return parent, true, r.mergeLocked(p, target, bm)
		}
	}
	return identity.ID{}, false, nil
}

func (r *Registry) mergeLocked(p *watchPoint, target identity.ID, bm bitmap.Bitmap) error {
	created, err := p.merge(target, bm, r.opts.MaxRecordsPerWatch)
	switch {
	case err != nil:
		metricChanges.WithLabelValues(metricResultRejected).Inc()
		l.Debugln("record change:", err)
		return err
	case created:
		metricChanges.WithLabelValues(metricResultCreated).Inc()
		metricRecords.Inc()
	default:
		metricChanges.WithLabelValues(metricResultMerged).Inc()
	}
	return nil
}

// IsWatched reports whether dir is a watch point.
func (r *Registry) IsWatched(dir identity.ID) bool {
	r.mut.RLock()
	defer r.mut.RUnlock()
	_, ok := r.points[dir]
	return ok
}

// Watch returns the watch point dir.
func (r *Registry) Watch(dir identity.ID) (Watch, error) {
	r.mut.RLock()
	defer r.mut.RUnlock()
	p, ok := r.points[dir]
	if !ok {
		return Watch{}, fmt.Errorf("%v: %w", dir, ErrNotWatched)
	}
	return p.Watch, nil
}

// Count returns the number of records under dir.
func (r *Registry) Count(dir identity.ID) (int, error) {
	r.mut.RLock()
	defer r.mut.RUnlock()
	p, ok := r.points[dir]
	if !ok {
		return 0, fmt.Errorf("%v: %w", dir, ErrNotWatched)
	}
	return p.count(), nil
}

// Flush deletes all records under dir. The watch point itself remains.
func (r *Registry) Flush(dir identity.ID) error {
	r.mut.RLock()
	defer r.mut.RUnlock()
	p, ok := r.points[dir]
	if !ok {
		return fmt.Errorf("%v: %w", dir, ErrNotWatched)
	}
	n := p.flush()
	metricRecords.Sub(float64(n))
	l.Debugf("flushed %d records from watch point %v", n, dir)
	return nil
}

// Len returns the number of watch points.
func (r *Registry) Len() int {
	r.mut.RLock()
	defer r.mut.RUnlock()
	return len(r.points)
}

// ListWatched returns up to limit watch points in creation order. A
// negative limit means all of them.
func (r *Registry) ListWatched(limit int) []Watch {
	r.mut.RLock()
	defer r.mut.RUnlock()
	n := len(r.order)
	if limit >= 0 && limit < n {
		n = limit
	}
	res := make([]Watch, n)
	for i, id := range r.order[:n] {
		res[i] = r.points[id].Watch
	}
	return res
}

// ChangesOf returns up to limit records under dir, in the order the objects
// were first changed. A negative limit means all of them.
func (r *Registry) ChangesOf(dir identity.ID, limit int) ([]Record, error) {
	r.mut.RLock()
	defer r.mut.RUnlock()
	p, ok := r.points[dir]
	if !ok {
		return nil, fmt.Errorf("%v: %w", dir, ErrNotWatched)
	}
	return p.snapshot(limit), nil
}

// Close releases all watch points and records.
func (r *Registry) Close() {
	r.mut.Lock()
	defer r.mut.Unlock()
	for _, p := range r.points {
		metricRecords.Sub(float64(p.flush()))
	}
	clear(r.points)
	r.order = nil
	metricWatchPoints.Set(0)
}
