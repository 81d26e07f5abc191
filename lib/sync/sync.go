// Copyright (C) 2015 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package sync provides mutexes that, when the "sync" debug facility is
// enabled, report critical sections held for longer than a threshold.
package sync

import (
	"fmt"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

type Mutex interface {
	Lock()
	Unlock()
}

type RWMutex interface {
	Mutex
	RLock()
	RUnlock()
}

func NewMutex() Mutex {
	if debug {
		return &loggedMutex{}
	}
	return &sync.Mutex{}
}

func NewRWMutex() RWMutex {
	if debug {
		return &loggedRWMutex{}
	}
	return &sync.RWMutex{}
}

type holder struct {
	at   string
	time time.Time
}

func (h holder) String() string {
	if h.at == "" {
		return "not held"
	}
	return fmt.Sprintf("at %s for %s", h.at, time.Since(h.time))
}

type loggedMutex struct {
	sync.Mutex
	start  time.Time
	holder atomic.Value
}

func (m *loggedMutex) Lock() {
	m.Mutex.Lock()
	m.start = time.Now()
	m.holder.Store(getHolder())
}

func (m *loggedMutex) Unlock() {
	duration := time.Since(m.start)
	if duration >= threshold {
		h, _ := m.holder.Load().(holder)
		report(fmt.Sprintf("Mutex held for %v. Locked at %s unlocked at %s", duration, h.at, getHolder().at))
	}
	m.holder.Store(holder{})
	m.Mutex.Unlock()
}

func (m *loggedMutex) Holders() string {
	h, _ := m.holder.Load().(holder)
	return h.String()
}

type loggedRWMutex struct {
	sync.RWMutex
	start  time.Time
	holder atomic.Value
}

func (m *loggedRWMutex) Lock() {
	start := time.Now()
	m.RWMutex.Lock()
	m.start = time.Now()
	if waited := m.start.Sub(start); waited >= threshold {
		report(fmt.Sprintf("RWMutex took %v to lock. Locked at %s", waited, getHolder().at))
	}
	m.holder.Store(getHolder())
}

func (m *loggedRWMutex) Unlock() {
	duration := time.Since(m.start)
	if duration >= threshold {
		h, _ := m.holder.Load().(holder)
		report(fmt.Sprintf("RWMutex held for %v. Locked at %s unlocked at %s", duration, h.at, getHolder().at))
	}
	m.holder.Store(holder{})
	m.RWMutex.Unlock()
}

func getHolder() holder {
	_, file, line, _ := runtime.Caller(2)
	file = filepath.Join(filepath.Base(filepath.Dir(file)), filepath.Base(file))
	return holder{
		at:   fmt.Sprintf("%s:%d", file, line),
		time: time.Now(),
	}
}
