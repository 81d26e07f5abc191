// Copyright (C) 2015 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package sync

import (
	"strings"
	"sync"
	"testing"
	"time"
)

const (
	logThreshold = 100 * time.Millisecond
	shortWait    = 5 * time.Millisecond
	longWait     = 125 * time.Millisecond
)

var skipTimingTests = false

func init() {
	// Check a few times that a short sleep does not in fact overrun the log
	// threshold. If it does, the timer accuracy is crap or the host is
	// overloaded and we can't reliably run the tests in here.
	for i := 0; i < 25; i++ {
		t0 := time.Now()
		time.Sleep(shortWait)
		if time.Since(t0) > logThreshold {
			skipTimingTests = true
			return
		}
	}
}

func capture(t *testing.T) func() []string {
	t.Helper()
	var mut sync.Mutex
	var messages []string
	old := report
	report = func(msg string) {
		mut.Lock()
		messages = append(messages, msg)
		mut.Unlock()
	}
	t.Cleanup(func() { report = old })
	return func() []string {
		mut.Lock()
		defer mut.Unlock()
		return append([]string(nil), messages...)
	}
}

func TestTypes(t *testing.T) {
	debug = false

	if _, ok := NewMutex().(*sync.Mutex); !ok {
		t.Error("Wrong type")
	}
	if _, ok := NewRWMutex().(*sync.RWMutex); !ok {
		t.Error("Wrong type")
	}

	debug = true
	defer func() { debug = false }()

	if _, ok := NewMutex().(*loggedMutex); !ok {
		t.Error("Wrong type")
	}
	if _, ok := NewRWMutex().(*loggedRWMutex); !ok {
		t.Error("Wrong type")
	}
}

func TestMutex(t *testing.T) {
	if skipTimingTests {
		t.Skip("insufficient timer accuracy")
	}

	debug = true
	defer func() { debug = false }()
	threshold = logThreshold
	messages := capture(t)

	mut := NewMutex()
	mut.Lock()
	time.Sleep(shortWait)
	mut.Unlock()

	if len(messages()) > 0 {
		t.Errorf("Unexpected message count")
	}

	mut.Lock()
	time.Sleep(longWait)
	mut.Unlock()

	msgs := messages()
	if len(msgs) != 1 {
		t.Fatalf("Unexpected message count %d", len(msgs))
	}
	if !strings.Contains(msgs[0], "sync_test.go:") {
		t.Error("Unexpected message", msgs[0])
	}
}

func TestRWMutex(t *testing.T) {
	if skipTimingTests {
		t.Skip("insufficient timer accuracy")
	}

	debug = true
	defer func() { debug = false }()
	threshold = logThreshold
	messages := capture(t)

	mut := NewRWMutex()
	mut.Lock()
	time.Sleep(shortWait)
	mut.Unlock()

	if len(messages()) > 0 {
		t.Errorf("Unexpected message count")
	}

	mut.Lock()
	time.Sleep(longWait)
	mut.Unlock()

	if len(messages()) != 1 {
		t.Errorf("Unexpected message count")
	}

	// A reader holding the lock delays the writer.
	mut.RLock()
	go func() {
		time.Sleep(longWait)
		mut.RUnlock()
	}()

	mut.Lock()
	_ = 1 // skip empty critical section check
	mut.Unlock()

	if len(messages()) != 2 {
		t.Errorf("Unexpected message count")
	}
}
