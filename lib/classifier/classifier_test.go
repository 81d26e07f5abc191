// Copyright (C) 2026 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package classifier

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/d4l3k/messagediff"

	"github.com/syncthing/changewatch/lib/ancestor"
	"github.com/syncthing/changewatch/lib/bitmap"
	"github.com/syncthing/changewatch/lib/events"
	"github.com/syncthing/changewatch/lib/identity"
	"github.com/syncthing/changewatch/lib/registry"
	"github.com/syncthing/changewatch/lib/watch"
)

func TestClassify(t *testing.T) {
	c := New(nil, nil, nil, nil, 16384)

	cases := []struct {
		name string
		op   Operation
		bits []int
	}{
		{"open plain", Operation{Kind: Open}, nil},
		{"open create existing", Operation{Kind: Open, Flags: os.O_CREATE, Existed: true}, nil},
		{"open create new", Operation{Kind: Open, Flags: os.O_CREATE}, []int{bitmap.Created}},
		{"open trunc", Operation{Kind: Open, Flags: os.O_TRUNC, Existed: true}, []int{bitmap.Created}},
		{"mkdir", Operation{Kind: Mkdir}, []int{bitmap.Created}},
		{"write first block", Operation{Kind: Write, Offset: 0, Length: 100}, []int{bitmap.Modified, 8}},
		{"write second block", Operation{Kind: Write, Offset: 20000, Length: 10}, []int{bitmap.Modified, 9}},
		{"write spanning", Operation{Kind: Write, Offset: 16000, Length: 40000}, []int{bitmap.Modified, 8, 9, 10, 11}},
		{"write block edge", Operation{Kind: Write, Offset: 0, Length: 16384}, []int{bitmap.Modified, 8}},
		{"write empty", Operation{Kind: Write, Offset: 16384, Length: 0}, []int{bitmap.Modified, 9}},
		{"write far", Operation{Kind: Write, Offset: 119 * 16384, Length: 1}, []int{bitmap.Modified, bitmap.Overflow}},
		{"write past largest offset", Operation{Kind: Write, Offset: math.MaxInt64 - 10, Length: 100}, []int{bitmap.Modified, bitmap.Overflow}},
		{"rename", Operation{Kind: Rename}, []int{bitmap.Renamed}},
		{"unlink", Operation{Kind: Unlink}, []int{bitmap.Deleted}},
		{"rmdir", Operation{Kind: Rmdir}, []int{bitmap.Deleted}},
		{"chmod", Operation{Kind: Chmod}, []int{bitmap.ModeChanged}},
		{"chown", Operation{Kind: Chown}, []int{bitmap.OwnerChanged}},
		{"utimes", Operation{Kind: Utimes}, []int{bitmap.TimeChanged}},
		{"unknown", Operation{Kind: 99}, nil},
	}

	for _, tc := range cases {
		res := c.Classify(tc.op)
		if diff, equal := messagediff.PrettyDiff(bitmap.Of(tc.bits...), res); !equal {
			t.Errorf("%s: unexpected bitmap %s:\n%s", tc.name, res.Describe(), diff)
		}
	}
}

func TestClassifyTruncate(t *testing.T) {
	c := New(nil, nil, nil, nil, 16384)

	bm := c.Classify(Operation{Kind: Truncate, Length: 2 * 16384})
	if !bm.Test(bitmap.Modified) {
		t.Error("truncate should set Modified")
	}
	for i := bitmap.BucketOffset; i < bitmap.BucketOffset+2; i++ {
		if bm.Test(i) {
			t.Errorf("bucket below the new length set: %d", i)
		}
	}
	for i := bitmap.BucketOffset + 2; i <= bitmap.Overflow; i++ {
		if !bm.Test(i) {
			t.Errorf("bucket %d at or above the new length not set", i)
		}
	}

	// Truncating to zero touches everything.
	if bm := c.Classify(Operation{Kind: Truncate}); bm.Count() != 1+bitmap.NumBuckets+1 {
		t.Errorf("unexpected bitmap %s", bm.Describe())
	}
	// Truncating past the buckets only touches the overflow bucket.
	if bm := c.Classify(Operation{Kind: Truncate, Length: 1 << 40}); bm != bitmap.Of(bitmap.Modified, bitmap.Overflow) {
		t.Errorf("unexpected bitmap %s", bm.Describe())
	}
}

func TestClassifyLongWrite(t *testing.T) {
	c := New(nil, nil, nil, nil, 16384)

	// The end of the range is not representable; every bucket from the
	// start through overflow is touched.
	bm := c.Classify(Operation{Kind: Write, Offset: 16384, Length: math.MaxInt64})
	expected := bitmap.Of(bitmap.Modified).SetRange(bitmap.BucketOffset+1, bitmap.Overflow)
	if bm != expected {
		t.Errorf("unexpected bitmap %s", bm.Describe())
	}
}

func TestNegativeRangeRejected(t *testing.T) {
	c := New(nil, nil, nil, nil, 16384)

	for _, op := range []Operation{
		{Kind: Write, Path: "/x", Offset: -1, Length: 10},
		{Kind: Write, Path: "/x", Offset: 10, Length: -1},
		{Kind: Truncate, Path: "/x", Length: -5},
	} {
		ok, err := c.OnOperation(op)
		if ok || !errors.Is(err, identity.ErrInvalidArgument) {
			t.Errorf("%v %d+%d => %v, %v; expected invalid argument", op.Kind, op.Offset, op.Length, ok, err)
		}
	}
}

func TestKindText(t *testing.T) {
	for k := Open; k <= Utimes; k++ {
		bs, _ := k.MarshalText()
		var back Kind
		if err := back.UnmarshalText(bs); err != nil || back != k {
			t.Errorf("%v => %q => %v, %v", k, bs, back, err)
		}
	}
	var k Kind
	if err := k.UnmarshalText([]byte("mmap")); !errors.Is(err, identity.ErrInvalidArgument) {
		t.Errorf("unexpected %v", err)
	}
}

type testEnv struct {
	*Classifier
	svc  *watch.Service
	reg  *registry.Registry
	root string
	me   identity.User
}

func newTestEnv(t *testing.T, opts registry.Options) *testEnv {
	t.Helper()
	if runtime.GOOS != "linux" && runtime.GOOS != "darwin" {
		t.Skip("identity lookups not supported on", runtime.GOOS)
	}
	resolver, err := identity.NewResolver(identity.Options{Blocklist: []string{}})
	if err != nil {
		t.Fatal(err)
	}
	reg := registry.New(opts)
	walker := ancestor.New(0)
	evl := events.NewLogger()
	root, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return &testEnv{
		Classifier: New(reg, resolver, walker, evl, bitmap.DefaultBlockSize),
		svc:        watch.New(reg, resolver, walker, evl),
		reg:        reg,
		root:       root,
		me:         identity.User{UID: os.Getuid()},
	}
}

func (e *testEnv) path(rel string) string {
	return filepath.Join(e.root, rel)
}

func mustRecord(t *testing.T, e *testEnv, op Operation) {
	t.Helper()
	ok, err := e.OnOperation(op)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatalf("%v %s not recorded", op.Kind, op.Path)
	}
}

func TestWriteScenario(t *testing.T) {
	e := newTestEnv(t, registry.Options{})
	proj := e.path("proj")
	if err := os.Mkdir(proj, 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := e.svc.SetWatch(e.me, proj); err != nil {
		t.Fatal(err)
	}

	file := filepath.Join(proj, "a.txt")
	if err := os.WriteFile(file, make([]byte, 100), 0o644); err != nil {
		t.Fatal(err)
	}
	fileID, err := identity.Stat(file)
	if err != nil {
		t.Fatal(err)
	}

	mustRecord(t, e, Operation{Kind: Write, Path: file, Offset: 0, Length: 100, User: e.me})
	recs, err := e.svc.GetChanges(e.me, proj, 10)
	if err != nil {
		t.Fatal(err)
	}
	expected := []registry.Record{{ID: fileID, Changes: bitmap.Of(bitmap.Modified, 8)}}
	if diff, equal := messagediff.PrettyDiff(expected, recs); !equal {
		t.Errorf("unexpected records:\n%s", diff)
	}

	mustRecord(t, e, Operation{Kind: Write, Path: file, Offset: 20000, Length: 100, User: e.me})
	recs, _ = e.svc.GetChanges(e.me, proj, 10)
	expected[0].Changes = bitmap.Of(bitmap.Modified, 8, 9)
	if diff, equal := messagediff.PrettyDiff(expected, recs); !equal {
		t.Errorf("unexpected records after merge:\n%s", diff)
	}
	if n, err := e.svc.NumChanges(e.me, proj); err != nil || n != 1 {
		t.Errorf("expected one change, got %d, %v", n, err)
	}

	if err := e.svc.RemoveWatch(e.me, proj); err != nil {
		t.Fatal(err)
	}
	if _, err := e.svc.NumChanges(e.me, proj); !errors.Is(err, registry.ErrNotWatched) {
		t.Errorf("expected not watched, got %v", err)
	}

	// Nothing is recorded any more.
	if ok, err := e.OnOperation(Operation{Kind: Write, Path: file, Length: 1, User: e.me}); ok || err != nil {
		t.Errorf("unexpected %v, %v after removal", ok, err)
	}
}

func TestNearestAncestor(t *testing.T) {
	e := newTestEnv(t, registry.Options{})
	deep := e.path("a/b/c")
	if err := os.MkdirAll(deep, 0o755); err != nil {
		t.Fatal(err)
	}
	file := filepath.Join(deep, "d.txt")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := e.svc.SetWatch(e.me, e.path("a")); err != nil {
		t.Fatal(err)
	}

	mustRecord(t, e, Operation{Kind: Chmod, Path: file, User: e.me})
	if n, _ := e.svc.NumChanges(e.me, e.path("a")); n != 1 {
		t.Errorf("expected the change under /a, got %d", n)
	}
}

func TestFailedOperation(t *testing.T) {
	e := newTestEnv(t, registry.Options{})
	if _, err := e.svc.SetWatch(e.me, e.root); err != nil {
		t.Fatal(err)
	}
	file := e.path("f")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	ok, err := e.OnOperation(Operation{Kind: Write, Path: file, Length: 10, User: e.me, Err: os.ErrPermission})
	if ok || err != nil {
		t.Errorf("failed operation recorded: %v, %v", ok, err)
	}
	if n, _ := e.svc.NumChanges(e.me, e.root); n != 0 {
		t.Errorf("expected no changes, got %d", n)
	}
}

func TestDeleteUsesCapturedIdentity(t *testing.T) {
	e := newTestEnv(t, registry.Options{})
	if _, err := e.svc.SetWatch(e.me, e.root); err != nil {
		t.Fatal(err)
	}
	file := e.path("victim")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	capture, err := e.Capture(e.me, file)
	if err != nil {
		t.Fatal(err)
	}
	rmErr := os.Remove(file)
	mustRecord(t, e, Operation{Kind: Unlink, Path: file, User: e.me, Captured: capture, Err: rmErr})

	recs, _ := e.svc.GetChanges(e.me, e.root, 10)
	if len(recs) != 1 || recs[0].ID != capture.ID || !recs[0].Changes.Test(bitmap.Deleted) {
		t.Errorf("unexpected records %v", recs)
	}

	// Without a capture there is nothing to record against.
	if _, err := e.OnOperation(Operation{Kind: Unlink, Path: file, User: e.me}); err == nil {
		t.Error("expected an error for an uncaptured delete")
	}
}

func TestDeleteCaptureBelongsToCapturer(t *testing.T) {
	e := newTestEnv(t, registry.Options{})
	if _, err := e.svc.SetWatch(e.me, e.root); err != nil {
		t.Fatal(err)
	}
	stranger := identity.User{UID: os.Getuid() + 4242}

	// An identity made up by someone other than the capturer is refused.
	forged := &Capture{ID: identity.ID{Dev: 7, Ino: 7}, Path: e.path("never-existed")}
	ok, err := e.OnOperation(Operation{Kind: Unlink, Path: forged.Path, User: stranger, Captured: forged})
	if ok || !errors.Is(err, identity.ErrPermissionDenied) {
		t.Errorf("forged capture => %v, %v; expected permission denied", ok, err)
	}
	forged.User = e.me
	ok, err = e.OnOperation(Operation{Kind: Unlink, Path: forged.Path, User: stranger, Captured: forged})
	if ok || !errors.Is(err, identity.ErrPermissionDenied) {
		t.Errorf("someone else's capture => %v, %v; expected permission denied", ok, err)
	}
	if n, _ := e.svc.NumChanges(e.me, e.root); n != 0 {
		t.Errorf("expected no changes, got %d", n)
	}

	// Tokens are redeemable once, and only by the capturer or root.
	file := e.path("f")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	token, capture, err := e.CaptureToken(e.me, file)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Redeem(stranger, token); !errors.Is(err, identity.ErrPermissionDenied) {
		t.Errorf("redeem by stranger => %v", err)
	}
	got, err := e.Redeem(e.me, token)
	if err != nil {
		t.Fatal(err)
	}
	if diff, equal := messagediff.PrettyDiff(capture, got); !equal {
		t.Errorf("redeemed capture differs:\n%s", diff)
	}
	if _, err := e.Redeem(e.me, token); !errors.Is(err, identity.ErrInvalidArgument) {
		t.Errorf("second redeem => %v", err)
	}
	if _, err := e.Redeem(identity.Root, "deadbeef"); !errors.Is(err, identity.ErrInvalidArgument) {
		t.Errorf("unknown token => %v", err)
	}

	token, _, err = e.CaptureToken(e.me, file)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Redeem(identity.Root, token); err != nil {
		t.Errorf("redeem by root => %v", err)
	}
}

func TestDeleteCaptureBlocked(t *testing.T) {
	e := newTestEnv(t, registry.Options{})
	if _, err := e.svc.SetWatch(e.me, e.root); err != nil {
		t.Fatal(err)
	}
	resolver, err := identity.NewResolver(identity.Options{Blocklist: []string{}, Patterns: []string{e.path("secret")}})
	if err != nil {
		t.Fatal(err)
	}
	e.resolver = resolver

	capture := &Capture{ID: identity.ID{Dev: 1, Ino: 2}, Path: e.path("secret"), User: identity.Root}
	ok, err := e.OnOperation(Operation{Kind: Unlink, Path: capture.Path, User: identity.Root, Captured: capture})
	if ok || !errors.Is(err, identity.ErrInvalidArgument) {
		t.Errorf("blocked capture => %v, %v; expected invalid argument", ok, err)
	}
}

func TestRenameRecordsNewName(t *testing.T) {
	e := newTestEnv(t, registry.Options{})
	if _, err := e.svc.SetWatch(e.me, e.root); err != nil {
		t.Fatal(err)
	}
	oldName, newName := e.path("old"), e.path("new")
	if err := os.WriteFile(oldName, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(oldName, newName); err != nil {
		t.Fatal(err)
	}
	mustRecord(t, e, Operation{Kind: Rename, Path: newName, User: e.me})

	id, _ := identity.Stat(newName)
	recs, _ := e.svc.GetChanges(e.me, e.root, 10)
	if len(recs) != 1 || recs[0].ID != id || recs[0].Changes != bitmap.Of(bitmap.Renamed) {
		t.Errorf("unexpected records %v", recs)
	}
}

func TestOwnerCheckOnIntake(t *testing.T) {
	e := newTestEnv(t, registry.Options{})
	if _, err := e.svc.SetWatch(e.me, e.root); err != nil {
		t.Fatal(err)
	}
	file := e.path("f")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	stranger := identity.User{UID: os.Getuid() + 1}
	ok, err := e.OnOperation(Operation{Kind: Chown, Path: file, User: stranger})
	if ok || !errors.Is(err, identity.ErrPermissionDenied) {
		t.Errorf("expected permission denied, got %v, %v", ok, err)
	}
}

func TestHandleOperations(t *testing.T) {
	e := newTestEnv(t, registry.Options{})
	if _, err := e.svc.SetWatch(e.me, e.root); err != nil {
		t.Fatal(err)
	}
	fd, err := os.Create(e.path("handle"))
	if err != nil {
		t.Fatal(err)
	}
	defer fd.Close()

	// No ownership check applies to handles.
	mustRecord(t, e, Operation{Kind: Truncate, File: fd, Length: 0, User: identity.Nobody})

	if ok, err := e.OnOperation(Operation{Kind: Write, File: os.Stdout, Length: 1, User: e.me}); ok || err != nil {
		t.Errorf("standard streams should be ignored: %v, %v", ok, err)
	}
}

func TestOutOfMemoryLeavesState(t *testing.T) {
	e := newTestEnv(t, registry.Options{MaxRecordsPerWatch: 1})
	if _, err := e.svc.SetWatch(e.me, e.root); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"x", "y"} {
		if err := os.WriteFile(e.path(name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	mustRecord(t, e, Operation{Kind: Utimes, Path: e.path("x"), User: e.me})
	if _, err := e.OnOperation(Operation{Kind: Utimes, Path: e.path("y"), User: e.me}); !errors.Is(err, registry.ErrOutOfMemory) {
		t.Errorf("expected out of memory, got %v", err)
	}
	if n, _ := e.svc.NumChanges(e.me, e.root); n != 1 {
		t.Errorf("expected one record, got %d", n)
	}
}
