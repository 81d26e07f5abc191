// Copyright (C) 2026 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"
	"time"

	"github.com/d4l3k/messagediff"

	"github.com/syncthing/changewatch/lib/ancestor"
	"github.com/syncthing/changewatch/lib/bitmap"
	"github.com/syncthing/changewatch/lib/classifier"
	"github.com/syncthing/changewatch/lib/config"
	"github.com/syncthing/changewatch/lib/events"
	"github.com/syncthing/changewatch/lib/identity"
	"github.com/syncthing/changewatch/lib/registry"
	"github.com/syncthing/changewatch/lib/watch"
)

type testEnv struct {
	svc  *Service
	reg  *registry.Registry
	root string
	me   identity.User
}

func newTestEnv(t *testing.T, cfg config.APIConfiguration) *testEnv {
	t.Helper()
	if runtime.GOOS != "linux" && runtime.GOOS != "darwin" {
		t.Skip("identity lookups not supported on", runtime.GOOS)
	}
	resolver, err := identity.NewResolver(identity.Options{Blocklist: []string{}})
	if err != nil {
		t.Fatal(err)
	}
	reg := registry.New(registry.Options{})
	t.Cleanup(reg.Close)
	evl := events.NewLogger()
	walker := ancestor.New(0)
	watches := watch.New(reg, resolver, walker, evl)
	cls := classifier.New(reg, resolver, walker, evl, bitmap.DefaultBlockSize)
	root, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return &testEnv{
		svc:  New(cfg, watches, cls, evl),
		reg:  reg,
		root: root,
		me:   identity.User{UID: os.Getuid()},
	}
}

// request performs a request as the given user against the handler.
func (e *testEnv) request(t *testing.T, user identity.User, method, path string, q url.Values, body any) *httptest.ResponseRecorder {
	t.Helper()
	target := path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req = req.WithContext(withUser(req.Context(), user))
	rec := httptest.NewRecorder()
	e.svc.handler().ServeHTTP(rec, req)
	return rec
}

func pathValues(p string) url.Values {
	return url.Values{"path": []string{p}}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var er errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &er); err != nil {
		t.Fatalf("bad error body %q: %v", rec.Body.String(), err)
	}
	return er
}

func TestWatchLifecycle(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, config.APIConfiguration{})
	dir := filepath.Join(e.root, "d")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}

	rec := e.request(t, e.me, http.MethodPost, "/rest/watch", pathValues(dir), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("set watch: %d %s", rec.Code, rec.Body.String())
	}
	var w registry.Watch
	if err := json.Unmarshal(rec.Body.Bytes(), &w); err != nil {
		t.Fatal(err)
	}
	if w.Path != dir {
		t.Errorf("watch path %q, expected %q", w.Path, dir)
	}

	rec = e.request(t, e.me, http.MethodPost, "/rest/watch", pathValues(dir), nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("second set watch: %d", rec.Code)
	}
	if er := decodeError(t, rec); er.Kind != watch.KindAlreadyWatched {
		t.Errorf("kind %q, expected %q", er.Kind, watch.KindAlreadyWatched)
	}

	rec = e.request(t, e.me, http.MethodGet, "/rest/watches/count", nil, nil)
	var c Count
	if err := json.Unmarshal(rec.Body.Bytes(), &c); err != nil {
		t.Fatal(err)
	}
	if c.Count != 1 {
		t.Errorf("watch count %d, expected 1", c.Count)
	}

	rec = e.request(t, e.me, http.MethodDelete, "/rest/watch", pathValues(dir), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("remove watch: %d %s", rec.Code, rec.Body.String())
	}
	rec = e.request(t, e.me, http.MethodDelete, "/rest/watch", pathValues(dir), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second remove: %d", rec.Code)
	}
	if er := decodeError(t, rec); er.Kind != watch.KindNotWatched {
		t.Errorf("kind %q, expected %q", er.Kind, watch.KindNotWatched)
	}
}

func TestErrorStatus(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, config.APIConfiguration{})
	file := filepath.Join(e.root, "f")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		user   identity.User
		q      url.Values
		status int
		kind   string
	}{
		{e.me, nil, http.StatusBadRequest, watch.KindInvalidArgument},
		{e.me, pathValues(filepath.Join(e.root, "missing")), http.StatusNotFound, watch.KindNotFound},
		{identity.Nobody, pathValues(e.root), http.StatusForbidden, watch.KindPermissionDenied},
	}
	for _, tc := range cases {
		rec := e.request(t, tc.user, http.MethodGet, "/rest/watch/changes/count", tc.q, nil)
		if rec.Code != tc.status {
			t.Errorf("%v: status %d, expected %d", tc.q, rec.Code, tc.status)
		}
		if er := decodeError(t, rec); er.Kind != tc.kind {
			t.Errorf("%v: kind %q, expected %q", tc.q, er.Kind, tc.kind)
		}
	}
}

func TestOperationIntake(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, config.APIConfiguration{})
	dir := filepath.Join(e.root, "d")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	file := filepath.Join(dir, "f")
	if err := os.WriteFile(file, make([]byte, 100), 0o644); err != nil {
		t.Fatal(err)
	}
	if rec := e.request(t, e.me, http.MethodPost, "/rest/watch", pathValues(dir), nil); rec.Code != http.StatusOK {
		t.Fatal(rec.Body.String())
	}

	body := map[string]any{"kind": "write", "path": file, "offset": 0, "length": 100}
	rec := e.request(t, e.me, http.MethodPost, "/rest/operation", nil, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("operation: %d %s", rec.Code, rec.Body.String())
	}
	var res OperationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if !res.Recorded {
		t.Error("write was not recorded")
	}

	// Failed operations are accepted and ignored.
	body["failed"] = true
	rec = e.request(t, e.me, http.MethodPost, "/rest/operation", nil, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("failed operation: %d %s", rec.Code, rec.Body.String())
	}

	rec = e.request(t, e.me, http.MethodGet, "/rest/watch/changes", pathValues(dir), nil)
	var recs []registry.Record
	if err := json.Unmarshal(rec.Body.Bytes(), &recs); err != nil {
		t.Fatal(err)
	}
	id, err := identity.Stat(file)
	if err != nil {
		t.Fatal(err)
	}
	expected := []registry.Record{{ID: id, Changes: bitmap.Of(bitmap.Modified, bitmap.BucketOffset)}}
	if diff, equal := messagediff.PrettyDiff(expected, recs); !equal {
		t.Errorf("changes differ:\n%s", diff)
	}

	q := pathValues(dir)
	q.Set("max", "-1")
	rec = e.request(t, e.me, http.MethodGet, "/rest/watch/changes", q, nil)
	if got := bytes.TrimSpace(rec.Body.Bytes()); string(got) != "[]" {
		t.Errorf("negative max returned %s", got)
	}

	rec = e.request(t, e.me, http.MethodPost, "/rest/operation", nil, map[string]any{"kind": "frobnicate", "path": file})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown kind: %d", rec.Code)
	}
	rec = e.request(t, e.me, http.MethodPost, "/rest/operation", nil, map[string]any{"kind": "write", "path": file, "offset": -1, "length": 10})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("negative offset: %d", rec.Code)
	}
}

func TestDeleteNeedsOwnCapture(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, config.APIConfiguration{})
	file := filepath.Join(e.root, "f")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if rec := e.request(t, e.me, http.MethodPost, "/rest/watch", pathValues(e.root), nil); rec.Code != http.StatusOK {
		t.Fatal(rec.Body.String())
	}
	stranger := identity.User{UID: os.Getuid() + 4242}

	// Identities are never taken from the caller.
	body := map[string]any{"kind": "unlink", "path": file, "id": "7:7"}
	if rec := e.request(t, stranger, http.MethodPost, "/rest/operation", nil, body); rec.Code != http.StatusBadRequest {
		t.Errorf("caller supplied identity: %d %s", rec.Code, rec.Body.String())
	}
	body = map[string]any{"kind": "unlink", "path": file, "capture": "0123456789abcdef"}
	if rec := e.request(t, stranger, http.MethodPost, "/rest/operation", nil, body); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown capture: %d %s", rec.Code, rec.Body.String())
	}

	// Strangers can neither capture the file nor use the owner's capture.
	if rec := e.request(t, stranger, http.MethodPost, "/rest/operation/capture", pathValues(file), nil); rec.Code != http.StatusForbidden {
		t.Errorf("capture by stranger: %d", rec.Code)
	}
	rec := e.request(t, e.me, http.MethodPost, "/rest/operation/capture", pathValues(file), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("capture: %d %s", rec.Code, rec.Body.String())
	}
	var capture CaptureResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &capture); err != nil {
		t.Fatal(err)
	}
	body["capture"] = capture.Token
	if rec := e.request(t, stranger, http.MethodPost, "/rest/operation", nil, body); rec.Code != http.StatusForbidden {
		t.Errorf("unlink with someone else's capture: %d %s", rec.Code, rec.Body.String())
	}
	if n, _ := e.reg.Count(mustStat(t, e.root)); n != 0 {
		t.Errorf("expected no changes, got %d", n)
	}

	// The owner's own report is recorded.
	if err := os.Remove(file); err != nil {
		t.Fatal(err)
	}
	rec = e.request(t, e.me, http.MethodPost, "/rest/operation", nil, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("unlink: %d %s", rec.Code, rec.Body.String())
	}
	var res OperationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil || !res.Recorded {
		t.Errorf("unlink not recorded: %s", rec.Body.String())
	}
}

func mustStat(t *testing.T, path string) identity.ID {
	t.Helper()
	id, err := identity.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestBudgetedChanges(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, config.APIConfiguration{})
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(filepath.Join(e.root, strconv.Itoa(i)), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if rec := e.request(t, e.me, http.MethodPost, "/rest/watch", pathValues(e.root), nil); rec.Code != http.StatusOK {
		t.Fatal(rec.Body.String())
	}
	for i := 0; i < 3; i++ {
		body := map[string]any{"kind": "chmod", "path": filepath.Join(e.root, strconv.Itoa(i))}
		if rec := e.request(t, e.me, http.MethodPost, "/rest/operation", nil, body); rec.Code != http.StatusOK {
			t.Fatal(rec.Body.String())
		}
	}

	// Room for two records and a bit.
	q := pathValues(e.root)
	q.Set("budget", strconv.Itoa(2*registry.ChangeRecordSize+5))
	rec := e.request(t, e.me, http.MethodGet, "/rest/watch/changes", q, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("budget: %d %s", rec.Code, rec.Body.String())
	}
	if n := rec.Header().Get("X-Record-Count"); n != "2" {
		t.Errorf("record count %s, expected 2", n)
	}
	recs, err := registry.UnmarshalRecords(rec.Body.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records", len(recs))
	}
	for _, r := range recs {
		if !r.Changes.Test(bitmap.ModeChanged) {
			t.Errorf("record %v lacks ModeChanged", r)
		}
	}

	q = url.Values{"budget": []string{strconv.Itoa(registry.IdentityRecordSize)}}
	rec = e.request(t, e.me, http.MethodGet, "/rest/watches", q, nil)
	ids, err := registry.UnmarshalIdentities(rec.Body.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	rootID, _ := identity.Stat(e.root)
	if len(ids) != 1 || ids[0] != rootID {
		t.Errorf("watched identities %v, expected [%v]", ids, rootID)
	}
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, config.APIConfiguration{RequestsPerSecond: 0.001, Burst: 2})
	for i := 0; i < 2; i++ {
		if rec := e.request(t, e.me, http.MethodGet, "/rest/system/ping", nil, nil); rec.Code != http.StatusOK {
			t.Fatalf("request %d: %d", i, rec.Code)
		}
	}
	if rec := e.request(t, e.me, http.MethodGet, "/rest/system/ping", nil, nil); rec.Code != http.StatusTooManyRequests {
		t.Errorf("third request: %d", rec.Code)
	}
	// Other users have their own allowance.
	other := identity.User{UID: e.me.UID + 1}
	if rec := e.request(t, other, http.MethodGet, "/rest/system/ping", nil, nil); rec.Code != http.StatusOK {
		t.Errorf("other user: %d", rec.Code)
	}
}

func TestEventsEndpoint(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, config.APIConfiguration{})
	if rec := e.request(t, e.me, http.MethodPost, "/rest/watch", pathValues(e.root), nil); rec.Code != http.StatusOK {
		t.Fatal(rec.Body.String())
	}

	q := url.Values{"since": []string{"0"}, "timeout": []string{"1"}, "events": []string{"WatchSet"}}
	rec := e.request(t, e.me, http.MethodGet, "/rest/events", q, nil)
	var evs []struct {
		Type string            `json:"type"`
		Data map[string]string `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &evs); err != nil {
		t.Fatalf("%v: %s", err, rec.Body.String())
	}
	if len(evs) != 1 || evs[0].Type != "WatchSet" || evs[0].Data["path"] != e.root {
		t.Errorf("unexpected events %+v", evs)
	}
}

func TestServeAndClient(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("peer credentials only on linux")
	}
	t.Parallel()

	sockDir, err := os.MkdirTemp("", "cw")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(sockDir) })
	sock := filepath.Join(sockDir, "s")

	e := newTestEnv(t, config.APIConfiguration{Address: sock, SocketPermissions: 0o600})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.svc.Serve(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	c := NewClient(sock)
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := c.NumWatches(ctx); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("API did not come up")
		}
		time.Sleep(10 * time.Millisecond)
	}

	fi, err := os.Stat(sock)
	if err != nil {
		t.Fatal(err)
	}
	if perm := fi.Mode().Perm(); perm != 0o600 {
		t.Errorf("socket permissions %o", perm)
	}

	if _, err := c.SetWatch(ctx, e.root); err != nil {
		t.Fatal(err)
	}
	sub := filepath.Join(e.root, "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := c.SetWatch(ctx, sub); !errors.Is(err, registry.ErrNestedWatch) {
		t.Errorf("nested watch: %v", err)
	}

	capture, err := c.Capture(ctx, sub)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(sub); err != nil {
		t.Fatal(err)
	}
	recorded, err := c.Report(ctx, OperationRequest{Kind: classifier.Rmdir, Path: sub, Capture: capture.Token})
	if err != nil || !recorded {
		t.Fatalf("rmdir: %v %v", recorded, err)
	}

	recs, err := c.GetChanges(ctx, e.root, -1)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || !recs[0].Changes.Test(bitmap.Deleted) || recs[0].ID.String() != capture.ID {
		t.Errorf("unexpected changes %v", recs)
	}

	if err := c.FlushWatch(ctx, e.root); err != nil {
		t.Fatal(err)
	}
	if n, err := c.NumChanges(ctx, e.root); err != nil || n != 0 {
		t.Errorf("after flush: %d %v", n, err)
	}
	if err := c.RemoveWatch(ctx, e.root); err != nil {
		t.Fatal(err)
	}
	if err := c.RemoveWatch(ctx, e.root); !errors.Is(err, registry.ErrNotWatched) {
		t.Errorf("second remove: %v", err)
	}
}
