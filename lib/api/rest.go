// Copyright (C) 2026 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/calmh/incontainer"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/syncthing/changewatch/lib/classifier"
	"github.com/syncthing/changewatch/lib/events"
	"github.com/syncthing/changewatch/lib/identity"
	"github.com/syncthing/changewatch/lib/registry"
)

// Count is the response of the counting endpoints.
type Count struct {
	Count int `json:"count"`
}

// OperationRequest is the body of a POST to /rest/operation.
type OperationRequest struct {
	Kind    classifier.Kind `json:"kind"`
	Path    string          `json:"path"`
	Offset  int64           `json:"offset,omitempty"`
	Length  int64           `json:"length,omitempty"`
	Flags   int             `json:"flags,omitempty"`
	Existed bool            `json:"existed,omitempty"`
	// Capture is the token returned by /rest/operation/capture before an
	// unlink or rmdir.
	Capture string `json:"capture,omitempty"`
	Failed  bool   `json:"failed,omitempty"`
}

// CaptureResponse is returned by /rest/operation/capture. Only the token
// is accepted back; ID and Path are informational.
type CaptureResponse struct {
	Token string `json:"token"`
	ID    string `json:"id"`
	Path  string `json:"path"`
}

// OperationResponse tells whether an operation produced a change record.
type OperationResponse struct {
	Recorded bool `json:"recorded"`
}

var errOperationFailed = errors.New("operation failed")

func (r OperationRequest) operation(user identity.User, redeem func(identity.User, string) (*classifier.Capture, error)) (classifier.Operation, error) {
	op := classifier.Operation{
		Kind:    r.Kind,
		Path:    r.Path,
		Offset:  r.Offset,
		Length:  r.Length,
		Flags:   r.Flags,
		Existed: r.Existed,
		User:    user,
	}
	if r.Capture != "" {
		c, err := redeem(user, r.Capture)
		if err != nil {
			return classifier.Operation{}, err
		}
		op.Captured = c
	}
	if r.Failed {
		op.Err = errOperationFailed
	}
	return op, nil
}

func requiredPath(r *http.Request) (string, error) {
	path := r.URL.Query().Get("path")
	if path == "" {
		return "", fmt.Errorf("%w: missing path", identity.ErrInvalidArgument)
	}
	return path, nil
}

// intParam returns the named query parameter, or def when it is absent.
func intParam(r *http.Request, name string, def int) (int, bool, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, false, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %s: %v", identity.ErrInvalidArgument, name, errBadParameter)
	}
	return v, true, nil
}

func (s *Service) postWatch(w http.ResponseWriter, r *http.Request) {
	path, err := requiredPath(r)
	if err != nil {
		sendError(w, err)
		return
	}
	wp, err := s.watches.SetWatch(userFrom(r.Context()), path)
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, wp)
}

func (s *Service) deleteWatch(w http.ResponseWriter, r *http.Request) {
	path, err := requiredPath(r)
	if err != nil {
		sendError(w, err)
		return
	}
	if err := s.watches.RemoveWatch(userFrom(r.Context()), path); err != nil {
		sendError(w, err)
	}
}

func (s *Service) postWatchFlush(w http.ResponseWriter, r *http.Request) {
	path, err := requiredPath(r)
	if err != nil {
		sendError(w, err)
		return
	}
	if err := s.watches.FlushWatch(userFrom(r.Context()), path); err != nil {
		sendError(w, err)
	}
}

func (s *Service) getWatchChangesCount(w http.ResponseWriter, r *http.Request) {
	path, err := requiredPath(r)
	if err != nil {
		sendError(w, err)
		return
	}
	n, err := s.watches.NumChanges(userFrom(r.Context()), path)
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, Count{Count: n})
}

// getWatchChanges returns the change records of a watch point, either as
// JSON limited by max or as packed records that fit in budget bytes.
func (s *Service) getWatchChanges(w http.ResponseWriter, r *http.Request) {
	path, err := requiredPath(r)
	if err != nil {
		sendError(w, err)
		return
	}
	user := userFrom(r.Context())

	budget, useBudget, err := intParam(r, "budget", 0)
	if err != nil {
		sendError(w, err)
		return
	}
	if useBudget {
		bs, n, err := s.watches.ChangesWithin(user, path, budget)
		if err != nil {
			sendError(w, err)
			return
		}
		sendRecords(w, bs, n)
		return
	}

	// Without max every record is returned. A negative max yields none.
	limit, _, err := intParam(r, "max", math.MaxInt)
	if err != nil {
		sendError(w, err)
		return
	}
	recs, err := s.watches.GetChanges(user, path, limit)
	if err != nil {
		sendError(w, err)
		return
	}
	if recs == nil {
		recs = []registry.Record{}
	}
	sendJSON(w, recs)
}

func (s *Service) getWatchesCount(w http.ResponseWriter, _ *http.Request) {
	sendJSON(w, Count{Count: s.watches.NumWatches()})
}

func (s *Service) getWatches(w http.ResponseWriter, r *http.Request) {
	budget, useBudget, err := intParam(r, "budget", 0)
	if err != nil {
		sendError(w, err)
		return
	}
	if useBudget {
		bs, n, err := s.watches.WatchedWithin(budget)
		if err != nil {
			sendError(w, err)
			return
		}
		sendRecords(w, bs, n)
		return
	}

	limit, _, err := intParam(r, "max", math.MaxInt)
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, s.watches.ListWatchedDirectories(limit))
}

func sendRecords(w http.ResponseWriter, bs []byte, n int) {
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(bs)))
	w.Header().Set("X-Record-Count", strconv.Itoa(n))
	_, _ = w.Write(bs)
}

func (s *Service) postOperation(w http.ResponseWriter, r *http.Request) {
	var req OperationRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxOperationBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		sendError(w, fmt.Errorf("%w: %v", identity.ErrInvalidArgument, err))
		return
	}
	op, err := req.operation(userFrom(r.Context()), s.classifier.Redeem)
	if err != nil {
		sendError(w, err)
		return
	}
	recorded, err := s.classifier.OnOperation(op)
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, OperationResponse{Recorded: recorded})
}

// postOperationCapture looks up an object that is about to be deleted and
// returns a token for the subsequent unlink or rmdir operation.
func (s *Service) postOperationCapture(w http.ResponseWriter, r *http.Request) {
	path, err := requiredPath(r)
	if err != nil {
		sendError(w, err)
		return
	}
	token, c, err := s.classifier.CaptureToken(userFrom(r.Context()), path)
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, CaptureResponse{
		Token: token,
		ID:    c.ID.String(),
		Path:  c.Path,
	})
}

func (s *Service) getEvents(w http.ResponseWriter, r *http.Request) {
	qs := r.URL.Query()
	sinceStr := qs.Get("since")
	limitStr := qs.Get("limit")
	timeoutStr := qs.Get("timeout")
	since, _ := strconv.Atoi(sinceStr)
	limit, _ := strconv.Atoi(limitStr)
	mask := getEventMask(qs.Get("events"))

	timeout := defaultEventTimeout
	if timeoutSec, timeoutErr := strconv.Atoi(timeoutStr); timeoutErr == nil && timeoutSec >= 0 { // 0 is a valid timeout
		timeout = time.Duration(timeoutSec) * time.Second
	}

	// Flush before blocking, to indicate that we've received the request and
	// that it should not be retried. Must set Content-Type header before
	// flushing.
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	// If there are no events available return an empty slice, as this gets serialized as `[]`
	evs := s.eventSub.Since(since, []events.Event{}, timeout)
	if mask != events.AllEvents {
		filtered := evs[:0]
		for _, ev := range evs {
			if ev.Type&mask != 0 {
				filtered = append(filtered, ev)
			}
		}
		evs = filtered
	}
	if 0 < limit && limit < len(evs) {
		evs = evs[len(evs)-limit:]
	}

	sendJSON(w, evs)
}

func getEventMask(evs string) events.EventType {
	eventMask := events.EventType(events.AllEvents)
	if evs != "" {
		eventList := strings.Split(evs, ",")
		eventMask = 0
		for _, ev := range eventList {
			eventMask |= events.UnmarshalEventType(strings.TrimSpace(ev))
		}
	}
	return eventMask
}

func (s *Service) getSystemStatus(w http.ResponseWriter, _ *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	res := make(map[string]interface{})
	res["goroutines"] = runtime.NumGoroutine()
	res["alloc"] = m.Alloc
	res["sys"] = m.Sys - m.HeapReleased
	res["uptime"] = int(time.Since(s.startTime).Seconds())
	res["startTime"] = s.startTime
	res["watches"] = s.watches.NumWatches()
	res["container"] = incontainer.Detect()
	res["address"] = s.cfg.Address

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mem, err := proc.MemoryInfo(); err == nil {
			res["rss"] = mem.RSS
		}
	}

	sendJSON(w, res)
}

func (*Service) restPing(w http.ResponseWriter, _ *http.Request) {
	sendJSON(w, map[string]string{"ping": "pong"})
}
