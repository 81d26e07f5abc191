// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package api serves the watch queries and the operation intake over a
// REST interface on a unix socket. The acting user of a request is the
// peer user of the socket connection.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/syncthing/changewatch/lib/classifier"
	"github.com/syncthing/changewatch/lib/config"
	"github.com/syncthing/changewatch/lib/events"
	"github.com/syncthing/changewatch/lib/svcutil"
	"github.com/syncthing/changewatch/lib/watch"
)

const (
	defaultEventTimeout = time.Minute
	maxOperationBody    = 64 << 10
)

type Service struct {
	cfg        config.APIConfiguration
	watches    *watch.Service
	classifier *classifier.Classifier
	evLogger   *events.Logger
	limiter    *limiter
	startTime  time.Time
	eventSub   events.BufferedSubscription
}

func New(cfg config.APIConfiguration, watches *watch.Service, cls *classifier.Classifier, evLogger *events.Logger) *Service {
	return &Service{
		cfg:        cfg,
		watches:    watches,
		classifier: cls,
		evLogger:   evLogger,
		limiter:    newLimiter(cfg.RequestsPerSecond, cfg.Burst),
		startTime:  time.Now(),
		eventSub:   events.NewBufferedSubscription(evLogger.Subscribe(events.AllEvents), events.BufferSize),
	}
}

func (s *Service) String() string {
	return fmt.Sprintf("api.Service@%p", s)
}

func (s *Service) Serve(ctx context.Context) error {
	listener, err := s.getListener()
	if err != nil {
		l.Warnln("Starting API:", err)
		return svcutil.AsFatalErr(err, svcutil.ExitListen)
	}
	defer listener.Close()

	srv := http.Server{
		Handler:     s.handler(),
		ReadTimeout: 15 * time.Second,
		ConnContext: func(ctx context.Context, c net.Conn) context.Context {
			return withUser(ctx, peerUser(c))
		},
		// Prevent the HTTP server from logging stuff on its own. The things we
		// care about we log ourselves from the handlers.
		ErrorLog: log.New(io.Discard, "", 0),
	}

	l.Infoln("API listening on", listener.Addr())

	serveError := make(chan error, 1)
	go func() {
		select {
		case serveError <- srv.Serve(listener):
		case <-ctx.Done():
		}
	}()

	err = nil
	select {
	case <-ctx.Done():
		l.Debugln("shutting down (stop)")
	case err = <-serveError:
		l.Warnln("API:", err, "(restarting)")
	}

	timeout, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := srv.Shutdown(timeout); err == timeout.Err() {
		srv.Close()
	}
	return err
}

func (s *Service) getListener() (net.Listener, error) {
	addr := s.cfg.Address
	// A stale socket from an earlier run prevents listening.
	if fi, err := os.Lstat(addr); err == nil && fi.Mode()&os.ModeSocket != 0 {
		if err := os.Remove(addr); err != nil {
			return nil, err
		}
	}
	listener, err := net.Listen("unix", addr)
	if err != nil {
		return nil, err
	}
	if s.cfg.SocketPermissions != 0 {
		// We should error if this fails under the assumption that these
		// permissions are required for operation.
		if err := os.Chmod(addr, os.FileMode(s.cfg.SocketPermissions)); err != nil {
			listener.Close()
			return nil, err
		}
	}
	return listener, nil
}

func (s *Service) handler() http.Handler {
	restMux := httprouter.New()

	s.route(restMux, http.MethodPost, "/rest/watch", s.postWatch)                         // path
	s.route(restMux, http.MethodDelete, "/rest/watch", s.deleteWatch)                     // path
	s.route(restMux, http.MethodPost, "/rest/watch/flush", s.postWatchFlush)              // path
	s.route(restMux, http.MethodGet, "/rest/watch/changes", s.getWatchChanges)            // path [max] [budget]
	s.route(restMux, http.MethodGet, "/rest/watch/changes/count", s.getWatchChangesCount) // path
	s.route(restMux, http.MethodGet, "/rest/watches", s.getWatches)                       // [max] [budget]
	s.route(restMux, http.MethodGet, "/rest/watches/count", s.getWatchesCount)            // -
	s.route(restMux, http.MethodPost, "/rest/operation", s.postOperation)                 // <body>
	s.route(restMux, http.MethodPost, "/rest/operation/capture", s.postOperationCapture)  // path
	s.route(restMux, http.MethodGet, "/rest/events", s.getEvents)                         // [since] [limit] [timeout] [events]
	s.route(restMux, http.MethodGet, "/rest/system/status", s.getSystemStatus)            // -
	s.route(restMux, http.MethodGet, "/rest/system/ping", s.restPing)                     // -

	mux := http.NewServeMux()
	mux.Handle("/rest/", noCacheMiddleware(s.limiter.middleware(restMux)))
	mux.Handle("/metrics", promhttp.Handler())

	return debugMiddleware(mux)
}

// route registers h, counting requests per endpoint and status code.
func (*Service) route(mux *httprouter.Router, method, path string, h http.HandlerFunc) {
	endpoint := method + " " + path
	mux.HandlerFunc(method, path, func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		metricRequests.WithLabelValues(endpoint, fmt.Sprint(rec.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func sendJSON(w http.ResponseWriter, jsonObject any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	// Marshalling might fail, in which case we should return a 500 with the
	// actual error.
	bs, err := json.MarshalIndent(jsonObject, "", "  ")
	if err != nil {
		// This Marshal() can't fail though.
		bs, _ = json.Marshal(map[string]string{"error": err.Error(), "kind": watch.KindInternal})
		http.Error(w, string(bs), http.StatusInternalServerError)
		return
	}
	fmt.Fprintf(w, "%s\n", bs)
}

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func sendError(w http.ResponseWriter, err error) {
	kind := watch.ErrorKind(err)
	bs, _ := json.Marshal(errorResponse{Error: err.Error(), Kind: kind})
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(statusForKind(kind))
	fmt.Fprintf(w, "%s\n", bs)
}

func statusForKind(kind string) int {
	switch kind {
	case watch.KindNotFound, watch.KindNotWatched:
		return http.StatusNotFound
	case watch.KindPermissionDenied:
		return http.StatusForbidden
	case watch.KindInvalidType, watch.KindInvalidArgument:
		return http.StatusBadRequest
	case watch.KindAlreadyWatched, watch.KindNestedWatch:
		return http.StatusConflict
	case watch.KindOutOfMemory:
		return http.StatusInsufficientStorage
	default:
		return http.StatusInternalServerError
	}
}

var errBadParameter = errors.New("bad parameter")

func noCacheMiddleware(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "max-age=0, no-cache, no-store")
		w.Header().Set("Expires", time.Now().UTC().Format(http.TimeFormat))
		w.Header().Set("Pragma", "no-cache")
		h.ServeHTTP(w, r)
	})
}

func debugMiddleware(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t0 := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h.ServeHTTP(rec, r)

		if l.ShouldDebug("api") {
			ms := 1000 * time.Since(t0).Seconds()
			l.Debugf("http: %s %q for %v: status %d in %.02f ms", r.Method, r.URL.String(), userFrom(r.Context()), rec.status, ms)
		}
	})
}
