// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package daemon assembles the change tracking services and runs them
// under a supervisor.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/syncthing/changewatch/lib/ancestor"
	"github.com/syncthing/changewatch/lib/api"
	"github.com/syncthing/changewatch/lib/classifier"
	"github.com/syncthing/changewatch/lib/config"
	"github.com/syncthing/changewatch/lib/events"
	"github.com/syncthing/changewatch/lib/identity"
	"github.com/syncthing/changewatch/lib/registry"
	"github.com/syncthing/changewatch/lib/source"
	"github.com/syncthing/changewatch/lib/svcutil"
	"github.com/syncthing/changewatch/lib/watch"
)

type Options struct {
	// AuditWriter receives every event as a line of JSON, when set.
	AuditWriter io.Writer
	Verbose     bool
}

type App struct {
	cfg               config.Configuration
	opts              Options
	evLogger          *events.Logger
	reg               *registry.Registry
	mainService       *suture.Supervisor
	exitStatus        svcutil.ExitStatus
	err               error
	stopOnce          sync.Once
	mainServiceCancel context.CancelFunc
	stopped           chan struct{}

	watches *watch.Service
}

func New(cfg config.Configuration, evLogger *events.Logger, opts Options) *App {
	a := &App{
		cfg:      cfg,
		opts:     opts,
		evLogger: evLogger,
		stopped:  make(chan struct{}),
	}
	close(a.stopped) // Hasn't been started, so shouldn't block on Wait.
	return a
}

// Start executes the app and returns once all the startup operations are
// done. Must be called once only.
func (a *App) Start() error {
	// Create a main service manager. We'll add things to this as we go along.
	// We want any logging it does to go through our log system.
	spec := svcutil.SpecWithDebugLogger(l)
	a.mainService = suture.New("main", spec)

	a.stopped = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	a.mainServiceCancel = cancel

	if err := a.startup(); err != nil {
		cancel()
		close(a.stopped)
		a.exitStatus = svcutil.ExitConfig
		a.err = err
		return err
	}

	// Start the supervisor and wait for it to stop to handle cleanup.
	errChan := a.mainService.ServeBackground(ctx)
	go a.wait(errChan)

	a.evLogger.Log(events.StartupComplete, map[string]string{
		"address": a.cfg.API.Address,
	})
	return nil
}

func (a *App) startup() error {
	a.evLogger.Log(events.Starting, map[string]string{
		"address": a.cfg.API.Address,
		"backend": string(a.cfg.Source.Backend),
	})

	if a.opts.AuditWriter != nil {
		a.mainService.Add(newAuditService(a.opts.AuditWriter, a.evLogger))
	}
	if a.opts.Verbose {
		a.mainService.Add(newVerboseService(a.evLogger))
	}

	resolver, err := identity.NewResolver(identity.Options{
		Blocklist: a.cfg.Blocklist,
		Patterns:  a.cfg.ExtraBlockedPatterns,
	})
	if err != nil {
		l.Warnln("Blocked paths:", err)
		return err
	}

	a.reg = registry.New(registry.Options{MaxRecordsPerWatch: a.cfg.MaxRecordsPerWatch})
	walker := ancestor.New(a.cfg.MaxAncestorHops)
	a.watches = watch.New(a.reg, resolver, walker, a.evLogger)
	cls := classifier.New(a.reg, resolver, walker, a.evLogger, a.cfg.BlockSize)

	backend, err := source.NewBackend(a.cfg.Source.Backend)
	if err != nil {
		l.Warnln("Event source:", err)
		return err
	}
	if backend != nil {
		a.mainService.Add(source.New(backend, cls, a.reg, a.evLogger, a.cfg.Source.AttributeCacheSize))
	} else {
		l.Infoln("No event source; changes are only recorded as reported over the API")
	}

	a.mainService.Add(api.New(a.cfg.API, a.watches, cls, a.evLogger))

	if os.Geteuid() != 0 {
		l.Infoln("Not running as root; peers can only watch objects owned by uid", os.Geteuid())
	}
	return nil
}

func (a *App) wait(errChan <-chan error) {
	err := <-errChan
	a.handleMainServiceError(err)

	done := make(chan struct{})
	go func() {
		a.reg.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		l.Warnln("Registry failed to close within 10s")
	}

	l.Infoln("Exiting")

	close(a.stopped)
}

func (a *App) handleMainServiceError(err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	var fatalErr *svcutil.FatalErr
	if errors.As(err, &fatalErr) {
		a.exitStatus = fatalErr.Status
		a.err = fatalErr.Err
		return
	}
	a.err = err
	a.exitStatus = svcutil.ExitError
}

// Wait blocks until the app stops and returns its exit status.
func (a *App) Wait() svcutil.ExitStatus {
	<-a.stopped
	return a.exitStatus
}

// Error returns the error that stopped the app, if it has stopped.
func (a *App) Error() error {
	select {
	case <-a.stopped:
		return a.err
	default:
	}
	return nil
}

// Stop stops the app and sets its exit status to stopReason, unless the app
// already stopped.
func (a *App) Stop(stopReason svcutil.ExitStatus) svcutil.ExitStatus {
	a.stopOnce.Do(func() {
		a.exitStatus = stopReason
		if l.ShouldDebug("daemon") {
			l.Debugln("Services before stop:")
			printServiceTree(os.Stdout, a.mainService, 0)
		}
		if a.mainServiceCancel != nil {
			a.mainServiceCancel()
		}
	})
	<-a.stopped
	return a.exitStatus
}

// Watches gives access to the watch queries of a started app.
func (a *App) Watches() *watch.Service {
	return a.watches
}

type supervisor interface{ Services() []suture.Service }

func printServiceTree(w io.Writer, sup supervisor, level int) {
	printService(w, sup, level)

	svcs := sup.Services()
	sort.Slice(svcs, func(a, b int) bool {
		return fmt.Sprint(svcs[a]) < fmt.Sprint(svcs[b])
	})

	for _, svc := range svcs {
		if sub, ok := svc.(supervisor); ok {
			printServiceTree(w, sub, level+1)
		} else {
			printService(w, svc, level+1)
		}
	}
}

func printService(w io.Writer, svc interface{}, level int) {
	type errorer interface{ Error() error }

	t := "-"
	if _, ok := svc.(supervisor); ok {
		t = "+"
	}
	fmt.Fprintln(w, strings.Repeat("  ", level), t, svc)
	if es, ok := svc.(errorer); ok {
		if err := es.Error(); err != nil {
			fmt.Fprintln(w, strings.Repeat("  ", level), "  ->", err)
		}
	}
}
