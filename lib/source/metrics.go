// Copyright (C) 2026 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package source

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "changewatch",
		Subsystem: "source",
		Name:      "watches",
		Help:      "Number of active backend watches",
	})
	metricEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "changewatch",
		Subsystem: "source",
		Name:      "events_total",
		Help:      "Total number of backend events, per type",
	}, []string{"type"})
	metricDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "changewatch",
		Subsystem: "source",
		Name:      "dropped_total",
		Help:      "Total number of backend events that could not be attributed, per reason",
	}, []string{"reason"})
)
