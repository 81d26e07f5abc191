// Copyright (C) 2026 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package registry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricWatchPoints = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "changewatch",
		Subsystem: "registry",
		Name:      "watch_points",
		Help:      "Number of watched directories",
	})
	metricRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "changewatch",
		Subsystem: "registry",
		Name:      "records",
		Help:      "Number of change records across all watch points",
	})
	metricChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "changewatch",
		Subsystem: "registry",
		Name:      "changes_total",
		Help:      "Total number of recorded changes, per result (merged/created/dropped/rejected)",
	}, []string{"result"})
)

const (
	metricResultMerged   = "merged"   // into an existing record
	metricResultCreated  = "created"  // as a new record
	metricResultDropped  = "dropped"  // the watch point was gone
	metricResultRejected = "rejected" // record limit reached
)
