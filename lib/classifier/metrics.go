// Copyright (C) 2026 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package classifier

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricOperations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "changewatch",
	Subsystem: "classifier",
	Name:      "operations_total",
	Help:      "Total number of operations seen, per kind and result",
}, []string{"kind", "result"})

const (
	metricResultRecorded   = "recorded"
	metricResultFailed     = "failed"     // the operation itself failed
	metricResultInvalid    = "invalid"    // malformed operation
	metricResultIgnored    = "ignored"    // nothing to record
	metricResultUnresolved = "unresolved" // target lookup failed
	metricResultUnwatched  = "unwatched"  // no watched ancestor
	metricResultRejected   = "rejected"   // registry refused the record
)
