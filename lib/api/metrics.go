// Copyright (C) 2026 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "changewatch",
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "Total number of API requests, per endpoint and status code",
	}, []string{"endpoint", "code"})
	metricRateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "changewatch",
		Subsystem: "api",
		Name:      "rate_limited_total",
		Help:      "Total number of API requests refused by the rate limiter",
	})
)
