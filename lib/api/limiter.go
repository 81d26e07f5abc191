// Copyright (C) 2026 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package api

import (
	"errors"
	"net/http"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/time/rate"
)

var errRateLimited = errors.New("too many requests")

// limiter applies a token bucket per acting user.
type limiter struct {
	limit   rate.Limit
	burst   int
	buckets *xsync.MapOf[int, *rate.Limiter]
}

// newLimiter returns a limiter allowing rps requests per second with the
// given burst. A non-positive rps disables limiting.
func newLimiter(rps float64, burst int) *limiter {
	if rps <= 0 {
		return &limiter{limit: rate.Inf}
	}
	if burst < 1 {
		burst = 1
	}
	return &limiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		buckets: xsync.NewMapOf[int, *rate.Limiter](),
	}
}

func (lim *limiter) allow(uid int) bool {
	if lim.limit == rate.Inf {
		return true
	}
	bkt, _ := lim.buckets.LoadOrCompute(uid, func() *rate.Limiter {
		return rate.NewLimiter(lim.limit, lim.burst)
	})
	return bkt.Allow()
}

func (lim *limiter) middleware(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := userFrom(r.Context())
		if !lim.allow(user.UID) {
			metricRateLimited.Inc()
			l.Debugln("rate limited", user)
			http.Error(w, errRateLimited.Error(), http.StatusTooManyRequests)
			return
		}
		h.ServeHTTP(w, r)
	})
}
