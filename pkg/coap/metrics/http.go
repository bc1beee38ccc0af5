// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"net/http"
	"time"

	"github.com/go-kit/kit/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/absmach/coapcore/pkg/prometheus"
)

// Handler serves the process's Prometheus registry at /metrics,
// instrumented with its own request count/latency the same way the
// teacher wraps every HTTP API transport with pkg/prometheus.MakeMetrics's
// counter+summary pair — here over the scrape endpoint itself rather
// than a business-logic service, since this module has no HTTP
// service layer of its own.
func Handler(namespace, subsystem string) http.Handler {
	counter, latency := prometheus.MakeMetrics(namespace, subsystem)

	mux := http.NewServeMux()
	mux.Handle("/metrics", instrument(promhttp.Handler(), counter, latency))
	return mux
}

func instrument(next http.Handler, counter metrics.Counter, latency metrics.Histogram) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func(begin time.Time) {
			latency.With("method", r.Method).Observe(float64(time.Since(begin).Microseconds()))
		}(time.Now())
		counter.With("method", r.Method).Add(1)
		next.ServeHTTP(w, r)
	})
}
