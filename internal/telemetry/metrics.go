// Package telemetry holds the process's Prometheus collectors. The HTTP
// middleware observes HTTPRequestDuration directly; the other collectors
// are registered and exported, but no code in this module updates them,
// so they stay at their zero values.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "shortlink",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds, by method, route, and status.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	},
	[]string{"method", "route", "status"},
)

var RedirectsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "shortlink",
		Subsystem: "resolver",
		Name:      "redirects_total",
		Help:      "Total number of redirect attempts, by outcome.",
	},
	[]string{"outcome"},
)

var ResolverDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "shortlink",
		Subsystem: "resolver",
		Name:      "resolve_duration_seconds",
		Help:      "End-to-end redirect resolution latency in seconds.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	},
)

var CacheHitsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "shortlink",
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Total number of cache lookups, by hit or miss.",
	},
	[]string{"result"},
)

var JobQueueDepth = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "shortlink",
		Subsystem: "jobqueue",
		Name:      "pending_depth",
		Help:      "Current pending job count per queue.",
	},
	[]string{"queue"},
)

var JobsDeadLetteredTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "shortlink",
		Subsystem: "jobqueue",
		Name:      "dead_lettered_total",
		Help:      "Total number of jobs dead-lettered after exhausting retries, by queue.",
	},
	[]string{"queue"},
)

var AnalyticsIndexReady = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "shortlink",
		Subsystem: "searchindex",
		Name:      "ready",
		Help:      "1 when the analytics index gateway is connected, 0 in mock mode.",
	},
)

var LoginFailuresTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "shortlink",
		Subsystem: "auth",
		Name:      "login_failures_total",
		Help:      "Total number of failed login attempts, by reason.",
	},
	[]string{"reason"},
)

// All returns every shortlink-specific collector for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		HTTPRequestDuration,
		RedirectsTotal,
		ResolverDuration,
		CacheHitsTotal,
		JobQueueDepth,
		JobsDeadLetteredTotal,
		AnalyticsIndexReady,
		LoginFailuresTotal,
	}
}

// NewRegistry builds a Prometheus registry carrying the Go/process
// collectors plus every collector from All.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	for _, c := range All() {
		reg.MustRegister(c)
	}
	return reg
}
