// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package metrics provides the Prometheus instrumentation shared by both
// daemon binaries: RPC call counters/durations and process-level health
// gauges. Domain-specific metrics (marker tokens, socket energy, scope
// samples) live alongside the packages that produce them and are registered
// independently, so a binary only pays for the cardinality of the sources it
// actually runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RPCRequestsTotal counts RPC calls served, by method name and outcome.
	RPCRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rmeasure_rpc_requests_total",
		Help: "Total RPC calls served, labeled by method and outcome (ok/error).",
	}, []string{"method", "outcome"})

	// RPCRequestDuration tracks RPC handler latency.
	RPCRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rmeasure_rpc_request_duration_seconds",
		Help:    "Duration of RPC method handlers in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})

	// Up reports whether the process's core measurement source is ready to
	// be armed (1) or not (0).
	Up = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rmeasure_up",
		Help: "1 if the daemon's measurement source is available and armed-ready, 0 otherwise.",
	})

	// KernelsActive is a gauge for the number of kernels currently open
	// (begun but not yet ended). No package in this module updates it, so it
	// stays at zero unless a caller sets it.
	KernelsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rmeasure_kernels_active",
		Help: "Number of kernels currently open (begun but not yet ended).",
	})

	// KernelsCompletedTotal is a counter for kernels that reached a finalized
	// result. No package in this module increments it.
	KernelsCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rmeasure_kernels_completed_total",
		Help: "Total number of kernels that reached a finalized result.",
	})

	// ResultSinkWritesTotal counts successful writes to the optional
	// finalized-kernel-result journal (storage.ResultSink).
	ResultSinkWritesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rmeasure_result_sink_writes_total",
		Help: "Total number of kernel summaries written to the result sink.",
	})

	// ResultSinkWriteErrors counts writes that fell back to local caching
	// because the result sink was unavailable.
	ResultSinkWriteErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rmeasure_result_sink_write_errors_total",
		Help: "Total number of result sink writes that fell back to local cache.",
	})

	// ResultSinkCacheBytes reports the local fallback cache's current size,
	// when the result sink is enabled.
	ResultSinkCacheBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rmeasure_result_sink_cache_bytes",
		Help: "Current size in bytes of the local result sink fallback cache.",
	})
)
