package perf

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricNamespace = "perftrace"

// Registry holds the collection metrics.
var Registry = prometheus.NewRegistry()

var (
	collectionsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "collections_started_total",
			Help:      "Collection processes launched on targets",
		},
		[]string{"tool", "mode"},
	)
	completionPolls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "completion_polls_total",
			Help:      "Work directory polls that still found marker files",
		},
		[]string{"tool"},
	)
	completionTimeouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "completion_timeouts_total",
			Help:      "Record data files that were still being written when the wait gave up",
		},
		[]string{"tool"},
	)
	completionWaitSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricNamespace,
			Name:      "completion_wait_seconds",
			Help:      "Time spent waiting for record data files to be written",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 12),
		},
		[]string{"tool"},
	)
	artifactsRetrieved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "artifacts_retrieved_total",
			Help:      "Artifact files copied from targets",
		},
		[]string{"kind"},
	)
	artifactsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "artifacts_failed_total",
			Help:      "Artifact files that could not be copied from targets",
		},
		[]string{"kind"},
	)
	retrievedBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "retrieved_bytes_total",
			Help:      "Bytes of artifact data copied from targets",
		},
	)
)

func init() {
	Registry.MustRegister(
		collectionsStarted,
		completionPolls,
		completionTimeouts,
		completionWaitSeconds,
		artifactsRetrieved,
		artifactsFailed,
		retrievedBytes,
	)
}

// WriteMetrics writes the collection metrics to path in the Prometheus text
// exposition format, e.g., for the node exporter textfile collector.
func WriteMetrics(path string) error {
	return prometheus.WriteToTextfile(path, Registry)
}
