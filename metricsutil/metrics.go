// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

// Package metricsutil registers the coordinator's Prometheus metrics: one
// registry shared by the shard machine, the coordinator loop and the
// source reader protocol, so a single /metrics endpoint covers the whole
// process.
package metricsutil

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every counter/gauge/histogram this module exposes.
type Metrics struct {
	Registry *prometheus.Registry

	CompareAndAppendTotal   *prometheus.CounterVec
	CompareAndAppendRetries *prometheus.CounterVec
	MergeRequestsTotal      prometheus.Counter
	MergeResultsApplied     *prometheus.CounterVec
	ShardSinceSeconds       *prometheus.GaugeVec
	ShardUpperSeconds       *prometheus.GaugeVec
	CoordCommandQueueDepth  prometheus.Gauge
	CoordGroupCommitLatency prometheus.Histogram
	SourcePartitionLag      *prometheus.GaugeVec
	OracleWriteTsTotal      prometheus.Counter
}

// New constructs and registers every metric against a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		CompareAndAppendTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "persist", Name: "compare_and_append_total",
			Help: "Total compare_and_append calls, labeled by outcome.",
		}, []string{"outcome"}),
		CompareAndAppendRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "persist", Name: "compare_and_append_retries_total",
			Help: "Total CAS retries across all compare_and_append calls.",
		}, []string{"shard"}),
		MergeRequestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "persist", Name: "merge_requests_total",
			Help: "Total FueledMergeReqs issued.",
		}),
		MergeResultsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "persist", Name: "merge_results_total",
			Help: "Total ApplyMergeRes calls, labeled by result.",
		}, []string{"result"}),
		ShardSinceSeconds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "persist", Name: "shard_since",
			Help: "Current since frontier per shard.",
		}, []string{"shard"}),
		ShardUpperSeconds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "persist", Name: "shard_upper",
			Help: "Current upper frontier per shard.",
		}, []string{"shard"}),
		CoordCommandQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "coord", Name: "command_queue_depth",
			Help: "Number of commands currently queued for dispatch.",
		}),
		CoordGroupCommitLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "coord", Name: "group_commit_latency_seconds",
			Help:    "Latency of a group commit round.",
			Buckets: prometheus.DefBuckets,
		}),
		SourcePartitionLag: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "source", Name: "partition_lag",
			Help: "Estimated lag, in source-native units, per partition.",
		}, []string{"source", "partition"}),
		OracleWriteTsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "oracle", Name: "write_ts_total",
			Help: "Total write_ts allocations.",
		}),
	}
	reg.MustRegister(
		m.CompareAndAppendTotal,
		m.CompareAndAppendRetries,
		m.MergeRequestsTotal,
		m.MergeResultsApplied,
		m.ShardSinceSeconds,
		m.ShardUpperSeconds,
		m.CoordCommandQueueDepth,
		m.CoordGroupCommitLatency,
		m.SourcePartitionLag,
		m.OracleWriteTsTotal,
	)
	return m
}
