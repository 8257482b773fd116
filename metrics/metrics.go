// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package metrics wires the ambient observability surface carried over
// despite spec.md's "no RPC/API server" non-goal: cell-collector
// latency, rollover duration and SMT operation counters (SPEC_FULL.md
// §3). Gauge/Counter shapes and the namespace+registerer wiring follow
// the teacher's own vms/platformvm/metrics/metrics.go and
// network/metrics.go; the one shape the teacher never needed —
// a duration histogram, since the teacher accumulates durations into a
// running Gauge sum instead — is grounded on another pack repo's
// commit-time HistogramVec (chainmaker/yzchain-go's
// module/core/common/block_helper.go), since rollover/collector
// latencies benefit from quantile buckets more than a running sum does.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the counter/gauge/histogram surface for the cell collector,
// the SMT engine, the epoch-rollover builder and the scanner. Within this
// module only cmd/spark updates it: the rollover command records rollover
// duration and outcome, and serve records scan matches; the remaining
// methods have no caller in the module.
type Metrics interface {
	// IncCellsCollected marks that the collector accepted n cells
	// matching a FindAll/FindTarget search.
	IncCellsCollected(n int)
	// ObserveCollectorLatency records how long one cell-collector round
	// trip (search plus pagination) took.
	ObserveCollectorLatency(d time.Duration)

	// IncSMTOp marks one SMT mutation (Insert/Update/Remove) against the
	// named namespace.
	IncSMTOp(namespace string, op string)
	// ObserveSMTProofSize records the marshaled size of a compiled proof.
	ObserveSMTProofSize(namespace string, bytes int)

	// ObserveRolloverDuration records the wall-clock time spent inside
	// Builder.Build for one epoch rollover.
	ObserveRolloverDuration(d time.Duration)
	// IncRolloverOutcome marks one rollover attempt's terminal outcome
	// ("built", "failed", "resumed").
	IncRolloverOutcome(outcome string)
	// SetStakerCounts records the top-staker and non-top-staker set sizes
	// produced by the most recent rollover.
	SetStakerCounts(top, dropped int)

	// IncScanMatch marks that a scanner task forwarded n cells to its
	// consumer.
	IncScanMatch(n int)
	// SetScanLag records how many blocks behind the indexer tip a
	// scanner task's last completed scan left it.
	SetScanLag(fingerprint string, lag uint64)
}

var _ Metrics = (*metrics)(nil)

// New wires every metric under namespace and registers them with
// registerer. Grounded on the teacher's New(namespace, registerer, ...)
// signature (vms/platformvm/metrics/metrics.go), minus the
// trackedSupernets parameter this domain has no equivalent of.
func New(namespace string, registerer prometheus.Registerer) (Metrics, error) {
	m := &metrics{
		cellsCollected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cells_collected",
			Help:      "Total number of cells accepted by the collector across all searches",
		}),
		collectorLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "collector_latency_seconds",
			Help:      "Time spent per cell-collector search round trip, in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),

		smtOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "smt_ops",
			Help:      "Total number of SMT mutations, partitioned by namespace and op",
		}, []string{"namespace", "op"}),
		smtProofSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "smt_proof_size_bytes",
			Help:      "Marshaled size of compiled SMT inclusion proofs",
			Buckets:   prometheus.ExponentialBuckets(32, 2, 10),
		}, []string{"namespace"}),

		rolloverDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rollover_duration_seconds",
			Help:      "Wall-clock time spent building one epoch-rollover transaction",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		rolloverOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollover_outcomes",
			Help:      "Total number of rollover attempts, partitioned by terminal outcome",
		}, []string{"outcome"}),
		topStakers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rollover_top_stakers",
			Help:      "Number of stakers carried forward by the most recent rollover",
		}),
		droppedStakers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rollover_dropped_stakers",
			Help:      "Number of stakers refunded out by the most recent rollover",
		}),

		scanMatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_matches",
			Help:      "Total number of cells forwarded to scanner consumers",
		}),
		scanLag: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scan_lag_blocks",
			Help:      "Blocks between a scanner task's last completed scan and the indexer tip",
		}, []string{"fingerprint"}),
	}

	for _, c := range []prometheus.Collector{
		m.cellsCollected,
		m.collectorLatency,
		m.smtOps,
		m.smtProofSize,
		m.rolloverDuration,
		m.rolloverOutcomes,
		m.topStakers,
		m.droppedStakers,
		m.scanMatches,
		m.scanLag,
	} {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

type metrics struct {
	cellsCollected   prometheus.Counter
	collectorLatency prometheus.Histogram

	smtOps       *prometheus.CounterVec
	smtProofSize *prometheus.HistogramVec

	rolloverDuration prometheus.Histogram
	rolloverOutcomes *prometheus.CounterVec
	topStakers       prometheus.Gauge
	droppedStakers   prometheus.Gauge

	scanMatches prometheus.Counter
	scanLag     *prometheus.GaugeVec
}

func (m *metrics) IncCellsCollected(n int) {
	m.cellsCollected.Add(float64(n))
}

func (m *metrics) ObserveCollectorLatency(d time.Duration) {
	m.collectorLatency.Observe(d.Seconds())
}

func (m *metrics) IncSMTOp(namespace string, op string) {
	m.smtOps.WithLabelValues(namespace, op).Inc()
}

func (m *metrics) ObserveSMTProofSize(namespace string, bytes int) {
	m.smtProofSize.WithLabelValues(namespace).Observe(float64(bytes))
}

func (m *metrics) ObserveRolloverDuration(d time.Duration) {
	m.rolloverDuration.Observe(d.Seconds())
}

func (m *metrics) IncRolloverOutcome(outcome string) {
	m.rolloverOutcomes.WithLabelValues(outcome).Inc()
}

func (m *metrics) SetStakerCounts(top, dropped int) {
	m.topStakers.Set(float64(top))
	m.droppedStakers.Set(float64(dropped))
}

func (m *metrics) IncScanMatch(n int) {
	m.scanMatches.Add(float64(n))
}

func (m *metrics) SetScanLag(fingerprint string, lag uint64) {
	m.scanLag.WithLabelValues(fingerprint).Set(float64(lag))
}

// NamespaceFor derives the prometheus namespace for a running process
// from its configured chain tag, so a testnet and mainnet deployment
// scraped by the same Prometheus never collide.
func NamespaceFor(chainTag string) string {
	if chainTag == "" {
		return "spark"
	}
	return "spark_" + chainTag
}
