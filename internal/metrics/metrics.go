// Package metrics holds the Prometheus collectors shared by the node binaries.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// === Indexer ===

	// CheckpointHeight is the last ledger height whose events are fully applied.
	CheckpointHeight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ominis_indexer_checkpoint_height",
			Help: "Last fully applied ledger height",
		},
	)

	// EventsApplied counts indexed events by kind and outcome (applied, noop, rejected).
	EventsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ominis_indexer_events_total",
			Help: "Indexed ledger events by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	ChunkFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ominis_indexer_chunk_failures_total",
			Help: "Failed catch-up chunks by policy",
		},
		[]string{"policy"}, // stall, skip
	)

	// === Oracle ===

	Verdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ominis_oracle_verdicts_total",
			Help: "Verification and challenge verdicts by kind, method and outcome",
		},
		[]string{"kind", "method", "outcome"},
	)

	Submissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ominis_ledger_submissions_total",
			Help: "Ledger writes by method and result",
		},
		[]string{"method", "result"}, // success, failed, ambiguous
	)

	// === Solver agent ===

	Sequences = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ominis_solver_sequences_total",
			Help: "Solver accept-solve-commit-reveal sequences by result",
		},
		[]string{"result"},
	)

	InFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ominis_inflight_orders",
			Help: "Orders currently claimed by a worker",
		},
		[]string{"component"},
	)

	// === Read API ===

	CacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ominis_api_cache_requests_total",
			Help: "Read API cache lookups by result",
		},
		[]string{"result"}, // hit, miss, error
	)
)
