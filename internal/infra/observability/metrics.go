// Package observability exposes the engine's Prometheus collectors.
// Counters here are advisory instrumentation: they never gate behavior
// and never participate in ledger transactions.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Ledger Metrics ─────────────────────────────────────────────────────────

// EntriesApplied counts committed ledger entries by reason.
var EntriesApplied = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "rewardd",
	Subsystem: "ledger",
	Name:      "entries_applied_total",
	Help:      "Total ledger entries committed, by reason code.",
}, []string{"reason"})

// GrantsDeduplicated counts accrual calls answered by an existing grant.
var GrantsDeduplicated = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "rewardd",
	Subsystem: "ledger",
	Name:      "grants_deduplicated_total",
	Help:      "Total reward grants answered from the dedup record instead of re-crediting.",
})

// ApplyDuration tracks the latency of the atomic apply path.
var ApplyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "rewardd",
	Subsystem: "ledger",
	Name:      "apply_duration_seconds",
	Help:      "Duration of the atomic read-append-update ledger transaction.",
	Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
})

// ─── Payment Metrics ────────────────────────────────────────────────────────

// IntentTransitions counts intent state transitions by terminal status.
var IntentTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "rewardd",
	Subsystem: "payments",
	Name:      "intent_transitions_total",
	Help:      "Total payment intent transitions, by terminal status.",
}, []string{"status"})

// ObservationsProcessed counts chain observations handled by the verifier.
var ObservationsProcessed = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "rewardd",
	Subsystem: "payments",
	Name:      "observations_processed_total",
	Help:      "Total chain observations inspected by the verifier poll loop.",
})

// RefundsIssued counts compensating credits for failed withdrawals.
var RefundsIssued = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "rewardd",
	Subsystem: "withdrawals",
	Name:      "refunds_issued_total",
	Help:      "Total compensating credit entries returning points to users.",
})

// ─── Guard Metrics ──────────────────────────────────────────────────────────

// ActionsThrottled counts actions rejected by the rate guard.
var ActionsThrottled = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "rewardd",
	Subsystem: "guard",
	Name:      "actions_throttled_total",
	Help:      "Total actions rejected by the rate guard, by category.",
}, []string{"category"})
