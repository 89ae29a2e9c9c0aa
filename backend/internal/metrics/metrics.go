// Package metrics collects and exposes Prometheus metrics for persona
// refreshes, match generation and mirror reconciliation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is implemented by Collector and Nop. The persona manager, the
// matching engine and the reconciler record through it.
type Recorder interface {
	RecordPersonaRefresh(outcome string, duration time.Duration)
	RecordMatchOutcome(outcome string)
	RecordGenerateLatency(duration time.Duration)
	RecordCandidateFallback()
	RecordMirrorFailure(operation string)
	RecordMirrorReconciled(count int)
	RecordStatusTransition(to string)
}

// Collector is the Prometheus implementation of Recorder
type Collector struct {
	personaRefresh    *prometheus.CounterVec
	personaLatency    prometheus.Histogram
	matchOutcomes     *prometheus.CounterVec
	generateLatency   prometheus.Histogram
	candidateFallback prometheus.Counter
	mirrorFailures    *prometheus.CounterVec
	mirrorReconciled  prometheus.Counter
	statusTransitions *prometheus.CounterVec
}

// NewCollector creates a Collector and registers it on reg
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		personaRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "matchmaker_persona_refresh_total",
			Help: "Persona refreshes by outcome",
		}, []string{"outcome"}),
		personaLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "matchmaker_persona_refresh_seconds",
			Help:    "Persona derivation latency in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		matchOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "matchmaker_match_outcomes_total",
			Help: "Per-candidate match creation outcomes",
		}, []string{"outcome"}),
		generateLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "matchmaker_generate_seconds",
			Help:    "GenerateMatches latency in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		candidateFallback: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "matchmaker_candidate_fallback_total",
			Help: "Candidate queries served by the persona scan after a graph failure",
		}),
		mirrorFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "matchmaker_mirror_failures_total",
			Help: "Failed graph mirror writes by operation",
		}, []string{"operation"}),
		mirrorReconciled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "matchmaker_mirror_reconciled_total",
			Help: "Mirror writes repaired by the reconciler",
		}),
		statusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "matchmaker_status_transitions_total",
			Help: "Applied match status transitions by target status",
		}, []string{"to"}),
	}

	reg.MustRegister(
		c.personaRefresh,
		c.personaLatency,
		c.matchOutcomes,
		c.generateLatency,
		c.candidateFallback,
		c.mirrorFailures,
		c.mirrorReconciled,
		c.statusTransitions,
	)

	return c
}

// RecordPersonaRefresh records one persona refresh attempt
func (c *Collector) RecordPersonaRefresh(outcome string, duration time.Duration) {
	c.personaRefresh.WithLabelValues(outcome).Inc()
	c.personaLatency.Observe(duration.Seconds())
}

// RecordMatchOutcome records one per-candidate outcome
func (c *Collector) RecordMatchOutcome(outcome string) {
	c.matchOutcomes.WithLabelValues(outcome).Inc()
}

// RecordGenerateLatency records the duration of a GenerateMatches call
func (c *Collector) RecordGenerateLatency(duration time.Duration) {
	c.generateLatency.Observe(duration.Seconds())
}

// RecordCandidateFallback records a fallback to the persona scan
func (c *Collector) RecordCandidateFallback() {
	c.candidateFallback.Inc()
}

// RecordMirrorFailure records a failed mirror write
func (c *Collector) RecordMirrorFailure(operation string) {
	c.mirrorFailures.WithLabelValues(operation).Inc()
}

// RecordMirrorReconciled records repaired mirror writes
func (c *Collector) RecordMirrorReconciled(count int) {
	c.mirrorReconciled.Add(float64(count))
}

// RecordStatusTransition records an applied status change
func (c *Collector) RecordStatusTransition(to string) {
	c.statusTransitions.WithLabelValues(to).Inc()
}

// Nop discards everything
type Nop struct{}

func (Nop) RecordPersonaRefresh(string, time.Duration) {}
func (Nop) RecordMatchOutcome(string)                  {}
func (Nop) RecordGenerateLatency(time.Duration)        {}
func (Nop) RecordCandidateFallback()                   {}
func (Nop) RecordMirrorFailure(string)                 {}
func (Nop) RecordMirrorReconciled(int)                 {}
func (Nop) RecordStatusTransition(string)              {}

// Handler returns the scrape handler for gatherer
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
