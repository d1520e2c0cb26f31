package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "flowcanvas"

// Metrics contains the canvas core metrics. All Record methods are safe to
// call on a nil *Metrics, so components can run without a registry.
type Metrics struct {
	// Event system
	EventsEmitted   *prometheus.CounterVec
	HandlerOutcomes *prometheus.CounterVec
	ListenerErrors  *prometheus.CounterVec

	// Preview lines
	PreviewLinesActive prometheus.Gauge
	PreviewOperations  *prometheus.CounterVec

	// Branch flow
	BranchesByState  *prometheus.GaugeVec
	BranchOperations *prometheus.CounterVec
	SyncDuration     prometheus.Histogram
	SyncFailures     prometheus.Counter

	// Validation
	ValidationRuns   *prometheus.CounterVec
	ValidationIssues *prometheus.CounterVec

	// Canvas lifecycle
	CanvasTransitions *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all canvas metrics
func NewMetrics() *Metrics {
	return &Metrics{
		EventsEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Total number of events emitted",
			},
			[]string{"event"},
		),

		HandlerOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "handler_outcomes_total",
				Help:      "Event handler outcomes (handled, error, timeout, validation_failed)",
			},
			[]string{"event", "outcome"},
		),

		ListenerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "listener_errors_total",
				Help:      "Total number of listener failures",
			},
			[]string{"event"},
		),

		PreviewLinesActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "preview",
				Name:      "lines_active",
				Help:      "Number of preview lines currently registered",
			},
		),

		PreviewOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "preview",
				Name:      "operations_total",
				Help:      "Preview line operations by result (ok or the rejection kind)",
			},
			[]string{"operation", "result"},
		),

		BranchesByState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "branch",
				Name:      "branches",
				Help:      "Number of branches in each state",
			},
			[]string{"state"},
		),

		BranchOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "branch",
				Name:      "operations_total",
				Help:      "Branch operations by result",
			},
			[]string{"operation", "result"},
		),

		SyncDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "branch",
				Name:      "sync_duration_seconds",
				Help:      "Duration of branch sync cycles",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
		),

		SyncFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "branch",
				Name:      "sync_failures_total",
				Help:      "Branches that failed to sync and were re-queued",
			},
		),

		ValidationRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "validator",
				Name:      "runs_total",
				Help:      "Flow validation runs by result (valid, invalid)",
			},
			[]string{"result"},
		),

		ValidationIssues: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "validator",
				Name:      "issues_total",
				Help:      "Validation issues reported by code and severity",
			},
			[]string{"code", "severity"},
		),

		CanvasTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "canvas",
				Name:      "transitions_total",
				Help:      "Canvas lifecycle state transitions",
			},
			[]string{"state"},
		),
	}
}

func (c *Metrics) mustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		c.EventsEmitted,
		c.HandlerOutcomes,
		c.ListenerErrors,
		c.PreviewLinesActive,
		c.PreviewOperations,
		c.BranchesByState,
		c.BranchOperations,
		c.SyncDuration,
		c.SyncFailures,
		c.ValidationRuns,
		c.ValidationIssues,
		c.CanvasTransitions,
	)
}

// RecordEventEmitted increments the emitted counter for an event
func (c *Metrics) RecordEventEmitted(event string) {
	if c == nil {
		return
	}
	c.EventsEmitted.WithLabelValues(event).Inc()
}

// RecordHandlerOutcome counts one handler execution
func (c *Metrics) RecordHandlerOutcome(event, outcome string) {
	if c == nil {
		return
	}
	c.HandlerOutcomes.WithLabelValues(event, outcome).Inc()
}

// RecordListenerError counts a failing listener
func (c *Metrics) RecordListenerError(event string) {
	if c == nil {
		return
	}
	c.ListenerErrors.WithLabelValues(event).Inc()
}

// RecordPreviewLines sets the active preview line gauge
func (c *Metrics) RecordPreviewLines(active int) {
	if c == nil {
		return
	}
	c.PreviewLinesActive.Set(float64(active))
}

// RecordPreviewOperation counts a preview line operation
func (c *Metrics) RecordPreviewOperation(operation, result string) {
	if c == nil {
		return
	}
	c.PreviewOperations.WithLabelValues(operation, result).Inc()
}

// RecordBranchStates replaces the per-state branch gauges
func (c *Metrics) RecordBranchStates(counts map[string]int) {
	if c == nil {
		return
	}
	c.BranchesByState.Reset()
	for state, n := range counts {
		c.BranchesByState.WithLabelValues(state).Set(float64(n))
	}
}

// RecordBranchOperation counts a branch operation
func (c *Metrics) RecordBranchOperation(operation, result string) {
	if c == nil {
		return
	}
	c.BranchOperations.WithLabelValues(operation, result).Inc()
}

// RecordSync observes a sync cycle
func (c *Metrics) RecordSync(duration time.Duration, failures int) {
	if c == nil {
		return
	}
	c.SyncDuration.Observe(duration.Seconds())
	c.SyncFailures.Add(float64(failures))
}

// RecordValidation counts a validation run and its issues
func (c *Metrics) RecordValidation(valid bool, issues map[[2]string]int) {
	if c == nil {
		return
	}
	result := "invalid"
	if valid {
		result = "valid"
	}
	c.ValidationRuns.WithLabelValues(result).Inc()
	for key, n := range issues {
		c.ValidationIssues.WithLabelValues(key[0], key[1]).Add(float64(n))
	}
}

// RecordCanvasTransition counts a lifecycle state change
func (c *Metrics) RecordCanvasTransition(state string) {
	if c == nil {
		return
	}
	c.CanvasTransitions.WithLabelValues(state).Inc()
}
