// Package metric provides Prometheus metrics for the flow canvas core.
//
// MetricsRegistry owns a private prometheus.Registry preloaded with the core
// Metrics (events, preview lines, branches, validation, canvas lifecycle)
// and the Go runtime collectors. Components that want extra metrics register
// them through the MetricsRegistrar interface, keyed by component and metric
// name so duplicates are rejected with an invalid-class error.
//
// Components hold a *Metrics and call its Record methods directly. A nil
// *Metrics is valid and records nothing, which keeps unit tests free of
// registry setup:
//
//	registry := metric.NewMetricsRegistry()
//	previews := previewline.NewManager(graph, previewline.Options{
//	    Metrics: registry.CoreMetrics(),
//	})
//
// Server exposes the registry over HTTP at /metrics with a /health check.
package metric
