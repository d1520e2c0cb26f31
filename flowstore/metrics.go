package flowstore

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/flowcanvas/errors"
	"github.com/c360/flowcanvas/metric"
	"github.com/c360/flowcanvas/model"
)

const metricsService = "flowstore"

// Instrumented records per-operation outcomes and latency of a Store
type Instrumented struct {
	Store
	ops      *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// Instrument wraps store and registers its metrics with reg. backend labels
// the series ("kv", "postgres", "memory").
func Instrument(store Store, backend string, reg metric.MetricsRegistrar) (*Instrumented, error) {
	s := &Instrumented{
		Store: store,
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "flowcanvas",
			Subsystem:   "store",
			Name:        "operations_total",
			Help:        "Document store operations by operation and outcome",
			ConstLabels: prometheus.Labels{"backend": backend},
		}, []string{"operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "flowcanvas",
			Subsystem:   "store",
			Name:        "operation_duration_seconds",
			Help:        "Document store operation latency",
			ConstLabels: prometheus.Labels{"backend": backend},
			Buckets:     []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		}, []string{"operation"}),
	}
	if reg == nil {
		return s, nil
	}
	if err := reg.RegisterCounterVec(metricsService, "operations_total", s.ops); err != nil {
		return nil, err
	}
	if err := reg.RegisterHistogramVec(metricsService, "operation_duration_seconds", s.duration); err != nil {
		reg.Unregister(metricsService, "operations_total")
		return nil, err
	}
	return s, nil
}

func (s *Instrumented) observe(op string, start time.Time, err error) {
	s.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	s.ops.WithLabelValues(op, outcome(err)).Inc()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case stderrors.Is(err, errors.ErrNotFound):
		return "not_found"
	case stderrors.Is(err, errors.ErrConflict):
		return "conflict"
	case errors.IsInvalid(err):
		return "invalid"
	}
	return "error"
}

// Create records and delegates
func (s *Instrumented) Create(ctx context.Context, doc *model.Document) (err error) {
	defer func(start time.Time) { s.observe("create", start, err) }(time.Now())
	return s.Store.Create(ctx, doc)
}

// Get records and delegates
func (s *Instrumented) Get(ctx context.Context, id string) (doc *model.Document, err error) {
	defer func(start time.Time) { s.observe("get", start, err) }(time.Now())
	return s.Store.Get(ctx, id)
}

// Update records and delegates
func (s *Instrumented) Update(ctx context.Context, doc *model.Document) (err error) {
	defer func(start time.Time) { s.observe("update", start, err) }(time.Now())
	return s.Store.Update(ctx, doc)
}

// Delete records and delegates
func (s *Instrumented) Delete(ctx context.Context, id string) (err error) {
	defer func(start time.Time) { s.observe("delete", start, err) }(time.Now())
	return s.Store.Delete(ctx, id)
}

// List records and delegates
func (s *Instrumented) List(ctx context.Context) (docs []*model.Document, err error) {
	defer func(start time.Time) { s.observe("list", start, err) }(time.Now())
	return s.Store.List(ctx)
}
