package metric

import (
	stderrors "errors"
	"fmt"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/c360/flowcanvas/errors"
)

// MetricsRegistrar is what components need to publish their own metrics.
// Metrics are owned by a component name; Unregister releases one.
type MetricsRegistrar interface {
	RegisterCounter(owner, name string, c prometheus.Counter) error
	RegisterGauge(owner, name string, g prometheus.Gauge) error
	RegisterCounterVec(owner, name string, v *prometheus.CounterVec) error
	RegisterHistogramVec(owner, name string, v *prometheus.HistogramVec) error
	Unregister(owner, name string) bool
}

type ownedMetric struct {
	owner string
	name  string
}

func (k ownedMetric) String() string {
	return k.owner + "/" + k.name
}

// MetricsRegistry is a private Prometheus registry holding the core Metrics,
// the Go runtime collectors and whatever components register.
type MetricsRegistry struct {
	Metrics *Metrics

	reg *prometheus.Registry

	mu    sync.Mutex
	owned map[ownedMetric]prometheus.Collector
}

// NewMetricsRegistry builds a registry with the core metrics in place
func NewMetricsRegistry() *MetricsRegistry {
	r := &MetricsRegistry{
		Metrics: NewMetrics(),
		reg:     prometheus.NewRegistry(),
		owned:   make(map[ownedMetric]prometheus.Collector),
	}
	r.Metrics.mustRegister(r.reg)
	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Gatherer exposes the registry for scraping
func (r *MetricsRegistry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// CoreMetrics returns the canvas core metrics
func (r *MetricsRegistry) CoreMetrics() *Metrics {
	return r.Metrics
}

// Register adds c under owner/name. Registering the same owner/name twice,
// or a collector whose descriptors clash with another, is an invalid-class
// error.
func (r *MetricsRegistry) Register(owner, name string, c prometheus.Collector) error {
	key := ownedMetric{owner: owner, name: name}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.owned[key]; taken {
		return errors.WrapInvalid(fmt.Errorf("%s already registered", key),
			"MetricsRegistry", "Register", "duplicate metric registration")
	}
	if err := r.reg.Register(c); err != nil {
		var clash prometheus.AlreadyRegisteredError
		if stderrors.As(err, &clash) {
			return errors.WrapInvalid(err, "MetricsRegistry", "Register", "prometheus conflict for "+key.String())
		}
		return errors.WrapFatal(err, "MetricsRegistry", "Register", "register "+key.String())
	}
	r.owned[key] = c
	return nil
}

// RegisterCounter registers a counter owned by owner
func (r *MetricsRegistry) RegisterCounter(owner, name string, c prometheus.Counter) error {
	return r.Register(owner, name, c)
}

// RegisterGauge registers a gauge owned by owner
func (r *MetricsRegistry) RegisterGauge(owner, name string, g prometheus.Gauge) error {
	return r.Register(owner, name, g)
}

// RegisterCounterVec registers a labelled counter owned by owner
func (r *MetricsRegistry) RegisterCounterVec(owner, name string, v *prometheus.CounterVec) error {
	return r.Register(owner, name, v)
}

// RegisterHistogramVec registers a labelled histogram owned by owner
func (r *MetricsRegistry) RegisterHistogramVec(owner, name string, v *prometheus.HistogramVec) error {
	return r.Register(owner, name, v)
}

// Unregister drops owner/name and reports whether it was registered
func (r *MetricsRegistry) Unregister(owner, name string) bool {
	key := ownedMetric{owner: owner, name: name}

	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.owned[key]
	if !ok {
		return false
	}
	delete(r.owned, key)
	return r.reg.Unregister(c)
}

// Owned lists the metric names registered by owner, sorted
func (r *MetricsRegistry) Owned(owner string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var names []string
	for k := range r.owned {
		if k.owner == owner {
			names = append(names, k.name)
		}
	}
	sort.Strings(names)
	return names
}
