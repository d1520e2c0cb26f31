package validator

import (
	"log/slog"
	"sync"

	"github.com/c360/flowcanvas/metric"
	"github.com/c360/flowcanvas/model"
	"github.com/c360/flowcanvas/scheduler"
)

// Snapshotter hands out a by-value copy of a live graph
type Snapshotter interface {
	Snapshot() model.FlowGraph
}

// Validator runs validation passes with fixed options and reports them to
// logs and metrics.
type Validator struct {
	mu      sync.RWMutex
	opts    Options
	clock   scheduler.Clock
	logger  *slog.Logger
	metrics *metric.Metrics
}

// New creates a Validator. A nil logger uses slog.Default and a nil
// metrics value disables recording.
func New(opts Options, clock scheduler.Clock, logger *slog.Logger, metrics *metric.Metrics) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		opts:    opts,
		clock:   scheduler.OrReal(clock),
		logger:  logger.With("component", "validator"),
		metrics: metrics,
	}
}

// Options returns the options passes run with
func (v *Validator) Options() Options {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.opts
}

// SetOptions replaces the options for later passes
func (v *Validator) SetOptions(opts Options) {
	v.mu.Lock()
	v.opts = opts
	v.mu.Unlock()
}

// Validate checks g
func (v *Validator) Validate(g model.FlowGraph) Result {
	res := validate(g, v.Options(), v.clock.Now())
	v.metrics.RecordValidation(res.IsValid, res.tally())
	if res.Has(CodeException) {
		v.logger.Error("flow validation raised", "error", res.Errors[0].Message)
	} else {
		v.logger.Debug("flow validated",
			"nodes", len(g.Nodes), "valid", res.IsValid,
			"errors", len(res.Errors), "warnings", len(res.Warnings))
	}
	return res
}

// ValidateDocument checks the nodes and connections of doc
func (v *Validator) ValidateDocument(doc model.Document) Result {
	return v.Validate(doc.Graph())
}

// ValidateLive checks a snapshot of a live graph, such as the canvas engine
func (v *Validator) ValidateLive(src Snapshotter) Result {
	return v.Validate(src.Snapshot())
}
