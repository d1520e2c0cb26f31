package branchflow

import (
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/c360/flowcanvas/scheduler"
)

// FlowState is the flow role a node currently plays
type FlowState string

const (
	FlowIdle      FlowState = "idle"
	FlowFlowing   FlowState = "flowing"
	FlowReceiving FlowState = "receiving"
)

const (
	maxFlowHistory      = 100
	defaultHistoryLimit = 10
)

// FlowTransition records a node state change
type FlowTransition struct {
	NodeID   string         `json:"nodeId"`
	From     FlowState      `json:"from,omitempty"`
	To       FlowState      `json:"to"`
	Metadata map[string]any `json:"metadata,omitempty"`
	At       time.Time      `json:"at"`
}

// FlowMetrics aggregates transitions of one node
type FlowMetrics struct {
	TotalStateChanges int               `json:"totalStateChanges"`
	StateDistribution map[FlowState]int `json:"stateDistribution"`
	LastStateChange   time.Time         `json:"lastStateChange"`
}

// FlowTracker follows per-node flow state as branches activate and deactivate
type FlowTracker struct {
	clock  scheduler.Clock
	logger *slog.Logger

	mu        sync.RWMutex
	states    map[string]FlowState
	history   map[string][]FlowTransition
	metrics   map[string]*FlowMetrics
	listeners map[int]func(FlowTransition)
	nextID    int
}

// NewFlowTracker creates an empty tracker
func NewFlowTracker(clock scheduler.Clock, logger *slog.Logger) *FlowTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &FlowTracker{
		clock:     scheduler.OrReal(clock),
		logger:    logger,
		states:    make(map[string]FlowState),
		history:   make(map[string][]FlowTransition),
		metrics:   make(map[string]*FlowMetrics),
		listeners: make(map[int]func(FlowTransition)),
	}
}

// Update moves nodeID to state and notifies listeners
func (t *FlowTracker) Update(nodeID string, state FlowState, metadata map[string]any) FlowTransition {
	now := t.clock.Now()

	t.mu.Lock()
	tr := FlowTransition{
		NodeID:   nodeID,
		From:     t.states[nodeID],
		To:       state,
		Metadata: maps.Clone(metadata),
		At:       now,
	}
	t.states[nodeID] = state

	h := append(t.history[nodeID], tr)
	if len(h) > maxFlowHistory {
		h = h[len(h)-maxFlowHistory:]
	}
	t.history[nodeID] = h

	m, ok := t.metrics[nodeID]
	if !ok {
		m = &FlowMetrics{StateDistribution: make(map[FlowState]int)}
		t.metrics[nodeID] = m
	}
	m.TotalStateChanges++
	m.StateDistribution[state]++
	m.LastStateChange = now

	listeners := make([]func(FlowTransition), 0, len(t.listeners))
	for _, fn := range t.listeners {
		listeners = append(listeners, fn)
	}
	t.mu.Unlock()

	for _, fn := range listeners {
		t.notify(fn, tr)
	}
	return tr
}

func (t *FlowTracker) notify(fn func(FlowTransition), tr FlowTransition) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Warn("flow state listener panicked", "node_id", tr.NodeID, "panic", r)
		}
	}()
	fn(tr)
}

// State returns the current state of nodeID
func (t *FlowTracker) State(nodeID string) (FlowState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.states[nodeID]
	return s, ok
}

// History returns up to limit most recent transitions of nodeID, oldest first
func (t *FlowTracker) History(nodeID string, limit int) []FlowTransition {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	h := t.history[nodeID]
	if len(h) > limit {
		h = h[len(h)-limit:]
	}
	return append([]FlowTransition(nil), h...)
}

// Metrics returns the aggregated transitions of nodeID
func (t *FlowTracker) Metrics(nodeID string) (FlowMetrics, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	m, ok := t.metrics[nodeID]
	if !ok {
		return FlowMetrics{}, false
	}
	out := *m
	out.StateDistribution = maps.Clone(m.StateDistribution)
	return out, true
}

// OnChange registers fn for every transition; call the returned func to remove it
func (t *FlowTracker) OnChange(fn func(FlowTransition)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextID
	t.nextID++
	t.listeners[id] = fn
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.listeners, id)
	}
}

// ClearNode forgets nodeID
func (t *FlowTracker) ClearNode(nodeID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, nodeID)
	delete(t.history, nodeID)
	delete(t.metrics, nodeID)
}

// ClearAll forgets every node. Listeners stay registered.
func (t *FlowTracker) ClearAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.states)
	clear(t.history)
	clear(t.metrics)
}

// TrackerSummary is the tracker section of Manager statistics
type TrackerSummary struct {
	TrackedNodes      int `json:"trackedNodes"`
	TotalStateChanges int `json:"totalStateChanges"`
}

// Summary counts tracked nodes and transitions
func (t *FlowTracker) Summary() TrackerSummary {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := TrackerSummary{TrackedNodes: len(t.states)}
	for _, m := range t.metrics {
		s.TotalStateChanges += m.TotalStateChanges
	}
	return s
}
