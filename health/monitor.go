package health

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/flowcanvas/canvas"
	"github.com/c360/flowcanvas/errors"
	"github.com/c360/flowcanvas/flowstore"
	"github.com/c360/flowcanvas/natsclient"
	"github.com/c360/flowcanvas/scheduler"
)

// DefaultTimeout bounds a single check
const DefaultTimeout = 2 * time.Second

// Checker reports the state of one component
type Checker func(ctx context.Context) Status

// Monitor runs registered checks and aggregates them
type Monitor struct {
	timeout time.Duration
	clock   scheduler.Clock
	logger  *slog.Logger

	mu     sync.RWMutex
	checks map[string]Checker
	last   map[string]Status
}

// NewMonitor creates a monitor; timeout <= 0 means DefaultTimeout
func NewMonitor(timeout time.Duration, clock scheduler.Clock, logger *slog.Logger) *Monitor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		timeout: timeout,
		clock:   scheduler.OrReal(clock),
		logger:  logger.With("component", "health"),
		checks:  make(map[string]Checker),
		last:    make(map[string]Status),
	}
}

// Register adds or replaces the check for name
func (m *Monitor) Register(name string, p Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = p
}

// Remove drops the check for name
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checks, name)
	delete(m.last, name)
}

// Components lists registered check names, sorted
func (m *Monitor) Components() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.checks))
}

// Last returns the most recent result for name
func (m *Monitor) Last(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.last[name]
	return s, ok
}

// Check runs every check concurrently and aggregates the results
func (m *Monitor) Check(ctx context.Context) Status {
	m.mu.RLock()
	checks := maps.Clone(m.checks)
	m.mu.RUnlock()

	results := make([]Status, 0, len(checks))
	var rmu sync.Mutex
	var g errgroup.Group
	for name, p := range checks {
		g.Go(func() error {
			s := m.run(ctx, name, p)
			rmu.Lock()
			results = append(results, s)
			rmu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	m.mu.Lock()
	for _, s := range results {
		if prev, ok := m.last[s.Component]; ok && prev.Level != s.Level {
			m.logger.Info("component health changed", "name", s.Component, "from", prev.Level, "to", s.Level)
		}
		m.last[s.Component] = s
	}
	m.mu.Unlock()

	return Aggregate("flowcanvas", results, m.clock.Now())
}

func (m *Monitor) run(ctx context.Context, name string, p Checker) (s Status) {
	start := m.clock.Now()
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	done := make(chan Status, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Fail(fmt.Sprintf("check panicked: %v", r))
			}
		}()
		done <- p(ctx)
	}()

	select {
	case s = <-done:
	case <-ctx.Done():
		s = Fail("check timed out")
	}
	s.Component = name
	s.Message = Sanitize(s.Message)
	s.Timestamp = m.clock.Now()
	s.Latency = s.Timestamp.Sub(start)
	return s
}

// StateSource is the part of canvas.Controller the canvas check reads
type StateSource interface {
	State() canvas.State
}

// CanvasCheck is healthy when the canvas is ready, degraded while it
// initializes or resets, and unhealthy otherwise.
func CanvasCheck(c StateSource) Checker {
	return func(context.Context) Status {
		switch st := c.State(); st {
		case canvas.StateReady:
			return OK("canvas ready")
		case canvas.StateInitializing, canvas.StateResetting:
			return Degrade("canvas " + st.String())
		default:
			return Fail("canvas " + st.String())
		}
	}
}

// ConnectionSource is the part of natsclient.Client the NATS check reads
type ConnectionSource interface {
	Status() natsclient.ConnectionStatus
}

// NATSCheck maps the connection status
func NATSCheck(c ConnectionSource) Checker {
	return func(context.Context) Status {
		switch st := c.Status(); st {
		case natsclient.StatusConnected:
			return OK("connected")
		case natsclient.StatusConnecting, natsclient.StatusReconnecting:
			return Degrade(st.String())
		default:
			return Fail(st.String())
		}
	}
}

// sentinelDocumentID is never created; a not-found answer proves the store responds
const sentinelDocumentID = "__health__"

// StoreCheck reads a missing document and expects not-found
func StoreCheck(s flowstore.Store) Checker {
	return func(ctx context.Context) Status {
		_, err := s.Get(ctx, sentinelDocumentID)
		switch {
		case err == nil, stderrors.Is(err, errors.ErrNotFound):
			return OK("store responding")
		case errors.IsTransient(err):
			return Degrade(err.Error())
		default:
			return Fail(err.Error())
		}
	}
}
