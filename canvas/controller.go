package canvas

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/c360/flowcanvas/errors"
	"github.com/c360/flowcanvas/events"
	"github.com/c360/flowcanvas/metric"
	"github.com/c360/flowcanvas/model"
	"github.com/c360/flowcanvas/scheduler"
)

// State is the lifecycle state of the canvas
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateDestroying
	StateDestroyed
	StateResetting
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateDestroying:
		return "destroying"
	case StateDestroyed:
		return "destroyed"
	case StateResetting:
		return "resetting"
	default:
		return "unknown"
	}
}

// DefaultInitTimeout bounds WaitForInitialization
const DefaultInitTimeout = 10 * time.Second

// StartNodeID is the id of the start node added to an empty canvas
const StartNodeID = "start"

// Options configures a Controller
type Options struct {
	Container Container
	Factory   EngineFactory
	// AutoStartNode adds a protected start node when the new engine is empty
	AutoStartNode bool
	InitTimeout   time.Duration

	Events      *events.Manager
	Diagnostics *Diagnostics
	Clock       scheduler.Clock
	Logger      *slog.Logger
	Metrics     *metric.Metrics
}

// ErrorEvent is the payload of canvas-error
type ErrorEvent struct {
	Stage string `json:"stage"`
	Kind  string `json:"kind,omitempty"`
	Error string `json:"error"`
}

// StateReport is the result of ValidateCanvasState
type StateReport struct {
	IsValid bool     `json:"isValid"`
	State   string   `json:"state"`
	Issues  []string `json:"issues,omitempty"`
}

// Controller owns the graph engine instance and its init, destroy and
// reset sequence. Other components reach the engine only once it is ready.
type Controller struct {
	container     Container
	factory       EngineFactory
	autoStartNode bool
	initTimeout   time.Duration

	events  *events.Manager
	diag    *Diagnostics
	clock   scheduler.Clock
	logger  *slog.Logger
	metrics *metric.Metrics

	mu         sync.Mutex
	state      State
	engine     Engine
	binders    []binder
	unbinders  []func()
	subsystems []Subsystem
	ready      chan struct{}
}

// NewController creates an uninitialized controller
func NewController(opts Options) *Controller {
	if opts.InitTimeout <= 0 {
		opts.InitTimeout = DefaultInitTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	clock := scheduler.OrReal(opts.Clock)
	if opts.Diagnostics == nil {
		opts.Diagnostics = NewDiagnostics(clock, 0)
	}
	c := &Controller{
		container:     opts.Container,
		factory:       opts.Factory,
		autoStartNode: opts.AutoStartNode,
		initTimeout:   opts.InitTimeout,
		events:        opts.Events,
		diag:          opts.Diagnostics,
		clock:         clock,
		logger:        opts.Logger.With("component", "canvas"),
		metrics:       opts.Metrics,
		ready:         make(chan struct{}),
	}
	if c.events != nil {
		c.binders = append(c.binders, binder{name: "engine-events", kind: BindNode, fn: c.forwardEngineEvents})
	}
	return c
}

// forwardEngineEvents republishes engine node and edge events on the
// canvas event manager, which is how preview lines learn about removals.
func (c *Controller) forwardEngineEvents(eng Engine) (func(), error) {
	names := []string{
		events.EventNodeAdded, events.EventNodeRemoved, events.EventNodeMoved,
		events.EventEdgeAdded, events.EventEdgeRemoved,
	}
	offs := make([]func(), 0, len(names))
	for _, name := range names {
		offs = append(offs, eng.On(name, func(data any) { c.events.Emit(name, data) }))
	}
	return func() {
		for _, off := range offs {
			off()
		}
	}, nil
}

// State returns the current lifecycle state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Diagnostics returns the recorder the controller writes to
func (c *Controller) Diagnostics() *Diagnostics {
	return c.diag
}

// Engine returns the engine once the canvas is ready
func (c *Controller) Engine() (Engine, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady || c.engine == nil {
		return nil, errors.Newf(errors.ErrNotReady, "canvas is %s", c.state)
	}
	return c.engine, nil
}

// RegisterBinder adds a binder used by every later InitCanvas
func (c *Controller) RegisterBinder(name string, kind BinderKind, fn BindFunc) error {
	if name == "" || fn == nil {
		return errors.Newf(errors.ErrInvalidArgument, "binder needs a name and a func")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range c.binders {
		if b.name == name {
			return errors.Newf(errors.ErrConflict, "binder %s already registered", name)
		}
	}
	c.binders = append(c.binders, binder{name: name, kind: kind, fn: fn})
	return nil
}

// RegisterSubsystem adds a subsystem released on destroy
func (c *Controller) RegisterSubsystem(s Subsystem) error {
	if s == nil {
		return errors.Newf(errors.ErrInvalidArgument, "subsystem is nil")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.subsystems {
		if existing.Name() == s.Name() {
			return errors.Newf(errors.ErrConflict, "subsystem %s already registered", s.Name())
		}
	}
	c.subsystems = append(c.subsystems, s)
	return nil
}

// UnregisterSubsystem removes a subsystem without disposing it
func (c *Controller) UnregisterSubsystem(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, s := range c.subsystems {
		if s.Name() == name {
			c.subsystems = slices.Delete(c.subsystems, i, i+1)
			return true
		}
	}
	return false
}

func (c *Controller) setStateLocked(s State) {
	c.state = s
	c.metrics.RecordCanvasTransition(s.String())
}

// InitCanvas builds and binds a new engine. A call while another init is
// running returns nil without doing anything. On failure the controller is
// left uninitialized with no engine, and the error is returned unretried.
func (c *Controller) InitCanvas(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateInitializing:
		c.mu.Unlock()
		c.diag.Record("init", "skipped: initialization already running")
		return nil
	case StateDestroying:
		c.mu.Unlock()
		return errors.Newf(errors.ErrBusy, "canvas is being destroyed")
	}
	previous := c.engine
	prevUnbind := c.unbinders
	c.engine, c.unbinders = nil, nil
	c.resetReadyLocked()
	c.setStateLocked(StateInitializing)
	binders := slices.Clone(c.binders)
	c.mu.Unlock()

	c.diag.Record("init", "started")

	eng, unbinders, stage, err := c.build(ctx, previous, prevUnbind, binders)
	if err != nil {
		c.mu.Lock()
		c.setStateLocked(StateUninitialized)
		c.mu.Unlock()

		c.diag.RecordError(stage, err)
		c.logger.Error("canvas initialization failed", "stage", stage, "error", err)
		if c.events != nil {
			c.events.Emit(events.EventCanvasError, ErrorEvent{Stage: stage, Kind: errors.Kind(err), Error: err.Error()})
		}
		return err
	}

	c.mu.Lock()
	c.engine, c.unbinders = eng, unbinders
	c.setStateLocked(StateReady)
	close(c.ready)
	c.mu.Unlock()

	c.diag.Record("init", "ready")
	c.logger.Info("canvas initialized", "binders", len(unbinders))
	if c.events != nil {
		c.events.Emit(events.EventCanvasInitialized, map[string]any{"nodes": len(eng.Nodes())})
	}
	return nil
}

// build disposes the previous engine before anything can fail, so a failed
// re-init never leaves the old engine bound.
func (c *Controller) build(ctx context.Context, previous Engine, prevUnbind []func(), binders []binder) (Engine, []func(), string, error) {
	if previous != nil {
		c.unbind(prevUnbind)
		if err := previous.Dispose(); err != nil {
			c.logger.Warn("previous engine dispose failed", "error", err)
			c.diag.RecordError("dispose", err)
		}
	}
	if c.container == nil || !c.container.IsAttached() {
		return nil, nil, "container", errors.Newf(errors.ErrContainerNotFound, "canvas container is missing or detached")
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, "context", errors.WrapTransient(err, "canvas", "InitCanvas", "initialization cancelled")
	}

	eng, err := c.construct(ctx)
	if err != nil {
		return nil, nil, "engine", err
	}
	c.diag.Record("engine", "constructed")

	slices.SortStableFunc(binders, func(a, b binder) int { return int(a.kind) - int(b.kind) })
	unbinders := make([]func(), 0, len(binders))
	for _, b := range binders {
		unbind, err := c.bind(b, eng)
		if err != nil {
			c.unbind(unbinders)
			_ = eng.Dispose()
			return nil, nil, "bind", fmt.Errorf("%w: binding %s handlers (%s): %w", errors.ErrGraphInitFailed, b.kind, b.name, err)
		}
		unbinders = append(unbinders, unbind)
		c.diag.Record("bind", b.name)
	}

	if err := ctx.Err(); err != nil {
		c.unbind(unbinders)
		_ = eng.Dispose()
		return nil, nil, "context", errors.WrapTransient(err, "canvas", "InitCanvas", "initialization cancelled")
	}

	if c.autoStartNode && len(eng.Nodes()) == 0 {
		start := model.Node{
			ID:           StartNodeID,
			Type:         model.NodeStart,
			Position:     model.Point{X: 100, Y: 100},
			Size:         model.DefaultSize,
			IsConfigured: true,
			Protected:    true,
		}
		if err := eng.AddNode(start); err != nil {
			c.unbind(unbinders)
			_ = eng.Dispose()
			return nil, nil, "start-node", fmt.Errorf("%w: adding start node: %w", errors.ErrGraphInitFailed, err)
		}
	}
	return eng, unbinders, "", nil
}

// construct calls the factory, turning panics and nil engines into
// ErrGraphInitFailed.
func (c *Controller) construct(ctx context.Context) (eng Engine, err error) {
	if c.factory == nil {
		return nil, errors.Newf(errors.ErrGraphInitFailed, "no engine factory configured")
	}
	defer func() {
		if r := recover(); r != nil {
			eng, err = nil, errors.Newf(errors.ErrGraphInitFailed, "engine factory panicked: %v", r)
		}
	}()
	eng, err = c.factory(ctx, c.container)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrGraphInitFailed, err)
	}
	if eng == nil {
		return nil, errors.Newf(errors.ErrGraphInitFailed, "engine factory returned no engine")
	}
	return eng, nil
}

func (c *Controller) bind(b binder, eng Engine) (unbind func(), err error) {
	defer func() {
		if r := recover(); r != nil {
			unbind, err = nil, fmt.Errorf("binder panicked: %v", r)
		}
	}()
	unbind, err = b.fn(eng)
	if err != nil {
		return nil, err
	}
	if unbind == nil {
		unbind = func() {}
	}
	return unbind, nil
}

// unbind runs unbinders in reverse order; a panicking unbinder is logged
func (c *Controller) unbind(unbinders []func()) {
	for i := len(unbinders) - 1; i >= 0; i-- {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Warn("unbind panicked", "panic", r)
					c.diag.RecordError("unbind", fmt.Errorf("panic: %v", r))
				}
			}()
			unbinders[i]()
		}()
	}
}

// WaitForInitialization blocks until the canvas is ready, ctx is done, or
// the init timeout elapses on the controller's clock.
func (c *Controller) WaitForInitialization(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateReady {
		c.mu.Unlock()
		return nil
	}
	ready := c.ready
	c.mu.Unlock()

	expired := make(chan struct{})
	var once sync.Once
	timer := c.clock.AfterFunc(c.initTimeout, func() { once.Do(func() { close(expired) }) })
	defer timer.Stop()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "canvas", "WaitForInitialization", "wait for ready")
	case <-expired:
		return errors.Newf(errors.ErrNotReady, "canvas not ready after %s", c.initTimeout)
	}
}

// DestroyCanvas unbinds handlers, disposes subsystems and the engine. Each
// subsystem failure is logged and cleanup continues; the failures are
// returned joined.
func (c *Controller) DestroyCanvas() error {
	c.mu.Lock()
	switch c.state {
	case StateUninitialized, StateDestroyed, StateDestroying:
		c.mu.Unlock()
		return nil
	case StateInitializing:
		c.mu.Unlock()
		return errors.Newf(errors.ErrBusy, "canvas is initializing")
	}
	c.setStateLocked(StateDestroying)
	c.mu.Unlock()

	err := c.teardown()

	c.mu.Lock()
	c.setStateLocked(StateDestroyed)
	c.mu.Unlock()

	c.diag.Record("destroy", "done")
	c.logger.Info("canvas destroyed")
	if c.events != nil {
		c.events.Emit(events.EventCanvasDestroyed, nil)
	}
	return err
}

// teardown releases everything the canvas owns; callers have moved the
// state away from ready.
func (c *Controller) teardown() error {
	c.mu.Lock()
	eng, unbinders := c.engine, c.unbinders
	subsystems := slices.Clone(c.subsystems)
	c.engine, c.unbinders = nil, nil
	c.resetReadyLocked()
	c.mu.Unlock()

	c.unbind(unbinders)

	var errs []error
	for _, s := range subsystems {
		if err := c.dispose(s); err != nil {
			c.logger.Warn("subsystem dispose failed", "subsystem", s.Name(), "error", err)
			c.diag.RecordError("dispose:"+s.Name(), err)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}

	if eng != nil {
		if err := eng.Dispose(); err != nil {
			c.logger.Warn("engine dispose failed", "error", err)
			c.diag.RecordError("dispose:engine", err)
			errs = append(errs, fmt.Errorf("engine: %w", err))
		}
	}
	return stderrors.Join(errs...)
}

// resetReadyLocked replaces a closed ready channel so waiters block until
// the next successful init
func (c *Controller) resetReadyLocked() {
	select {
	case <-c.ready:
		c.ready = make(chan struct{})
	default:
	}
}

func (c *Controller) dispose(s Subsystem) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.Dispose()
}

// ResetCanvas tears the canvas down and initializes it again
func (c *Controller) ResetCanvas(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateInitializing, StateDestroying, StateResetting:
		c.mu.Unlock()
		return errors.Newf(errors.ErrBusy, "canvas is %s", c.state)
	}
	c.setStateLocked(StateResetting)
	c.mu.Unlock()

	c.diag.Record("reset", "started")
	if err := c.teardown(); err != nil {
		c.logger.Warn("reset cleanup incomplete", "error", err)
	}

	if err := c.InitCanvas(ctx); err != nil {
		return err
	}
	if c.events != nil {
		c.events.Emit(events.EventCanvasReset, nil)
	}
	return nil
}

// ValidateCanvasState checks that a ready canvas is internally consistent
func (c *Controller) ValidateCanvasState() StateReport {
	c.mu.Lock()
	state, eng := c.state, c.engine
	bound, expected := len(c.unbinders), len(c.binders)
	c.mu.Unlock()

	report := StateReport{State: state.String()}
	if state != StateReady {
		report.Issues = append(report.Issues, fmt.Sprintf("canvas is %s, not ready", state))
	}
	if c.container == nil || !c.container.IsAttached() {
		report.Issues = append(report.Issues, "container is missing or detached")
	}
	if eng == nil {
		report.Issues = append(report.Issues, "no engine instance")
	} else {
		if bound != expected {
			report.Issues = append(report.Issues, fmt.Sprintf("%d of %d binders attached", bound, expected))
		}
		nodes := make(map[string]bool)
		for _, n := range eng.Nodes() {
			nodes[n.ID] = true
		}
		for _, e := range eng.Edges() {
			if !nodes[e.SourceNodeID] || !nodes[e.TargetNodeID] {
				report.Issues = append(report.Issues, fmt.Sprintf("edge %s references a missing node", e.ID))
			}
		}
	}
	report.IsValid = len(report.Issues) == 0
	return report
}
