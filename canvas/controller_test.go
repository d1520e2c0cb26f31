package canvas

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/c360/flowcanvas/errors"
	"github.com/c360/flowcanvas/events"
	"github.com/c360/flowcanvas/model"
	"github.com/c360/flowcanvas/scheduler"
)

// mockEngine mocks the lifecycle calls the controller makes; graph
// operations are inert.
type mockEngine struct {
	mock.Mock
}

func (e *mockEngine) On(event string, _ func(any)) func() {
	args := e.Called(event)
	return args.Get(0).(func())
}

func (e *mockEngine) Nodes() []model.Node {
	args := e.Called()
	nodes, _ := args.Get(0).([]model.Node)
	return nodes
}

func (e *mockEngine) Dispose() error {
	return e.Called().Error(0)
}

func (e *mockEngine) AddNode(model.Node) error                { return nil }
func (e *mockEngine) RemoveNode(string) error                 { return nil }
func (e *mockEngine) MoveNode(string, model.Point) error      { return nil }
func (e *mockEngine) HasNode(string) bool                     { return false }
func (e *mockEngine) Node(string) (model.Node, bool)          { return model.Node{}, false }
func (e *mockEngine) AddEdge(model.Edge) error                { return nil }
func (e *mockEngine) RemoveEdge(string) error                 { return nil }
func (e *mockEngine) Edges() []model.Edge                     { return nil }
func (e *mockEngine) Select(...string)                        {}
func (e *mockEngine) SelectAll()                              {}
func (e *mockEngine) Selected() []string                      { return nil }
func (e *mockEngine) Copy() int                               { return 0 }
func (e *mockEngine) Paste() ([]model.Node, error)            { return nil, nil }
func (e *mockEngine) Undo() bool                              { return false }
func (e *mockEngine) Redo() bool                              { return false }
func (e *mockEngine) ClientToLocal(p model.Point) model.Point { return p }

func newMockEngine() *mockEngine {
	eng := &mockEngine{}
	eng.Mock.On("On", mock.Anything).Return(func() {}).Maybe()
	eng.Mock.On("Nodes").Return([]model.Node(nil)).Maybe()
	return eng
}

type fakeSubsystem struct {
	name     string
	err      error
	disposed int
}

func (s *fakeSubsystem) Name() string { return s.name }

func (s *fakeSubsystem) Dispose() error {
	s.disposed++
	return s.err
}

type fixture struct {
	ctrl    *Controller
	clock   *scheduler.ManualClock
	bus     *events.Manager
	engines []*mockEngine
	builds  int

	mu  sync.Mutex
	log []events.Event
}

func newFixture(t *testing.T, mutate ...func(*Options)) *fixture {
	t.Helper()
	f := &fixture{
		clock: scheduler.NewManualClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		bus:   events.NewManager(events.Options{}),
	}
	t.Cleanup(f.bus.Destroy)
	_, err := f.bus.On(events.Wildcard, func(ev events.Event) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.log = append(f.log, ev)
		return nil
	})
	require.NoError(t, err)

	opts := Options{
		Container: NewAttachedContainer(),
		Factory: func(context.Context, Container) (Engine, error) {
			f.builds++
			eng := newMockEngine()
			eng.Mock.On("Dispose").Return(nil).Maybe()
			f.engines = append(f.engines, eng)
			return eng, nil
		},
		Events: f.bus,
		Clock:  f.clock,
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	f.ctrl = NewController(opts)
	return f
}

func (f *fixture) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, ev := range f.log {
		out = append(out, ev.Name)
	}
	return out
}

func (f *fixture) last(name string) (events.Event, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.log) - 1; i >= 0; i-- {
		if f.log[i].Name == name {
			return f.log[i], true
		}
	}
	return events.Event{}, false
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "uninitialized", StateUninitialized.String())
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "destroyed", StateDestroyed.String())
	assert.Equal(t, "unknown", State(42).String())
	assert.Equal(t, "keyboard", BindKeyboard.String())
}

func TestInitCanvas_Success(t *testing.T) {
	f := newFixture(t)

	_, err := f.ctrl.Engine()
	assert.ErrorIs(t, err, errors.ErrNotReady)

	require.NoError(t, f.ctrl.InitCanvas(context.Background()))

	assert.Equal(t, StateReady, f.ctrl.State())
	eng, err := f.ctrl.Engine()
	require.NoError(t, err)
	assert.Same(t, f.engines[0], eng)
	assert.Contains(t, f.names(), events.EventCanvasInitialized)
	f.engines[0].AssertNumberOfCalls(t, "On", 5)
}

func TestInitCanvas_ContainerMissing(t *testing.T) {
	for name, container := range map[string]Container{
		"nil": nil,
		"detached": func() Container {
			c := NewAttachedContainer()
			c.Detach()
			return c
		}(),
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, func(o *Options) { o.Container = container })

			err := f.ctrl.InitCanvas(context.Background())
			assert.ErrorIs(t, err, errors.ErrContainerNotFound)
			assert.Equal(t, StateUninitialized, f.ctrl.State())
			assert.Zero(t, f.builds)

			ev, ok := f.last(events.EventCanvasError)
			require.True(t, ok)
			assert.Equal(t, "container", ev.Data.(ErrorEvent).Stage)
		})
	}
}

func TestInitCanvas_FactoryFailures(t *testing.T) {
	tests := []struct {
		name    string
		factory EngineFactory
	}{
		{"error", func(context.Context, Container) (Engine, error) { return nil, fmt.Errorf("no webgl") }},
		{"nil engine", func(context.Context, Container) (Engine, error) { return nil, nil }},
		{"panic", func(context.Context, Container) (Engine, error) { panic("constructor exploded") }},
		{"no factory", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, func(o *Options) { o.Factory = tt.factory })

			err := f.ctrl.InitCanvas(context.Background())
			assert.ErrorIs(t, err, errors.ErrGraphInitFailed)
			assert.Equal(t, StateUninitialized, f.ctrl.State())
			_, err = f.ctrl.Engine()
			assert.ErrorIs(t, err, errors.ErrNotReady)

			snap := f.ctrl.Diagnostics().Snapshot()
			assert.Equal(t, 1, snap.Errors)
		})
	}
}

func TestInitCanvas_BinderOrder(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Events = nil })

	var order []string
	bind := func(name string) BindFunc {
		return func(Engine) (func(), error) {
			order = append(order, name)
			return func() { order = append(order, "un"+name) }, nil
		}
	}
	require.NoError(t, f.ctrl.RegisterBinder("keys", BindKeyboard, bind("keys")))
	require.NoError(t, f.ctrl.RegisterBinder("edges", BindEdge, bind("edges")))
	require.NoError(t, f.ctrl.RegisterBinder("nodes", BindNode, bind("nodes")))
	require.NoError(t, f.ctrl.RegisterBinder("ports", BindPort, bind("ports")))
	assert.ErrorIs(t, f.ctrl.RegisterBinder("keys", BindKeyboard, bind("keys")), errors.ErrConflict)
	assert.ErrorIs(t, f.ctrl.RegisterBinder("", BindNode, nil), errors.ErrInvalidArgument)

	require.NoError(t, f.ctrl.InitCanvas(context.Background()))
	assert.Equal(t, []string{"nodes", "edges", "ports", "keys"}, order)

	order = nil
	require.NoError(t, f.ctrl.DestroyCanvas())
	assert.Equal(t, []string{"unkeys", "unports", "unedges", "unnodes"}, order)
}

func TestInitCanvas_BindFailureCleansUp(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Events = nil })

	unbound := 0
	require.NoError(t, f.ctrl.RegisterBinder("nodes", BindNode, func(Engine) (func(), error) {
		return func() { unbound++ }, nil
	}))
	require.NoError(t, f.ctrl.RegisterBinder("edges", BindEdge, func(Engine) (func(), error) {
		return nil, fmt.Errorf("edge layer unavailable")
	}))

	err := f.ctrl.InitCanvas(context.Background())
	assert.ErrorIs(t, err, errors.ErrGraphInitFailed)
	assert.Contains(t, err.Error(), "edge layer unavailable")
	assert.Equal(t, 1, unbound)
	f.engines[0].AssertCalled(t, "Dispose")
	assert.Equal(t, StateUninitialized, f.ctrl.State())
}

func TestInitCanvas_ReentrantCallIsNoop(t *testing.T) {
	f := newFixture(t)
	var inner error
	f.ctrl.factory = func(ctx context.Context, c Container) (Engine, error) {
		f.builds++
		inner = f.ctrl.InitCanvas(ctx)
		return newMockEngine(), nil
	}

	require.NoError(t, f.ctrl.InitCanvas(context.Background()))
	assert.NoError(t, inner)
	assert.Equal(t, 1, f.builds)
}

func TestInitCanvas_ReplacesPreviousEngine(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.ctrl.InitCanvas(context.Background()))
	require.NoError(t, f.ctrl.InitCanvas(context.Background()))

	require.Len(t, f.engines, 2)
	f.engines[0].AssertCalled(t, "Dispose")
	f.engines[1].AssertNotCalled(t, "Dispose")
}

func TestInitCanvas_RepeatedReinit(t *testing.T) {
	f := newFixture(t)

	for range 3 {
		require.NotPanics(t, func() {
			require.NoError(t, f.ctrl.InitCanvas(context.Background()))
		})
		assert.NoError(t, f.ctrl.WaitForInitialization(context.Background()))
	}
	assert.Len(t, f.engines, 3)
	f.engines[1].AssertCalled(t, "Dispose")
}

func TestInitCanvas_FailedReinitReleasesPreviousEngine(t *testing.T) {
	container := NewAttachedContainer()
	f := newFixture(t, func(o *Options) { o.Container = container })
	unbound := 0
	require.NoError(t, f.ctrl.RegisterBinder("nodes", BindNode, func(Engine) (func(), error) {
		return func() { unbound++ }, nil
	}))
	require.NoError(t, f.ctrl.InitCanvas(context.Background()))

	container.Detach()
	err := f.ctrl.InitCanvas(context.Background())
	assert.ErrorIs(t, err, errors.ErrContainerNotFound)

	f.engines[0].AssertCalled(t, "Dispose")
	assert.Equal(t, 1, unbound)
	assert.Equal(t, StateUninitialized, f.ctrl.State())
	_, err = f.ctrl.Engine()
	assert.ErrorIs(t, err, errors.ErrNotReady)

	done := make(chan error, 1)
	go func() { done <- f.ctrl.WaitForInitialization(context.Background()) }()
	require.Eventually(t, func() bool { return f.clock.Pending() == 1 }, time.Second, time.Millisecond)
	f.clock.Advance(DefaultInitTimeout)
	assert.ErrorIs(t, <-done, errors.ErrNotReady, "a failed re-init is not ready")
}

func TestInitCanvas_CancelledContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.ctrl.InitCanvas(ctx)
	assert.True(t, errors.IsTransient(err))
	assert.Equal(t, StateUninitialized, f.ctrl.State())
}

func TestWaitForInitialization(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		f := newFixture(t)
		done := make(chan error, 1)
		go func() { done <- f.ctrl.WaitForInitialization(context.Background()) }()

		require.Eventually(t, func() bool { return f.clock.Pending() == 1 }, time.Second, time.Millisecond)
		require.NoError(t, f.ctrl.InitCanvas(context.Background()))
		assert.NoError(t, <-done)
		assert.Zero(t, f.clock.Pending())
	})

	t.Run("timeout", func(t *testing.T) {
		f := newFixture(t)
		done := make(chan error, 1)
		go func() { done <- f.ctrl.WaitForInitialization(context.Background()) }()

		require.Eventually(t, func() bool { return f.clock.Pending() == 1 }, time.Second, time.Millisecond)
		f.clock.Advance(DefaultInitTimeout)
		assert.ErrorIs(t, <-done, errors.ErrNotReady)
	})

	t.Run("already ready", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.ctrl.InitCanvas(context.Background()))
		assert.NoError(t, f.ctrl.WaitForInitialization(context.Background()))
	})

	t.Run("cancelled", func(t *testing.T) {
		f := newFixture(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.True(t, errors.IsTransient(f.ctrl.WaitForInitialization(ctx)))
	})
}

func TestDestroyCanvas(t *testing.T) {
	f := newFixture(t)
	minimap := &fakeSubsystem{name: "minimap", err: fmt.Errorf("minimap already gone")}
	panzoom := &fakeSubsystem{name: "panzoom"}
	require.NoError(t, f.ctrl.RegisterSubsystem(minimap))
	require.NoError(t, f.ctrl.RegisterSubsystem(panzoom))
	assert.ErrorIs(t, f.ctrl.RegisterSubsystem(&fakeSubsystem{name: "panzoom"}), errors.ErrConflict)
	require.NoError(t, f.ctrl.InitCanvas(context.Background()))

	err := f.ctrl.DestroyCanvas()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "minimap already gone")
	assert.Equal(t, 1, minimap.disposed)
	assert.Equal(t, 1, panzoom.disposed, "a failing subsystem does not stop the rest")
	f.engines[0].AssertCalled(t, "Dispose")

	assert.Equal(t, StateDestroyed, f.ctrl.State())
	assert.Contains(t, f.names(), events.EventCanvasDestroyed)
	_, err = f.ctrl.Engine()
	assert.ErrorIs(t, err, errors.ErrNotReady)

	assert.NoError(t, f.ctrl.DestroyCanvas(), "second destroy is a no-op")
	assert.Equal(t, 1, panzoom.disposed)

	require.NoError(t, f.ctrl.InitCanvas(context.Background()), "a destroyed canvas can be initialized again")
	assert.Equal(t, StateReady, f.ctrl.State())
}

func TestDestroyCanvas_BeforeInit(t *testing.T) {
	f := newFixture(t)
	assert.NoError(t, f.ctrl.DestroyCanvas())
	assert.Equal(t, StateUninitialized, f.ctrl.State())
}

func TestUnregisterSubsystem(t *testing.T) {
	f := newFixture(t)
	s := &fakeSubsystem{name: "overlap"}
	require.NoError(t, f.ctrl.RegisterSubsystem(s))

	assert.True(t, f.ctrl.UnregisterSubsystem("overlap"))
	assert.False(t, f.ctrl.UnregisterSubsystem("overlap"))

	require.NoError(t, f.ctrl.InitCanvas(context.Background()))
	require.NoError(t, f.ctrl.DestroyCanvas())
	assert.Zero(t, s.disposed)
}

func TestResetCanvas(t *testing.T) {
	f := newFixture(t)
	s := &fakeSubsystem{name: "minimap"}
	require.NoError(t, f.ctrl.RegisterSubsystem(s))
	require.NoError(t, f.ctrl.InitCanvas(context.Background()))

	require.NoError(t, f.ctrl.ResetCanvas(context.Background()))

	assert.Equal(t, StateReady, f.ctrl.State())
	assert.Len(t, f.engines, 2)
	f.engines[0].AssertCalled(t, "Dispose")
	assert.Equal(t, 1, s.disposed)
	assert.Contains(t, f.names(), events.EventCanvasReset)

	eng, err := f.ctrl.Engine()
	require.NoError(t, err)
	assert.Same(t, f.engines[1], eng)
}

func TestValidateCanvasState(t *testing.T) {
	container := NewAttachedContainer()
	f := newFixture(t, func(o *Options) { o.Container = container })

	report := f.ctrl.ValidateCanvasState()
	assert.False(t, report.IsValid)
	assert.Equal(t, "uninitialized", report.State)

	require.NoError(t, f.ctrl.InitCanvas(context.Background()))
	report = f.ctrl.ValidateCanvasState()
	assert.True(t, report.IsValid, report.Issues)

	container.Detach()
	report = f.ctrl.ValidateCanvasState()
	assert.False(t, report.IsValid)
	assert.Contains(t, report.Issues, "container is missing or detached")
}

func TestDiagnostics_Capacity(t *testing.T) {
	d := NewDiagnostics(nil, 2)
	d.Record("a", "1")
	d.RecordError("b", fmt.Errorf("boom"))
	d.Record("c", "3")
	d.RecordError("d", nil)

	snap := d.Snapshot()
	require.Len(t, snap.Entries, 2)
	assert.Equal(t, "b", snap.Entries[0].Stage)
	assert.Equal(t, "boom", snap.Entries[0].Error)
	assert.Equal(t, 1, snap.Errors)
	assert.Equal(t, 1, snap.Dropped)

	d.Reset()
	assert.Empty(t, d.Snapshot().Entries)

	var none *Diagnostics
	none.Record("x", "y")
	assert.Empty(t, none.Snapshot().Entries)
}
