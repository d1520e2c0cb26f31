package events

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/flowcanvas/errors"
	"github.com/c360/flowcanvas/scheduler"
)

func newTestManager(t *testing.T, opts Options) (*Manager, *scheduler.ManualClock) {
	t.Helper()
	clock := scheduler.NewManualClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	if opts.Clock == nil {
		opts.Clock = clock
	}
	m := NewManager(opts)
	t.Cleanup(m.Destroy)
	return m, clock
}

func record(calls *[]string, name string) Listener {
	return func(Event) error {
		*calls = append(*calls, name)
		return nil
	}
}

func TestMatches(t *testing.T) {
	tests := []struct {
		pattern string
		event   string
		want    bool
	}{
		{"node:added", "node:added", true},
		{"node:added", "node:removed", false},
		{"*", "anything", true},
		{"node:*", "node:moved", true},
		{"node:*", "edge:added", false},
		{"*-created", "preview-created", true},
		{"branch*Changed", "branchStateChanged", true},
		{"a*a", "a", false},
		{"node:", "node:removed", true},
		{"node:", "nodes", false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s", tt.pattern, tt.event), func(t *testing.T) {
			assert.Equal(t, tt.want, matches(tt.pattern, tt.event))
		})
	}
}

func TestManager_PriorityOrder(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	var calls []string

	_, err := m.On("x", record(&calls, "low"), WithPriority(1))
	require.NoError(t, err)
	_, err = m.On("x", record(&calls, "high"), WithPriority(10))
	require.NoError(t, err)
	_, err = m.On("x", record(&calls, "low-2"), WithPriority(1))
	require.NoError(t, err)
	_, err = m.On("*", record(&calls, "wildcard"), WithPriority(5))
	require.NoError(t, err)

	assert.Equal(t, 4, m.Emit("x", nil))
	assert.Equal(t, []string{"high", "wildcard", "low", "low-2"}, calls)
}

func TestManager_NamespaceAndGlob(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	var calls []string

	_, _ = m.On("node:", record(&calls, "namespace"))
	_, _ = m.On("node:*", record(&calls, "glob"))
	_, _ = m.On("edge:added", record(&calls, "edge"))

	assert.Equal(t, 2, m.Emit(EventNodeRemoved, "n1"))
	assert.ElementsMatch(t, []string{"namespace", "glob"}, calls)
}

func TestManager_OnceAndOff(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	count := 0
	_, err := m.Once("tick", func(Event) error { count++; return nil })
	require.NoError(t, err)

	m.Emit("tick", nil)
	m.Emit("tick", nil)
	assert.Equal(t, 1, count)
	assert.Equal(t, 0, m.ListenerCount("tick"))

	id, _ := m.On("tick", func(Event) error { count++; return nil })
	assert.True(t, m.Off("tick", id))
	assert.False(t, m.Off("tick", id))
	m.Emit("tick", nil)
	assert.Equal(t, 1, count)
}

func TestManager_OffNamespaceAndRemoveAll(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	noop := func(Event) error { return nil }

	_, _ = m.On("a", noop, WithNamespace("preview"))
	_, _ = m.On("b", noop, WithNamespace("preview"))
	_, _ = m.On("b", noop)

	assert.Equal(t, 2, m.OffNamespace("preview"))
	assert.Equal(t, 1, m.ListenerCount(""))

	_, _ = m.On("c", noop)
	assert.Equal(t, 1, m.RemoveAllListeners("c"))
	assert.Equal(t, 1, m.RemoveAllListeners(""))
	assert.Equal(t, 0, m.ListenerCount(""))
}

func TestManager_MaxListeners(t *testing.T) {
	m, _ := newTestManager(t, Options{MaxListeners: 2})
	noop := func(Event) error { return nil }

	_, err := m.On("x", noop)
	require.NoError(t, err)
	_, err = m.On("x", noop)
	require.NoError(t, err)
	_, err = m.On("x", noop)
	assert.ErrorIs(t, err, errors.ErrLimitExceeded)

	_, err = m.On("y", noop)
	assert.NoError(t, err)
}

func TestManager_InvalidRegistration(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	_, err := m.On("", func(Event) error { return nil })
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)
	_, err = m.On("x", nil)
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)
}

func TestManager_ListenerErrorIsReEmitted(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	var reported []ListenerError
	var after bool

	_, _ = m.On(EventListenerError, func(ev Event) error {
		reported = append(reported, ev.Data.(ListenerError))
		return fmt.Errorf("error listener failing too")
	})
	_, _ = m.On("work", func(Event) error { return fmt.Errorf("boom") }, WithPriority(2))
	_, _ = m.On("work", func(Event) error { panic("kaboom") }, WithPriority(1))
	_, _ = m.On("work", func(Event) error { after = true; return nil })

	assert.Equal(t, 3, m.Emit("work", nil))
	assert.True(t, after)
	require.Len(t, reported, 2)
	assert.Equal(t, "boom", reported[0].Error)
	assert.Contains(t, reported[1].Error, "kaboom")

	// both work failures plus the failing error listener, which is not re-emitted again
	assert.Equal(t, int64(4), m.Stats().Errors)
}

func TestManager_Debounce(t *testing.T) {
	m, clock := newTestManager(t, Options{})
	var got []any
	_, _ = m.On("drag", func(ev Event) error {
		got = append(got, ev.Data)
		return nil
	}, WithDebounce(16*time.Millisecond))

	assert.Equal(t, 0, m.Emit("drag", 1))
	clock.Advance(10 * time.Millisecond)
	m.Emit("drag", 2)
	clock.Advance(10 * time.Millisecond)
	m.Emit("drag", 3)
	assert.Empty(t, got)

	clock.Advance(16 * time.Millisecond)
	assert.Equal(t, []any{3}, got)
}

func TestManager_DestroyCancelsDebounce(t *testing.T) {
	m, clock := newTestManager(t, Options{})
	fired := false
	_, _ = m.On("drag", func(Event) error { fired = true; return nil }, WithDebounce(time.Second))

	m.Emit("drag", nil)
	m.Destroy()
	clock.Advance(2 * time.Second)
	assert.False(t, fired)

	_, err := m.On("drag", func(Event) error { return nil })
	assert.ErrorIs(t, err, errors.ErrNotReady)
	assert.Equal(t, 0, m.Emit("drag", nil))
}

func TestManager_Throttle(t *testing.T) {
	m, clock := newTestManager(t, Options{})
	count := 0
	_, _ = m.On("scroll", func(Event) error { count++; return nil }, WithThrottle(100*time.Millisecond))

	assert.Equal(t, 1, m.Emit("scroll", nil))
	assert.Equal(t, 0, m.Emit("scroll", nil))
	clock.Advance(50 * time.Millisecond)
	m.Emit("scroll", nil)
	assert.Equal(t, 1, count)

	clock.Advance(60 * time.Millisecond)
	m.Emit("scroll", nil)
	assert.Equal(t, 2, count)
}

func TestManager_History(t *testing.T) {
	m, _ := newTestManager(t, Options{HistorySize: 3})

	for i := 0; i < 5; i++ {
		m.Emit(fmt.Sprintf("e%d", i), i)
	}
	history := m.History("")
	require.Len(t, history, 3)
	assert.Equal(t, "e2", history[0].Name)
	assert.Equal(t, "e4", history[2].Name)

	assert.Len(t, m.History("e3"), 1)
	assert.Equal(t, 3, m.Stats().HistorySize)

	m.ClearHistory()
	assert.Empty(t, m.History(""))
}

func TestManager_EmitBatch(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	var order []any
	_, _ = m.On("a", func(ev Event) error { order = append(order, ev.Data); return nil })

	counts := m.EmitBatch([]Event{{Name: "a", Data: 1}, {Name: "b"}, {Name: "a", Data: 2}})
	assert.Equal(t, []int{1, 0, 1}, counts)
	assert.Equal(t, []any{1, 2}, order)
}

func TestManager_EmitAsync(t *testing.T) {
	m := NewManager(Options{QueueSize: 10})

	err := m.EmitAsync("early", nil)
	assert.ErrorIs(t, err, errors.ErrNotReady)

	var mu sync.Mutex
	var got []any
	_, _ = m.On("async", func(ev Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev.Data)
		return nil
	})

	require.NoError(t, m.Start(context.Background()))
	for i := 0; i < 5; i++ {
		require.NoError(t, m.EmitAsync("async", i))
	}
	require.NoError(t, m.Stop(time.Second))

	mu.Lock()
	assert.Equal(t, []any{0, 1, 2, 3, 4}, got)
	mu.Unlock()

	assert.ErrorIs(t, m.EmitAsync("async", 5), errors.ErrNotReady)
	assert.Equal(t, int64(5), m.Stats().Queued)
}

func TestManager_EmitAsyncQueueFull(t *testing.T) {
	m := NewManager(Options{QueueSize: 1})
	block := make(chan struct{})
	started := make(chan struct{}, 1)
	_, _ = m.On("slow", func(Event) error {
		started <- struct{}{}
		<-block
		return nil
	})

	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.EmitAsync("slow", nil))
	<-started
	require.NoError(t, m.EmitAsync("slow", nil))
	assert.ErrorIs(t, m.EmitAsync("slow", nil), errors.ErrQueueFull)

	close(block)
	require.NoError(t, m.Stop(time.Second))
	assert.Equal(t, int64(1), m.Stats().Dropped)
}

func TestManager_ListenerMayEmitAndRegister(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	var calls []string
	_, _ = m.On("outer", func(Event) error {
		_, _ = m.On("late", record(&calls, "late"))
		m.Emit("inner", nil)
		return nil
	})
	_, _ = m.On("inner", record(&calls, "inner"))

	m.Emit("outer", nil)
	m.Emit("late", nil)
	assert.Equal(t, []string{"inner", "late"}, calls)

	stats := m.Stats()
	assert.Equal(t, int64(3), stats.Emitted)
	assert.Equal(t, 3, stats.Listeners)
}
