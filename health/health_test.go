package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/flowcanvas/canvas"
	"github.com/c360/flowcanvas/errors"
	"github.com/c360/flowcanvas/flowstore"
	"github.com/c360/flowcanvas/model"
	"github.com/c360/flowcanvas/natsclient"
)

func TestAggregate(t *testing.T) {
	now := time.Unix(1700000000, 0)
	tests := []struct {
		name string
		subs []Status
		want Level
	}{
		{"empty", nil, Healthy},
		{"all healthy", []Status{OK("a"), OK("b")}, Healthy},
		{"one degraded", []Status{OK("a"), Degrade("b")}, Degraded},
		{"unhealthy wins", []Status{Degrade("a"), Fail("b"), OK("c")}, Unhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Aggregate("svc", tt.subs, now)
			assert.Equal(t, tt.want, s.Level)
			assert.Equal(t, now, s.Timestamp)
			assert.Len(t, s.SubStatuses, len(tt.subs))
		})
	}
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		in      string
		absent  []string
		present string
	}{
		{"dial nats://user:pw@10.0.0.5:4222 refused", []string{"10.0.0.5", "user:pw"}, "[URL]"},
		{"connect to 192.168.1.20:5432 failed", []string{"192.168.1.20"}, "[IP]"},
		{"open /etc/flowcanvas/config.yaml: denied", []string{"/etc/flowcanvas"}, "[PATH]"},
		{"auth failed password=hunter2", []string{"hunter2"}, "[REDACTED]"},
	}
	for _, tt := range tests {
		out := Sanitize(tt.in)
		for _, s := range tt.absent {
			assert.NotContains(t, out, s)
		}
		assert.Contains(t, out, tt.present)
	}
	assert.Empty(t, Sanitize(""))
	assert.Equal(t, "canvas ready", Sanitize("canvas ready"))
}

type stateFunc func() canvas.State

func (f stateFunc) State() canvas.State { return f() }

type connFunc func() natsclient.ConnectionStatus

func (f connFunc) Status() natsclient.ConnectionStatus { return f() }

func TestCanvasCheck(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, Healthy, CanvasCheck(stateFunc(func() canvas.State { return canvas.StateReady }))(ctx).Level)
	assert.Equal(t, Degraded, CanvasCheck(stateFunc(func() canvas.State { return canvas.StateResetting }))(ctx).Level)
	assert.Equal(t, Unhealthy, CanvasCheck(stateFunc(func() canvas.State { return canvas.StateDestroyed }))(ctx).Level)
}

func TestNATSCheck(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, Healthy, NATSCheck(connFunc(func() natsclient.ConnectionStatus { return natsclient.StatusConnected }))(ctx).Level)
	assert.Equal(t, Degraded, NATSCheck(connFunc(func() natsclient.ConnectionStatus { return natsclient.StatusReconnecting }))(ctx).Level)
	s := NATSCheck(connFunc(func() natsclient.ConnectionStatus { return natsclient.StatusCircuitOpen }))(ctx)
	assert.Equal(t, Unhealthy, s.Level)
	assert.Equal(t, "circuit_open", s.Message)
}

type failingStore struct {
	flowstore.Store
	err error
}

func (f failingStore) Get(context.Context, string) (*model.Document, error) {
	return nil, f.err
}

func TestStoreCheck(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, Healthy, StoreCheck(flowstore.NewMemoryStore(nil))(ctx).Level)

	transient := errors.WrapTransient(context.DeadlineExceeded, "flowstore", "Get", "query")
	assert.Equal(t, Degraded, StoreCheck(failingStore{err: transient})(ctx).Level)

	fatal := errors.WrapFatal(errors.ErrDataCorrupted, "flowstore", "Get", "decode")
	assert.Equal(t, Unhealthy, StoreCheck(failingStore{err: fatal})(ctx).Level)
}

func TestMonitor_Check(t *testing.T) {
	m := NewMonitor(50*time.Millisecond, nil, nil)
	m.Register("fast", func(context.Context) Status { return OK("fine") })
	m.Register("slow", func(ctx context.Context) Status {
		<-ctx.Done()
		return OK("too late")
	})
	m.Register("panics", func(context.Context) Status { panic("boom") })

	s := m.Check(context.Background())
	assert.Equal(t, Unhealthy, s.Level)
	require.Len(t, s.SubStatuses, 3)

	byName := map[string]Status{}
	for _, sub := range s.SubStatuses {
		byName[sub.Component] = sub
	}
	assert.Equal(t, Healthy, byName["fast"].Level)
	assert.Equal(t, "check timed out", byName["slow"].Message)
	assert.Contains(t, byName["panics"].Message, "boom")

	last, ok := m.Last("fast")
	require.True(t, ok)
	assert.Equal(t, "fine", last.Message)
	assert.Equal(t, []string{"fast", "panics", "slow"}, m.Components())

	m.Remove("slow")
	m.Remove("panics")
	assert.True(t, m.Check(context.Background()).IsHealthy())
}
