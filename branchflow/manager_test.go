package branchflow

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/c360/flowcanvas/errors"
	"github.com/c360/flowcanvas/events"
	"github.com/c360/flowcanvas/scheduler"
)

type mockSyncer struct {
	mock.Mock
}

func (m *mockSyncer) CreateConnection(ctx context.Context, b Branch) (Connection, error) {
	args := m.Called(ctx, b.ID)
	return args.Get(0).(Connection), args.Error(1)
}

func (m *mockSyncer) UpdateConnection(ctx context.Context, conn *Connection, b Branch) error {
	args := m.Called(ctx, conn.ID, b.ID)
	return args.Error(0)
}

func (m *mockSyncer) SyncPreviewLine(ctx context.Context, b Branch, conn Connection) error {
	args := m.Called(ctx, b.ID, conn.ID)
	return args.Error(0)
}

type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) listener(e events.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return nil
}

func (l *eventLog) names() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.events))
	for _, e := range l.events {
		out = append(out, e.Name)
	}
	return out
}

func (l *eventLog) last(name string) (events.Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.events) - 1; i >= 0; i-- {
		if l.events[i].Name == name {
			return l.events[i], true
		}
	}
	return events.Event{}, false
}

func (l *eventLog) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = nil
}

type ManagerSuite struct {
	suite.Suite

	clock   *scheduler.ManualClock
	bus     *events.Manager
	log     *eventLog
	manager *Manager
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}

func (s *ManagerSuite) SetupTest() {
	s.clock = scheduler.NewManualClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	s.bus = events.NewManager(events.Options{Clock: s.clock})
	s.log = &eventLog{}
	_, err := s.bus.On(events.Wildcard, s.log.listener)
	s.Require().NoError(err)

	opts := DefaultOptions()
	opts.Clock = s.clock
	opts.Events = s.bus
	s.manager = NewManager(opts)
}

func (s *ManagerSuite) TearDownTest() {
	s.manager.Cleanup()
	s.bus.Destroy()
}

func (s *ManagerSuite) create(id, source, target string, opts BranchOptions) Branch {
	b, err := s.manager.CreateBranch(id, source, target, TypeCondition, opts)
	s.Require().NoError(err)
	return b
}

func (s *ManagerSuite) TestCreateBranch() {
	b := s.create("b1", "n1", "n2", BranchOptions{Priority: 3, Metadata: map[string]any{"label": "yes"}})

	s.Equal(StateInactive, b.State)
	s.Equal(1.0, b.Weight)
	s.Equal(3, b.Priority)
	s.Equal(s.clock.Now(), b.CreatedAt)
	s.Equal([]string{"b1"}, s.manager.PendingSyncs())

	e, ok := s.log.last(events.EventBranchCreated)
	s.Require().True(ok)
	payload := e.Data.(BranchEvent)
	s.Equal("b1", payload.BranchID)
	s.Equal("n1", payload.Branch.Source)

	got, ok := s.manager.GetBranch("b1")
	s.Require().True(ok)
	s.Equal("yes", got.Metadata["label"])
}

func (s *ManagerSuite) TestCreateBranch_DefaultsType() {
	b, err := s.manager.CreateBranch("b1", "n1", "n2", "", BranchOptions{})
	s.Require().NoError(err)
	s.Equal(TypeCondition, b.Type)
}

func (s *ManagerSuite) TestCreateBranch_Duplicate() {
	s.create("b1", "n1", "n2", BranchOptions{})

	_, err := s.manager.CreateBranch("b1", "n1", "n3", TypeParallel, BranchOptions{})
	var bfe *BranchFlowError
	s.Require().True(stderrors.As(err, &bfe))
	s.Equal(KindDuplicate, bfe.Kind)
	s.ErrorIs(err, errors.ErrConflict)
}

func (s *ManagerSuite) TestCreateBranch_LimitCheckedBeforeDuplicate() {
	opts := DefaultOptions()
	opts.Clock = s.clock
	opts.MaxBranches = 1
	m := NewManager(opts)

	_, err := m.CreateBranch("b1", "n1", "n2", TypeCondition, BranchOptions{})
	s.Require().NoError(err)

	_, err = m.CreateBranch("b1", "n1", "n2", TypeCondition, BranchOptions{})
	s.ErrorIs(err, errors.ErrLimitExceeded)
	s.Contains(err.Error(), "branch limit reached: 1")
}

func (s *ManagerSuite) TestCreateBranch_Validation() {
	tests := []struct {
		name    string
		source  string
		target  string
		opts    BranchOptions
		message string
	}{
		{"missing target", "n1", "", BranchOptions{}, "validation failed (connection)"},
		{"self loop", "n1", "n1", BranchOptions{}, "validation failed (connection)"},
		{"bad condition type", "n1", "n2", BranchOptions{Condition: 42}, "validation failed (condition)"},
		{"bad expression", "n1", "n2", BranchOptions{Condition: "score >"}, "validation failed (condition)"},
		{"weight too high", "n1", "n2", BranchOptions{Weight: Float(101)}, "validation failed (weight)"},
		{"negative weight", "n1", "n2", BranchOptions{Weight: Float(-1)}, "validation failed (weight)"},
		{"NaN weight", "n1", "n2", BranchOptions{Weight: Float(math.NaN())}, "validation failed (weight)"},
	}
	for i, tt := range tests {
		s.Run(tt.name, func() {
			_, err := s.manager.CreateBranch(fmt.Sprintf("v%d", i), tt.source, tt.target, TypeCondition, tt.opts)
			s.Require().Error(err)
			s.ErrorIs(err, errors.ErrValidationFailed)
			s.Contains(err.Error(), tt.message)
		})
	}
	s.Equal(int64(len(tests)), s.manager.Statistics().ValidationErrors)
	s.Empty(s.manager.GetAllBranches())
}

func (s *ManagerSuite) TestCreateBranch_ValidationDisabled() {
	opts := DefaultOptions()
	opts.Clock = s.clock
	opts.EnableValidation = false
	m := NewManager(opts)

	_, err := m.CreateBranch("b1", "n1", "n1", TypeLoop, BranchOptions{})
	s.NoError(err)
}

func (s *ManagerSuite) TestCustomValidators() {
	s.manager.AddValidator("priority", func(b *Branch) error {
		if b.Priority < 0 {
			return fmt.Errorf("priority must not be negative")
		}
		return nil
	})

	_, err := s.manager.CreateBranch("b1", "n1", "n2", TypeCondition, BranchOptions{Priority: -1})
	s.Require().Error(err)
	s.Contains(err.Error(), "validation failed (priority): priority must not be negative")

	s.True(s.manager.RemoveValidator("priority"))
	s.False(s.manager.RemoveValidator("priority"))
	s.create("b1", "n1", "n2", BranchOptions{Priority: -1})

	s.True(s.manager.RemoveValidator("connection"))
	s.create("b2", "n3", "n3", BranchOptions{})

	s.manager.Cleanup()
	_, err = s.manager.CreateBranch("b3", "n3", "n3", TypeCondition, BranchOptions{})
	s.ErrorIs(err, errors.ErrValidationFailed)
}

func (s *ManagerSuite) TestUpdateBranch() {
	s.create("b1", "n1", "n2", BranchOptions{})
	s.manager.SyncNow(context.Background())
	s.Empty(s.manager.PendingSyncs())

	newTarget := "n3"
	typ := TypeExclusive
	prio := 7
	s.clock.Advance(time.Second)

	b, err := s.manager.UpdateBranch("b1", Update{
		TargetNodeID: &newTarget,
		Type:         &typ,
		Weight:       Float(50),
		Priority:     &prio,
	})
	s.Require().NoError(err)
	s.Equal("n3", b.TargetNodeID)
	s.Equal(TypeExclusive, b.Type)
	s.Equal(50.0, b.Weight)
	s.Equal(7, b.Priority)
	s.True(b.UpdatedAt.After(b.CreatedAt))
	s.Equal([]string{"b1"}, s.manager.PendingSyncs())

	s.Empty(s.manager.GetNodeBranches("n2", DirectionAll))
	s.Len(s.manager.GetNodeBranches("n3", DirectionIncoming), 1)

	_, ok := s.log.last(events.EventBranchUpdated)
	s.True(ok)
}

func (s *ManagerSuite) TestUpdateBranch_RejectedLeavesBranchUnchanged() {
	s.create("b1", "n1", "n2", BranchOptions{Weight: Float(10)})

	_, err := s.manager.UpdateBranch("b1", Update{Weight: Float(500)})
	s.ErrorIs(err, errors.ErrValidationFailed)

	b, _ := s.manager.GetBranch("b1")
	s.Equal(10.0, b.Weight)
}

func (s *ManagerSuite) TestUpdateBranch_Condition() {
	s.create("b1", "n1", "n2", BranchOptions{Condition: false})

	ok, err := s.manager.ActivateBranch("b1", nil)
	s.Require().NoError(err)
	s.False(ok)

	_, err = s.manager.UpdateBranch("b1", Update{ClearCondition: true})
	s.Require().NoError(err)

	ok, err = s.manager.ActivateBranch("b1", nil)
	s.Require().NoError(err)
	s.True(ok)
}

func (s *ManagerSuite) TestUpdateBranch_NotFound() {
	_, err := s.manager.UpdateBranch("missing", Update{})
	s.ErrorIs(err, errors.ErrNotFound)
}

func (s *ManagerSuite) TestDeleteBranch() {
	s.create("b1", "n1", "n2", BranchOptions{})

	s.True(s.manager.DeleteBranch("b1"))
	s.False(s.manager.DeleteBranch("b1"))

	_, ok := s.manager.GetBranch("b1")
	s.False(ok)
	s.Empty(s.manager.GetNodeBranches("n1", DirectionAll))
	s.Empty(s.manager.PendingSyncs())

	stats := s.manager.Statistics()
	s.Equal(int64(1), stats.Created)
	s.Equal(int64(1), stats.Deleted)

	_, ok = s.log.last(events.EventBranchDeleted)
	s.True(ok)
}

func (s *ManagerSuite) TestActivateBranch() {
	s.create("b1", "n1", "n2", BranchOptions{Condition: "score > 50"})
	s.log.reset()

	ok, err := s.manager.ActivateBranch("b1", map[string]any{"score": 10})
	s.Require().NoError(err)
	s.False(ok)
	s.Empty(s.log.names())

	ok, err = s.manager.ActivateBranch("b1", map[string]any{"score": 80})
	s.Require().NoError(err)
	s.True(ok)

	b, _ := s.manager.GetBranch("b1")
	s.Equal(StateActive, b.State)
	s.Equal(1, b.ActivationCount)
	s.Require().Len(b.StateHistory, 1)
	s.Equal(StateInactive, b.StateHistory[0].From)

	s.Equal([]string{events.EventBranchStateChanged, events.EventBranchActivated}, s.log.names())
	e, _ := s.log.last(events.EventBranchActivated)
	s.Equal(80, e.Data.(BranchEvent).Context["score"])

	state, _ := s.manager.FlowTracker().State("n1")
	s.Equal(FlowFlowing, state)
	state, _ = s.manager.FlowTracker().State("n2")
	s.Equal(FlowReceiving, state)

	s.Len(s.manager.GetActiveBranches(), 1)
}

func (s *ManagerSuite) TestActivateBranch_ConditionForms() {
	tests := []struct {
		name string
		cond any
		want bool
	}{
		{"none", nil, true},
		{"bool", true, true},
		{"func", func(ctx map[string]any) bool { return ctx["vip"] == true }, true},
		{"func with error", func(map[string]any) (bool, error) { return false, nil }, false},
		{"expression", `channel == "sms"`, true},
		{"rule", ruleSet("channel", "eq", "sms"), true},
		{"rule miss", ruleSet("channel", "eq", "email"), false},
	}
	actx := map[string]any{"vip": true, "channel": "sms"}
	for i, tt := range tests {
		s.Run(tt.name, func() {
			id := fmt.Sprintf("c%d", i)
			s.create(id, "n1", fmt.Sprintf("t%d", i), BranchOptions{Condition: tt.cond})
			ok, err := s.manager.ActivateBranch(id, actx)
			s.Require().NoError(err)
			s.Equal(tt.want, ok)
		})
	}
}

func (s *ManagerSuite) TestActivateBranch_ConditionErrorMovesToError() {
	s.create("b1", "n1", "n2", BranchOptions{Condition: func(map[string]any) (bool, error) {
		return false, fmt.Errorf("lookup failed")
	}})
	s.create("b2", "n1", "n3", BranchOptions{Condition: func(map[string]any) bool {
		panic("boom")
	}})

	for _, id := range []string{"b1", "b2"} {
		ok, err := s.manager.ActivateBranch(id, nil)
		s.NoError(err)
		s.False(ok)

		b, _ := s.manager.GetBranch(id)
		s.Equal(StateError, b.State)
		s.Equal(1, b.ErrorCount)
		s.NotEmpty(b.LastError)
	}

	ok, err := s.manager.ActivateBranch("b1", nil)
	s.NoError(err)
	s.False(ok, "a branch in error is not activated")

	s.Require().NoError(s.manager.SetState("b1", StateInactive, "reset"))
	b, _ := s.manager.GetBranch("b1")
	s.Equal(StateInactive, b.State)
}

func (s *ManagerSuite) TestActivateBranch_Suspended() {
	s.create("b1", "n1", "n2", BranchOptions{})
	s.Require().NoError(s.manager.SetState("b1", StateSuspended, "paused by operator"))

	ok, err := s.manager.ActivateBranch("b1", nil)
	s.NoError(err)
	s.False(ok)
}

func (s *ManagerSuite) TestActivateBranch_NotFound() {
	_, err := s.manager.ActivateBranch("missing", nil)
	s.ErrorIs(err, errors.ErrNotFound)
	s.ErrorIs(s.manager.DeactivateBranch("missing", ""), errors.ErrNotFound)
	s.ErrorIs(s.manager.SetState("missing", StateActive, ""), errors.ErrNotFound)
}

func (s *ManagerSuite) TestSetState_Unknown() {
	s.create("b1", "n1", "n2", BranchOptions{})
	s.ErrorIs(s.manager.SetState("b1", State("paused"), ""), errors.ErrInvalidArgument)
}

func (s *ManagerSuite) TestDeactivateBranch() {
	s.create("b1", "n1", "n2", BranchOptions{})
	_, err := s.manager.ActivateBranch("b1", nil)
	s.Require().NoError(err)

	s.Require().NoError(s.manager.DeactivateBranch("b1", ""))

	b, _ := s.manager.GetBranch("b1")
	s.Equal(StateInactive, b.State)
	s.Len(b.StateHistory, 2)

	e, ok := s.log.last(events.EventBranchDeactivated)
	s.Require().True(ok)
	s.Equal("deactivated", e.Data.(BranchEvent).Reason)

	state, _ := s.manager.FlowTracker().State("n1")
	s.Equal(FlowIdle, state)
	history := s.manager.FlowTracker().History("n2", 0)
	s.Len(history, 2)
}

func (s *ManagerSuite) TestGetNodeBranches() {
	s.create("b1", "n1", "n2", BranchOptions{})
	s.clock.Advance(time.Millisecond)
	s.create("b2", "n2", "n3", BranchOptions{})
	s.clock.Advance(time.Millisecond)
	s.create("b3", "n4", "n2", BranchOptions{})

	ids := func(bs []Branch) []string {
		out := make([]string, 0, len(bs))
		for _, b := range bs {
			out = append(out, b.ID)
		}
		return out
	}

	s.Equal([]string{"b1", "b2", "b3"}, ids(s.manager.GetNodeBranches("n2", DirectionAll)))
	s.Equal([]string{"b1", "b3"}, ids(s.manager.GetNodeBranches("n2", DirectionIncoming)))
	s.Equal([]string{"b2"}, ids(s.manager.GetNodeBranches("n2", DirectionOutgoing)))
	s.Empty(s.manager.GetNodeBranches("unknown", DirectionAll))
	s.Equal([]string{"b1", "b2", "b3"}, ids(s.manager.GetAllBranches()))
}

func (s *ManagerSuite) TestReturnedBranchesAreCopies() {
	s.create("b1", "n1", "n2", BranchOptions{Metadata: map[string]any{"k": "v"}})

	b, _ := s.manager.GetBranch("b1")
	b.Metadata["k"] = "changed"
	b.State = StateActive

	again, _ := s.manager.GetBranch("b1")
	s.Equal("v", again.Metadata["k"])
	s.Equal(StateInactive, again.State)
}

func (s *ManagerSuite) TestSyncNow_DefaultSyncer() {
	s.create("b1", "n1", "n2", BranchOptions{})
	s.create("b2", "n2", "n3", BranchOptions{})

	report, err := s.manager.SyncNow(context.Background())
	s.Require().NoError(err)
	s.Equal([]string{"b1", "b2"}, report.Synced)
	s.Empty(report.Failed)
	s.Empty(s.manager.PendingSyncs())

	conn, ok := s.manager.Connection("b1")
	s.Require().True(ok)
	s.Equal("conn_b1", conn.ID)
	s.Equal(StateInactive, conn.State)

	_, err = s.manager.ActivateBranch("b1", nil)
	s.Require().NoError(err)
	_, err = s.manager.SyncNow(context.Background())
	s.Require().NoError(err)

	conn, _ = s.manager.Connection("b1")
	s.Equal(StateActive, conn.State)

	e, ok := s.log.last(events.EventSyncCompleted)
	s.Require().True(ok)
	s.Equal(1, e.Data.(SyncCompletedEvent).BranchCount)

	stats := s.manager.Statistics()
	s.Equal(int64(2), stats.SyncOperations)
	s.Equal(s.clock.Now(), stats.LastSyncTime)
}

func (s *ManagerSuite) TestSyncNow_CreatesConnectionOnce() {
	syncer := &mockSyncer{}
	opts := DefaultOptions()
	opts.Clock = s.clock
	opts.Syncer = syncer
	m := NewManager(opts)

	ctx := context.Background()
	syncer.On("CreateConnection", ctx, "b1").Return(Connection{ID: "conn_b1"}, nil).Once()
	syncer.On("UpdateConnection", ctx, "conn_b1", "b1").Return(nil).Twice()
	syncer.On("SyncPreviewLine", ctx, "b1", "conn_b1").Return(nil).Twice()

	_, err := m.CreateBranch("b1", "n1", "n2", TypeCondition, BranchOptions{})
	s.Require().NoError(err)
	_, err = m.SyncNow(ctx)
	s.Require().NoError(err)

	_, err = m.UpdateBranch("b1", Update{Weight: Float(3)})
	s.Require().NoError(err)
	_, err = m.SyncNow(ctx)
	s.Require().NoError(err)

	syncer.AssertExpectations(s.T())
}

func (s *ManagerSuite) TestSyncNow_FailureMovesBranchToError() {
	syncer := &mockSyncer{}
	opts := DefaultOptions()
	opts.Clock = s.clock
	opts.Syncer = syncer
	opts.Events = s.bus
	m := NewManager(opts)

	ctx := context.Background()
	syncer.On("CreateConnection", ctx, "good").Return(Connection{ID: "conn_good"}, nil)
	syncer.On("UpdateConnection", ctx, "conn_good", "good").Return(nil)
	syncer.On("SyncPreviewLine", ctx, "good", "conn_good").Return(nil)
	syncer.On("CreateConnection", ctx, "bad").Return(Connection{}, fmt.Errorf("canvas offline"))

	_, err := m.CreateBranch("good", "n1", "n2", TypeCondition, BranchOptions{})
	s.Require().NoError(err)
	_, err = m.CreateBranch("bad", "n2", "n3", TypeCondition, BranchOptions{})
	s.Require().NoError(err)

	report, err := m.SyncNow(ctx)
	s.Require().NoError(err)
	s.Equal([]string{"good"}, report.Synced)
	s.Equal([]string{"bad"}, report.Failed)

	b, _ := m.GetBranch("bad")
	s.Equal(StateError, b.State)
	s.Contains(b.LastError, "canvas offline")
	s.Equal([]string{"bad"}, m.PendingSyncs())

	e, ok := s.log.last(events.EventSyncError)
	s.Require().True(ok)
	payload := e.Data.(SyncErrorEvent)
	s.Equal([]string{"bad"}, payload.BranchIDs)
	_, ok = s.log.last(events.EventSyncCompleted)
	s.True(ok)
}

func (s *ManagerSuite) TestSyncNow_SyncerPanicIsContained() {
	syncer := &mockSyncer{}
	opts := DefaultOptions()
	opts.Clock = s.clock
	opts.Syncer = syncer
	m := NewManager(opts)

	ctx := context.Background()
	syncer.On("CreateConnection", ctx, "b1").Panic("boom")

	_, err := m.CreateBranch("b1", "n1", "n2", TypeCondition, BranchOptions{})
	s.Require().NoError(err)

	report, err := m.SyncNow(ctx)
	s.Require().NoError(err)
	s.Equal([]string{"b1"}, report.Failed)
}

func (s *ManagerSuite) TestSyncNow_CancelledContextRequeues() {
	s.create("b1", "n1", "n2", BranchOptions{})
	s.create("b2", "n2", "n3", BranchOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := s.manager.SyncNow(ctx)
	s.Require().Error(err)
	s.True(errors.IsTransient(err))
	s.Empty(report.Synced)
	s.Equal([]string{"b1", "b2"}, s.manager.PendingSyncs())
}

func (s *ManagerSuite) TestSyncNow_Busy() {
	blocker := &blockingSyncer{release: make(chan struct{}), entered: make(chan struct{})}
	opts := DefaultOptions()
	opts.Syncer = blocker
	m := NewManager(opts)

	_, err := m.CreateBranch("b1", "n1", "n2", TypeCondition, BranchOptions{})
	s.Require().NoError(err)

	done := make(chan error, 1)
	go func() {
		_, err := m.SyncNow(context.Background())
		done <- err
	}()
	<-blocker.entered

	_, err = m.SyncNow(context.Background())
	s.ErrorIs(err, errors.ErrBusy)

	close(blocker.release)
	s.NoError(<-done)
}

type blockingSyncer struct {
	ConnectionSyncer
	entered chan struct{}
	release chan struct{}
}

func (b *blockingSyncer) CreateConnection(ctx context.Context, br Branch) (Connection, error) {
	close(b.entered)
	<-b.release
	return b.ConnectionSyncer.CreateConnection(ctx, br)
}

func (s *ManagerSuite) TestSyncAll() {
	s.create("b1", "n1", "n2", BranchOptions{})
	_, err := s.manager.SyncNow(context.Background())
	s.Require().NoError(err)

	report, err := s.manager.SyncAll(context.Background())
	s.Require().NoError(err)
	s.Equal([]string{"b1"}, report.Synced)
}

func (s *ManagerSuite) TestAutoSync() {
	opts := DefaultOptions()
	opts.Clock = s.clock
	opts.SyncInterval = 5 * time.Second
	opts.EnableAutoSync = true
	m := NewManager(opts)
	defer m.Cleanup()

	s.True(m.AutoSyncRunning())

	_, err := m.CreateBranch("b1", "n1", "n2", TypeCondition, BranchOptions{})
	s.Require().NoError(err)

	s.clock.Advance(4 * time.Second)
	s.Equal([]string{"b1"}, m.PendingSyncs())

	s.clock.Advance(time.Second)
	s.Empty(m.PendingSyncs())
	s.Equal(int64(1), m.Statistics().SyncOperations)

	s.clock.Advance(5 * time.Second)
	s.Equal(int64(1), m.Statistics().SyncOperations, "idle ticks skip the sync")

	m.StopAutoSync()
	s.False(m.AutoSyncRunning())
}

func (s *ManagerSuite) TestAutoSync_StopsWithContext() {
	ctx, cancel := context.WithCancel(context.Background())
	s.Require().NoError(s.manager.StartAutoSync(ctx))
	s.Require().NoError(s.manager.StartAutoSync(ctx))
	s.True(s.manager.AutoSyncRunning())

	cancel()
	s.clock.Advance(DefaultSyncInterval)
	s.False(s.manager.AutoSyncRunning())
}

func (s *ManagerSuite) TestStatistics() {
	s.create("b1", "n1", "n2", BranchOptions{})
	b2, err := s.manager.CreateBranch("b2", "n2", "n3", TypeParallel, BranchOptions{})
	s.Require().NoError(err)
	_, err = s.manager.ActivateBranch(b2.ID, nil)
	s.Require().NoError(err)

	stats := s.manager.Statistics()
	s.Equal(2, stats.TotalBranches)
	s.Equal(1, stats.ActiveBranches)
	s.Equal(1, stats.ByState[StateInactive])
	s.Equal(1, stats.ByType[TypeParallel])
	s.Equal(2, stats.PendingSyncs)
	s.Equal(2, stats.FlowTracker.TrackedNodes)
	s.Equal(2, stats.FlowTracker.TotalStateChanges)
}

func (s *ManagerSuite) TestCleanup() {
	s.create("b1", "n1", "n2", BranchOptions{})
	_, err := s.manager.ActivateBranch("b1", nil)
	s.Require().NoError(err)

	s.manager.Cleanup()

	s.Empty(s.manager.GetAllBranches())
	s.Empty(s.manager.PendingSyncs())
	s.Equal(0, s.manager.FlowTracker().Summary().TrackedNodes)
}

func (s *ManagerSuite) TestListenersMayCallBack() {
	var seen []int
	_, err := s.bus.On(events.EventBranchCreated, func(events.Event) error {
		seen = append(seen, len(s.manager.GetAllBranches()))
		return nil
	})
	s.Require().NoError(err)

	s.create("b1", "n1", "n2", BranchOptions{})
	s.Equal([]int{1}, seen)
}

func TestBranchFlowError(t *testing.T) {
	err := notFound("b9")
	assert.Equal(t, "branch b9: branch does not exist", err.Error())
	assert.ErrorIs(t, err, errors.ErrNotFound)

	wrapped := &BranchFlowError{Kind: KindDuplicate, Message: "x", Err: errors.ErrBusy}
	assert.ErrorIs(t, wrapped, errors.ErrBusy)
	assert.Equal(t, "x", wrapped.Error())
}

func TestNewManager_Defaults(t *testing.T) {
	m := NewManager(Options{})
	require.NotNil(t, m.FlowTracker())
	assert.Equal(t, DefaultMaxBranches, m.maxBranches)
	assert.Equal(t, DefaultSyncInterval, m.syncInterval)
	assert.IsType(t, ConnectionSyncer{}, m.syncer)
	assert.False(t, m.AutoSyncRunning())
}

func (s *ManagerSuite) TestConfigure() {
	s.manager.Configure(1, false, time.Minute)
	s.create("b1", "n1", "n2", BranchOptions{})

	_, err := s.manager.CreateBranch("b2", "n2", "n3", TypeCondition, BranchOptions{})
	var bfe *BranchFlowError
	s.Require().ErrorAs(err, &bfe)
	s.Equal(KindOverLimit, bfe.Kind)

	s.manager.Configure(0, false, 0)
	_, err = s.manager.CreateBranch("loop", "n4", "n4", TypeCondition, BranchOptions{})
	s.NoError(err, "validation is off")
	s.Equal(DefaultSyncInterval, s.manager.syncInterval)
}
