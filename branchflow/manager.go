package branchflow

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/flowcanvas/errors"
	"github.com/c360/flowcanvas/events"
	"github.com/c360/flowcanvas/metric"
	"github.com/c360/flowcanvas/scheduler"
)

const (
	DefaultMaxBranches  = 1000
	DefaultSyncInterval = 10 * time.Second
)

// Options configures a Manager
type Options struct {
	EnableValidation bool
	// EnableAutoSync starts the periodic sync in NewManager
	EnableAutoSync bool
	SyncInterval   time.Duration
	MaxBranches    int

	Clock   scheduler.Clock
	Syncer  Syncer
	Logger  *slog.Logger
	Events  *events.Manager
	Metrics *metric.Metrics
}

// DefaultOptions returns validation on, auto sync off, a 10s interval and
// room for 1000 branches.
func DefaultOptions() Options {
	return Options{
		EnableValidation: true,
		SyncInterval:     DefaultSyncInterval,
		MaxBranches:      DefaultMaxBranches,
	}
}

// Statistics is a point-in-time view of the manager
type Statistics struct {
	TotalBranches    int            `json:"totalBranches"`
	ActiveBranches   int            `json:"activeBranches"`
	Created          int64          `json:"created"`
	Deleted          int64          `json:"deleted"`
	ValidationErrors int64          `json:"validationErrors"`
	SyncOperations   int64          `json:"syncOperations"`
	LastSyncDuration time.Duration  `json:"lastSyncDuration"`
	LastSyncTime     time.Time      `json:"lastSyncTime"`
	PendingSyncs     int            `json:"pendingSyncs"`
	ByState          map[State]int  `json:"branchStates"`
	ByType           map[Type]int   `json:"branchTypes"`
	FlowTracker      TrackerSummary `json:"flowTracker"`
}

type note struct {
	name string
	data any
}

// Manager owns branch entities, their state machine and the best-effort
// sync of branches to the visual layer.
type Manager struct {
	enableValidation bool
	syncInterval     time.Duration
	maxBranches      int

	clock   scheduler.Clock
	syncer  Syncer
	logger  *slog.Logger
	events  *events.Manager
	metrics *metric.Metrics
	tracker *FlowTracker

	mu           sync.Mutex
	branches     map[string]*Branch
	nodeBranches map[string]map[string]struct{}
	connections  map[string]*Connection
	pending      map[string]struct{}
	validators   []namedValidator
	periodic     *scheduler.Periodic

	created          int64
	deleted          int64
	validationErrors int64
	syncOperations   int64
	lastSyncDuration time.Duration
	lastSyncTime     time.Time

	syncing atomic.Bool
}

// NewManager creates a branch manager
func NewManager(opts Options) *Manager {
	if opts.SyncInterval <= 0 {
		opts.SyncInterval = DefaultSyncInterval
	}
	if opts.MaxBranches <= 0 {
		opts.MaxBranches = DefaultMaxBranches
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	clock := scheduler.OrReal(opts.Clock)
	if opts.Syncer == nil {
		opts.Syncer = ConnectionSyncer{Clock: clock}
	}
	logger := opts.Logger.With("component", "branchflow")

	m := &Manager{
		enableValidation: opts.EnableValidation,
		syncInterval:     opts.SyncInterval,
		maxBranches:      opts.MaxBranches,
		clock:            clock,
		syncer:           opts.Syncer,
		logger:           logger,
		events:           opts.Events,
		metrics:          opts.Metrics,
		tracker:          NewFlowTracker(clock, logger),
		branches:         make(map[string]*Branch),
		nodeBranches:     make(map[string]map[string]struct{}),
		connections:      make(map[string]*Connection),
		pending:          make(map[string]struct{}),
		validators:       defaultValidators(),
	}

	if opts.EnableAutoSync {
		if err := m.StartAutoSync(context.Background()); err != nil {
			logger.Warn("auto sync not started", "error", err)
		}
	}
	return m
}

// FlowTracker returns the per-node flow state tracker
func (m *Manager) FlowTracker() *FlowTracker {
	return m.tracker
}

func (m *Manager) flush(notes []note) {
	if m.events != nil {
		for _, n := range notes {
			m.events.Emit(n.name, n.data)
		}
	}
	if m.metrics != nil {
		m.mu.Lock()
		counts := make(map[string]int)
		for _, b := range m.branches {
			counts[string(b.State)]++
		}
		m.mu.Unlock()
		m.metrics.RecordBranchStates(counts)
	}
}

func (m *Manager) result(op string, err error) {
	if err == nil {
		m.metrics.RecordBranchOperation(op, "ok")
		return
	}
	var bfe *BranchFlowError
	if stderrors.As(err, &bfe) {
		m.metrics.RecordBranchOperation(op, string(bfe.Kind))
		return
	}
	m.metrics.RecordBranchOperation(op, "error")
}

// validateLocked runs the validators in registration order
func (m *Manager) validateLocked(b *Branch) error {
	if !m.enableValidation {
		return nil
	}
	for _, v := range m.validators {
		if err := v.fn(b); err != nil {
			m.validationErrors++
			return &BranchFlowError{
				Kind:     KindValidationFailed,
				BranchID: b.ID,
				Message:  fmt.Sprintf("validation failed (%s): %v", v.name, err),
			}
		}
	}
	return nil
}

func (m *Manager) indexLocked(nodeID, branchID string) {
	set, ok := m.nodeBranches[nodeID]
	if !ok {
		set = make(map[string]struct{})
		m.nodeBranches[nodeID] = set
	}
	set[branchID] = struct{}{}
}

func (m *Manager) unindexLocked(nodeID, branchID string) {
	set, ok := m.nodeBranches[nodeID]
	if !ok {
		return
	}
	delete(set, branchID)
	if len(set) == 0 {
		delete(m.nodeBranches, nodeID)
	}
}

// CreateBranch stores a new inactive branch and marks it pending sync. The
// capacity check runs before the duplicate check.
func (m *Manager) CreateBranch(id, sourceNodeID, targetNodeID string, typ Type, opts BranchOptions) (Branch, error) {
	b, err := m.createBranch(id, sourceNodeID, targetNodeID, typ, opts)
	m.result("create", err)
	return b, err
}

func (m *Manager) createBranch(id, sourceNodeID, targetNodeID string, typ Type, opts BranchOptions) (Branch, error) {
	if id == "" {
		return Branch{}, &BranchFlowError{Kind: KindValidationFailed, Message: "branch id is required"}
	}
	if typ == "" {
		typ = TypeCondition
	}
	now := m.clock.Now()

	m.mu.Lock()
	if len(m.branches) >= m.maxBranches {
		m.mu.Unlock()
		return Branch{}, &BranchFlowError{
			Kind:     KindOverLimit,
			BranchID: id,
			Message:  fmt.Sprintf("branch limit reached: %d", m.maxBranches),
		}
	}
	if _, exists := m.branches[id]; exists {
		m.mu.Unlock()
		return Branch{}, &BranchFlowError{Kind: KindDuplicate, BranchID: id, Message: "branch already exists"}
	}

	b := &Branch{
		ID:           id,
		SourceNodeID: sourceNodeID,
		TargetNodeID: targetNodeID,
		Type:         typ,
		State:        StateInactive,
		Condition:    conditionOrUnsupported(opts.Condition),
		Weight:       1,
		Priority:     opts.Priority,
		Metadata:     maps.Clone(opts.Metadata),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if opts.Weight != nil {
		b.Weight = *opts.Weight
	}

	if err := m.validateLocked(b); err != nil {
		m.mu.Unlock()
		return Branch{}, err
	}

	m.branches[id] = b
	m.indexLocked(sourceNodeID, id)
	m.indexLocked(targetNodeID, id)
	m.pending[id] = struct{}{}
	m.created++

	out := b.Clone()
	m.mu.Unlock()

	m.logger.Debug("branch created", "branch_id", id, "source", sourceNodeID, "target", targetNodeID, "type", typ)
	m.flush([]note{{events.EventBranchCreated, BranchEvent{BranchID: id, Branch: out.Summary(now)}}})
	return out, nil
}

// UpdateBranch applies u, re-validates and marks the branch pending sync. A
// rejected update leaves the branch unchanged.
func (m *Manager) UpdateBranch(id string, u Update) (Branch, error) {
	b, err := m.updateBranch(id, u)
	m.result("update", err)
	return b, err
}

func (m *Manager) updateBranch(id string, u Update) (Branch, error) {
	now := m.clock.Now()

	m.mu.Lock()
	b, ok := m.branches[id]
	if !ok {
		m.mu.Unlock()
		return Branch{}, notFound(id)
	}

	draft := b.Clone()
	if u.SourceNodeID != nil {
		draft.SourceNodeID = *u.SourceNodeID
	}
	if u.TargetNodeID != nil {
		draft.TargetNodeID = *u.TargetNodeID
	}
	if u.Type != nil {
		draft.Type = *u.Type
	}
	if u.ClearCondition {
		draft.Condition = nil
	} else if u.Condition != nil {
		draft.Condition = conditionOrUnsupported(u.Condition)
	}
	if u.Weight != nil {
		draft.Weight = *u.Weight
	}
	if u.Priority != nil {
		draft.Priority = *u.Priority
	}
	if u.Metadata != nil {
		draft.Metadata = maps.Clone(u.Metadata)
	}
	draft.UpdatedAt = now

	if err := m.validateLocked(&draft); err != nil {
		m.mu.Unlock()
		return Branch{}, err
	}

	if draft.SourceNodeID != b.SourceNodeID || draft.TargetNodeID != b.TargetNodeID {
		m.unindexLocked(b.SourceNodeID, id)
		m.unindexLocked(b.TargetNodeID, id)
		m.indexLocked(draft.SourceNodeID, id)
		m.indexLocked(draft.TargetNodeID, id)
	}
	*b = draft
	m.pending[id] = struct{}{}

	out := b.Clone()
	m.mu.Unlock()

	m.flush([]note{{events.EventBranchUpdated, BranchEvent{BranchID: id, Branch: out.Summary(now)}}})
	return out, nil
}

// DeleteBranch removes a branch and its index entries. It reports false
// when the branch does not exist.
func (m *Manager) DeleteBranch(id string) bool {
	now := m.clock.Now()

	m.mu.Lock()
	b, ok := m.branches[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	m.unindexLocked(b.SourceNodeID, id)
	m.unindexLocked(b.TargetNodeID, id)
	conn := m.connections[id]
	delete(m.connections, id)
	delete(m.branches, id)
	delete(m.pending, id)
	m.deleted++
	summary := b.Summary(now)
	syncer := m.syncer
	m.mu.Unlock()

	if remover, ok := syncer.(ConnectionRemover); ok && conn != nil {
		if err := remover.RemoveConnection(context.Background(), *conn); err != nil {
			m.logger.Warn("connection removal failed", "branch_id", id, "connection_id", conn.ID, "error", err)
		}
	}

	m.result("delete", nil)
	m.flush([]note{{events.EventBranchDeleted, BranchEvent{BranchID: id, Branch: summary}}})
	return true
}

// ActivateBranch moves a branch to active when its condition allows it. It
// returns false without error when the branch is in error or suspended, or
// the condition is not met. A failing condition moves the branch to error.
func (m *Manager) ActivateBranch(id string, actx map[string]any) (bool, error) {
	m.mu.Lock()
	b, ok := m.branches[id]
	if !ok {
		m.mu.Unlock()
		m.result("activate", notFound(id))
		return false, notFound(id)
	}
	if b.State == StateError || b.State == StateSuspended {
		m.mu.Unlock()
		return false, nil
	}
	cond := b.Condition
	m.mu.Unlock()

	allowed, evalErr := evaluate(cond, actx)
	now := m.clock.Now()

	m.mu.Lock()
	b, ok = m.branches[id]
	if !ok {
		m.mu.Unlock()
		return false, notFound(id)
	}

	var notes []note
	if evalErr != nil {
		change := b.setState(StateError, evalErr.Error(), now)
		notes = append(notes, note{events.EventBranchStateChanged, StateChangedEvent{BranchID: id, StateChange: change}})
		m.mu.Unlock()
		m.logger.Warn("branch condition failed", "branch_id", id, "error", evalErr)
		m.result("activate", nil)
		m.flush(notes)
		return false, nil
	}
	if !allowed || b.State == StateError || b.State == StateSuspended {
		m.mu.Unlock()
		return false, nil
	}

	change := b.setState(StateActive, "activated", now)
	m.pending[id] = struct{}{}
	source, target := b.SourceNodeID, b.TargetNodeID
	summary := b.Summary(now)
	m.mu.Unlock()

	m.tracker.Update(source, FlowFlowing, map[string]any{"branchId": id, "direction": string(DirectionOutgoing)})
	m.tracker.Update(target, FlowReceiving, map[string]any{"branchId": id, "direction": string(DirectionIncoming)})

	m.result("activate", nil)
	m.flush([]note{
		{events.EventBranchStateChanged, StateChangedEvent{BranchID: id, StateChange: change}},
		{events.EventBranchActivated, BranchEvent{BranchID: id, Branch: summary, Context: actx}},
	})
	return true, nil
}

func evaluate(cond Condition, actx map[string]any) (allowed bool, err error) {
	if cond == nil {
		return true, nil
	}
	defer func() {
		if r := recover(); r != nil {
			allowed, err = false, fmt.Errorf("condition panic: %v", r)
		}
	}()
	if actx == nil {
		actx = map[string]any{}
	}
	return cond.Evaluate(actx)
}

// DeactivateBranch returns a branch to inactive and idles both endpoints
func (m *Manager) DeactivateBranch(id, reason string) error {
	if reason == "" {
		reason = "deactivated"
	}
	now := m.clock.Now()

	m.mu.Lock()
	b, ok := m.branches[id]
	if !ok {
		m.mu.Unlock()
		m.result("deactivate", notFound(id))
		return notFound(id)
	}
	change := b.setState(StateInactive, reason, now)
	m.pending[id] = struct{}{}
	source, target := b.SourceNodeID, b.TargetNodeID
	summary := b.Summary(now)
	m.mu.Unlock()

	meta := map[string]any{"branchId": id, "reason": reason}
	m.tracker.Update(source, FlowIdle, meta)
	m.tracker.Update(target, FlowIdle, meta)

	m.result("deactivate", nil)
	m.flush([]note{
		{events.EventBranchStateChanged, StateChangedEvent{BranchID: id, StateChange: change}},
		{events.EventBranchDeactivated, BranchEvent{BranchID: id, Branch: summary, Reason: reason}},
	})
	return nil
}

// SetState forces a transition, for example to suspend a branch or to clear
// an error.
func (m *Manager) SetState(id string, state State, reason string) error {
	switch state {
	case StateInactive, StateActive, StateProcessing, StateError, StateSuspended:
	default:
		return errors.Newf(errors.ErrInvalidArgument, "unknown branch state %q", state)
	}

	m.mu.Lock()
	b, ok := m.branches[id]
	if !ok {
		m.mu.Unlock()
		return notFound(id)
	}
	change := b.setState(state, reason, m.clock.Now())
	m.pending[id] = struct{}{}
	m.mu.Unlock()

	m.flush([]note{{events.EventBranchStateChanged, StateChangedEvent{BranchID: id, StateChange: change}}})
	return nil
}

// GetBranch returns a copy of a branch
func (m *Manager) GetBranch(id string) (Branch, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.branches[id]
	if !ok {
		return Branch{}, false
	}
	return b.Clone(), true
}

// GetAllBranches returns copies of every branch ordered by creation
func (m *Manager) GetAllBranches() []Branch {
	return m.collect(func(*Branch) bool { return true })
}

// GetActiveBranches returns copies of the active branches
func (m *Manager) GetActiveBranches() []Branch {
	return m.collect(func(b *Branch) bool { return b.State == StateActive })
}

func (m *Manager) collect(keep func(*Branch) bool) []Branch {
	m.mu.Lock()
	out := make([]Branch, 0, len(m.branches))
	for _, b := range m.branches {
		if keep(b) {
			out = append(out, b.Clone())
		}
	}
	m.mu.Unlock()

	sortBranches(out)
	return out
}

func sortBranches(bs []Branch) {
	sort.Slice(bs, func(i, j int) bool {
		if !bs[i].CreatedAt.Equal(bs[j].CreatedAt) {
			return bs[i].CreatedAt.Before(bs[j].CreatedAt)
		}
		return bs[i].ID < bs[j].ID
	})
}

// GetNodeBranches returns the branches touching nodeID: those it sources
// (outgoing), those it targets (incoming), or both.
func (m *Manager) GetNodeBranches(nodeID string, dir Direction) []Branch {
	m.mu.Lock()
	var out []Branch
	for id := range m.nodeBranches[nodeID] {
		b, ok := m.branches[id]
		if !ok {
			continue
		}
		switch {
		case dir == DirectionIncoming && b.TargetNodeID == nodeID,
			dir == DirectionOutgoing && b.SourceNodeID == nodeID,
			dir == DirectionAll || dir == "":
			out = append(out, b.Clone())
		}
	}
	m.mu.Unlock()

	sortBranches(out)
	return out
}

// Connection returns the synced connection record of a branch
func (m *Manager) Connection(branchID string) (Connection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.connections[branchID]
	if !ok {
		return Connection{}, false
	}
	return *c, true
}

// AddValidator registers or replaces a named validator
func (m *Manager) AddValidator(name string, v Validator) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.validators {
		if m.validators[i].name == name {
			m.validators[i].fn = v
			return
		}
	}
	m.validators = append(m.validators, namedValidator{name: name, fn: v})
}

// RemoveValidator drops a named validator
func (m *Manager) RemoveValidator(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.validators {
		if m.validators[i].name == name {
			m.validators = slices.Delete(m.validators, i, i+1)
			return true
		}
	}
	return false
}

// PendingSyncs returns the branch ids waiting for the next sync, sorted
func (m *Manager) PendingSyncs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Sorted(maps.Keys(m.pending))
}

// Statistics returns counters and state and type distributions
func (m *Manager) Statistics() Statistics {
	m.mu.Lock()
	s := Statistics{
		TotalBranches:    len(m.branches),
		Created:          m.created,
		Deleted:          m.deleted,
		ValidationErrors: m.validationErrors,
		SyncOperations:   m.syncOperations,
		LastSyncDuration: m.lastSyncDuration,
		LastSyncTime:     m.lastSyncTime,
		PendingSyncs:     len(m.pending),
		ByState:          make(map[State]int),
		ByType:           make(map[Type]int),
	}
	for _, b := range m.branches {
		s.ByState[b.State]++
		s.ByType[b.Type]++
	}
	s.ActiveBranches = s.ByState[StateActive]
	m.mu.Unlock()

	s.FlowTracker = m.tracker.Summary()
	return s
}

// Cleanup stops auto sync and drops every branch, connection and tracked
// node state. Validators return to the defaults.
func (m *Manager) Cleanup() {
	m.StopAutoSync()

	m.mu.Lock()
	clear(m.branches)
	clear(m.nodeBranches)
	clear(m.connections)
	clear(m.pending)
	m.validators = defaultValidators()
	m.mu.Unlock()

	m.tracker.ClearAll()
	m.flush(nil)
}

// SyncNow pushes every pending branch to the syncer. Branches that fail move
// to error and stay pending. Only one sync runs at a time; a concurrent call
// returns ErrBusy. The returned error reports the guard or ctx cancellation,
// never per-branch failures, which are listed in the report.
func (m *Manager) SyncNow(ctx context.Context) (SyncReport, error) {
	if !m.syncing.CompareAndSwap(false, true) {
		return SyncReport{}, errors.Newf(errors.ErrBusy, "branch sync already running")
	}
	defer m.syncing.Store(false)

	start := m.clock.Now()

	m.mu.Lock()
	ids := slices.Sorted(maps.Keys(m.pending))
	clear(m.pending)
	m.mu.Unlock()

	var (
		report SyncReport
		notes  []note
		ctxErr error
	)
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			m.requeue(ids[i:])
			ctxErr = errors.WrapTransient(err, "branchflow", "SyncNow", "sync branches")
			break
		}

		err := m.syncBranch(ctx, id)
		if err == nil {
			report.Synced = append(report.Synced, id)
			continue
		}
		if stderrors.Is(err, errors.ErrNotFound) {
			continue
		}

		report.Failed = append(report.Failed, id)
		m.logger.Warn("branch sync failed", "branch_id", id, "error", err)

		m.mu.Lock()
		if b, ok := m.branches[id]; ok {
			change := b.setState(StateError, err.Error(), m.clock.Now())
			m.pending[id] = struct{}{}
			notes = append(notes, note{events.EventBranchStateChanged, StateChangedEvent{BranchID: id, StateChange: change}})
		}
		m.mu.Unlock()
	}

	report.Duration = m.clock.Now().Sub(start)

	m.mu.Lock()
	m.syncOperations++
	m.lastSyncDuration = report.Duration
	m.lastSyncTime = m.clock.Now()
	m.mu.Unlock()

	m.metrics.RecordSync(report.Duration, len(report.Failed))

	notes = append(notes, note{events.EventSyncCompleted, SyncCompletedEvent{
		BranchCount: len(report.Synced),
		Failed:      len(report.Failed),
		Duration:    report.Duration,
	}})
	if len(report.Failed) > 0 {
		notes = append(notes, note{events.EventSyncError, SyncErrorEvent{
			Error:       fmt.Sprintf("%d branch(es) failed to sync", len(report.Failed)),
			BranchCount: len(report.Failed),
			BranchIDs:   report.Failed,
		}})
	}
	m.flush(notes)

	return report, ctxErr
}

// SyncAll marks every branch pending and syncs
func (m *Manager) SyncAll(ctx context.Context) (SyncReport, error) {
	m.mu.Lock()
	for id := range m.branches {
		m.pending[id] = struct{}{}
	}
	m.mu.Unlock()
	return m.SyncNow(ctx)
}

func (m *Manager) requeue(ids []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if _, ok := m.branches[id]; ok {
			m.pending[id] = struct{}{}
		}
	}
}

func (m *Manager) syncBranch(ctx context.Context, id string) (err error) {
	m.mu.Lock()
	b, ok := m.branches[id]
	if !ok {
		m.mu.Unlock()
		return notFound(id)
	}
	snapshot := b.Clone()
	var conn Connection
	existing, hasConn := m.connections[id]
	if hasConn {
		conn = *existing
	}
	syncer := m.syncer
	m.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("syncer panic: %v", r)
		}
	}()

	if !hasConn {
		conn, err = syncer.CreateConnection(ctx, snapshot)
		if err != nil {
			return fmt.Errorf("create connection: %w", err)
		}
	}
	if err := syncer.UpdateConnection(ctx, &conn, snapshot); err != nil {
		m.storeConnection(id, conn)
		return fmt.Errorf("update connection: %w", err)
	}
	m.storeConnection(id, conn)
	if err := syncer.SyncPreviewLine(ctx, snapshot, conn); err != nil {
		return fmt.Errorf("sync preview line: %w", err)
	}
	return nil
}

func (m *Manager) storeConnection(id string, conn Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.branches[id]; ok {
		c := conn
		m.connections[id] = &c
	}
}

// StartAutoSync syncs pending branches every SyncInterval until ctx is done
// or StopAutoSync is called. Starting twice is a no-op.
func (m *Manager) StartAutoSync(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.periodic != nil && m.periodic.Running() {
		return nil
	}
	var p *scheduler.Periodic
	p = scheduler.NewPeriodic(m.clock, m.syncInterval, func() {
		if ctx.Err() != nil {
			p.Stop()
			return
		}
		if len(m.PendingSyncs()) == 0 {
			return
		}
		if _, err := m.SyncNow(ctx); err != nil {
			m.logger.Debug("auto sync skipped", "error", err)
		}
	})
	if !p.Start() {
		return errors.Newf(errors.ErrInvalidConfig, "sync interval must be positive, got %s", m.syncInterval)
	}
	m.periodic = p
	m.logger.Debug("auto sync started", "interval", m.syncInterval)
	return nil
}

// StopAutoSync stops the periodic sync
func (m *Manager) StopAutoSync() {
	m.mu.Lock()
	p := m.periodic
	m.periodic = nil
	m.mu.Unlock()

	if p != nil {
		p.Stop()
	}
}

// AutoSyncRunning reports whether the periodic sync is scheduled
func (m *Manager) AutoSyncRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.periodic != nil && m.periodic.Running()
}

// Configure replaces the branch limit, the validation switch and the sync
// interval. A running auto sync keeps its old interval until restarted.
func (m *Manager) Configure(maxBranches int, enableValidation bool, syncInterval time.Duration) {
	if maxBranches <= 0 {
		maxBranches = DefaultMaxBranches
	}
	if syncInterval <= 0 {
		syncInterval = DefaultSyncInterval
	}
	m.mu.Lock()
	m.maxBranches = maxBranches
	m.enableValidation = enableValidation
	m.syncInterval = syncInterval
	m.mu.Unlock()
	m.logger.Info("branch settings changed", "max_branches", maxBranches, "validation", enableValidation, "sync_interval", syncInterval)
}

// BindGraph syncs branches as edges of g until the returned func restores
// the record-only syncer. Connections made for an earlier graph are
// dropped and every branch is marked pending, so the next sync cycle
// recreates them in g.
func (m *Manager) BindGraph(g EdgeGraph) func() {
	m.mu.Lock()
	m.syncer = GraphSyncer{ConnectionSyncer: ConnectionSyncer{Clock: m.clock}, Graph: g}
	clear(m.connections)
	for id := range m.branches {
		m.pending[id] = struct{}{}
	}
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		m.syncer = ConnectionSyncer{Clock: m.clock}
		m.mu.Unlock()
	}
}

// Name identifies the manager as a canvas subsystem
func (m *Manager) Name() string {
	return "branchflow"
}

// Dispose stops auto sync and clears all branches
func (m *Manager) Dispose() error {
	m.Cleanup()
	return nil
}
