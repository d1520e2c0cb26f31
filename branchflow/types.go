package branchflow

import (
	"maps"
	"time"
)

// State is the lifecycle state of a branch
type State string

const (
	StateInactive   State = "inactive"
	StateActive     State = "active"
	StateProcessing State = "processing"
	StateError      State = "error"
	StateSuspended  State = "suspended"
)

// Type describes how a branch splits flow
type Type string

const (
	TypeCondition Type = "condition"
	TypeParallel  Type = "parallel"
	TypeExclusive Type = "exclusive"
	TypeInclusive Type = "inclusive"
	TypeLoop      Type = "loop"
)

// Direction filters GetNodeBranches
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
	DirectionAll      Direction = "all"
)

// StateChange is one recorded state transition
type StateChange struct {
	From   State     `json:"from"`
	To     State     `json:"to"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

const maxStateHistory = 100

// Branch is a directed, stateful link between two nodes
type Branch struct {
	ID              string         `json:"id"`
	SourceNodeID    string         `json:"sourceNodeId"`
	TargetNodeID    string         `json:"targetNodeId"`
	Type            Type           `json:"type"`
	State           State          `json:"state"`
	Condition       Condition      `json:"-"`
	Weight          float64        `json:"weight"`
	Priority        int            `json:"priority"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
	ActivationCount int            `json:"activationCount"`
	ErrorCount      int            `json:"errorCount"`
	LastError       string         `json:"lastError,omitempty"`
	StateHistory    []StateChange  `json:"stateHistory,omitempty"`
}

// Clone returns a copy that shares no mutable state with b
func (b *Branch) Clone() Branch {
	c := *b
	c.Metadata = maps.Clone(b.Metadata)
	c.StateHistory = append([]StateChange(nil), b.StateHistory...)
	return c
}

// setState records a transition. Entering active counts an activation;
// entering error counts an error and keeps the reason.
func (b *Branch) setState(to State, reason string, at time.Time) StateChange {
	change := StateChange{From: b.State, To: to, Reason: reason, At: at}
	b.State = to
	b.UpdatedAt = at

	switch to {
	case StateActive:
		b.ActivationCount++
	case StateError:
		b.ErrorCount++
		b.LastError = reason
	}

	b.StateHistory = append(b.StateHistory, change)
	if len(b.StateHistory) > maxStateHistory {
		b.StateHistory = b.StateHistory[len(b.StateHistory)-maxStateHistory:]
	}
	return change
}

// Summary is the compact view carried in branch events
type Summary struct {
	ID              string        `json:"id"`
	Source          string        `json:"source"`
	Target          string        `json:"target"`
	Type            Type          `json:"type"`
	State           State         `json:"state"`
	Weight          float64       `json:"weight"`
	Priority        int           `json:"priority"`
	ActivationCount int           `json:"activationCount"`
	ErrorCount      int           `json:"errorCount"`
	Uptime          time.Duration `json:"uptime"`
}

// Summary returns the compact view of b as of now
func (b *Branch) Summary(now time.Time) Summary {
	return Summary{
		ID:              b.ID,
		Source:          b.SourceNodeID,
		Target:          b.TargetNodeID,
		Type:            b.Type,
		State:           b.State,
		Weight:          b.Weight,
		Priority:        b.Priority,
		ActivationCount: b.ActivationCount,
		ErrorCount:      b.ErrorCount,
		Uptime:          now.Sub(b.CreatedAt),
	}
}

// BranchOptions are optional fields for CreateBranch
type BranchOptions struct {
	// Condition is a func, expr string, bool, rules.Set
	// or Condition. nil means always activatable.
	Condition any
	// Weight defaults to 1 when nil
	Weight   *float64
	Priority int
	Metadata map[string]any
}

// Update holds the fields UpdateBranch changes; nil fields are left alone
type Update struct {
	SourceNodeID   *string
	TargetNodeID   *string
	Type           *Type
	Condition      any
	ClearCondition bool
	Weight         *float64
	Priority       *int
	Metadata       map[string]any
}

// Float returns a pointer to v, for BranchOptions.Weight and Update.Weight
func Float(v float64) *float64 {
	return &v
}

// Events payloads

// BranchEvent is carried by branchCreated, branchUpdated, branchDeleted,
// branchActivated and branchDeactivated.
type BranchEvent struct {
	BranchID string         `json:"branchId"`
	Branch   Summary        `json:"branch"`
	Reason   string         `json:"reason,omitempty"`
	Context  map[string]any `json:"context,omitempty"`
}

// StateChangedEvent is carried by branchStateChanged
type StateChangedEvent struct {
	BranchID string `json:"branchId"`
	StateChange
}

// SyncCompletedEvent is carried by syncCompleted
type SyncCompletedEvent struct {
	BranchCount int           `json:"branchCount"`
	Failed      int           `json:"failed"`
	Duration    time.Duration `json:"duration"`
}

// SyncErrorEvent is carried by syncError
type SyncErrorEvent struct {
	Error       string   `json:"error"`
	BranchCount int      `json:"branchCount"`
	BranchIDs   []string `json:"branchIds"`
}
