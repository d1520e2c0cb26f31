package branchflow

import (
	"context"
	"fmt"
	"time"

	"github.com/c360/flowcanvas/model"
	"github.com/c360/flowcanvas/scheduler"
)

// Connection is the visual-layer record a branch is synced to
type Connection struct {
	ID           string    `json:"id"`
	SourceNodeID string    `json:"sourceNodeId"`
	TargetNodeID string    `json:"targetNodeId"`
	Type         Type      `json:"type"`
	State        State     `json:"state"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// ConnectionID is the connection id used for a branch
func ConnectionID(branchID string) string {
	return "conn_" + branchID
}

// Syncer pushes branches to the visual layer. Each sync cycle calls
// CreateConnection once per branch lifetime, then UpdateConnection and
// SyncPreviewLine.
type Syncer interface {
	CreateConnection(ctx context.Context, b Branch) (Connection, error)
	UpdateConnection(ctx context.Context, conn *Connection, b Branch) error
	SyncPreviewLine(ctx context.Context, b Branch, conn Connection) error
}

// ConnectionRemover is implemented by syncers that tear down the visual
// record when a branch is deleted.
type ConnectionRemover interface {
	RemoveConnection(ctx context.Context, conn Connection) error
}

// ConnectionSyncer keeps connection records only. It is the default Syncer.
type ConnectionSyncer struct {
	Clock scheduler.Clock
}

// CreateConnection builds the record for b
func (s ConnectionSyncer) CreateConnection(_ context.Context, b Branch) (Connection, error) {
	now := scheduler.OrReal(s.Clock).Now()
	return Connection{
		ID:           ConnectionID(b.ID),
		SourceNodeID: b.SourceNodeID,
		TargetNodeID: b.TargetNodeID,
		Type:         b.Type,
		State:        b.State,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// UpdateConnection copies the branch state onto conn
func (s ConnectionSyncer) UpdateConnection(_ context.Context, conn *Connection, b Branch) error {
	conn.State = b.State
	conn.SourceNodeID = b.SourceNodeID
	conn.TargetNodeID = b.TargetNodeID
	conn.UpdatedAt = scheduler.OrReal(s.Clock).Now()
	return nil
}

// SyncPreviewLine does nothing
func (ConnectionSyncer) SyncPreviewLine(context.Context, Branch, Connection) error {
	return nil
}

// EdgeGraph is the part of a graph engine GraphSyncer writes to
type EdgeGraph interface {
	HasNode(id string) bool
	HasEdge(id string) bool
	AddEdge(e model.Edge) error
	UpdateEdgeData(id string, data map[string]any) error
	RemoveEdge(id string) error
}

// GraphSyncer materializes each branch as an edge in a graph engine. The
// edge id is the connection id; its data carries branch type, state and
// weight.
type GraphSyncer struct {
	ConnectionSyncer
	Graph EdgeGraph
}

// CreateConnection adds the branch edge, failing when an endpoint is missing
func (s GraphSyncer) CreateConnection(ctx context.Context, b Branch) (Connection, error) {
	for _, id := range []string{b.SourceNodeID, b.TargetNodeID} {
		if !s.Graph.HasNode(id) {
			return Connection{}, fmt.Errorf("node %s not in graph", id)
		}
	}

	conn, _ := s.ConnectionSyncer.CreateConnection(ctx, b)
	if s.Graph.HasEdge(conn.ID) {
		return conn, nil
	}
	err := s.Graph.AddEdge(model.Edge{
		ID:           conn.ID,
		SourceNodeID: b.SourceNodeID,
		TargetNodeID: b.TargetNodeID,
		BranchID:     b.ID,
		Data:         edgeData(b),
	})
	if err != nil {
		return Connection{}, fmt.Errorf("add edge %s: %w", conn.ID, err)
	}
	return conn, nil
}

// UpdateConnection refreshes the edge data
func (s GraphSyncer) UpdateConnection(ctx context.Context, conn *Connection, b Branch) error {
	if err := s.ConnectionSyncer.UpdateConnection(ctx, conn, b); err != nil {
		return err
	}
	return s.Graph.UpdateEdgeData(conn.ID, edgeData(b))
}

// SyncPreviewLine verifies the edge still exists
func (s GraphSyncer) SyncPreviewLine(_ context.Context, _ Branch, conn Connection) error {
	if !s.Graph.HasEdge(conn.ID) {
		return fmt.Errorf("edge %s missing from graph", conn.ID)
	}
	return nil
}

// RemoveConnection deletes the branch edge if present
func (s GraphSyncer) RemoveConnection(_ context.Context, conn Connection) error {
	if !s.Graph.HasEdge(conn.ID) {
		return nil
	}
	return s.Graph.RemoveEdge(conn.ID)
}

func edgeData(b Branch) map[string]any {
	return map[string]any{
		model.SyncedEdgeKey: true,
		"branchType":        string(b.Type),
		"branchState":       string(b.State),
		"weight":            b.Weight,
	}
}

// SyncReport summarizes one sync cycle
type SyncReport struct {
	Synced   []string      `json:"synced"`
	Failed   []string      `json:"failed"`
	Duration time.Duration `json:"duration"`
}
