package branchflow

import (
	"context"
	"fmt"
	"maps"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/flowcanvas/model"
)

type fakeEdgeGraph struct {
	nodes map[string]bool
	edges map[string]model.Edge
}

func newFakeEdgeGraph(nodes ...string) *fakeEdgeGraph {
	g := &fakeEdgeGraph{nodes: make(map[string]bool), edges: make(map[string]model.Edge)}
	for _, n := range nodes {
		g.nodes[n] = true
	}
	return g
}

func (g *fakeEdgeGraph) HasNode(id string) bool { return g.nodes[id] }

func (g *fakeEdgeGraph) HasEdge(id string) bool {
	_, ok := g.edges[id]
	return ok
}

func (g *fakeEdgeGraph) AddEdge(e model.Edge) error {
	if _, ok := g.edges[e.ID]; ok {
		return fmt.Errorf("edge %s exists", e.ID)
	}
	g.edges[e.ID] = e
	return nil
}

func (g *fakeEdgeGraph) UpdateEdgeData(id string, data map[string]any) error {
	e, ok := g.edges[id]
	if !ok {
		return fmt.Errorf("edge %s not found", id)
	}
	e.Data = maps.Clone(data)
	g.edges[id] = e
	return nil
}

func (g *fakeEdgeGraph) RemoveEdge(id string) error {
	delete(g.edges, id)
	return nil
}

func TestGraphSyncer_Lifecycle(t *testing.T) {
	graph := newFakeEdgeGraph("n1", "n2")
	opts := DefaultOptions()
	opts.Syncer = GraphSyncer{Graph: graph}
	m := NewManager(opts)

	_, err := m.CreateBranch("b1", "n1", "n2", TypeParallel, BranchOptions{Weight: Float(30)})
	require.NoError(t, err)

	report, err := m.SyncNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"b1"}, report.Synced)

	edge, ok := graph.edges["conn_b1"]
	require.True(t, ok)
	assert.Equal(t, "b1", edge.BranchID)
	assert.True(t, edge.IsSynced())
	assert.Equal(t, "parallel", edge.Data["branchType"])
	assert.Equal(t, "inactive", edge.Data["branchState"])
	assert.Equal(t, 30.0, edge.Data["weight"])

	_, err = m.ActivateBranch("b1", nil)
	require.NoError(t, err)
	_, err = m.SyncNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "active", graph.edges["conn_b1"].Data["branchState"])

	assert.True(t, m.DeleteBranch("b1"))
	assert.False(t, graph.HasEdge("conn_b1"))
}

func TestGraphSyncer_MissingNode(t *testing.T) {
	graph := newFakeEdgeGraph("n1")
	opts := DefaultOptions()
	opts.Syncer = GraphSyncer{Graph: graph}
	m := NewManager(opts)

	_, err := m.CreateBranch("b1", "n1", "ghost", TypeCondition, BranchOptions{})
	require.NoError(t, err)

	report, err := m.SyncNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"b1"}, report.Failed)

	b, _ := m.GetBranch("b1")
	assert.Equal(t, StateError, b.State)
	assert.Contains(t, b.LastError, "node ghost not in graph")
	assert.Empty(t, graph.edges)
}

func TestGraphSyncer_EdgeRemovedExternally(t *testing.T) {
	graph := newFakeEdgeGraph("n1", "n2")
	s := GraphSyncer{Graph: graph}
	b := Branch{ID: "b1", SourceNodeID: "n1", TargetNodeID: "n2", Type: TypeCondition}

	conn, err := s.CreateConnection(context.Background(), b)
	require.NoError(t, err)
	require.NoError(t, s.SyncPreviewLine(context.Background(), b, conn))

	require.NoError(t, graph.RemoveEdge(conn.ID))
	assert.Error(t, s.SyncPreviewLine(context.Background(), b, conn))
	assert.NoError(t, s.RemoveConnection(context.Background(), conn))
}

func TestConnectionSyncer(t *testing.T) {
	s := ConnectionSyncer{}
	b := Branch{ID: "b1", SourceNodeID: "n1", TargetNodeID: "n2", Type: TypeLoop, State: StateActive}

	conn, err := s.CreateConnection(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, ConnectionID("b1"), conn.ID)
	assert.Equal(t, StateActive, conn.State)

	b.State = StateSuspended
	b.TargetNodeID = "n3"
	require.NoError(t, s.UpdateConnection(context.Background(), &conn, b))
	assert.Equal(t, StateSuspended, conn.State)
	assert.Equal(t, "n3", conn.TargetNodeID)
}

func TestManager_BindGraph(t *testing.T) {
	m := NewManager(DefaultOptions())
	_, err := m.CreateBranch("b1", "n1", "n2", TypeParallel, BranchOptions{})
	require.NoError(t, err)

	first := newFakeEdgeGraph("n1", "n2")
	m.BindGraph(first)
	_, err = m.SyncNow(context.Background())
	require.NoError(t, err)
	assert.Contains(t, first.edges, "conn_b1")

	second := newFakeEdgeGraph("n1", "n2")
	unbind := m.BindGraph(second)
	assert.Equal(t, []string{"b1"}, m.PendingSyncs(), "a new graph needs every branch again")
	_, err = m.SyncNow(context.Background())
	require.NoError(t, err)
	assert.Contains(t, second.edges, "conn_b1")

	unbind()
	assert.IsType(t, ConnectionSyncer{}, m.syncer)
	require.True(t, m.DeleteBranch("b1"))
	assert.Contains(t, second.edges, "conn_b1", "the record-only syncer leaves unbound graphs alone")
}
