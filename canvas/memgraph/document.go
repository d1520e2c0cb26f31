package memgraph

import (
	"context"
	"maps"

	"github.com/c360/flowcanvas/canvas"
	"github.com/c360/flowcanvas/errors"
	"github.com/c360/flowcanvas/model"
)

// Transform maps client (screen) coordinates to canvas coordinates:
// local = (client - Translate) / Scale.
type Transform struct {
	Scale     float64     `json:"scale"`
	Translate model.Point `json:"translate"`
}

// Identity is the transform of an unpanned, unzoomed canvas
func Identity() Transform {
	return Transform{Scale: 1}
}

// SetTransform records the current pan and zoom. A non-positive scale is
// treated as 1.
func (g *Graph) SetTransform(t Transform) {
	if t.Scale <= 0 {
		t.Scale = 1
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.transform = t
}

// ClientToLocal converts a pointer position to canvas coordinates
func (g *Graph) ClientToLocal(p model.Point) model.Point {
	g.mu.RLock()
	t := g.transform
	g.mu.RUnlock()
	return model.Point{
		X: (p.X - t.Translate.X) / t.Scale,
		Y: (p.Y - t.Translate.Y) / t.Scale,
	}
}

// Snapshot returns the confirmed graph by value. Preview edges are left
// out.
func (g *Graph) Snapshot() model.FlowGraph {
	g.mu.RLock()
	defer g.mu.RUnlock()

	fg := model.FlowGraph{
		Nodes: make([]model.Node, 0, len(g.nodeOrder)),
		Edges: make([]model.Edge, 0, len(g.edgeOrder)),
	}
	for _, id := range g.nodeOrder {
		fg.Nodes = append(fg.Nodes, g.nodes[id].Clone())
	}
	for _, id := range g.edgeOrder {
		e := g.edges[id]
		if e.IsPreview() {
			continue
		}
		e.Data = maps.Clone(e.Data)
		fg.Edges = append(fg.Edges, e)
	}
	return fg
}

// Load replaces the node and edge collections with doc's, wholesale.
// Selection, clipboard and history are cleared. The document is validated
// first and the graph is unchanged when it is rejected.
func (g *Graph) Load(doc model.Document) error {
	if err := doc.Validate(); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.liveLocked(); err != nil {
		return err
	}

	nodes := make(map[string]model.Node, len(doc.Nodes))
	order := make([]string, 0, len(doc.Nodes))
	for _, n := range doc.Nodes {
		nodes[n.ID] = n.Clone()
		order = append(order, n.ID)
	}
	edges := make(map[string]model.Edge, len(doc.Connections))
	edgeOrder := make([]string, 0, len(doc.Connections))
	for _, e := range doc.Connections {
		if _, dup := edges[e.ID]; dup {
			return errors.Newf(errors.ErrConflict, "connection %s appears twice", e.ID)
		}
		e.Data = maps.Clone(e.Data)
		edges[e.ID] = e
		edgeOrder = append(edgeOrder, e.ID)
	}

	g.nodes, g.nodeOrder = nodes, order
	g.edges, g.edgeOrder = edges, edgeOrder
	clear(g.selected)
	g.clipboard = clip{}
	g.undo, g.redo = nil, nil
	return nil
}

// Export returns base with its nodes and connections replaced by the
// current confirmed graph. Preview lines are owned by the preview line
// manager, which fills them in separately.
func (g *Graph) Export(base model.Document) model.Document {
	fg := g.Snapshot()
	base.Nodes = fg.Nodes
	base.Connections = fg.Edges
	return base
}

// Factory returns a canvas.EngineFactory building a new Graph per call
func Factory(opts Options) canvas.EngineFactory {
	return func(_ context.Context, _ canvas.Container) (canvas.Engine, error) {
		return New(opts), nil
	}
}
