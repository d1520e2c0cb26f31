package memgraph

import (
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/c360/flowcanvas/errors"
	"github.com/c360/flowcanvas/events"
	"github.com/c360/flowcanvas/model"
)

const (
	// DefaultHistoryLimit caps the undo stack
	DefaultHistoryLimit = 100
	// PasteOffset shifts each pasted copy away from its original
	PasteOffset = 20.0
)

// NodeMoved is the payload of node:moved
type NodeMoved struct {
	ID   string      `json:"id"`
	From model.Point `json:"from"`
	To   model.Point `json:"to"`
}

// Options configures a Graph
type Options struct {
	HistoryLimit int
	Logger       *slog.Logger
}

type notice struct {
	event string
	data  any
}

// operation is one undoable step. Both directions run with g.mu held and
// return the notices to emit once it is released.
type operation struct {
	label string
	undo  func() ([]notice, error)
	redo  func() ([]notice, error)
}

// Graph is an in-memory graph engine: the authoritative node and edge
// collections of a canvas, with selection, clipboard and undo history.
type Graph struct {
	historyLimit int
	logger       *slog.Logger

	mu        sync.RWMutex
	nodes     map[string]model.Node
	nodeOrder []string
	edges     map[string]model.Edge
	edgeOrder []string
	selected  map[string]struct{}
	clipboard clip
	pastes    int
	undo      []operation
	redo      []operation
	transform Transform
	disposed  bool

	lmu       sync.RWMutex
	listeners map[string]map[int]func(any)
	nextID    int
}

type clip struct {
	nodes []model.Node
	edges []model.Edge
}

// New creates an empty graph
func New(opts Options) *Graph {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Graph{
		historyLimit: opts.HistoryLimit,
		logger:       opts.Logger.With("component", "memgraph"),
		nodes:        make(map[string]model.Node),
		edges:        make(map[string]model.Edge),
		selected:     make(map[string]struct{}),
		transform:    Identity(),
		listeners:    make(map[string]map[int]func(any)),
	}
}

// On subscribes fn to an engine event; the returned func unsubscribes
func (g *Graph) On(event string, fn func(data any)) func() {
	g.lmu.Lock()
	defer g.lmu.Unlock()

	id := g.nextID
	g.nextID++
	if g.listeners[event] == nil {
		g.listeners[event] = make(map[int]func(any))
	}
	g.listeners[event][id] = fn
	return func() {
		g.lmu.Lock()
		defer g.lmu.Unlock()
		delete(g.listeners[event], id)
	}
}

func (g *Graph) notify(notices []notice) {
	for _, n := range notices {
		g.lmu.RLock()
		ids := slices.Sorted(maps.Keys(g.listeners[n.event]))
		fns := make([]func(any), 0, len(ids))
		for _, id := range ids {
			fns = append(fns, g.listeners[n.event][id])
		}
		g.lmu.RUnlock()

		for _, fn := range fns {
			g.call(fn, n)
		}
	}
}

func (g *Graph) call(fn func(any), n notice) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Warn("engine listener panicked", "event", n.event, "panic", r)
		}
	}()
	fn(n.data)
}

func (g *Graph) liveLocked() error {
	if g.disposed {
		return errors.Newf(errors.ErrNotReady, "graph disposed")
	}
	return nil
}

// record pushes op onto the undo stack and drops the redo stack
func (g *Graph) recordLocked(op operation) {
	g.undo = append(g.undo, op)
	if len(g.undo) > g.historyLimit {
		g.undo = g.undo[len(g.undo)-g.historyLimit:]
	}
	g.redo = nil
}

// mutate runs do under the lock, records the operation on success and
// emits its notices after unlocking.
func (g *Graph) mutate(label string, do func() ([]notice, error), undo func() ([]notice, error)) error {
	return g.mutateIf(label, do, undo, nil)
}

// mutateIf is mutate with the recording decided by track, asked once do
// has succeeded. A nil track always records.
func (g *Graph) mutateIf(label string, do, undo func() ([]notice, error), track func() bool) error {
	g.mu.Lock()
	if err := g.liveLocked(); err != nil {
		g.mu.Unlock()
		return err
	}
	notices, err := do()
	if err != nil {
		g.mu.Unlock()
		return err
	}
	if track == nil || track() {
		g.recordLocked(operation{label: label, undo: undo, redo: do})
	}
	g.mu.Unlock()

	g.notify(notices)
	return nil
}

// primitives; callers hold g.mu

func (g *Graph) addNodeLocked(n model.Node) ([]notice, error) {
	if n.ID == "" {
		return nil, errors.Newf(errors.ErrInvalidArgument, "node id is required")
	}
	if _, exists := g.nodes[n.ID]; exists {
		return nil, errors.Newf(errors.ErrConflict, "node %s already exists", n.ID)
	}
	n = n.Clone()
	g.nodes[n.ID] = n
	g.nodeOrder = append(g.nodeOrder, n.ID)
	return []notice{{events.EventNodeAdded, n.Clone()}}, nil
}

func (g *Graph) addEdgeLocked(e model.Edge) ([]notice, error) {
	if e.ID == "" {
		return nil, errors.Newf(errors.ErrInvalidArgument, "edge id is required")
	}
	if _, exists := g.edges[e.ID]; exists {
		return nil, errors.Newf(errors.ErrConflict, "edge %s already exists", e.ID)
	}
	for _, id := range []string{e.SourceNodeID, e.TargetNodeID} {
		if _, ok := g.nodes[id]; !ok {
			return nil, errors.Newf(errors.ErrNodeNotFound, "edge %s endpoint %s", e.ID, id)
		}
	}
	e.Data = maps.Clone(e.Data)
	g.edges[e.ID] = e
	g.edgeOrder = append(g.edgeOrder, e.ID)
	return []notice{{events.EventEdgeAdded, e}}, nil
}

func (g *Graph) removeEdgeLocked(id string) (model.Edge, []notice, error) {
	e, ok := g.edges[id]
	if !ok {
		return model.Edge{}, nil, errors.Newf(errors.ErrNotFound, "edge %s", id)
	}
	delete(g.edges, id)
	g.edgeOrder = remove(g.edgeOrder, id)
	return e, []notice{{events.EventEdgeRemoved, e}}, nil
}

// removeNodeLocked deletes a node and every edge touching it. Edge removals
// are announced before the node removal.
func (g *Graph) removeNodeLocked(id string, force bool) (model.Node, []model.Edge, []notice, error) {
	n, ok := g.nodes[id]
	if !ok {
		return model.Node{}, nil, nil, errors.Newf(errors.ErrNodeNotFound, "node %s", id)
	}
	if n.Protected && !force {
		return model.Node{}, nil, nil, errors.Newf(errors.ErrProtected, "node %s cannot be deleted", id)
	}

	var (
		removed []model.Edge
		notices []notice
	)
	for _, eid := range slices.Clone(g.edgeOrder) {
		e := g.edges[eid]
		if e.SourceNodeID != id && e.TargetNodeID != id {
			continue
		}
		_, ns, _ := g.removeEdgeLocked(eid)
		removed = append(removed, e)
		notices = append(notices, ns...)
	}

	delete(g.nodes, id)
	delete(g.selected, id)
	g.nodeOrder = remove(g.nodeOrder, id)
	notices = append(notices, notice{events.EventNodeRemoved, n.Clone()})
	return n, removed, notices, nil
}

func (g *Graph) restoreLocked(n model.Node, edges []model.Edge) ([]notice, error) {
	notices, err := g.addNodeLocked(n)
	if err != nil {
		return nil, err
	}
	for _, e := range edges {
		ns, err := g.addEdgeLocked(e)
		if err != nil {
			return nil, err
		}
		notices = append(notices, ns...)
	}
	return notices, nil
}

func (g *Graph) moveLocked(id string, to model.Point) ([]notice, error) {
	n, ok := g.nodes[id]
	if !ok {
		return nil, errors.Newf(errors.ErrNodeNotFound, "node %s", id)
	}
	from := n.Position
	n.Position = to
	g.nodes[id] = n
	return []notice{{events.EventNodeMoved, NodeMoved{ID: id, From: from, To: to}}}, nil
}

func remove(ids []string, id string) []string {
	if i := slices.Index(ids, id); i >= 0 {
		return slices.Delete(ids, i, i+1)
	}
	return ids
}

// AddNode inserts n
func (g *Graph) AddNode(n model.Node) error {
	return g.mutate("add node",
		func() ([]notice, error) { return g.addNodeLocked(n) },
		func() ([]notice, error) {
			_, _, ns, err := g.removeNodeLocked(n.ID, true)
			return ns, err
		})
}

// RemoveNode deletes a node and cascades to its edges. Protected nodes
// return ErrProtected. Undo restores the user's edges only; preview and
// branch-synced edges belong to their managers.
func (g *Graph) RemoveNode(id string) error {
	var (
		node  model.Node
		edges []model.Edge
	)
	return g.mutate("remove node",
		func() ([]notice, error) {
			n, es, ns, err := g.removeNodeLocked(id, false)
			if err == nil {
				node = n
				edges = slices.DeleteFunc(es, model.Edge.Managed)
			}
			return ns, err
		},
		func() ([]notice, error) { return g.restoreLocked(node, edges) })
}

// MoveNode changes a node's position
func (g *Graph) MoveNode(id string, to model.Point) error {
	var from model.Point
	return g.mutate("move node",
		func() ([]notice, error) {
			if n, ok := g.nodes[id]; ok {
				from = n.Position
			}
			return g.moveLocked(id, to)
		},
		func() ([]notice, error) { return g.moveLocked(id, from) })
}

// UpdateNode replaces the stored node with the same id. The update is not
// recorded in the undo history.
func (g *Graph) UpdateNode(n model.Node) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.liveLocked(); err != nil {
		return err
	}
	if _, ok := g.nodes[n.ID]; !ok {
		return errors.Newf(errors.ErrNodeNotFound, "node %s", n.ID)
	}
	g.nodes[n.ID] = n.Clone()
	return nil
}

// AddEdge inserts e; both endpoints must exist. Managed edges (preview
// and branch-synced) are not recorded in the undo history.
func (g *Graph) AddEdge(e model.Edge) error {
	return g.mutateIf("add edge",
		func() ([]notice, error) { return g.addEdgeLocked(e) },
		func() ([]notice, error) {
			_, ns, err := g.removeEdgeLocked(e.ID)
			return ns, err
		},
		func() bool { return !e.Managed() })
}

// RemoveEdge deletes an edge, returning ErrNotFound if it is absent.
// Removing a managed edge is not recorded in the undo history.
func (g *Graph) RemoveEdge(id string) error {
	var edge model.Edge
	return g.mutateIf("remove edge",
		func() ([]notice, error) {
			e, ns, err := g.removeEdgeLocked(id)
			edge = e
			return ns, err
		},
		func() ([]notice, error) { return g.addEdgeLocked(edge) },
		func() bool { return !edge.Managed() })
}

// UpdateEdgeData merges data into an edge's data map
func (g *Graph) UpdateEdgeData(id string, data map[string]any) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.liveLocked(); err != nil {
		return err
	}
	e, ok := g.edges[id]
	if !ok {
		return errors.Newf(errors.ErrNotFound, "edge %s", id)
	}
	if e.Data == nil {
		e.Data = make(map[string]any, len(data))
	}
	maps.Copy(e.Data, data)
	g.edges[id] = e
	return nil
}

// HasNode reports whether id is a node
func (g *Graph) HasNode(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.nodes[id]
	return ok
}

// Node returns a copy of a node
func (g *Graph) Node(id string) (model.Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	return n.Clone(), ok
}

// Nodes returns copies of every node in insertion order
func (g *Graph) Nodes() []model.Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]model.Node, 0, len(g.nodeOrder))
	for _, id := range g.nodeOrder {
		out = append(out, g.nodes[id].Clone())
	}
	return out
}

// HasEdge reports whether id is an edge
func (g *Graph) HasEdge(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.edges[id]
	return ok
}

// Edge returns a copy of an edge
func (g *Graph) Edge(id string) (model.Edge, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.edges[id]
	e.Data = maps.Clone(e.Data)
	return e, ok
}

// Edges returns copies of every edge, preview edges included, in insertion
// order.
func (g *Graph) Edges() []model.Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]model.Edge, 0, len(g.edgeOrder))
	for _, id := range g.edgeOrder {
		e := g.edges[id]
		e.Data = maps.Clone(e.Data)
		out = append(out, e)
	}
	return out
}

// Select replaces the selection with the given existing nodes
func (g *Graph) Select(ids ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	clear(g.selected)
	for _, id := range ids {
		if _, ok := g.nodes[id]; ok {
			g.selected[id] = struct{}{}
		}
	}
}

// SelectAll selects every node
func (g *Graph) SelectAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id := range g.nodes {
		g.selected[id] = struct{}{}
	}
}

// Selected returns the selected node ids in insertion order
func (g *Graph) Selected() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []string
	for _, id := range g.nodeOrder {
		if _, ok := g.selected[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// Copy puts the selected nodes, and the edges between them, on the
// clipboard. It returns the number of nodes copied.
func (g *Graph) Copy() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	var c clip
	for _, id := range g.nodeOrder {
		if _, ok := g.selected[id]; ok {
			c.nodes = append(c.nodes, g.nodes[id].Clone())
		}
	}
	for _, id := range g.edgeOrder {
		e := g.edges[id]
		_, src := g.selected[e.SourceNodeID]
		_, dst := g.selected[e.TargetNodeID]
		if src && dst && !e.Managed() {
			e.Data = maps.Clone(e.Data)
			c.edges = append(c.edges, e)
		}
	}
	g.clipboard = c
	g.pastes = 0
	return len(c.nodes)
}

// instantiate copies the clipboard with fresh ids, shifted by offset
func (c clip) instantiate(offset float64) ([]model.Node, []model.Edge) {
	ids := make(map[string]string, len(c.nodes))
	nodes := make([]model.Node, 0, len(c.nodes))
	for _, n := range c.nodes {
		cp := n.Clone()
		cp.ID = uuid.NewString()
		cp.Protected = false
		cp.Position = model.Point{X: n.Position.X + offset, Y: n.Position.Y + offset}
		ids[n.ID] = cp.ID
		nodes = append(nodes, cp)
	}
	edges := make([]model.Edge, 0, len(c.edges))
	for _, e := range c.edges {
		cp := e
		cp.ID = uuid.NewString()
		cp.SourceNodeID = ids[e.SourceNodeID]
		cp.TargetNodeID = ids[e.TargetNodeID]
		cp.Data = maps.Clone(e.Data)
		edges = append(edges, cp)
	}
	return nodes, edges
}

// insertLocked adds nodes then edges, undoing the partial insert on error
func (g *Graph) insertLocked(nodes []model.Node, edges []model.Edge) ([]notice, error) {
	var notices []notice
	for _, n := range nodes {
		ns, err := g.addNodeLocked(n)
		if err != nil {
			g.dropLocked(nodes)
			return nil, err
		}
		notices = append(notices, ns...)
	}
	for _, e := range edges {
		ns, err := g.addEdgeLocked(e)
		if err != nil {
			g.dropLocked(nodes)
			return nil, err
		}
		notices = append(notices, ns...)
	}
	return notices, nil
}

// dropLocked force-removes nodes that exist, with their edges
func (g *Graph) dropLocked(nodes []model.Node) []notice {
	var notices []notice
	for _, n := range nodes {
		if _, ok := g.nodes[n.ID]; !ok {
			continue
		}
		_, _, ns, _ := g.removeNodeLocked(n.ID, true)
		notices = append(notices, ns...)
	}
	return notices
}

// Paste adds a copy of the clipboard with fresh ids, shifted further on
// each paste, and selects it. Pasted nodes are never protected.
func (g *Graph) Paste() ([]model.Node, error) {
	g.mu.Lock()
	if len(g.clipboard.nodes) == 0 {
		g.mu.Unlock()
		return nil, errors.Newf(errors.ErrNotFound, "clipboard is empty")
	}
	g.pastes++
	nodes, edges := g.clipboard.instantiate(PasteOffset * float64(g.pastes))
	g.mu.Unlock()

	err := g.mutate("paste",
		func() ([]notice, error) { return g.insertLocked(nodes, edges) },
		func() ([]notice, error) { return g.dropLocked(nodes), nil })
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.ID)
	}
	g.Select(ids...)
	return nodes, nil
}

// Undo reverts the last recorded operation. It reports false when there is
// nothing to undo or the inverse could not be applied.
func (g *Graph) Undo() bool {
	return g.step(&g.undo, &g.redo, func(op operation) func() ([]notice, error) { return op.undo })
}

// Redo reapplies the last undone operation
func (g *Graph) Redo() bool {
	return g.step(&g.redo, &g.undo, func(op operation) func() ([]notice, error) { return op.redo })
}

func (g *Graph) step(from, to *[]operation, pick func(operation) func() ([]notice, error)) bool {
	g.mu.Lock()
	if g.disposed || len(*from) == 0 {
		g.mu.Unlock()
		return false
	}
	op := (*from)[len(*from)-1]
	*from = (*from)[:len(*from)-1]

	notices, err := pick(op)()
	if err != nil {
		g.mu.Unlock()
		g.logger.Warn("history step failed", "operation", op.label, "error", err)
		return false
	}
	*to = append(*to, op)
	g.mu.Unlock()

	g.notify(notices)
	return true
}

// CanUndo reports whether Undo has work to do
func (g *Graph) CanUndo() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.undo) > 0
}

// CanRedo reports whether Redo has work to do
func (g *Graph) CanRedo() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.redo) > 0
}

// Dispose drops all state and listeners. Later mutations return ErrNotReady.
func (g *Graph) Dispose() error {
	g.mu.Lock()
	g.disposed = true
	clear(g.nodes)
	clear(g.edges)
	clear(g.selected)
	g.nodeOrder, g.edgeOrder = nil, nil
	g.undo, g.redo = nil, nil
	g.clipboard = clip{}
	g.mu.Unlock()

	g.lmu.Lock()
	clear(g.listeners)
	g.lmu.Unlock()
	return nil
}

// Disposed reports whether Dispose has run
func (g *Graph) Disposed() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.disposed
}
