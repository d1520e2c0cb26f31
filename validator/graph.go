package validator

import "github.com/c360/flowcanvas/model"

// index is the adjacency view of a flow graph. Edges whose endpoints are
// missing are left out; they are reported by the basic checks.
type index struct {
	nodes    map[string]model.Node
	order    []string
	edges    []model.Edge
	out      map[string][]string
	in       map[string][]string
	outEdges map[string][]model.Edge
}

func newIndex(g model.FlowGraph) *index {
	idx := &index{
		nodes:    make(map[string]model.Node, len(g.Nodes)),
		order:    make([]string, 0, len(g.Nodes)),
		out:      make(map[string][]string),
		in:       make(map[string][]string),
		outEdges: make(map[string][]model.Edge),
	}
	for _, n := range g.Nodes {
		if _, dup := idx.nodes[n.ID]; dup {
			continue
		}
		idx.nodes[n.ID] = n
		idx.order = append(idx.order, n.ID)
	}
	for _, e := range g.Edges {
		if e.IsPreview() {
			continue
		}
		_, src := idx.nodes[e.SourceNodeID]
		_, dst := idx.nodes[e.TargetNodeID]
		if !src || !dst {
			continue
		}
		idx.edges = append(idx.edges, e)
		idx.out[e.SourceNodeID] = append(idx.out[e.SourceNodeID], e.TargetNodeID)
		idx.in[e.TargetNodeID] = append(idx.in[e.TargetNodeID], e.SourceNodeID)
		idx.outEdges[e.SourceNodeID] = append(idx.outEdges[e.SourceNodeID], e)
	}
	return idx
}

// ofClass returns node ids of class c in graph order
func (idx *index) ofClass(c model.TypeClass) []string {
	var ids []string
	for _, id := range idx.order {
		if idx.nodes[id].Type.Class() == c {
			ids = append(ids, id)
		}
	}
	return ids
}

// reaches does a breadth-first walk from start over adj and reports whether
// any node in targets is reached. The visited set makes cycles harmless.
func reaches(start string, adj map[string][]string, targets map[string]bool) bool {
	visited := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if targets[cur] {
			return true
		}
		for _, next := range adj[cur] {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}

// components returns the weakly connected components in graph order
func (idx *index) components() [][]string {
	visited := make(map[string]bool, len(idx.order))
	var out [][]string
	for _, root := range idx.order {
		if visited[root] {
			continue
		}
		var cluster []string
		stack := []string{root}
		visited[root] = true
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			cluster = append(cluster, cur)
			for _, adj := range [][]string{idx.out[cur], idx.in[cur]} {
				for _, next := range adj {
					if !visited[next] {
						visited[next] = true
						stack = append(stack, next)
					}
				}
			}
		}
		out = append(out, cluster)
	}
	return out
}

// maxDepth is the node count of the longest path starting at an input
// node. Edges that close a cycle are ignored, so the walk terminates and
// the result is the longest path of the remaining acyclic graph.
func (idx *index) maxDepth() int {
	const (
		white = iota
		gray
		black
	)
	type frame struct {
		id   string
		next int
	}

	color := make(map[string]int, len(idx.order))
	depth := make(map[string]int, len(idx.order))
	best := 0

	for _, root := range idx.ofClass(model.ClassInput) {
		if color[root] != white {
			best = max(best, depth[root])
			continue
		}
		color[root] = gray
		stack := []frame{{id: root}}
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			children := idx.out[top.id]
			if top.next < len(children) {
				child := children[top.next]
				top.next++
				if color[child] == white {
					color[child] = gray
					stack = append(stack, frame{id: child})
				}
				continue
			}

			// every child is finished or an ancestor still on the stack
			d := 0
			for _, child := range children {
				if color[child] == black {
					d = max(d, depth[child])
				}
			}
			depth[top.id] = d + 1
			color[top.id] = black
			stack = stack[:len(stack)-1]
		}
		best = max(best, depth[root])
	}
	return best
}
