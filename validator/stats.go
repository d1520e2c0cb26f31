package validator

import "github.com/c360/flowcanvas/model"

// Stats summarizes the shape of a flow
type Stats struct {
	TotalNodes      int `json:"totalNodes"`
	TotalEdges      int `json:"totalEdges"`
	InputNodes      int `json:"inputNodes"`
	ProcessingNodes int `json:"processingNodes"`
	OutputNodes     int `json:"outputNodes"`
	IsolatedNodes   int `json:"isolatedNodes"`
	MaxDepth        int `json:"maxDepth"`
	Components      int `json:"components"`
}

// Statistics counts nodes per class and measures the flow. Preview edges
// and edges with missing endpoints are not counted.
func Statistics(g model.FlowGraph) Stats {
	idx := newIndex(g)
	s := Stats{
		TotalNodes: len(idx.order),
		TotalEdges: len(idx.edges),
		MaxDepth:   idx.maxDepth(),
		Components: len(idx.components()),
	}
	for _, id := range idx.order {
		switch idx.nodes[id].Type.Class() {
		case model.ClassInput:
			s.InputNodes++
		case model.ClassProcessing:
			s.ProcessingNodes++
		case model.ClassOutput:
			s.OutputNodes++
		}
		if len(idx.in[id]) == 0 && len(idx.out[id]) == 0 {
			s.IsolatedNodes++
		}
	}
	return s
}
