package geometry

import (
	"math"

	"github.com/c360/flowcanvas/model"
)

// DefaultSnapThreshold is the maximum pointer-to-port distance, in pixels,
// at which a dragged endpoint snaps to a node.
const DefaultSnapThreshold = 30.0

// SnapResult describes the outcome of a snap search
type SnapResult struct {
	Snapped  bool
	NodeID   string
	PortID   string
	Point    model.Point
	Distance float64
}

// NearestPort returns the input port of node closest to p. ok is false for
// nodes without input ports.
func NearestPort(node model.Node, p model.Point) (port Port, at model.Point, dist float64, ok bool) {
	return nearest(node, p, PortIn)
}

// NearestOutPort returns the output port of node closest to p, which tells
// apart the out ports of a split node.
func NearestOutPort(node model.Node, p model.Point) (port Port, at model.Point, dist float64, ok bool) {
	return nearest(node, p, PortOut)
}

func nearest(node model.Node, p model.Point, dir PortDirection) (port Port, at model.Point, dist float64, ok bool) {
	dist = math.Inf(1)
	for _, candidate := range NodePorts(node) {
		if candidate.Direction != dir {
			continue
		}
		pt := PortPoint(node, candidate)
		if d := Distance(p, pt); d < dist {
			port, at, dist, ok = candidate, pt, d, true
		}
	}
	return port, at, dist, ok
}

// FindSnapTarget picks the configured candidate whose nearest input port is
// closest to p, snapping when that distance is within threshold (inclusive).
// Nodes listed in exclude and unconfigured nodes are never targets. Exact
// ties keep the first candidate in iteration order.
func FindSnapTarget(p model.Point, candidates []model.Node, threshold float64, exclude ...string) SnapResult {
	if threshold <= 0 {
		threshold = DefaultSnapThreshold
	}

	best := SnapResult{Distance: math.Inf(1)}
	for _, node := range candidates {
		if !node.IsConfigured || contains(exclude, node.ID) {
			continue
		}
		port, at, d, ok := NearestPort(node, p)
		if !ok {
			continue
		}
		if d < best.Distance {
			best = SnapResult{NodeID: node.ID, PortID: port.ID, Point: at, Distance: d}
		}
	}

	best.Snapped = best.NodeID != "" && best.Distance <= threshold
	return best
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
