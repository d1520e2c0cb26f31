// Package model defines the node, edge and preview-line types shared by
// every part of the flow canvas, plus the persisted document format.
package model

import (
	"maps"
	"time"
)

// Point is a canvas coordinate
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size is a node's bounding box size
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// DefaultSize is applied to nodes created without an explicit size
var DefaultSize = Size{Width: 120, Height: 80}

// Node is a single step of a marketing journey placed on the canvas
type Node struct {
	ID           string         `json:"id"`
	Type         NodeType       `json:"type"`
	Position     Point          `json:"position"`
	Size         Size           `json:"size"`
	Data         map[string]any `json:"data,omitempty"`
	IsConfigured bool           `json:"isConfigured"`
	// Protected nodes refuse deletion, e.g. the sole start node.
	Protected bool `json:"protected,omitempty"`
}

// Clone returns a copy of n whose Data map is not shared with n
func (n Node) Clone() Node {
	n.Data = maps.Clone(n.Data)
	return n
}

// Bounds returns n.Size, or DefaultSize when the size is unset
func (n Node) Bounds() Size {
	if n.Size.Width <= 0 || n.Size.Height <= 0 {
		return DefaultSize
	}
	return n.Size
}

// RequiredInputs is the number of incoming edges a processing node expects
func (n Node) RequiredInputs() int {
	return n.intData("requiredInputs", 1)
}

// ExpectedBranches is the number of outgoing edges a splitting node expects
func (n Node) ExpectedBranches() int {
	return n.intData("expectedBranches", 2)
}

// HasBranches reports whether n fans out into labelled branches
func (n Node) HasBranches() bool {
	if n.Type.IsSplit() {
		return true
	}
	v, _ := n.Data["hasBranches"].(bool)
	return v
}

func (n Node) intData(key string, def int) int {
	switch v := n.Data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

// Edge is a confirmed connection between two nodes
type Edge struct {
	ID           string         `json:"id"`
	SourceNodeID string         `json:"sourceNodeId"`
	TargetNodeID string         `json:"targetNodeId"`
	SourcePortID string         `json:"sourcePortId,omitempty"`
	TargetPortID string         `json:"targetPortId,omitempty"`
	BranchID     string         `json:"branchId,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
}

// PreviewEdgeKey marks, in Edge.Data, the visual edge of a preview line
const PreviewEdgeKey = "isPreview"

// IsPreview reports whether e only draws a preview line
func (e Edge) IsPreview() bool {
	v, _ := e.Data[PreviewEdgeKey].(bool)
	return v
}

// SyncedEdgeKey marks, in Edge.Data, an edge the branch sync cycle keeps
// in step with a branch
const SyncedEdgeKey = "branchSynced"

// IsSynced reports whether e mirrors a branch
func (e Edge) IsSynced() bool {
	v, _ := e.Data[SyncedEdgeKey].(bool)
	return v
}

// Managed reports whether e is owned by the preview line or branch
// managers rather than edited directly
func (e Edge) Managed() bool {
	return e.IsPreview() || e.IsSynced()
}

// BranchLabel returns the label shown on an edge leaving a split node
func (e Edge) BranchLabel() string {
	v, _ := e.Data["branchLabel"].(string)
	return v
}

// PreviewLine is an unconfirmed connection drawn from a node's output port
type PreviewLine struct {
	ID         string        `json:"id"`
	SourceID   string        `json:"sourceId"`
	TargetID   string        `json:"targetId,omitempty"`
	StartPoint Point         `json:"startPoint"`
	EndPoint   Point         `json:"endPoint"`
	BranchID   string        `json:"branchId,omitempty"`
	IsPreview  bool          `json:"isPreview"`
	Created    time.Time     `json:"created"`
	Timeout    time.Duration `json:"timeout,omitempty"`
}

// InProgress reports whether the line is still being dragged
func (p PreviewLine) InProgress() bool {
	return p.TargetID == ""
}

// FlowGraph is a by-value snapshot of the canvas used for validation
type FlowGraph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// NodeIndex returns the nodes keyed by id
func (g FlowGraph) NodeIndex() map[string]Node {
	idx := make(map[string]Node, len(g.Nodes))
	for _, n := range g.Nodes {
		idx[n.ID] = n
	}
	return idx
}
