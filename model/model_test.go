package model

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/c360/flowcanvas/errors"
)

func TestNodeType_Class(t *testing.T) {
	tests := []struct {
		typ      NodeType
		expected TypeClass
	}{
		{NodeStart, ClassInput},
		{NodeEnd, ClassOutput},
		{NodeAudienceSplit, ClassProcessing},
		{NodeEventSplit, ClassProcessing},
		{NodeSMS, ClassProcessing},
		{NodeAICall, ClassProcessing},
		{NodeManualCall, ClassProcessing},
		{NodeABTest, ClassProcessing},
		{NodeWait, ClassProcessing},
		{NodeType("coupon"), ClassUnknown},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.typ.Class())
		})
	}
}

func TestKnownNodeTypes_AllVisited(t *testing.T) {
	for _, typ := range KnownNodeTypes {
		assert.True(t, typ.IsKnown())
		assert.NotEqual(t, ClassUnknown, typ.Class(), "known type %s has no class", typ)
	}
	assert.False(t, NodeType("coupon").IsKnown())
}

func TestNode_DataDefaults(t *testing.T) {
	n := Node{ID: "a", Type: NodeSMS}
	assert.Equal(t, 1, n.RequiredInputs())
	assert.Equal(t, 2, n.ExpectedBranches())
	assert.False(t, n.HasBranches())
	assert.Equal(t, DefaultSize, n.Bounds())

	n.Data = map[string]any{"requiredInputs": float64(3), "expectedBranches": 4, "hasBranches": true}
	assert.Equal(t, 3, n.RequiredInputs())
	assert.Equal(t, 4, n.ExpectedBranches())
	assert.True(t, n.HasBranches())

	split := Node{ID: "s", Type: NodeAudienceSplit}
	assert.True(t, split.HasBranches())
}

func TestNode_CloneDoesNotShareData(t *testing.T) {
	n := Node{ID: "a", Data: map[string]any{"k": "v"}}
	c := n.Clone()
	c.Data["k"] = "changed"
	assert.Equal(t, "v", n.Data["k"])
}

func TestEdge_BranchLabel(t *testing.T) {
	assert.Equal(t, "", Edge{}.BranchLabel())
	assert.Equal(t, "VIP", Edge{Data: map[string]any{"branchLabel": "VIP"}}.BranchLabel())
}

func TestEdge_IsPreview(t *testing.T) {
	assert.False(t, Edge{}.IsPreview())
	assert.True(t, Edge{Data: map[string]any{PreviewEdgeKey: true}}.IsPreview())
}

func TestDocument_Validate(t *testing.T) {
	valid := func() Document {
		return Document{
			ID: "doc-1",
			Nodes: []Node{
				{ID: "s", Type: NodeStart},
				{ID: "e", Type: NodeEnd},
			},
			Connections:  []Edge{{ID: "c1", SourceNodeID: "s", TargetNodeID: "e"}},
			PreviewLines: []PreviewLine{{ID: "p1", SourceID: "s"}},
		}
	}

	tests := []struct {
		name    string
		mutate  func(d *Document)
		wantErr bool
	}{
		{"valid", func(_ *Document) {}, false},
		{"empty id", func(d *Document) { d.ID = "" }, true},
		{"empty node id", func(d *Document) { d.Nodes[0].ID = "" }, true},
		{"empty node type", func(d *Document) { d.Nodes[0].Type = "" }, true},
		{"duplicate node", func(d *Document) { d.Nodes[1].ID = "s" }, true},
		{"empty connection id", func(d *Document) { d.Connections[0].ID = "" }, true},
		{"dangling source", func(d *Document) { d.Connections[0].SourceNodeID = "x" }, true},
		{"dangling target", func(d *Document) { d.Connections[0].TargetNodeID = "x" }, true},
		{"dangling preview", func(d *Document) { d.PreviewLines[0].TargetID = "x" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := valid()
			tt.mutate(&d)
			err := d.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				assert.True(t, errors.IsInvalid(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
