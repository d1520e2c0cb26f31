package model

import (
	"fmt"
	"time"

	"github.com/c360/flowcanvas/errors"
)

// Document is the persisted form of a canvas: the load/save boundary
// between the core and whatever stores or ships flows.
type Document struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// Version increases on every successful update
	Version int64 `json:"version"`

	Nodes        []Node         `json:"nodes"`
	Connections  []Edge         `json:"connections"`
	PreviewLines []PreviewLine  `json:"previewLines,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Graph returns the node/edge snapshot of the document
func (d *Document) Graph() FlowGraph {
	return FlowGraph{Nodes: d.Nodes, Edges: d.Connections}
}

// Validate guards the storage boundary: ids are present and unique and
// every edge or preview line points at a node of the document. Flow rules
// such as reachability belong to the validator package.
func (d *Document) Validate() error {
	if err := d.consistency(); err != nil {
		return errors.WrapInvalid(err, "model", "Validate", "check document "+d.ID)
	}
	return nil
}

func (d *Document) consistency() error {
	if d.ID == "" {
		return fmt.Errorf("%w: document id is empty", errors.ErrInvalidArgument)
	}

	known := make(map[string]struct{}, len(d.Nodes))
	for i, n := range d.Nodes {
		switch {
		case n.ID == "":
			return fmt.Errorf("nodes[%d]: id is empty", i)
		case n.Type == "":
			return fmt.Errorf("node %s: type is empty", n.ID)
		}
		if _, dup := known[n.ID]; dup {
			return fmt.Errorf("node %s: id used twice", n.ID)
		}
		known[n.ID] = struct{}{}
	}

	dangling := func(what, id, end, ref string) error {
		if _, ok := known[ref]; ok {
			return nil
		}
		return fmt.Errorf("%s %s: non-existent %s node %q", what, id, end, ref)
	}
	for i, e := range d.Connections {
		if e.ID == "" {
			return fmt.Errorf("connections[%d]: id is empty", i)
		}
		if err := dangling("connection", e.ID, "source", e.SourceNodeID); err != nil {
			return err
		}
		if err := dangling("connection", e.ID, "target", e.TargetNodeID); err != nil {
			return err
		}
	}
	for _, l := range d.PreviewLines {
		if err := dangling("preview line", l.ID, "source", l.SourceID); err != nil {
			return err
		}
		if l.TargetID == "" {
			continue
		}
		if err := dangling("preview line", l.ID, "target", l.TargetID); err != nil {
			return err
		}
	}
	return nil
}
