package validator

import (
	"fmt"
	"time"

	"github.com/c360/flowcanvas/model"
)

// DefaultMaxNodes is the node ceiling used when Options.MaxNodes is unset
const DefaultMaxNodes = 100

// Check is an additional rule run after the built-in ones
type Check func(g model.FlowGraph) []Issue

// Options selects the rule groups of a validation pass
type Options struct {
	ValidateStartNodes   bool
	ValidateEndNodes     bool
	ValidateConnectivity bool
	// MaxNodes above which the flow is rejected; 0 means DefaultMaxNodes
	MaxNodes int
	// Checks run after the built-in rules
	Checks []Check
}

// DefaultOptions enables every rule group
func DefaultOptions() Options {
	return Options{
		ValidateStartNodes:   true,
		ValidateEndNodes:     true,
		ValidateConnectivity: true,
		MaxNodes:             DefaultMaxNodes,
	}
}

type report struct {
	errors   []Issue
	warnings []Issue
}

func (r *report) fail(code Code, nodeID, edgeID, format string, args ...any) {
	r.errors = append(r.errors, Issue{
		Code: code, Severity: SeverityError, Message: fmt.Sprintf(format, args...),
		NodeID: nodeID, EdgeID: edgeID,
	})
}

func (r *report) warn(code Code, nodeID, edgeID, format string, args ...any) {
	r.warnings = append(r.warnings, Issue{
		Code: code, Severity: SeverityWarning, Message: fmt.Sprintf(format, args...),
		NodeID: nodeID, EdgeID: edgeID,
	})
}

func (r *report) add(issues []Issue) {
	for _, is := range issues {
		if is.Severity == SeverityError {
			r.errors = append(r.errors, is)
		} else {
			r.warnings = append(r.warnings, is)
		}
	}
}

// Validate checks the structure of a finished flow. It never modifies g.
// A panic inside a rule is reported as FLOW_VALIDATION_EXCEPTION.
func Validate(g model.FlowGraph, opts Options) Result {
	return validate(g, opts, time.Now())
}

func validate(g model.FlowGraph, opts Options, now time.Time) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{
				Errors: []Issue{{
					Code:     CodeException,
					Severity: SeverityError,
					Message:  fmt.Sprintf("flow validation failed: %v", r),
				}},
				Timestamp: now,
			}
		}
	}()

	if opts.MaxNodes <= 0 {
		opts.MaxNodes = DefaultMaxNodes
	}

	var r report
	if len(g.Nodes) == 0 {
		r.fail(CodeEmptyFlow, "", "", "flow has no nodes")
	} else {
		idx := newIndex(g)
		checkBasics(g, idx, opts, &r)
		if opts.ValidateStartNodes {
			checkStartNodes(idx, &r)
		}
		if opts.ValidateEndNodes {
			checkEndNodes(idx, &r)
		}
		if opts.ValidateConnectivity {
			checkConnectivity(idx, &r)
		}
		checkDataFlow(idx, &r)
		checkIsolated(idx, &r)
		checkBranches(idx, &r)
	}
	for _, check := range opts.Checks {
		r.add(check(g))
	}

	return Result{
		IsValid:   len(r.errors) == 0,
		Errors:    r.errors,
		Warnings:  r.warnings,
		Timestamp: now,
	}
}

func checkBasics(g model.FlowGraph, idx *index, opts Options, r *report) {
	if len(g.Nodes) > opts.MaxNodes {
		r.fail(CodeTooManyNodes, "", "", "flow has %d nodes, the limit is %d", len(g.Nodes), opts.MaxNodes)
	}
	for _, e := range g.Edges {
		if e.IsPreview() {
			continue
		}
		if e.SourceNodeID == "" || e.TargetNodeID == "" {
			r.fail(CodeInvalidEdge, "", e.ID, "connection %s is missing an endpoint", e.ID)
			continue
		}
		if _, ok := idx.nodes[e.SourceNodeID]; !ok {
			r.fail(CodeMissingSourceNode, e.SourceNodeID, e.ID, "source node %s of connection %s does not exist", e.SourceNodeID, e.ID)
		}
		if _, ok := idx.nodes[e.TargetNodeID]; !ok {
			r.fail(CodeMissingTargetNode, e.TargetNodeID, e.ID, "target node %s of connection %s does not exist", e.TargetNodeID, e.ID)
		}
	}
}

func checkStartNodes(idx *index, r *report) {
	inputs := idx.ofClass(model.ClassInput)
	if len(inputs) == 0 {
		r.fail(CodeNoInputNodes, "", "", "flow needs at least one start node")
		return
	}
	for _, id := range inputs {
		if len(idx.in[id]) > 0 {
			r.warn(CodeInputHasIncoming, id, "", "start node %s should have no incoming connections", id)
		}
		if len(idx.out[id]) == 0 {
			r.warn(CodeIsolatedInputNode, id, "", "start node %s has no outgoing connection", id)
		}
	}
}

func checkEndNodes(idx *index, r *report) {
	outputs := idx.ofClass(model.ClassOutput)
	if len(outputs) == 0 {
		r.fail(CodeNoOutputNodes, "", "", "flow needs at least one end node")
		return
	}
	for _, id := range outputs {
		if len(idx.out[id]) > 0 {
			r.warn(CodeOutputHasOutgoing, id, "", "end node %s should have no outgoing connections", id)
		}
		if len(idx.in[id]) == 0 {
			r.warn(CodeIsolatedOutputNode, id, "", "end node %s has no incoming connection", id)
		}
	}
}

func checkConnectivity(idx *index, r *report) {
	inputs := idx.ofClass(model.ClassInput)
	outputs := idx.ofClass(model.ClassOutput)
	inputSet := setOf(inputs)
	outputSet := setOf(outputs)

	for _, id := range inputs {
		if !reaches(id, idx.out, outputSet) {
			r.fail(CodeDisconnectedInput, id, "", "start node %s cannot reach any end node", id)
		}
	}
	for _, id := range outputs {
		if !reaches(id, idx.in, inputSet) {
			r.fail(CodeDisconnectedOutput, id, "", "end node %s is not reachable from any start node", id)
		}
	}

	if n := len(idx.components()); n > 1 {
		r.warn(CodeMultipleComponents, "", "", "flow is split into %d unconnected parts", n)
	}
}

func checkDataFlow(idx *index, r *report) {
	for _, e := range idx.edges {
		src, dst := idx.nodes[e.SourceNodeID], idx.nodes[e.TargetNodeID]
		if src.Type.Class() == model.ClassOutput && dst.Type.Class() != model.ClassOutput {
			r.fail(CodeInvalidDataFlow, src.ID, e.ID, "end node %s cannot lead to %s", src.ID, dst.ID)
		}
	}
	for _, id := range idx.order {
		n := idx.nodes[id]
		if n.Type.Class() != model.ClassProcessing {
			continue
		}
		got, want := len(idx.in[id]), n.RequiredInputs()
		if got > 0 && got < want {
			r.warn(CodeInsufficientInputs, id, "", "node %s needs %d incoming connections, has %d", id, want, got)
		}
	}
}

func checkIsolated(idx *index, r *report) {
	for _, id := range idx.order {
		hasIn, hasOut := len(idx.in[id]) > 0, len(idx.out[id]) > 0
		if !hasIn && !hasOut {
			r.warn(CodeIsolatedNode, id, "", "node %s has no connections", id)
			continue
		}
		class := idx.nodes[id].Type.Class()
		if class != model.ClassInput && !hasIn {
			r.warn(CodeNoInputConnection, id, "", "node %s has no incoming connection", id)
		}
		if class != model.ClassOutput && !hasOut {
			r.warn(CodeNoOutputConnection, id, "", "node %s has no outgoing connection", id)
		}
	}
}

func checkBranches(idx *index, r *report) {
	for _, id := range idx.order {
		n := idx.nodes[id]
		if !n.HasBranches() {
			continue
		}
		out := idx.outEdges[id]
		if want := n.ExpectedBranches(); len(out) < want {
			r.warn(CodeIncompleteBranches, id, "", "split node %s expects %d branches, has %d", id, want, len(out))
		}
		for _, e := range out {
			if e.BranchLabel() == "" {
				r.warn(CodeMissingBranchLabel, id, e.ID, "branch connection %s has no label", e.ID)
			}
		}
	}
}

func setOf(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
