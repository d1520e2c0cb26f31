package validator

import "time"

// Severity separates blocking errors from advisory warnings
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Code identifies the rule an issue comes from
type Code string

const (
	CodeEmptyFlow          Code = "EMPTY_FLOW"
	CodeTooManyNodes       Code = "TOO_MANY_NODES"
	CodeInvalidEdge        Code = "INVALID_EDGE"
	CodeMissingSourceNode  Code = "MISSING_SOURCE_NODE"
	CodeMissingTargetNode  Code = "MISSING_TARGET_NODE"
	CodeNoInputNodes       Code = "NO_INPUT_NODES"
	CodeInputHasIncoming   Code = "INPUT_NODE_HAS_INCOMING"
	CodeIsolatedInputNode  Code = "ISOLATED_INPUT_NODE"
	CodeNoOutputNodes      Code = "NO_OUTPUT_NODES"
	CodeOutputHasOutgoing  Code = "OUTPUT_NODE_HAS_OUTGOING"
	CodeIsolatedOutputNode Code = "ISOLATED_OUTPUT_NODE"
	CodeDisconnectedInput  Code = "DISCONNECTED_INPUT"
	CodeDisconnectedOutput Code = "DISCONNECTED_OUTPUT"
	CodeMultipleComponents Code = "MULTIPLE_COMPONENTS"
	CodeInvalidDataFlow    Code = "INVALID_DATA_FLOW"
	CodeInsufficientInputs Code = "INSUFFICIENT_INPUTS"
	CodeIsolatedNode       Code = "ISOLATED_NODE"
	CodeNoInputConnection  Code = "NO_INPUT_CONNECTION"
	CodeNoOutputConnection Code = "NO_OUTPUT_CONNECTION"
	CodeIncompleteBranches Code = "INCOMPLETE_BRANCHES"
	CodeMissingBranchLabel Code = "MISSING_BRANCH_LABEL"
	CodeException          Code = "FLOW_VALIDATION_EXCEPTION"
)

// Issue is one finding of a validation pass
type Issue struct {
	Code     Code     `json:"type"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	NodeID   string   `json:"nodeId,omitempty"`
	EdgeID   string   `json:"edgeId,omitempty"`
}

// Result is returned by every validation pass. Issues are data; a pass
// never fails with an error.
type Result struct {
	IsValid   bool      `json:"isValid"`
	Errors    []Issue   `json:"errors"`
	Warnings  []Issue   `json:"warnings"`
	Timestamp time.Time `json:"timestamp"`
}

// Issues returns errors followed by warnings
func (r Result) Issues() []Issue {
	out := make([]Issue, 0, len(r.Errors)+len(r.Warnings))
	out = append(out, r.Errors...)
	return append(out, r.Warnings...)
}

// Has reports whether any issue carries code
func (r Result) Has(code Code) bool {
	return r.Count(code) > 0
}

// Count returns how many issues carry code
func (r Result) Count(code Code) int {
	n := 0
	for _, is := range r.Issues() {
		if is.Code == code {
			n++
		}
	}
	return n
}

// ForNode returns the issues that reference nodeID
func (r Result) ForNode(nodeID string) []Issue {
	var out []Issue
	for _, is := range r.Issues() {
		if is.NodeID == nodeID {
			out = append(out, is)
		}
	}
	return out
}

// tally counts issues by code and severity for metrics
func (r Result) tally() map[[2]string]int {
	counts := make(map[[2]string]int)
	for _, is := range r.Issues() {
		counts[[2]string{string(is.Code), string(is.Severity)}]++
	}
	return counts
}
