package model

// NodeType identifies what a canvas node does in a marketing journey.
// Unknown values are preserved as-is and classified as ClassUnknown.
type NodeType string

// Known node types
const (
	NodeStart         NodeType = "start"
	NodeEnd           NodeType = "end"
	NodeAudienceSplit NodeType = "audience-split"
	NodeEventSplit    NodeType = "event-split"
	NodeSMS           NodeType = "sms"
	NodeAICall        NodeType = "ai-call"
	NodeManualCall    NodeType = "manual-call"
	NodeABTest        NodeType = "ab-test"
	NodeWait          NodeType = "wait"
)

// KnownNodeTypes lists every node type with a dedicated visitor case
var KnownNodeTypes = []NodeType{
	NodeStart, NodeEnd,
	NodeAudienceSplit, NodeEventSplit,
	NodeSMS, NodeAICall, NodeManualCall, NodeABTest, NodeWait,
}

// TypeClass groups node types by their role in the data flow
type TypeClass int

const (
	// ClassUnknown is used for node types the core does not recognise
	ClassUnknown TypeClass = iota
	// ClassInput nodes start a journey
	ClassInput
	// ClassProcessing nodes sit between input and output
	ClassProcessing
	// ClassOutput nodes terminate a journey
	ClassOutput
)

// String returns the string representation of TypeClass
func (c TypeClass) String() string {
	switch c {
	case ClassInput:
		return "input"
	case ClassProcessing:
		return "processing"
	case ClassOutput:
		return "output"
	default:
		return "unknown"
	}
}

// NodeTypeVisitor has one method per known node type. Adding a node type
// adds a method here, which breaks every visitor until it handles the new
// case.
type NodeTypeVisitor[T any] interface {
	Start() T
	End() T
	AudienceSplit() T
	EventSplit() T
	SMS() T
	AICall() T
	ManualCall() T
	ABTest() T
	Wait() T
	Unknown(t NodeType) T
}

// Visit dispatches t to the matching visitor method
func Visit[T any](t NodeType, v NodeTypeVisitor[T]) T {
	switch t {
	case NodeStart:
		return v.Start()
	case NodeEnd:
		return v.End()
	case NodeAudienceSplit:
		return v.AudienceSplit()
	case NodeEventSplit:
		return v.EventSplit()
	case NodeSMS:
		return v.SMS()
	case NodeAICall:
		return v.AICall()
	case NodeManualCall:
		return v.ManualCall()
	case NodeABTest:
		return v.ABTest()
	case NodeWait:
		return v.Wait()
	default:
		return v.Unknown(t)
	}
}

type classVisitor struct{}

func (classVisitor) Start() TypeClass             { return ClassInput }
func (classVisitor) End() TypeClass               { return ClassOutput }
func (classVisitor) AudienceSplit() TypeClass     { return ClassProcessing }
func (classVisitor) EventSplit() TypeClass        { return ClassProcessing }
func (classVisitor) SMS() TypeClass               { return ClassProcessing }
func (classVisitor) AICall() TypeClass            { return ClassProcessing }
func (classVisitor) ManualCall() TypeClass        { return ClassProcessing }
func (classVisitor) ABTest() TypeClass            { return ClassProcessing }
func (classVisitor) Wait() TypeClass              { return ClassProcessing }
func (classVisitor) Unknown(_ NodeType) TypeClass { return ClassUnknown }

// Class returns the type class of t
func (t NodeType) Class() TypeClass {
	return Visit[TypeClass](t, classVisitor{})
}

// IsSplit reports whether t fans out into labelled branches
func (t NodeType) IsSplit() bool {
	return t == NodeAudienceSplit || t == NodeEventSplit
}

// IsKnown reports whether t has a dedicated visitor case
func (t NodeType) IsKnown() bool {
	for _, k := range KnownNodeTypes {
		if k == t {
			return true
		}
	}
	return false
}
