package canvas

import (
	"context"

	"github.com/c360/flowcanvas/model"
)

// Engine is the capability set the controller needs from a graph engine
type Engine interface {
	// On subscribes to an engine event and returns the unsubscribe func
	On(event string, fn func(data any)) func()

	AddNode(n model.Node) error
	RemoveNode(id string) error
	MoveNode(id string, to model.Point) error
	HasNode(id string) bool
	Node(id string) (model.Node, bool)
	Nodes() []model.Node

	AddEdge(e model.Edge) error
	RemoveEdge(id string) error
	Edges() []model.Edge

	Select(ids ...string)
	SelectAll()
	Selected() []string
	Copy() int
	Paste() ([]model.Node, error)
	Undo() bool
	Redo() bool

	ClientToLocal(p model.Point) model.Point
	Dispose() error
}

// Container is the host surface the engine renders into
type Container interface {
	IsAttached() bool
}

// EngineFactory builds an engine inside a container
type EngineFactory func(ctx context.Context, c Container) (Engine, error)

// Subsystem is an add-on released when the canvas is destroyed, such as a
// minimap, pan/zoom, overlap manager or the preview line manager.
type Subsystem interface {
	Name() string
	Dispose() error
}

// BinderKind orders binders: every node binder runs before any edge binder,
// and so on through keyboard binders.
type BinderKind int

const (
	BindNode BinderKind = iota
	BindEdge
	BindCanvas
	BindPort
	BindKeyboard
)

// String returns the binder kind name
func (k BinderKind) String() string {
	switch k {
	case BindNode:
		return "node"
	case BindEdge:
		return "edge"
	case BindCanvas:
		return "canvas"
	case BindPort:
		return "port"
	case BindKeyboard:
		return "keyboard"
	default:
		return "unknown"
	}
}

// BindFunc wires handlers to a freshly built engine and returns the func
// that removes them
type BindFunc func(eng Engine) (unbind func(), err error)

type binder struct {
	name string
	kind BinderKind
	fn   BindFunc
}

// AttachedContainer is a Container whose attachment is set by the host
type AttachedContainer struct {
	attached bool
}

// NewAttachedContainer returns a container that reports attached
func NewAttachedContainer() *AttachedContainer {
	return &AttachedContainer{attached: true}
}

// IsAttached reports the last value set
func (c *AttachedContainer) IsAttached() bool {
	return c != nil && c.attached
}

// Detach marks the container as removed from the host
func (c *AttachedContainer) Detach() {
	c.attached = false
}
