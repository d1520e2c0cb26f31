package geometry

import (
	"fmt"

	"github.com/c360/flowcanvas/model"
)

// PortDirection tells whether edges enter or leave through a port
type PortDirection string

// Port directions
const (
	PortIn  PortDirection = "in"
	PortOut PortDirection = "out"
)

// Port is a named attachment point on a node
type Port struct {
	ID        string
	Direction PortDirection
	Spec      PortSpec
}

// Well-known port ids
const (
	InPortID  = "in"
	OutPortID = "out"
)

var (
	inPort  = Port{ID: InPortID, Direction: PortIn, Spec: DefaultPortSpec(SideTop)}
	outPort = Port{ID: OutPortID, Direction: PortOut, Spec: DefaultPortSpec(SideBottom)}
)

// portsVisitor decides the port layout of each node type
type portsVisitor struct {
	node model.Node
}

func (v portsVisitor) Start() []Port         { return []Port{outPort} }
func (v portsVisitor) End() []Port           { return []Port{inPort} }
func (v portsVisitor) AudienceSplit() []Port { return v.split() }
func (v portsVisitor) EventSplit() []Port    { return v.split() }
func (v portsVisitor) SMS() []Port           { return []Port{inPort, outPort} }
func (v portsVisitor) AICall() []Port        { return []Port{inPort, outPort} }
func (v portsVisitor) ManualCall() []Port    { return []Port{inPort, outPort} }
func (v portsVisitor) ABTest() []Port        { return v.split() }
func (v portsVisitor) Wait() []Port          { return []Port{inPort, outPort} }

func (v portsVisitor) Unknown(_ model.NodeType) []Port {
	if v.node.HasBranches() {
		return v.split()
	}
	return []Port{inPort, outPort}
}

// split spreads one out port per expected branch evenly along the bottom edge
func (v portsVisitor) split() []Port {
	n := v.node.ExpectedBranches()
	if n < 1 {
		n = 1
	}
	ports := make([]Port, 0, n+1)
	ports = append(ports, inPort)
	for i := 0; i < n; i++ {
		pct := float64(i+1) * 100 / float64(n+1)
		ports = append(ports, Port{
			ID:        fmt.Sprintf("%s-%d", OutPortID, i),
			Direction: PortOut,
			Spec:      PortSpec{Name: SideBottom, Args: PortArgs{X: Percent(pct), Y: Pixels(0)}},
		})
	}
	return ports
}

// NodePorts returns the ports of node in declaration order
func NodePorts(node model.Node) []Port {
	return model.Visit[[]Port](node.Type, portsVisitor{node: node})
}

// PortPoint returns the absolute position of one of node's ports
func PortPoint(node model.Node, port Port) model.Point {
	return PortPosition(port.Spec, node.Position, node.Bounds())
}

// FindPort looks up a port by id
func FindPort(node model.Node, id string) (Port, bool) {
	for _, p := range NodePorts(node) {
		if p.ID == id {
			return p, true
		}
	}
	return Port{}, false
}

// OutputPoint returns where a preview line leaves node: the first out port,
// or the bottom centre for nodes without one.
func OutputPoint(node model.Node) model.Point {
	for _, p := range NodePorts(node) {
		if p.Direction == PortOut {
			return PortPoint(node, p)
		}
	}
	return PortPosition(DefaultPortSpec(SideBottom), node.Position, node.Bounds())
}

// InputPoint returns where an edge enters node: the in port at top centre
func InputPoint(node model.Node) model.Point {
	return PortPosition(inPort.Spec, node.Position, node.Bounds())
}
