// Package geometry converts declarative port specs into absolute canvas
// coordinates and finds snap targets for dragged connection endpoints.
package geometry

import (
	"math"
	"strconv"
	"strings"

	"github.com/c360/flowcanvas/model"
)

// PortSide names the node edge a port sits on
type PortSide string

// Port sides
const (
	SideTop    PortSide = "top"
	SideBottom PortSide = "bottom"
	SideLeft   PortSide = "left"
	SideRight  PortSide = "right"
)

type coordKind int

const (
	coordUnset coordKind = iota
	coordPercent
	coordPixels
)

// Coord is a port offset expressed either as a percentage of the node's
// width/height or as a raw pixel number.
type Coord struct {
	kind  coordKind
	value float64
}

// Percent returns a percentage coordinate (50 means 50%)
func Percent(v float64) Coord { return Coord{kind: coordPercent, value: v} }

// Pixels returns a numeric coordinate
func Pixels(v float64) Coord { return Coord{kind: coordPixels, value: v} }

// ParseCoord accepts "50%" strings and numbers. Anything else is unset.
func ParseCoord(v any) Coord {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if !strings.HasSuffix(s, "%") {
			return Coord{}
		}
		f, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
		if err != nil {
			return Coord{}
		}
		return Percent(f)
	case float64:
		return Pixels(t)
	case float32:
		return Pixels(float64(t))
	case int:
		return Pixels(float64(t))
	case int64:
		return Pixels(float64(t))
	}
	return Coord{}
}

// IsSet reports whether c carries a value
func (c Coord) IsSet() bool { return c.kind != coordUnset }

// PortArgs positions a port relative to its side
type PortArgs struct {
	X  Coord
	Y  Coord
	DX float64
	DY float64
}

// PortSpec is a declarative port position
type PortSpec struct {
	Name PortSide
	Args PortArgs
}

// DefaultPortSpec centres a port on the given side
func DefaultPortSpec(side PortSide) PortSpec {
	switch side {
	case SideLeft, SideRight:
		return PortSpec{Name: side, Args: PortArgs{X: Pixels(0), Y: Percent(50)}}
	default:
		return PortSpec{Name: side, Args: PortArgs{X: Percent(50), Y: Pixels(0)}}
	}
}

// PortPosition returns the absolute coordinate of a port.
//
// Percentages scale by the node's width/height. A numeric x is a pixel
// offset. A numeric y is special: on top ports 0 is the top edge and on
// bottom ports 0 is the bottom edge; any other number is read as a
// percentage of the height clamped to [0, 100]. Unset values fall back to
// the node's position.
func PortPosition(spec PortSpec, pos model.Point, size model.Size) model.Point {
	x := pos.X
	switch spec.Args.X.kind {
	case coordPercent:
		x = pos.X + size.Width*spec.Args.X.value/100
	case coordPixels:
		x = pos.X + spec.Args.X.value
	}

	y := pos.Y
	switch spec.Args.Y.kind {
	case coordPercent:
		y = pos.Y + size.Height*spec.Args.Y.value/100
	case coordPixels:
		v := spec.Args.Y.value
		switch {
		case spec.Name == SideTop && v == 0:
			y = pos.Y
		case spec.Name == SideBottom && v == 0:
			y = pos.Y + size.Height
		default:
			y = pos.Y + size.Height*clamp01(v/100)
		}
	}

	return model.Point{X: x + spec.Args.DX, Y: y + spec.Args.DY}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// Distance returns the euclidean distance between two points
func Distance(a, b model.Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}
