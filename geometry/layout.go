package geometry

import "github.com/c360/flowcanvas/model"

// Direction is the main axis along which a layout grows
type Direction string

// Layout directions
const (
	TopToBottom Direction = "TB"
	LeftToRight Direction = "LR"
)

// LayoutConfig holds spacing rules for automatic node placement. It is a
// value type: the With* methods return modified copies.
type LayoutConfig struct {
	direction    Direction
	nodeSpacing  float64
	layerSpacing float64
}

// HierarchicalLayout is the default top-to-bottom layout
func HierarchicalLayout() LayoutConfig {
	return LayoutConfig{direction: TopToBottom, nodeSpacing: 80, layerSpacing: 120}
}

// HorizontalLayout grows left to right
func HorizontalLayout() LayoutConfig {
	return LayoutConfig{direction: LeftToRight, nodeSpacing: 100, layerSpacing: 150}
}

// VerticalLayout is a compact top-to-bottom layout
func VerticalLayout() LayoutConfig {
	return LayoutConfig{direction: TopToBottom, nodeSpacing: 60, layerSpacing: 100}
}

// Direction returns the layout direction
func (c LayoutConfig) Direction() Direction { return c.direction }

// NodeSpacing returns the gap between siblings
func (c LayoutConfig) NodeSpacing() float64 { return c.nodeSpacing }

// LayerSpacing returns the gap between a parent and its children
func (c LayoutConfig) LayerSpacing() float64 { return c.layerSpacing }

// WithSpacing returns a copy of c with new spacings
func (c LayoutConfig) WithSpacing(node, layer float64) LayoutConfig {
	c.nodeSpacing = node
	c.layerSpacing = layer
	return c
}

// WithDirection returns a copy of c with a new direction
func (c LayoutConfig) WithDirection(d Direction) LayoutConfig {
	c.direction = d
	return c
}

// ChildPosition places the index-th of count children of parent so that the
// row of children is centred on the parent.
func ChildPosition(parent model.Node, child model.Size, index, count int, cfg LayoutConfig) model.Point {
	if count < 1 {
		count = 1
	}
	if child.Width <= 0 || child.Height <= 0 {
		child = model.DefaultSize
	}
	pb := parent.Bounds()

	if cfg.direction == LeftToRight {
		span := float64(count)*child.Height + float64(count-1)*cfg.nodeSpacing
		top := parent.Position.Y + pb.Height/2 - span/2
		return model.Point{
			X: parent.Position.X + pb.Width + cfg.layerSpacing,
			Y: top + float64(index)*(child.Height+cfg.nodeSpacing),
		}
	}

	span := float64(count)*child.Width + float64(count-1)*cfg.nodeSpacing
	left := parent.Position.X + pb.Width/2 - span/2
	return model.Point{
		X: left + float64(index)*(child.Width+cfg.nodeSpacing),
		Y: parent.Position.Y + pb.Height + cfg.layerSpacing,
	}
}
