package canvas

import (
	"strings"

	"github.com/c360/flowcanvas/events"
)

// FocusTarget describes the element that had focus when a key was pressed
type FocusTarget struct {
	Tag             string `json:"tag,omitempty"`
	ContentEditable bool   `json:"contentEditable,omitempty"`
}

// editable reports whether keystrokes belong to a text field
func (t FocusTarget) editable() bool {
	if t.ContentEditable {
		return true
	}
	switch strings.ToLower(t.Tag) {
	case "input", "textarea", "select":
		return true
	}
	return false
}

// KeyEvent is a keydown forwarded from the host
type KeyEvent struct {
	Key    string      `json:"key"`
	Ctrl   bool        `json:"ctrl,omitempty"`
	Meta   bool        `json:"meta,omitempty"`
	Shift  bool        `json:"shift,omitempty"`
	Alt    bool        `json:"alt,omitempty"`
	Target FocusTarget `json:"target"`
}

func (k KeyEvent) modifier() bool {
	return k.Ctrl || k.Meta
}

// DeleteRequest is the payload of node-delete-requested
type DeleteRequest struct {
	NodeID string `json:"nodeId"`
}

// HandleKeydown applies canvas shortcuts and reports whether the key was
// consumed. Keys typed into text fields are never consumed.
//
//	Delete, Backspace   remove selected nodes that are not protected
//	Ctrl/Cmd+Z          undo
//	Ctrl/Cmd+Shift+Z, Y redo
//	Ctrl/Cmd+A          select all
//	Ctrl/Cmd+C, V       copy, paste
//	Ctrl/Cmd+Shift+D    log diagnostics
func (c *Controller) HandleKeydown(k KeyEvent) bool {
	if k.Target.editable() {
		return false
	}
	eng, err := c.Engine()
	if err != nil {
		return false
	}

	key := strings.ToLower(k.Key)
	if key == "delete" || key == "backspace" {
		return c.deleteSelection(eng)
	}
	if !k.modifier() {
		return false
	}

	switch key {
	case "z":
		if k.Shift {
			return eng.Redo()
		}
		return eng.Undo()
	case "y":
		return eng.Redo()
	case "a":
		eng.SelectAll()
		return true
	case "c":
		return eng.Copy() > 0
	case "v":
		pasted, err := eng.Paste()
		if err != nil {
			c.logger.Debug("paste skipped", "error", err)
			return false
		}
		return len(pasted) > 0
	case "d":
		if !k.Shift {
			return false
		}
		c.diag.Dump(c.logger)
		return true
	}
	return false
}

func (c *Controller) deleteSelection(eng Engine) bool {
	removed := 0
	for _, id := range eng.Selected() {
		n, ok := eng.Node(id)
		if !ok || n.Protected {
			continue
		}
		if c.events != nil {
			c.events.Emit(events.EventNodeDeleteRequest, DeleteRequest{NodeID: id})
		}
		if err := eng.RemoveNode(id); err != nil {
			c.logger.Warn("delete selected node failed", "node_id", id, "error", err)
			c.diag.RecordError("delete", err)
			continue
		}
		removed++
	}
	return removed > 0
}
