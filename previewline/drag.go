package previewline

import (
	"github.com/c360/flowcanvas/errors"
	"github.com/c360/flowcanvas/geometry"
	"github.com/c360/flowcanvas/model"
)

// StartDrag opens an in-progress line from the out port of source nearest
// pointer. The line's free end then follows the pointer. The argument, existence, limit and duplicate
// checks of CreatePreviewLine apply.
func (m *Manager) StartDrag(source *model.Node, branchID string, pointer model.Point) (*model.PreviewLine, error) {
	m.countOperation()

	ev := ErrorEvent{Operation: "drag_start"}
	if source != nil {
		ev.SourceNode = source.ID
	}
	if err := checkArg(source, "source"); err != nil {
		return nil, m.fail(ev, err)
	}
	src, err := m.resolve(source, "source")
	if err != nil {
		return nil, m.fail(ev, err)
	}

	start := geometry.OutputPoint(src)
	if _, at, _, ok := geometry.NearestOutPort(src, pointer); ok {
		start = at
	}

	now := m.clock.Now()
	_, timeout := m.tuning()
	pl := model.PreviewLine{
		ID:         newLineID(now),
		SourceID:   src.ID,
		StartPoint: start,
		EndPoint:   pointer,
		BranchID:   branchID,
		IsPreview:  true,
		Created:    now,
		Timeout:    timeout,
	}
	out, err := m.register(pl, ev)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if l, ok := m.lines[out.ID]; ok {
		l.dragging = true
	}
	m.mu.Unlock()
	return out, nil
}

// UpdateDrag moves the free end of an in-progress line to pointer and
// reports the snap target, if any. A snapped line's end point sits on the
// target's input port.
func (m *Manager) UpdateDrag(lineID string, pointer model.Point) (geometry.SnapResult, error) {
	m.mu.Lock()
	l, ok := m.lines[lineID]
	if !ok || !l.dragging {
		m.mu.Unlock()
		return geometry.SnapResult{}, errors.Newf(errors.ErrNotFound, "no drag in progress for line %s", lineID)
	}
	source, threshold := l.SourceID, m.snapThreshold
	m.mu.Unlock()

	g, err := m.currentGraph()
	if err != nil {
		return geometry.SnapResult{}, err
	}
	snap := geometry.FindSnapTarget(pointer, g.Nodes(), threshold, source)

	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.lines[lineID]; !ok || current != l {
		return geometry.SnapResult{}, errors.Newf(errors.ErrNotFound, "preview line %s", lineID)
	}
	l.snapped = snap
	if snap.Snapped {
		l.EndPoint = snap.Point
	} else {
		l.EndPoint = pointer
	}
	return snap, nil
}

// EndDrag releases the line at pointer. Released over a snap target, the
// line becomes a real edge, which is returned. Released elsewhere, the line
// is discarded and EndDrag returns nil, nil.
func (m *Manager) EndDrag(lineID string, pointer model.Point) (*model.Edge, error) {
	snap, err := m.UpdateDrag(lineID, pointer)
	if err != nil {
		return nil, err
	}
	m.countOperation()

	if !snap.Snapped {
		if _, err := m.RemovePreviewLine(lineID); err != nil {
			return nil, err
		}
		return nil, nil
	}

	ev := ErrorEvent{Operation: "drag_end", LineID: lineID, TargetNode: snap.NodeID}

	m.mu.Lock()
	l, ok := m.lines[lineID]
	if !ok {
		m.mu.Unlock()
		return nil, m.fail(ev, errors.Newf(errors.ErrNotFound, "preview line %s", lineID))
	}
	ev.SourceNode = l.SourceID
	pl := l.PreviewLine
	pl.TargetID = snap.NodeID
	l.dragging = false
	m.mu.Unlock()

	return m.convert(l, pl, ev)
}
