package previewline

import (
	"github.com/c360/flowcanvas/errors"
	"github.com/c360/flowcanvas/events"
	"github.com/c360/flowcanvas/model"
)

// CreateRequest is one item of BatchCreatePreviewLines
type CreateRequest struct {
	Source  *model.Node
	Target  *model.Node
	Options CreateOptions
}

// BatchError reports a failed batch item
type BatchError struct {
	Index  int    `json:"index"`
	LineID string `json:"lineId,omitempty"`
	Err    error  `json:"-"`
}

// BatchResult holds the lines a batch created or removed and the items that
// failed.
type BatchResult struct {
	Lines  []model.PreviewLine `json:"lines"`
	Errors []BatchError        `json:"errors,omitempty"`
}

func (m *Manager) beginBatch() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.batching {
		return errors.Newf(errors.ErrBusy, "preview line batch already running")
	}
	m.batching = true
	return nil
}

func (m *Manager) endBatch() {
	m.mu.Lock()
	m.batching = false
	m.mu.Unlock()
}

// BatchCreatePreviewLines creates each requested line independently. A
// failing item never stops the batch. A batch started from inside another
// batch, for example by an event listener, returns ErrBusy.
func (m *Manager) BatchCreatePreviewLines(reqs []CreateRequest) (BatchResult, error) {
	if err := m.beginBatch(); err != nil {
		return BatchResult{}, err
	}
	defer m.endBatch()

	var res BatchResult
	for i, req := range reqs {
		pl, err := m.CreatePreviewLine(req.Source, req.Target, req.Options)
		if err != nil {
			res.Errors = append(res.Errors, BatchError{Index: i, Err: err})
			continue
		}
		res.Lines = append(res.Lines, *pl)
	}
	return res, nil
}

// BatchDeletePreviewLines removes each listed line independently
func (m *Manager) BatchDeletePreviewLines(ids []string) (BatchResult, error) {
	if err := m.beginBatch(); err != nil {
		return BatchResult{}, err
	}
	defer m.endBatch()

	var res BatchResult
	for i, id := range ids {
		pl, err := m.RemovePreviewLine(id)
		if err != nil {
			res.Errors = append(res.Errors, BatchError{Index: i, LineID: id, Err: err})
			continue
		}
		res.Lines = append(res.Lines, pl)
	}
	return res, nil
}

// Load replaces every line with lines, keeping their ids. Lines whose nodes
// are missing from the graph, or that collide with an earlier line, are
// reported as errors and skipped.
func (m *Manager) Load(lines []model.PreviewLine) BatchResult {
	m.ClearAll()

	var res BatchResult
	for i, pl := range lines {
		ev := ErrorEvent{Operation: "load", LineID: pl.ID, SourceNode: pl.SourceID, TargetNode: pl.TargetID}
		if err := m.checkLoaded(pl); err != nil {
			res.Errors = append(res.Errors, BatchError{Index: i, LineID: pl.ID, Err: m.fail(ev, err)})
			continue
		}
		pl.IsPreview = true
		pl.Timeout = 0

		m.mu.Lock()
		l, limit, err := m.reserveLocked(pl)
		m.mu.Unlock()
		if err != nil {
			if limit != nil {
				m.emit(events.EventLimitExceeded, *limit)
			}
			res.Errors = append(res.Errors, BatchError{Index: i, LineID: pl.ID, Err: m.fail(ev, err)})
			continue
		}
		if !pl.InProgress() {
			m.addVisual(l)
		}
		res.Lines = append(res.Lines, pl)
	}
	m.metrics.RecordPreviewLines(m.Count())
	return res
}

func (m *Manager) checkLoaded(pl model.PreviewLine) error {
	if pl.ID == "" || pl.SourceID == "" {
		return errors.Newf(errors.ErrInvalidArgument, "preview line needs an id and a source")
	}
	if _, exists := m.Get(pl.ID); exists {
		return errors.Newf(errors.ErrDuplicatePreviewLine, "preview line id %s repeated", pl.ID)
	}
	g, err := m.currentGraph()
	if err != nil {
		return err
	}
	for _, id := range []string{pl.SourceID, pl.TargetID} {
		if id != "" && !g.HasNode(id) {
			return errors.Newf(errors.ErrNodeNotFound, "node %s is not in the graph", id)
		}
	}
	return nil
}

// AttachTo clears a node's lines whenever em announces node:removed.
// Attaching again moves the subscription to em.
func (m *Manager) AttachTo(em *events.Manager) error {
	m.Detach()

	id, err := em.On(events.EventNodeRemoved, func(e events.Event) error {
		nodeID := nodeIDFrom(e.Data)
		if nodeID == "" {
			return errors.Newf(errors.ErrInvalidArgument, "node:removed payload %T has no node id", e.Data)
		}
		m.ClearPreviewLinesForNode(nodeID)
		return nil
	}, events.WithPriority(10))
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.attached = em
	m.listener = id
	m.mu.Unlock()
	return nil
}

// Detach removes the node:removed subscription
func (m *Manager) Detach() {
	m.mu.Lock()
	em, id := m.attached, m.listener
	m.attached, m.listener = nil, ""
	m.mu.Unlock()

	if em != nil {
		em.Off(events.EventNodeRemoved, id)
	}
}

// Dispose detaches from events and removes every line
func (m *Manager) Dispose() error {
	m.Detach()
	m.ClearAll()
	return nil
}

// Name identifies the manager as a canvas subsystem
func (m *Manager) Name() string {
	return "previewline"
}

func nodeIDFrom(data any) string {
	switch v := data.(type) {
	case string:
		return v
	case model.Node:
		return v.ID
	case *model.Node:
		if v != nil {
			return v.ID
		}
	case map[string]any:
		if id, ok := v["id"].(string); ok {
			return id
		}
		if id, ok := v["nodeId"].(string); ok {
			return id
		}
	}
	return ""
}
