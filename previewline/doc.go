// Package previewline manages preview lines: dashed, unconfirmed
// connections drawn from a node's output port before the user commits them.
//
// A Manager enforces at most one line per (source, target, branch) triple,
// an optional cap on live lines, and per-line timeouts driven by an
// injectable clock. Lines with a target are mirrored into the graph engine
// as edges flagged with model.PreviewEdgeKey so the engine can draw them;
// failures on that visual side are counted in Stats and never undo the
// logical operation.
//
// Creation rejections are returned as errors wrapping the canvas sentinels
// (ErrInvalidArgument, ErrNodeNotFound, ErrLimitExceeded, ErrSelfLoop and
// ErrDuplicatePreviewLine, checked in that order) and are also announced as
// preview-error events. Hitting the cap emits limit-exceeded as well.
//
// The drag protocol is StartDrag, UpdateDrag on every pointer move, then
// EndDrag. While dragging, the free end snaps to the nearest input port of a
// configured node within the snap threshold; releasing on a snap target
// converts the line into a real edge.
//
// Call AttachTo with the canvas event manager so lines are cleared when
// their nodes are removed.
package previewline
