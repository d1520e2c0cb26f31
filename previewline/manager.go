package previewline

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360/flowcanvas/errors"
	"github.com/c360/flowcanvas/events"
	"github.com/c360/flowcanvas/geometry"
	"github.com/c360/flowcanvas/metric"
	"github.com/c360/flowcanvas/model"
	"github.com/c360/flowcanvas/scheduler"
)

// Graph is the part of the graph engine preview lines need. Preview lines
// with a target are mirrored as edges flagged with model.PreviewEdgeKey.
type Graph interface {
	HasNode(id string) bool
	Node(id string) (model.Node, bool)
	Nodes() []model.Node
	AddEdge(e model.Edge) error
	RemoveEdge(id string) error
}

// Options configures a Manager
type Options struct {
	// MaxLines caps the number of live preview lines; 0 means unlimited
	MaxLines int
	// SnapThreshold is the drag snap distance in pixels
	SnapThreshold float64
	// DefaultTimeout applies to lines created without their own timeout
	DefaultTimeout time.Duration

	Clock   scheduler.Clock
	Events  *events.Manager
	Logger  *slog.Logger
	Metrics *metric.Metrics
}

// CreateOptions are per-line settings
type CreateOptions struct {
	BranchID string
	Timeout  time.Duration
	// SourcePort is the out port the line leaves from; empty means the
	// source's first out port
	SourcePort string
}

// Stats summarizes the manager for diagnostics
type Stats struct {
	Total                 int    `json:"total"`
	NodeCount             int    `json:"nodeCount"`
	ErrorCount            int    `json:"errorCount"`
	LastError             string `json:"lastError,omitempty"`
	OperationCount        int    `json:"operationCount"`
	VisualRemovalFailures int    `json:"visualRemovalFailures"`
	VisualAddFailures     int    `json:"visualAddFailures"`
}

// LimitEvent is the payload of limit-exceeded
type LimitEvent struct {
	Limit   int `json:"limit"`
	Current int `json:"current"`
}

// ErrorEvent is the payload of preview-error
type ErrorEvent struct {
	Operation  string `json:"operation"`
	Error      string `json:"error"`
	Kind       string `json:"kind,omitempty"`
	SourceNode string `json:"sourceNode,omitempty"`
	TargetNode string `json:"targetNode,omitempty"`
	LineID     string `json:"lineId,omitempty"`
}

// ConvertedEvent is the payload of preview-converted
type ConvertedEvent struct {
	LineID string     `json:"lineId"`
	Edge   model.Edge `json:"edge"`
}

// Visual attributes of preview edges
var previewStyle = map[string]any{
	"stroke":          "#ff6b6b",
	"strokeWidth":     2,
	"strokeDasharray": "5,5",
}

type line struct {
	model.PreviewLine
	timer    scheduler.Timer
	visual   bool
	snapped  geometry.SnapResult
	dragging bool
}

type lineKey struct {
	source, target, branch string
}

// Manager owns preview lines: provisional connections drawn from a node's
// output port until they are confirmed, discarded or time out.
type Manager struct {
	graph          Graph
	maxLines       int
	snapThreshold  float64
	defaultTimeout time.Duration
	clock          scheduler.Clock
	events         *events.Manager
	logger         *slog.Logger
	metrics        *metric.Metrics

	mu       sync.Mutex
	lines    map[string]*line
	keys     map[lineKey]string
	bySource map[string]int

	errorCount     int
	lastError      error
	operationCount int
	visualFailures int
	addFailures    int

	batching bool
	listener events.ListenerID
	attached *events.Manager
}

// NewManager creates a preview line manager over graph. graph may be nil
// when the manager is bound to each new engine through Bind.
func NewManager(graph Graph, opts Options) *Manager {
	if opts.SnapThreshold <= 0 {
		opts.SnapThreshold = geometry.DefaultSnapThreshold
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{
		graph:          graph,
		maxLines:       opts.MaxLines,
		snapThreshold:  opts.SnapThreshold,
		defaultTimeout: opts.DefaultTimeout,
		clock:          scheduler.OrReal(opts.Clock),
		events:         opts.Events,
		logger:         opts.Logger.With("component", "previewline"),
		metrics:        opts.Metrics,
		lines:          make(map[string]*line),
		keys:           make(map[lineKey]string),
		bySource:       make(map[string]int),
	}
}

// Configure replaces the line limit, snap threshold and default timeout.
// Existing lines keep their timers; a lower limit only blocks new lines.
func (m *Manager) Configure(maxLines int, snapThreshold float64, defaultTimeout time.Duration) {
	if snapThreshold <= 0 {
		snapThreshold = geometry.DefaultSnapThreshold
	}
	m.mu.Lock()
	m.maxLines = maxLines
	m.snapThreshold = snapThreshold
	m.defaultTimeout = defaultTimeout
	m.mu.Unlock()
	m.logger.Info("preview settings changed", "max_lines", maxLines, "snap_threshold", snapThreshold, "default_timeout", defaultTimeout)
}

func (m *Manager) tuning() (float64, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapThreshold, m.defaultTimeout
}

func (m *Manager) emit(name string, data any) {
	if m.events != nil {
		m.events.Emit(name, data)
	}
}

// fail records err for Stats and announces it as preview-error
func (m *Manager) fail(ev ErrorEvent, err error) error {
	m.mu.Lock()
	m.errorCount++
	m.lastError = err
	m.mu.Unlock()

	ev.Error = err.Error()
	ev.Kind = errors.Kind(err)
	result := ev.Kind
	if result == "" {
		result = "error"
	}
	m.logger.Debug("preview line operation failed", "operation", ev.Operation, "error", err)
	m.metrics.RecordPreviewOperation(ev.Operation, result)
	m.emit(events.EventPreviewError, ev)
	return err
}

func (m *Manager) succeed(operation string) {
	m.metrics.RecordPreviewOperation(operation, "ok")
	m.metrics.RecordPreviewLines(m.Count())
}

func (m *Manager) countOperation() {
	m.mu.Lock()
	m.operationCount++
	m.mu.Unlock()
}

func newLineID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("preview-%d-%s", now.UnixMilli(), suffix)
}

func checkArg(n *model.Node, role string) error {
	if n == nil || n.ID == "" {
		return errors.Newf(errors.ErrInvalidArgument, "%s node must have an id", role)
	}
	return nil
}

// Bind points the manager at graph and moves its node:removed subscription
// to em. The returned func detaches it again. Lines of a previous graph
// are expected to be gone already, which Dispose ensures.
func (m *Manager) Bind(graph Graph, em *events.Manager) (func(), error) {
	m.mu.Lock()
	m.graph = graph
	m.mu.Unlock()
	if em == nil {
		return m.Detach, nil
	}
	if err := m.AttachTo(em); err != nil {
		return nil, err
	}
	return m.Detach, nil
}

// currentGraph returns the bound graph
func (m *Manager) currentGraph() (Graph, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.graph == nil {
		return nil, errors.Newf(errors.ErrNotReady, "preview lines are not bound to a graph")
	}
	return m.graph, nil
}

// resolve returns the graph's copy of n
func (m *Manager) resolve(n *model.Node, role string) (model.Node, error) {
	g, err := m.currentGraph()
	if err != nil {
		return model.Node{}, err
	}
	if !g.HasNode(n.ID) {
		return model.Node{}, errors.Newf(errors.ErrNodeNotFound, "%s node %s is not in the graph", role, n.ID)
	}
	if stored, ok := g.Node(n.ID); ok {
		return stored, nil
	}
	return *n, nil
}

// reserveLocked applies the limit and duplicate checks and registers pl
func (m *Manager) reserveLocked(pl model.PreviewLine) (*line, *LimitEvent, error) {
	if m.maxLines > 0 && len(m.lines) >= m.maxLines {
		return nil, &LimitEvent{Limit: m.maxLines, Current: len(m.lines)},
			errors.Newf(errors.ErrLimitExceeded, "preview line limit %d reached", m.maxLines)
	}
	if pl.TargetID != "" && pl.SourceID == pl.TargetID {
		return nil, nil, errors.Newf(errors.ErrSelfLoop, "node %s cannot connect to itself", pl.SourceID)
	}
	key := lineKey{pl.SourceID, pl.TargetID, pl.BranchID}
	if existing, ok := m.keys[key]; ok {
		return nil, nil, errors.Newf(errors.ErrDuplicatePreviewLine, "line %s already connects %s to %q", existing, pl.SourceID, pl.TargetID)
	}

	l := &line{PreviewLine: pl}
	m.lines[pl.ID] = l
	m.keys[key] = pl.ID
	m.bySource[pl.SourceID]++
	return l, nil, nil
}

// CreatePreviewLine draws a provisional connection from source to target.
// Rejections are returned as errors and also emitted as preview-error; the
// limit rejection additionally emits limit-exceeded.
func (m *Manager) CreatePreviewLine(source, target *model.Node, opts CreateOptions) (*model.PreviewLine, error) {
	m.countOperation()

	ev := ErrorEvent{Operation: "create"}
	if source != nil {
		ev.SourceNode = source.ID
	}
	if target != nil {
		ev.TargetNode = target.ID
	}

	if err := checkArg(source, "source"); err != nil {
		return nil, m.fail(ev, err)
	}
	if err := checkArg(target, "target"); err != nil {
		return nil, m.fail(ev, err)
	}
	src, err := m.resolve(source, "source")
	if err != nil {
		return nil, m.fail(ev, err)
	}
	dst, err := m.resolve(target, "target")
	if err != nil {
		return nil, m.fail(ev, err)
	}
	start, err := startPoint(src, opts.SourcePort)
	if err != nil {
		return nil, m.fail(ev, err)
	}

	now := m.clock.Now()
	timeout := opts.Timeout
	if timeout <= 0 {
		_, timeout = m.tuning()
	}
	pl := model.PreviewLine{
		ID:         newLineID(now),
		SourceID:   src.ID,
		TargetID:   dst.ID,
		StartPoint: start,
		EndPoint:   geometry.InputPoint(dst),
		BranchID:   opts.BranchID,
		IsPreview:  true,
		Created:    now,
		Timeout:    timeout,
	}

	return m.register(pl, ev)
}

// startPoint is where a line leaves src: the named out port, or the first
// one when port is empty
func startPoint(src model.Node, port string) (model.Point, error) {
	if port == "" {
		return geometry.OutputPoint(src), nil
	}
	p, ok := geometry.FindPort(src, port)
	if !ok || p.Direction != geometry.PortOut {
		return model.Point{}, errors.Newf(errors.ErrInvalidArgument, "node %s has no out port %q", src.ID, port)
	}
	return geometry.PortPoint(src, p), nil
}

// sourcePort names the out port nearest the line's start point
func sourcePort(g Graph, pl model.PreviewLine) string {
	if n, ok := g.Node(pl.SourceID); ok {
		if p, _, _, found := geometry.NearestOutPort(n, pl.StartPoint); found {
			return p.ID
		}
	}
	return geometry.OutPortID
}

func (m *Manager) register(pl model.PreviewLine, ev ErrorEvent) (*model.PreviewLine, error) {
	m.mu.Lock()
	l, limit, err := m.reserveLocked(pl)
	m.mu.Unlock()
	if err != nil {
		if limit != nil {
			m.emit(events.EventLimitExceeded, *limit)
		}
		return nil, m.fail(ev, err)
	}

	if pl.TargetID != "" {
		m.addVisual(l)
	}
	if pl.Timeout > 0 {
		id := pl.ID
		timer := m.clock.AfterFunc(pl.Timeout, func() { m.expire(id) })
		m.mu.Lock()
		if current, ok := m.lines[id]; ok && current == l {
			l.timer = timer
		} else {
			timer.Stop()
		}
		m.mu.Unlock()
	}

	m.logger.Debug("preview line created", "line_id", pl.ID, "source", pl.SourceID, "target", pl.TargetID)
	m.succeed("create")
	m.emit(events.EventPreviewCreated, pl)
	out := pl
	return &out, nil
}

func (m *Manager) addVisual(l *line) {
	g, err := m.currentGraph()
	if err == nil {
		err = g.AddEdge(model.Edge{
			ID:           l.ID,
			SourceNodeID: l.SourceID,
			TargetNodeID: l.TargetID,
			SourcePortID: sourcePort(g, l.PreviewLine),
			TargetPortID: geometry.InPortID,
			BranchID:     l.BranchID,
			Data: map[string]any{
				model.PreviewEdgeKey: true,
				"type":               "preview-line",
				"style":              previewStyle,
			},
		})
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.addFailures++
		m.logger.Warn("preview edge not drawn", "line_id", l.ID, "error", err)
		return
	}
	l.visual = true
}

// expire removes a line whose timeout elapsed, if it still exists
func (m *Manager) expire(id string) {
	m.mu.Lock()
	l, ok := m.lines[id]
	if ok {
		l.timer = nil
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	if _, err := m.RemovePreviewLine(id); err == nil {
		m.logger.Debug("preview line timed out", "line_id", id)
	}
}

// unregisterLocked drops l from the indices and stops its timer
func (m *Manager) unregisterLocked(l *line) {
	delete(m.lines, l.ID)
	delete(m.keys, lineKey{l.SourceID, l.TargetID, l.BranchID})
	if m.bySource[l.SourceID]--; m.bySource[l.SourceID] <= 0 {
		delete(m.bySource, l.SourceID)
	}
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}

// removeVisual best-effort deletes the mirrored edge. An edge the graph
// already dropped, for example by cascading a node removal, is not a
// failure.
func (m *Manager) removeVisual(l *line) bool {
	if !l.visual {
		return true
	}
	g, err := m.currentGraph()
	if err == nil {
		err = g.RemoveEdge(l.ID)
	}
	if err == nil || stderrors.Is(err, errors.ErrNotFound) {
		return true
	}
	m.mu.Lock()
	m.visualFailures++
	m.mu.Unlock()
	m.logger.Warn("preview edge removal failed", "line_id", l.ID, "error", err)
	return false
}

// RemovePreviewLine deletes a line. The line is gone even when removing its
// visual edge fails.
func (m *Manager) RemovePreviewLine(id string) (model.PreviewLine, error) {
	m.countOperation()
	ev := ErrorEvent{Operation: "delete", LineID: id}
	if strings.TrimSpace(id) == "" {
		return model.PreviewLine{}, m.fail(ev, errors.Newf(errors.ErrNotFound, "preview line id is empty"))
	}

	m.mu.Lock()
	l, ok := m.lines[id]
	if !ok {
		m.mu.Unlock()
		return model.PreviewLine{}, m.fail(ev, errors.Newf(errors.ErrNotFound, "preview line %s", id))
	}
	m.unregisterLocked(l)
	m.mu.Unlock()

	m.removeVisual(l)
	m.succeed("delete")
	m.emit(events.EventPreviewDeleted, l.PreviewLine)
	return l.PreviewLine, nil
}

// ConvertPreviewToConnection replaces a line with a real edge carrying its
// source, target and branch. The line survives if the edge cannot be added.
func (m *Manager) ConvertPreviewToConnection(id string) (*model.Edge, error) {
	m.countOperation()
	ev := ErrorEvent{Operation: "convert", LineID: id}

	m.mu.Lock()
	l, ok := m.lines[id]
	if !ok {
		m.mu.Unlock()
		return nil, m.fail(ev, errors.Newf(errors.ErrNotFound, "preview line %s", id))
	}
	if l.InProgress() {
		m.mu.Unlock()
		return nil, m.fail(ev, errors.Newf(errors.ErrInvalidArgument, "preview line %s has no target", id))
	}
	pl := l.PreviewLine
	m.mu.Unlock()

	return m.convert(l, pl, ev)
}

func (m *Manager) convert(l *line, pl model.PreviewLine, ev ErrorEvent) (*model.Edge, error) {
	g, err := m.currentGraph()
	if err != nil {
		return nil, m.fail(ev, err)
	}
	edge := model.Edge{
		ID:           uuid.NewString(),
		SourceNodeID: pl.SourceID,
		TargetNodeID: pl.TargetID,
		SourcePortID: sourcePort(g, pl),
		TargetPortID: geometry.InPortID,
		BranchID:     pl.BranchID,
	}
	if err := g.AddEdge(edge); err != nil {
		return nil, m.fail(ev, errors.Wrap(err, "previewline", "ConvertPreviewToConnection", "add edge"))
	}

	m.mu.Lock()
	if current, ok := m.lines[pl.ID]; ok && current == l {
		m.unregisterLocked(l)
	}
	m.mu.Unlock()
	m.removeVisual(l)

	m.logger.Debug("preview line converted", "line_id", pl.ID, "edge_id", edge.ID)
	m.succeed("convert")
	m.emit(events.EventPreviewConverted, ConvertedEvent{LineID: pl.ID, Edge: edge})
	return &edge, nil
}

// ClearPreviewLinesForNode removes every line starting or ending at nodeID
func (m *Manager) ClearPreviewLinesForNode(nodeID string) int {
	m.mu.Lock()
	var doomed []*line
	for _, l := range m.lines {
		if l.SourceID == nodeID || l.TargetID == nodeID {
			doomed = append(doomed, l)
		}
	}
	for _, l := range doomed {
		m.unregisterLocked(l)
	}
	m.mu.Unlock()

	for _, l := range doomed {
		m.removeVisual(l)
		m.emit(events.EventPreviewDeleted, l.PreviewLine)
	}
	if len(doomed) > 0 {
		m.logger.Debug("preview lines cleared for node", "node_id", nodeID, "count", len(doomed))
		m.succeed("clear_node")
	}
	return len(doomed)
}

// ClearResult reports a ClearAll pass
type ClearResult struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Failure int `json:"failure"`
}

// ClearAll removes every line and resets the error counters. Failure counts
// lines whose visual edge could not be removed.
func (m *Manager) ClearAll() ClearResult {
	m.mu.Lock()
	all := make([]*line, 0, len(m.lines))
	for _, l := range m.lines {
		all = append(all, l)
	}
	for _, l := range all {
		m.unregisterLocked(l)
	}
	m.errorCount = 0
	m.lastError = nil
	m.mu.Unlock()

	res := ClearResult{Total: len(all)}
	for _, l := range all {
		if m.removeVisual(l) {
			res.Success++
		} else {
			res.Failure++
		}
	}
	m.succeed("clear_all")
	return res
}

// ClearErrors resets ErrorCount and LastError
func (m *Manager) ClearErrors() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorCount = 0
	m.lastError = nil
}

// Get returns a line by id
func (m *Manager) Get(id string) (model.PreviewLine, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lines[id]
	if !ok {
		return model.PreviewLine{}, false
	}
	return l.PreviewLine, true
}

// Lines returns every line ordered by creation time
func (m *Manager) Lines() []model.PreviewLine {
	return m.filter(func(*line) bool { return true })
}

// LinesForNode returns the lines starting or ending at nodeID
func (m *Manager) LinesForNode(nodeID string) []model.PreviewLine {
	return m.filter(func(l *line) bool { return l.SourceID == nodeID || l.TargetID == nodeID })
}

func (m *Manager) filter(keep func(*line) bool) []model.PreviewLine {
	m.mu.Lock()
	out := make([]model.PreviewLine, 0, len(m.lines))
	for _, l := range m.lines {
		if keep(l) {
			out = append(out, l.PreviewLine)
		}
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Created.Equal(out[j].Created) {
			return out[i].Created.Before(out[j].Created)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Count returns the number of live lines
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.lines)
}

// Stats returns counters for diagnostics
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{
		Total:                 len(m.lines),
		NodeCount:             len(m.bySource),
		ErrorCount:            m.errorCount,
		OperationCount:        m.operationCount,
		VisualRemovalFailures: m.visualFailures,
		VisualAddFailures:     m.addFailures,
	}
	if m.lastError != nil {
		s.LastError = m.lastError.Error()
	}
	return s
}
