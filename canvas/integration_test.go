package canvas_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/c360/flowcanvas/canvas"
	"github.com/c360/flowcanvas/canvas/memgraph"
	"github.com/c360/flowcanvas/events"
	"github.com/c360/flowcanvas/model"
	"github.com/c360/flowcanvas/previewline"
	"github.com/c360/flowcanvas/scheduler"
)

// LifecycleSuite drives a memgraph-backed controller with a preview line
// manager bound through a controller binder.
type LifecycleSuite struct {
	suite.Suite
	ctrl    *canvas.Controller
	bus     *events.Manager
	preview *previewline.Manager
}

func TestLifecycleSuite(t *testing.T) {
	suite.Run(t, new(LifecycleSuite))
}

func (s *LifecycleSuite) SetupTest() {
	clock := scheduler.NewManualClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	s.bus = events.NewManager(events.Options{})

	s.ctrl = canvas.NewController(canvas.Options{
		Container:     canvas.NewAttachedContainer(),
		Factory:       memgraph.Factory(memgraph.Options{}),
		AutoStartNode: true,
		Events:        s.bus,
		Clock:         clock,
	})
	s.preview = previewline.NewManager(nil, previewline.Options{Clock: clock, Events: s.bus})
	s.Require().NoError(s.ctrl.RegisterBinder("previewline", canvas.BindNode, func(eng canvas.Engine) (func(), error) {
		return s.preview.Bind(eng, s.bus)
	}))
	s.Require().NoError(s.ctrl.RegisterSubsystem(s.preview))
	s.Require().NoError(s.ctrl.InitCanvas(context.Background()))
}

func (s *LifecycleSuite) TearDownTest() {
	s.bus.Destroy()
}

func (s *LifecycleSuite) engine() canvas.Engine {
	eng, err := s.ctrl.Engine()
	s.Require().NoError(err)
	return eng
}

func (s *LifecycleSuite) add(id string, typ model.NodeType, y float64) model.Node {
	n := model.Node{ID: id, Type: typ, Position: model.Point{X: 100, Y: y}, Size: model.DefaultSize, IsConfigured: true}
	s.Require().NoError(s.engine().AddNode(n))
	return n
}

func (s *LifecycleSuite) start() model.Node {
	start, ok := s.engine().Node(canvas.StartNodeID)
	s.Require().True(ok)
	return start
}

func (s *LifecycleSuite) TestAutoStartNode() {
	start := s.start()
	s.True(start.Protected)
	s.Equal(model.NodeStart, start.Type)
}

func (s *LifecycleSuite) TestForwardsEngineEvents() {
	var added []string
	_, err := s.bus.On(events.EventNodeAdded, func(ev events.Event) error {
		added = append(added, ev.Data.(model.Node).ID)
		return nil
	})
	s.Require().NoError(err)

	s.add("sms", model.NodeSMS, 300)
	s.Equal([]string{"sms"}, added)
}

func (s *LifecycleSuite) TestDeleteKeyClearsPreviewLines() {
	start := s.start()
	sms := s.add("sms", model.NodeSMS, 300)

	_, err := s.preview.CreatePreviewLine(&start, &sms, previewline.CreateOptions{})
	s.Require().NoError(err)
	s.Require().Equal(1, s.preview.Count())

	var requested []string
	_, err = s.bus.On(events.EventNodeDeleteRequest, func(ev events.Event) error {
		requested = append(requested, ev.Data.(canvas.DeleteRequest).NodeID)
		return nil
	})
	s.Require().NoError(err)

	eng := s.engine()
	eng.Select(canvas.StartNodeID, "sms")
	s.True(s.ctrl.HandleKeydown(canvas.KeyEvent{Key: "Delete"}))

	s.Equal([]string{"sms"}, requested, "protected start node is skipped")
	s.True(eng.HasNode(canvas.StartNodeID))
	s.False(eng.HasNode("sms"))
	s.Zero(s.preview.Count())
	s.Zero(s.preview.Stats().VisualRemovalFailures)
}

func (s *LifecycleSuite) TestKeyboardShortcuts() {
	eng := s.engine()
	s.add("sms", model.NodeSMS, 300)

	typing := canvas.KeyEvent{Key: "Backspace", Target: canvas.FocusTarget{Tag: "INPUT"}}
	eng.Select("sms")
	s.False(s.ctrl.HandleKeydown(typing))
	s.False(s.ctrl.HandleKeydown(canvas.KeyEvent{Key: "z", Ctrl: true, Target: canvas.FocusTarget{ContentEditable: true}}))
	s.True(eng.HasNode("sms"))

	s.True(s.ctrl.HandleKeydown(canvas.KeyEvent{Key: "z", Meta: true}))
	s.False(eng.HasNode("sms"))
	s.True(s.ctrl.HandleKeydown(canvas.KeyEvent{Key: "Z", Ctrl: true, Shift: true}))
	s.True(eng.HasNode("sms"))

	s.True(s.ctrl.HandleKeydown(canvas.KeyEvent{Key: "a", Ctrl: true}))
	s.Len(eng.Selected(), 2)
	s.True(s.ctrl.HandleKeydown(canvas.KeyEvent{Key: "c", Ctrl: true}))
	s.True(s.ctrl.HandleKeydown(canvas.KeyEvent{Key: "v", Ctrl: true}))
	s.Len(eng.Nodes(), 4)

	s.False(s.ctrl.HandleKeydown(canvas.KeyEvent{Key: "q", Ctrl: true}))
	s.False(s.ctrl.HandleKeydown(canvas.KeyEvent{Key: "a"}))
	s.True(s.ctrl.HandleKeydown(canvas.KeyEvent{Key: "d", Ctrl: true, Shift: true}))
}

func (s *LifecycleSuite) TestKeysIgnoredWhenNotReady() {
	s.Require().NoError(s.ctrl.DestroyCanvas())
	s.False(s.ctrl.HandleKeydown(canvas.KeyEvent{Key: "a", Ctrl: true}))
}

func (s *LifecycleSuite) TestDestroyDisposesSubsystems() {
	eng := s.engine()
	start := s.start()
	sms := s.add("sms", model.NodeSMS, 300)
	_, err := s.preview.CreatePreviewLine(&start, &sms, previewline.CreateOptions{})
	s.Require().NoError(err)

	s.Require().NoError(s.ctrl.DestroyCanvas())

	s.Zero(s.preview.Count())
	s.True(eng.(*memgraph.Graph).Disposed())
	s.Equal(canvas.StateDestroyed, s.ctrl.State())
}

func (s *LifecycleSuite) TestResetRebindsPreviewLines() {
	old := s.engine()
	s.Require().NoError(s.ctrl.ResetCanvas(context.Background()))
	eng := s.engine()
	s.Require().NotSame(old, eng)

	start := s.start()
	sms := s.add("sms", model.NodeSMS, 300)
	line, err := s.preview.CreatePreviewLine(&start, &sms, previewline.CreateOptions{})
	s.Require().NoError(err)
	s.True(eng.(*memgraph.Graph).HasEdge(line.ID), "the visual lands on the new engine")

	s.Require().NoError(eng.RemoveNode("sms"))
	s.Zero(s.preview.Count(), "node removal on the new engine still cascades")
}

func (s *LifecycleSuite) TestDestroyThenInitRebindsPreviewLines() {
	s.Require().NoError(s.ctrl.DestroyCanvas())
	s.Require().NoError(s.ctrl.InitCanvas(context.Background()))

	start := s.start()
	sms := s.add("sms", model.NodeSMS, 300)
	_, err := s.preview.CreatePreviewLine(&start, &sms, previewline.CreateOptions{})
	s.Require().NoError(err)
	s.Equal(1, s.preview.Count())

	s.Require().NoError(s.engine().RemoveNode("sms"))
	s.Zero(s.preview.Count())
}
