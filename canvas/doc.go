// Package canvas owns the lifecycle of the graph engine behind a flow
// canvas.
//
// A Controller builds an Engine through an EngineFactory, runs the
// registered binders in kind order (node, edge, canvas, port, keyboard),
// and exposes the engine only while the canvas is ready:
//
//	ctrl := canvas.NewController(canvas.Options{
//		Container: canvas.NewAttachedContainer(),
//		Factory:   memgraph.Factory(memgraph.Options{}),
//		Events:    bus,
//	})
//	if err := ctrl.InitCanvas(ctx); err != nil {
//		return err
//	}
//	defer ctrl.DestroyCanvas()
//
// Destroying the canvas unbinds handlers in reverse order, then disposes
// registered subsystems and the engine. A subsystem that fails to dispose
// does not stop the others.
//
// The memgraph subpackage provides the in-memory Engine.
package canvas
