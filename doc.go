// Package flowcanvas is the core of a marketing task-flow canvas: the live
// graph a campaign designer edits, the branch and preview-line bookkeeping
// around it, and the checks that decide whether a flow can run.
//
// # Architecture
//
// The core is a set of small packages connected through one event bus:
//
//	┌─────────────────────────────────────┐
//	│      Canvas Lifecycle Controller    │  init, destroy, reset,
//	│   (canvas, canvas/memgraph engine)  │  keyboard, diagnostics
//	└─────────────────────────────────────┘
//	           ↓ owns the engine used by
//	┌──────────────────┐  ┌──────────────────┐
//	│  Preview Lines   │  │   Branch Flow    │  drag & snap, timeouts,
//	│  (previewline)   │  │  (branchflow)    │  conditions, sync cycle
//	└──────────────────┘  └──────────────────┘
//	           ↓ announce changes on
//	┌─────────────────────────────────────┐
//	│            Event Manager            │  wildcard listeners, history,
//	│              (events)               │  async queue, handler pipeline
//	└─────────────────────────────────────┘
//	           ↓ observed by
//	┌──────────────┐ ┌──────────────┐ ┌──────────────┐
//	│   Gateway    │ │ NATS bridge  │ │   Metrics    │
//	│ HTTP + WS    │ │  subjects    │ │  Prometheus  │
//	└──────────────┘ └──────────────┘ └──────────────┘
//
// The validator checks a flow snapshot (live engine or stored document) for
// start and end nodes, reachability, cycles, dangling edges and size limits.
// Geometry helpers compute port positions and snap targets used while a
// preview line is dragged.
//
// # Packages
//
// Canvas core:
//   - model: nodes, edges, preview lines and persisted documents
//   - geometry: port positions, nearest-port and snap detection, layout
//   - events: event manager and handler registry
//   - branchflow: branch state machine, conditions, flow tracker, sync
//   - branchflow/rules: audience rule sets used as branch conditions
//   - previewline: preview-line manager and drag protocol
//   - canvas: lifecycle controller and graph-engine contract
//   - canvas/memgraph: in-memory graph engine with undo and clipboard
//   - validator: flow integrity rules and statistics
//
// Infrastructure:
//   - flowstore: document stores (memory, NATS KV, Postgres, Redis), schema check,
//     instrumentation and read cache
//   - natsclient: NATS connection management and KV helpers
//   - gateway: HTTP document and canvas endpoints, WebSocket event relay
//   - health: component checks and aggregation
//   - config: layered configuration and KV-backed reload
//   - metric: Prometheus registry and core metrics
//   - errors: classified errors and canvas error kinds
//   - scheduler: injectable clock and periodic tasks
//   - pkg/retry: backoff policy
//
// # Usage
//
//	bus := events.NewManager(events.Options{})
//	ctrl := canvas.NewController(canvas.Options{
//	    Container:     canvas.NewAttachedContainer(),
//	    Factory:       memgraph.Factory(memgraph.Options{}),
//	    AutoStartNode: true,
//	    Events:        bus,
//	})
//	if err := ctrl.InitCanvas(ctx); err != nil {
//	    return err
//	}
//	eng, _ := ctrl.Engine()
//	lines := previewline.NewManager(eng, previewline.Options{Events: bus})
//	_ = ctrl.RegisterSubsystem(lines)
//
//	v := validator.New(validator.DefaultOptions(), nil, logger, nil)
//	result := v.ValidateLive(eng.(validator.Snapshotter))
//
// # Binary
//
// cmd/flowcanvas hosts the core behind the gateway:
//
//	./bin/flowcanvas --config flowcanvas.yaml
//	./bin/flowcanvas --config flowcanvas.yaml --validate
//
// Integration tests that need NATS start a container through
// testcontainers and run with the integration build tag.
package flowcanvas
