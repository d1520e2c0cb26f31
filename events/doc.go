// Package events decouples canvas producers (drag handlers, node CRUD) from
// consumers (preview-line cleanup, validators, UI relays).
//
// Two layers are provided. Manager is plain publish/subscribe: On, Once, Off,
// Emit, EmitAsync and EmitBatch, with glob and namespace patterns, priority
// ordering, debounce and throttle, and a bounded history ring. A failing
// listener is re-emitted as listener:error and never interrupts dispatch.
//
// HandlerRegistry is the pipeline layer used where payloads need checking:
// each registration may validate, transform, wrap with middleware, run async
// or under a timeout, and be marked critical. Timed-out handlers are recorded
// and never retried.
//
// NATSBridge forwards Manager events to NATS subjects for out-of-process
// consumers.
package events
