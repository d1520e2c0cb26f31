// Package gateway is the transport between UI shells and the canvas core.
//
// Server exposes persisted flow documents and the live canvas over HTTP:
//
//	GET    /documents                 list documents
//	POST   /documents                 create a document
//	GET    /documents/{id}            fetch a document
//	PUT    /documents/{id}            update a document (optimistic version)
//	DELETE /documents/{id}            delete a document
//	POST   /documents/{id}/validate   run the flow validator on a document
//	POST   /documents/{id}/open       load a document into the live canvas
//	POST   /documents/{id}/save       write the live canvas back to a document
//	GET    /canvas                    canvas state report
//	POST   /canvas/validate           run the flow validator on the live canvas
//	POST   /canvas/keys               apply a forwarded keyboard shortcut
//	GET    /healthz                   aggregated component health
//	GET    /ws                        WebSocket stream of canvas events
//
// Errors are JSON bodies {"error", "kind", "status", "request_id"}. The kind
// is the canvas error kind (NotFound, Conflict, InvalidArgument, ...); the
// HTTP status follows from it. Server-side failures never echo internal
// details.
//
// EventRelay subscribes to every event of an events.Manager and fans them
// out to WebSocket clients as {"event", "data", "timestamp"}. A client that
// cannot keep up with its buffer is disconnected rather than slowing the
// emitter.
package gateway
