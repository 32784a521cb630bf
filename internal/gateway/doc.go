// Package gateway orchestrates the carlot-notify server components.
//
// # Overview
//
// The Gateway owns the event store, the channel registry, the dispatcher,
// the polling bridge, and the HTTP server that exposes them:
//
//	gw, err := gateway.New(cfg, logger)
//	if err != nil { ... }
//	err = gw.Run(ctx) // blocks until ctx is canceled
//
// # HTTP API
//
// Stream endpoints answer with text/event-stream and stay open:
//
//   - GET /api/stream/admin - admin broadcast (admin role)
//   - GET /api/stream/conversations/{vehicleID} - one vehicle's chat (admin or member)
//   - GET /api/stream/me - the caller's own notifications
//
// Publishing and health:
//
//   - POST /api/events - store and fan out a domain event (admin or service role)
//   - GET /health - Liveness check
//   - GET /health/ready - Store reachable; reports live channel count
//
// # Resumption
//
// A stream request may carry the last received message id as the
// Last-Event-ID header or the lastEventId query parameter. Polling then
// starts from that point instead of from the moment of connection. Events
// published while the backlog is replayed are written after it.
//
// A publish request may carry an Idempotency-Key header; retrying with the
// same key after a failure only stores the audiences not yet reached.
//
// # Errors
//
// Requests that cannot open a stream get a JSON body {"error": "..."}:
// 401 without a valid session, 403 for the wrong role or a non-member,
// 400 for a malformed resume id, 503 when the registry is full.
//
// # Shutdown
//
// Shutdown closes every channel first, so stream handlers return and the
// HTTP server can drain, then waits for polling and closes the store.
package gateway
