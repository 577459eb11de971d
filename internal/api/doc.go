// Package api implements the HTTP management API and WebSocket event feed
// for devio.
//
// This package provides:
//   - REST endpoints to inspect registered devices and their request queues
//   - Read and write endpoints that go through the same device layer as
//     in-process callers, including non-blocking and timeout semantics
//   - Query endpoints over the request journal and device inventory
//   - A WebSocket hub that fans telemetry events out to subscribed clients
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Error mapping
//
// Device errors map onto HTTP statuses: would-block is 409, a timed-out
// wait is 504, an unknown device is 404 and a closed one 410.
//
// # Graceful Degradation
//
// The journal is optional. Without it /requests returns 503 and
// /inventory serves the live registry instead.
package api
