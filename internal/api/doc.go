// Package api implements the HTTP REST API and WebSocket server for the
// Gray Logic Arbiter.
//
// This package provides:
//   - Read endpoints for devices, cached state, capability and property queries
//   - Action submission, either synchronous or queued on the engine's workers
//   - Quarantine, lock table, queue and event history inspection
//   - A WebSocket hub streaming notifications and engine events
//   - Middleware stack (request ID, logging, recovery, CORS, body limit, JWT)
//
// # Security
//
// With security.jwt.secret unset every route is open, which suits a daemon
// bound to localhost. With a secret set, every route except /health needs a
// bearer token; see package auth for roles. WebSocket clients may pass the
// token as a ?token= query parameter since browsers cannot set headers on
// the upgrade request.
//
// # Graceful Degradation
//
// The server runs without MQTT, the database, or the journal. Missing pieces
// show up as zero metrics or a 503 from /history.
package api
