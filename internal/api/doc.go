// Package api implements the HTTP REST API and WebSocket server for the
// device registry.
//
// This package provides:
//   - REST endpoints for templates, devices, batches and pre-shared keys
//   - A WebSocket hub streaming each tenant's change events
//   - Tenant resolution from the bearer token on every protected route
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Tenancy
//
// Every route under /api/v1 except /health, /metrics and /ws requires an
// Authorization header. The token's service claim names the tenant; all
// reads and writes are scoped to it. The /ws handshake takes the token in
// the token query parameter.
//
// # Errors
//
// Registry errors are rendered as {status, code, message, reason}.
// Malformed input is 400, a missing entity 404, a clash with stored state
// 409 and a non-actuator attribute in an actuation 403. A device with no
// psk attributes answers gen_psk with 204. Anything else is 500 and its
// text stays in the log.
package api
