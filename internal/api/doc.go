// Package api implements the status API and live event stream of the
// voice bridge.
//
// This package provides:
//   - GET /api/v1/health: bridge status plus component checks
//   - GET /api/v1/stats and /metrics: counters, runtime and pool statistics
//   - GET /api/v1/sessions and DELETE /api/v1/sessions/{device}/{session}
//   - GET /api/v1/exchanges: the exchange journal, optionally per device
//   - GET /api/v1/ws: WebSocket hub for bridge events
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Events
//
// The Hub satisfies bridge.EventSink. Clients subscribe to channels such as
// exchange.completed, exchange.failed, session.admitted, session.released
// and health, or to "*" for all of them:
//
//	{"type":"subscribe","id":"1","payload":{"channels":["exchange.completed"]}}
//
// # Security
//
// The API has no authentication and is meant for the management network.
// Enable TLS and restrict CORS origins when exposing it further.
package api
