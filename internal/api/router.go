package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// defaultWSPath is used when the websocket path is not configured.
const defaultWSPath = "/ws"

// buildRouter creates the HTTP router with all routes and middleware.
//
// Middleware order matters:
//  1. requestID first, so every later log line carries it
//  2. logging wraps recovery, so a recovered panic is still logged as a 500
//  3. CORS answers preflight requests before any handler runs
//  4. the body limit applies to every handler
//
// Routes (all under /api/v1):
//   - GET    /health                     status and component checks
//   - GET    /stats                      bridge counters and uptime
//   - GET    /metrics                    runtime, MQTT and session metrics
//   - GET    /sessions                   registry snapshot
//   - DELETE /sessions/{device}/{session} force release
//   - GET    /exchanges?device=&limit=   exchange journal
//   - GET    /ws                         live event stream
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/stats", s.handleStats)
		r.Get("/metrics", s.handleMetrics)

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.handleListSessions)
			r.Delete("/{device}/{session}", s.handleReleaseSession)
		})

		r.Get("/exchanges", s.handleListExchanges)

		r.Get(s.wsPath(), s.handleWebSocket)
	})

	return r
}

func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return defaultWSPath
	}
	return s.wsCfg.Path
}
