package api

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/voice-bridge/internal/bridge"
	"github.com/nerrad567/voice-bridge/internal/journal"
	"github.com/nerrad567/voice-bridge/internal/session"
)

// componentCheckTimeout bounds each component check run by /health.
const componentCheckTimeout = 2 * time.Second

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string            `json:"status"`
	Reason        string            `json:"reason,omitempty"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Components    map[string]string `json:"components,omitempty"`
}

// handleHealth reports the bridge status and runs the component checks.
// It answers 503 when the bridge is unhealthy or a component check fails.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, reason := s.bridge.Status()

	resp := HealthResponse{
		Status:        string(status),
		Reason:        reason,
		Version:       s.version,
		UptimeSeconds: int64(s.bridge.Uptime().Seconds()),
	}

	code := http.StatusOK
	if status == bridge.HealthUnhealthy || status == bridge.HealthOffline {
		code = http.StatusServiceUnavailable
	}

	if len(s.checks) > 0 {
		resp.Components = make(map[string]string, len(s.checks))
		for _, name := range s.componentNames() {
			checker := s.checks[name]
			ctx, cancel := context.WithTimeout(r.Context(), componentCheckTimeout)
			err := checker.HealthCheck(ctx)
			cancel()
			if err != nil {
				resp.Components[name] = err.Error()
				code = http.StatusServiceUnavailable
				continue
			}
			resp.Components[name] = "ok"
		}
	}

	writeJSON(w, code, resp)
}

// handleStats returns the bridge counters.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"stats":           s.bridge.Stats(),
		"active_sessions": len(s.bridge.Sessions()),
		"uptime_seconds":  int64(s.bridge.Uptime().Seconds()),
	})
}

// handleListSessions returns the active sessions, oldest first.
func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	sessions := s.bridge.Sessions()
	if sessions == nil {
		sessions = []session.Snapshot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// handleReleaseSession force-releases a session, closing its backend.
func (s *Server) handleReleaseSession(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "device")
	sessionID := chi.URLParam(r, "session")

	if !s.bridge.ReleaseSession(deviceID, sessionID) {
		writeNotFound(w, "session not found")
		return
	}

	s.logger.Info("session released via API", "device_id", deviceID, "session_id", sessionID)
	w.WriteHeader(http.StatusNoContent)
}

// handleListExchanges returns journaled exchanges, newest first. Optional
// query parameters: device, limit.
func (s *Server) handleListExchanges(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "exchange journal is disabled")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	var (
		exchanges []journal.Exchange
		err       error
	)
	if device := r.URL.Query().Get("device"); device != "" {
		exchanges, err = s.journal.ByDevice(r.Context(), device, limit)
	} else {
		exchanges, err = s.journal.Recent(r.Context(), limit)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.logger.Error("listing exchanges failed", "error", err)
		writeInternalError(w, "failed to list exchanges")
		return
	}
	if exchanges == nil {
		exchanges = []journal.Exchange{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"exchanges": exchanges,
		"count":     len(exchanges),
	})
}

// componentNames returns the configured check names in a stable order.
func (s *Server) componentNames() []string {
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
