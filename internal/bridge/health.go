package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/voice-bridge/internal/protocol"
	"github.com/nerrad567/voice-bridge/internal/session"
)

// HealthStatus is the status string published on the health topic.
type HealthStatus string

// Health statuses.
const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthOffline   HealthStatus = "offline"
	HealthStarting  HealthStatus = "starting"
	HealthStopping  HealthStatus = "stopping"
)

const (
	defaultHealthInterval = 30 * time.Second
	defaultProbeTimeout   = 10 * time.Second
)

// HealthPublisher is the interface for publishing health messages.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// Prober checks backend reachability. A nil error means reachable.
type Prober func(ctx context.Context) error

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	// ClientID is the device_id of published health messages.
	ClientID string

	// Service names the backend in system_info.ai_service.
	Service string

	Version string

	// Interval is how often to check and publish. Default: 30 seconds.
	Interval time.Duration

	// ProbeTimeout bounds each backend probe. Default: 10 seconds.
	ProbeTimeout time.Duration

	Topic     string
	QoS       byte
	Publisher HealthPublisher

	// Prober is optional. Without it backend reachability is not checked.
	Prober Prober

	// Features is reported as system_info.supported_features.
	Features map[string]bool

	Registry *session.Registry
	Stats    func() Stats

	// Telemetry and Events are optional.
	Telemetry Telemetry
	Events    EventSink
}

// HealthReporter periodically checks the backend and broker and publishes a
// retained HealthCheck. A failed check is logged and reported as degraded;
// it never stops the loop.
type HealthReporter struct {
	cfg       HealthReporterConfig
	startTime time.Time

	mu         sync.RWMutex
	status     HealthStatus
	reason     string
	lastReport time.Time

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger Logger
}

// NewHealthReporter creates a health reporter. Call Start to begin reporting.
func NewHealthReporter(cfg HealthReporterConfig, logger Logger) *HealthReporter {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultHealthInterval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	if cfg.Topic == "" {
		cfg.Topic = protocol.DefaultHealthTopic
	}
	return &HealthReporter{
		cfg:       cfg,
		startTime: time.Now(),
		status:    HealthStarting,
		done:      make(chan struct{}),
		logger:    logger,
	}
}

// Start begins periodic reporting until ctx is cancelled or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends reporting and publishes a final "stopping" status. Safe to call
// multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		if err := h.publish(HealthStopping, "shutting down"); err != nil {
			h.logError("failed to publish stopping status", err)
		}
	})
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publish(HealthStarting, "bridge starting")
}

// Check evaluates health now and publishes the result.
func (h *HealthReporter) Check(ctx context.Context) error {
	status, reason := h.evaluate(ctx)
	if status != HealthHealthy {
		h.logWarn("bridge health degraded", "status", string(status), "reason", reason)
	}
	h.writeTelemetry()
	return h.publish(status, reason)
}

// Status returns the last published status and its reason.
func (h *HealthReporter) Status() (HealthStatus, string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status, h.reason
}

// LastReport returns when health was last published.
func (h *HealthReporter) LastReport() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastReport
}

// Uptime returns the time since the reporter was created.
func (h *HealthReporter) Uptime() time.Duration {
	return time.Since(h.startTime)
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	if err := h.Check(ctx); err != nil {
		h.logError("failed to publish initial health", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.Check(ctx); err != nil {
				h.logError("failed to publish health", err)
			}
		}
	}
}

// evaluate determines the current status. Broker loss is unhealthy because
// devices cannot be served at all; an unreachable backend is degraded.
func (h *HealthReporter) evaluate(ctx context.Context) (HealthStatus, string) {
	if h.cfg.Publisher == nil || !h.cfg.Publisher.IsConnected() {
		return HealthUnhealthy, "MQTT disconnected"
	}

	if h.cfg.Prober != nil {
		probeCtx, cancel := context.WithTimeout(ctx, h.cfg.ProbeTimeout)
		defer cancel()
		if err := h.cfg.Prober(probeCtx); err != nil {
			return HealthDegraded, "backend unreachable: " + err.Error()
		}
	}

	return HealthHealthy, ""
}

func (h *HealthReporter) publish(status HealthStatus, reason string) error {
	msg := h.message(status, reason)

	h.mu.Lock()
	h.status = status
	h.reason = reason
	h.lastReport = time.Now()
	h.mu.Unlock()

	if h.cfg.Events != nil {
		h.cfg.Events.Broadcast(EventHealth, map[string]any{
			"status":          status,
			"reason":          reason,
			"uptime_seconds":  msg.UptimeSeconds,
			"active_sessions": msg.ActiveSessions,
		})
	}

	if h.cfg.Publisher == nil {
		return nil
	}
	payload, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return h.cfg.Publisher.Publish(h.cfg.Topic, payload, h.cfg.QoS, true)
}

func (h *HealthReporter) message(status HealthStatus, reason string) *protocol.HealthCheck {
	var (
		active int
		snaps  []session.Snapshot
		stats  Stats
	)
	if h.cfg.Registry != nil {
		snaps = h.cfg.Registry.Snapshot()
		active = len(snaps)
	}
	if h.cfg.Stats != nil {
		stats = h.cfg.Stats()
	}

	sessions := make([]map[string]any, 0, len(snaps))
	for _, s := range snaps {
		sessions = append(sessions, map[string]any{
			"device_id":   s.DeviceID,
			"session_id":  s.SessionID,
			"age_seconds": s.Age.Seconds(),
		})
	}

	info := map[string]any{
		"ai_service":         h.cfg.Service,
		"supported_features": h.cfg.Features,
		"stats":              stats.asMap(),
		"sessions":           sessions,
		"version":            h.cfg.Version,
	}
	if reason != "" {
		info["reason"] = reason
	}

	return protocol.NewHealthCheck(h.cfg.ClientID, string(status), h.Uptime(), active, info)
}

func (h *HealthReporter) writeTelemetry() {
	if h.cfg.Telemetry == nil || h.cfg.Stats == nil {
		return
	}
	stats := h.cfg.Stats()
	active := 0
	if h.cfg.Registry != nil {
		active = h.cfg.Registry.Count()
	}
	h.cfg.Telemetry.WriteBridgeStats(active, stats.RequestsProcessed, stats.ResponsesSent, stats.Errors)
}

// OfflinePayload returns the encoded "offline" HealthCheck to register as
// the MQTT last will, so the broker announces an unclean disconnect.
func OfflinePayload(clientID string) ([]byte, error) {
	return protocol.Encode(protocol.NewHealthCheck(clientID, string(HealthOffline), 0, 0, nil))
}

func (h *HealthReporter) logWarn(msg string, keysAndValues ...any) {
	if h.logger != nil {
		h.logger.Warn(msg, keysAndValues...)
	}
}

func (h *HealthReporter) logError(msg string, err error) {
	if h.logger != nil {
		h.logger.Error(msg, "error", err)
	}
}
