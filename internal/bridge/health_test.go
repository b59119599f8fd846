package bridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/voice-bridge/internal/protocol"
	"github.com/nerrad567/voice-bridge/internal/session"
)

func newTestReporter(t *testing.T, mqtt *MockMQTTClient, prober Prober) (*HealthReporter, *recordingTelemetry, *recordingSink) {
	t.Helper()

	registry, err := session.NewRegistry(session.Options{MaxSessions: 4})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	if _, err := registry.Admit(context.Background(), "kitchen", "s1"); err != nil {
		t.Fatalf("Admit() error = %v", err)
	}

	telemetry := &recordingTelemetry{}
	events := &recordingSink{}
	h := NewHealthReporter(HealthReporterConfig{
		ClientID:  "mqtt-ai-server",
		Service:   "openai_realtime",
		Version:   "1.2.3",
		Publisher: mqtt,
		Prober:    prober,
		Features:  map[string]bool{"streaming": true},
		Registry:  registry,
		Stats: func() Stats {
			return Stats{RequestsProcessed: 5, ResponsesSent: 12, Errors: 1}
		},
		Telemetry: telemetry,
		Events:    events,
	}, nil)
	return h, telemetry, events
}

func lastHealth(t *testing.T, mqtt *MockMQTTClient) (*protocol.HealthCheck, mockPublish) {
	t.Helper()
	published := mqtt.PublishedTo(protocol.DefaultHealthTopic)
	if len(published) == 0 {
		t.Fatal("no health message published")
	}
	last := published[len(published)-1]
	hc, ok := decode(t, last.Payload).(*protocol.HealthCheck)
	if !ok {
		t.Fatalf("health topic carried %T", decode(t, last.Payload))
	}
	return hc, last
}

func TestHealthCheck_Statuses(t *testing.T) {
	tests := []struct {
		name       string
		connected  bool
		prober     Prober
		wantStatus HealthStatus
		wantReason bool
	}{
		{
			name:       "healthy",
			connected:  true,
			prober:     func(context.Context) error { return nil },
			wantStatus: HealthHealthy,
		},
		{
			name:       "healthy without prober",
			connected:  true,
			wantStatus: HealthHealthy,
		},
		{
			name:       "backend unreachable",
			connected:  true,
			prober:     func(context.Context) error { return errors.New("dial timeout") },
			wantStatus: HealthDegraded,
			wantReason: true,
		},
		{
			name:       "mqtt disconnected",
			connected:  false,
			prober:     func(context.Context) error { return nil },
			wantStatus: HealthUnhealthy,
			wantReason: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mqtt := NewMockMQTTClient()
			mqtt.SetConnected(tt.connected)
			h, _, _ := newTestReporter(t, mqtt, tt.prober)

			if err := h.Check(context.Background()); err != nil {
				t.Fatalf("Check() error = %v", err)
			}

			hc, pub := lastHealth(t, mqtt)
			if !pub.Retained {
				t.Error("health message not retained")
			}
			if hc.Status != string(tt.wantStatus) {
				t.Errorf("Status = %s, want %s", hc.Status, tt.wantStatus)
			}
			_, hasReason := hc.SystemInfo["reason"]
			if hasReason != tt.wantReason {
				t.Errorf("system_info reason present = %v, want %v", hasReason, tt.wantReason)
			}

			status, _ := h.Status()
			if status != tt.wantStatus {
				t.Errorf("Status() = %s, want %s", status, tt.wantStatus)
			}
		})
	}
}

func TestHealthCheck_SystemInfo(t *testing.T) {
	mqtt := NewMockMQTTClient()
	h, telemetry, events := newTestReporter(t, mqtt, nil)

	if err := h.Check(context.Background()); err != nil {
		t.Fatalf("Check() error = %v", err)
	}

	hc, _ := lastHealth(t, mqtt)
	if hc.DeviceID != "mqtt-ai-server" {
		t.Errorf("DeviceID = %s, want mqtt-ai-server", hc.DeviceID)
	}
	if hc.ActiveSessions != 1 {
		t.Errorf("ActiveSessions = %d, want 1", hc.ActiveSessions)
	}
	if hc.SystemInfo["ai_service"] != "openai_realtime" {
		t.Errorf("ai_service = %v", hc.SystemInfo["ai_service"])
	}
	if hc.SystemInfo["version"] != "1.2.3" {
		t.Errorf("version = %v", hc.SystemInfo["version"])
	}

	features, ok := hc.SystemInfo["supported_features"].(map[string]any)
	if !ok || features["streaming"] != true {
		t.Errorf("supported_features = %v", hc.SystemInfo["supported_features"])
	}
	stats, ok := hc.SystemInfo["stats"].(map[string]any)
	if !ok || stats["requests_processed"] != float64(5) || stats["responses_sent"] != float64(12) {
		t.Errorf("stats = %v", hc.SystemInfo["stats"])
	}
	sessions, ok := hc.SystemInfo["sessions"].([]any)
	if !ok || len(sessions) != 1 {
		t.Fatalf("sessions = %v", hc.SystemInfo["sessions"])
	}
	if s := sessions[0].(map[string]any); s["device_id"] != "kitchen" || s["session_id"] != "s1" {
		t.Errorf("session entry = %v", s)
	}

	if telemetry.stats.Load() != 1 {
		t.Errorf("WriteBridgeStats called %d times, want 1", telemetry.stats.Load())
	}
	if events.count(EventHealth) != 1 {
		t.Errorf("health events = %d, want 1", events.count(EventHealth))
	}
	if h.LastReport().IsZero() {
		t.Error("LastReport() is zero after Check")
	}
}

func TestHealthReporter_LoopAndStop(t *testing.T) {
	mqtt := NewMockMQTTClient()
	var probes int
	probed := make(chan struct{}, 16)
	h, _, _ := newTestReporter(t, mqtt, func(context.Context) error {
		probes++
		select {
		case probed <- struct{}{}:
		default:
		}
		return errors.New("still down")
	})
	h.cfg.Interval = 10 * time.Millisecond

	if err := h.PublishStarting(); err != nil {
		t.Fatalf("PublishStarting() error = %v", err)
	}
	if hc, _ := lastHealth(t, mqtt); hc.Status != string(HealthStarting) {
		t.Errorf("Status = %s, want starting", hc.Status)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Start(ctx)

	// A failing probe must not stop the loop.
	for i := 0; i < 3; i++ {
		select {
		case <-probed:
		case <-time.After(2 * time.Second):
			t.Fatalf("probe %d not run", i+1)
		}
	}

	h.Stop()
	h.Stop()

	hc, _ := lastHealth(t, mqtt)
	if hc.Status != string(HealthStopping) {
		t.Errorf("final Status = %s, want stopping", hc.Status)
	}
	if probes < 3 {
		t.Errorf("probes = %d, want at least 3", probes)
	}
}

func TestOfflinePayload(t *testing.T) {
	payload, err := OfflinePayload("mqtt-ai-server")
	if err != nil {
		t.Fatalf("OfflinePayload() error = %v", err)
	}
	hc, ok := decode(t, payload).(*protocol.HealthCheck)
	if !ok {
		t.Fatalf("OfflinePayload() decoded to %T", decode(t, payload))
	}
	if hc.Status != string(HealthOffline) || hc.DeviceID != "mqtt-ai-server" {
		t.Errorf("offline health = %+v", hc)
	}
}
