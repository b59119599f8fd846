package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

// chdirTemp runs the test in an empty directory so no stray .env is loaded.
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd() error = %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir() error = %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(prev) })
	return dir
}

func TestLoad_ValidConfig(t *testing.T) {
	chdirTemp(t)
	content := `
mqtt:
  broker:
    host: "broker.local"
    port: 1884
    client_id: "bridge-1"
  qos: 1
  topics:
    request: "home/+/audio_request"
    response: "home/{device_id}/audio_response"
backend:
  api_key: "sk-test"
  voice: "echo"
session:
  max_concurrent: 5
database:
  path: "/tmp/test.db"
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "broker.local")
	}
	if cfg.MQTT.Topics.Request != "home/+/audio_request" {
		t.Errorf("MQTT.Topics.Request = %q", cfg.MQTT.Topics.Request)
	}
	// Unset keys keep their defaults.
	if cfg.MQTT.Topics.Health != "iot/server/health" {
		t.Errorf("MQTT.Topics.Health = %q, want default", cfg.MQTT.Topics.Health)
	}
	if cfg.Backend.Voice != "echo" || cfg.Backend.Model != "gpt-4o-realtime-preview" {
		t.Errorf("Backend = %+v", cfg.Backend)
	}
	if cfg.Session.MaxConcurrent != 5 {
		t.Errorf("Session.MaxConcurrent = %d, want 5", cfg.Session.MaxConcurrent)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	chdirTemp(t)
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv(EnvPrefix+"BACKEND_API_KEY", "")

	_, err := Load(writeConfig(t, "session:\n  max_concurrent: 0\n"))
	if err == nil {
		t.Fatal("Load() expected validation error, got nil")
	}
	for _, want := range []string{"backend.api_key", "session.max_concurrent"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Load() error = %v, want mention of %s", err, want)
		}
	}
}

func TestLoad_DotEnv(t *testing.T) {
	dir := chdirTemp(t)
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv(EnvPrefix+"BACKEND_API_KEY", "")
	t.Setenv(EnvPrefix+"MQTT_HOST", "")

	env := "VOICEBRIDGE_BACKEND_API_KEY=sk-from-dotenv\nVOICEBRIDGE_MQTT_HOST=dotenv-broker\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(env), 0600); err != nil {
		t.Fatalf("failed to write .env: %v", err)
	}
	t.Cleanup(func() {
		os.Unsetenv(EnvPrefix + "BACKEND_API_KEY") //nolint:errcheck // test cleanup
		os.Unsetenv(EnvPrefix + "MQTT_HOST")       //nolint:errcheck // test cleanup
	})

	// godotenv does not override variables that are already set, so clear
	// the ones t.Setenv registered.
	os.Unsetenv(EnvPrefix + "BACKEND_API_KEY") //nolint:errcheck // test setup
	os.Unsetenv(EnvPrefix + "MQTT_HOST")       //nolint:errcheck // test setup

	cfg, err := Load(writeConfig(t, "mqtt:\n  qos: 0\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Backend.APIKey != "sk-from-dotenv" {
		t.Errorf("Backend.APIKey = %q, want sk-from-dotenv", cfg.Backend.APIKey)
	}
	if cfg.MQTT.Broker.Host != "dotenv-broker" {
		t.Errorf("MQTT.Broker.Host = %q, want dotenv-broker", cfg.MQTT.Broker.Host)
	}
}

func validConfig() *Config {
	cfg := defaultConfig()
	cfg.Backend.APIKey = "sk-test"
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid config", func(*Config) {}, false},
		{"missing api key", func(c *Config) { c.Backend.APIKey = "" }, true},
		{"http backend url", func(c *Config) { c.Backend.URL = "https://api.example.com" }, true},
		{"ws backend url", func(c *Config) { c.Backend.URL = "ws://localhost:9000/realtime" }, false},
		{"zero max sessions", func(c *Config) { c.Session.MaxConcurrent = 0 }, true},
		{"negative idle timeout", func(c *Config) { c.Session.IdleTimeoutSeconds = -1 }, true},
		{"invalid QoS", func(c *Config) { c.MQTT.QoS = 3 }, true},
		{"missing broker host", func(c *Config) { c.MQTT.Broker.Host = "" }, true},
		{"broker port high", func(c *Config) { c.MQTT.Broker.Port = 70000 }, true},
		{"response without placeholder", func(c *Config) { c.MQTT.Topics.Response = "iot/out" }, true},
		{"zero health interval", func(c *Config) { c.Bridge.HealthCheckInterval = 0 }, true},
		{"api port low", func(c *Config) { c.API.Port = 0 }, true},
		{"api disabled ignores port", func(c *Config) { c.API.Enabled = false; c.API.Port = 0 }, false},
		{"journal without database", func(c *Config) { c.Database.Path = "" }, true},
		{"no journal no database", func(c *Config) { c.Journal.Enabled = false; c.Database.Path = "" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}
	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}
	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
	if got := Seconds(5); got != 5*time.Second {
		t.Errorf("Seconds(5) = %v", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("OPENAI_API_KEY", "sk-plain")
	t.Setenv(EnvPrefix+"BACKEND_API_KEY", "sk-prefixed")
	t.Setenv(EnvPrefix+"DATABASE_PATH", "/custom/path.db")
	t.Setenv(EnvPrefix+"MQTT_HOST", "mqtt.example.com")
	t.Setenv(EnvPrefix+"MQTT_PORT", "8883")
	t.Setenv(EnvPrefix+"MQTT_USERNAME", "testuser")
	t.Setenv(EnvPrefix+"MQTT_PASSWORD", "testpass")
	t.Setenv(EnvPrefix+"SESSION_MAX_CONCURRENT", "7")
	t.Setenv(EnvPrefix+"REDIS_ENABLED", "true")
	t.Setenv(EnvPrefix+"INFLUXDB_TOKEN", "secret-token")

	if err := applyEnvOverrides(cfg); err != nil {
		t.Fatalf("applyEnvOverrides() error = %v", err)
	}

	if cfg.Backend.APIKey != "sk-prefixed" {
		t.Errorf("Backend.APIKey = %q, want prefixed variable to win", cfg.Backend.APIKey)
	}
	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" || cfg.MQTT.Broker.Port != 8883 {
		t.Errorf("MQTT.Broker = %+v", cfg.MQTT.Broker)
	}
	if cfg.MQTT.Auth.Username != "testuser" || cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth = %+v", cfg.MQTT.Auth)
	}
	if cfg.Session.MaxConcurrent != 7 {
		t.Errorf("Session.MaxConcurrent = %d, want 7", cfg.Session.MaxConcurrent)
	}
	if !cfg.Redis.Enabled {
		t.Error("Redis.Enabled = false, want true")
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
}

func TestApplyEnvOverrides_InvalidValues(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv(EnvPrefix+"MQTT_PORT", "abc")
	t.Setenv(EnvPrefix+"REDIS_ENABLED", "maybe")

	err := applyEnvOverrides(cfg)
	if err == nil {
		t.Fatal("applyEnvOverrides() expected error")
	}
	if !strings.Contains(err.Error(), "MQTT_PORT") || !strings.Contains(err.Error(), "REDIS_ENABLED") {
		t.Errorf("error = %v, want both variables named", err)
	}
}

func TestPathFromEnv(t *testing.T) {
	t.Setenv(EnvPrefix+"CONFIG", "")
	if got := PathFromEnv(); got != DefaultPath {
		t.Errorf("PathFromEnv() = %q, want %q", got, DefaultPath)
	}
	t.Setenv(EnvPrefix+"CONFIG", "/etc/voicebridge.yaml")
	if got := PathFromEnv(); got != "/etc/voicebridge.yaml" {
		t.Errorf("PathFromEnv() = %q", got)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.MQTT.Broker.ClientID != "mqtt-ai-server" {
		t.Errorf("MQTT.Broker.ClientID = %q", cfg.MQTT.Broker.ClientID)
	}
	if cfg.Session.MaxConcurrent != 50 {
		t.Errorf("Session.MaxConcurrent = %d, want 50", cfg.Session.MaxConcurrent)
	}
	if cfg.Backend.ReceiveTimeout != 30 || cfg.Backend.HandshakeTimeout != 10 {
		t.Errorf("Backend timeouts = %d/%d", cfg.Backend.HandshakeTimeout, cfg.Backend.ReceiveTimeout)
	}
	if cfg.Journal.RetentionDays != 30 {
		t.Errorf("Journal.RetentionDays = %d, want 30", cfg.Journal.RetentionDays)
	}
}
