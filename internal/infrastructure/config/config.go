package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "VOICEBRIDGE_"

// DefaultPath is used when VOICEBRIDGE_CONFIG is unset.
const DefaultPath = "configs/config.yaml"

// Config is the root configuration structure for the voice bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Backend   BackendConfig   `yaml:"backend"`
	Session   SessionConfig   `yaml:"session"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Database  DatabaseConfig  `yaml:"database"`
	Journal   JournalConfig   `yaml:"journal"`
	Redis     RedisConfig     `yaml:"redis"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	KeepAlive int                 `yaml:"keepalive"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
	Topics    MQTTTopicsConfig    `yaml:"topics"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// MQTTTopicsConfig is the device topic layout. Request and Control are
// subscription patterns with "+" in the device position; Response contains
// {device_id}. An empty Control disables session control messages.
type MQTTTopicsConfig struct {
	Request  string `yaml:"request"`
	Response string `yaml:"response"`
	Health   string `yaml:"health"`
	Control  string `yaml:"control"`
}

// BackendConfig contains speech backend settings.
type BackendConfig struct {
	URL                string `yaml:"url"`
	Model              string `yaml:"model"`
	APIKey             string `yaml:"api_key"`
	Voice              string `yaml:"voice"`
	Instructions       string `yaml:"instructions"`
	InputFormat        string `yaml:"input_format"`
	OutputFormat       string `yaml:"output_format"`
	TranscriptionModel string `yaml:"transcription_model"`

	// Timeouts in seconds.
	HandshakeTimeout int `yaml:"handshake_timeout"`
	NegotiateTimeout int `yaml:"negotiate_timeout"`
	ReceiveTimeout   int `yaml:"receive_timeout"`

	// Strategies lists connection strategy names in the order tried.
	// Empty uses the built-in order.
	Strategies []string `yaml:"strategies"`
}

// SessionConfig contains session registry settings.
type SessionConfig struct {
	MaxConcurrent int `yaml:"max_concurrent"`

	// IdleTimeoutSeconds releases sessions idle this long. 0 disables.
	IdleTimeoutSeconds int `yaml:"idle_timeout_seconds"`

	ReapIntervalSeconds int `yaml:"reap_interval_seconds"`
}

// BridgeConfig contains request handling settings.
type BridgeConfig struct {
	HealthCheckInterval int `yaml:"health_check_interval"`
	Workers             int `yaml:"workers"`
	QueueSize           int `yaml:"queue_size"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// JournalConfig contains exchange journal settings.
type JournalConfig struct {
	Enabled       bool `yaml:"enabled"`
	RetentionDays int  `yaml:"retention_days"`
}

// RedisConfig contains the optional session mirror settings.
type RedisConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket event stream settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. .env file in the working directory, if present
//  4. Environment variables (override file values)
//
// Environment variables follow the pattern: VOICEBRIDGE_SECTION_KEY
// For example: VOICEBRIDGE_MQTT_HOST, VOICEBRIDGE_BACKEND_API_KEY
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// PathFromEnv returns VOICEBRIDGE_CONFIG or DefaultPath.
func PathFromEnv() string {
	if v := os.Getenv(EnvPrefix + "CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

// loadDotEnv loads variables from path without overriding ones already set.
// A missing file is not an error.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("loading %s: %w", path, err)
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "mqtt-ai-server",
			},
			QoS:       1,
			KeepAlive: 60,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			Topics: MQTTTopicsConfig{
				Request:  "iot/+/audio_request",
				Response: "iot/{device_id}/audio_response",
				Health:   "iot/server/health",
				Control:  "iot/+/session",
			},
		},
		Backend: BackendConfig{
			URL:                "wss://api.openai.com/v1/realtime",
			Model:              "gpt-4o-realtime-preview",
			Voice:              "alloy",
			InputFormat:        "pcm16",
			OutputFormat:       "pcm16",
			TranscriptionModel: "whisper-1",
			HandshakeTimeout:   10,
			NegotiateTimeout:   10,
			ReceiveTimeout:     30,
		},
		Session: SessionConfig{
			MaxConcurrent:       50,
			IdleTimeoutSeconds:  300,
			ReapIntervalSeconds: 60,
		},
		Bridge: BridgeConfig{
			HealthCheckInterval: 30,
			Workers:             16,
			QueueSize:           256,
		},
		Database: DatabaseConfig{
			Path:        "./data/voicebridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Journal: JournalConfig{
			Enabled:       true,
			RetentionDays: 30,
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "voicebridge",
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: VOICEBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	str := func(key string, dst *string) {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			*dst = v
		}
	}
	var errs []string
	num := func(key string, dst *int) {
		v := os.Getenv(EnvPrefix + key)
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s%s: %q is not an integer", EnvPrefix, key, v))
			return
		}
		*dst = n
	}
	flag := func(key string, dst *bool) {
		v := os.Getenv(EnvPrefix + key)
		if v == "" {
			return
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s%s: %q is not a boolean", EnvPrefix, key, v))
			return
		}
		*dst = b
	}

	// MQTT
	str("MQTT_HOST", &cfg.MQTT.Broker.Host)
	num("MQTT_PORT", &cfg.MQTT.Broker.Port)
	str("MQTT_CLIENT_ID", &cfg.MQTT.Broker.ClientID)
	str("MQTT_USERNAME", &cfg.MQTT.Auth.Username)
	str("MQTT_PASSWORD", &cfg.MQTT.Auth.Password)

	// Backend. OPENAI_API_KEY is honoured for compatibility with existing
	// deployments; the prefixed variable wins.
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Backend.APIKey = v
	}
	str("BACKEND_API_KEY", &cfg.Backend.APIKey)
	str("BACKEND_URL", &cfg.Backend.URL)
	str("BACKEND_MODEL", &cfg.Backend.Model)
	str("BACKEND_VOICE", &cfg.Backend.Voice)

	// Session
	num("SESSION_MAX_CONCURRENT", &cfg.Session.MaxConcurrent)

	// Database
	str("DATABASE_PATH", &cfg.Database.Path)

	// Redis
	flag("REDIS_ENABLED", &cfg.Redis.Enabled)
	str("REDIS_ADDR", &cfg.Redis.Addr)
	str("REDIS_PASSWORD", &cfg.Redis.Password)

	// API
	str("API_HOST", &cfg.API.Host)
	num("API_PORT", &cfg.API.Port)

	// InfluxDB
	str("INFLUXDB_TOKEN", &cfg.InfluxDB.Token)

	// Logging
	str("LOG_LEVEL", &cfg.Logging.Level)

	if len(errs) > 0 {
		return fmt.Errorf("environment overrides: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Validate checks the configuration for errors.
// All problems are collected into one error.
func (c *Config) Validate() error {
	var errs []string

	// MQTT validation
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Topics.Request == "" || c.MQTT.Topics.Health == "" {
		errs = append(errs, "mqtt.topics.request and mqtt.topics.health are required")
	}
	if !strings.Contains(c.MQTT.Topics.Response, "{device_id}") {
		errs = append(errs, "mqtt.topics.response must contain {device_id}")
	}

	// Backend validation
	if c.Backend.APIKey == "" {
		errs = append(errs, "backend.api_key is required (set VOICEBRIDGE_BACKEND_API_KEY or OPENAI_API_KEY)")
	}
	if u, err := url.Parse(c.Backend.URL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		errs = append(errs, "backend.url must be a ws:// or wss:// URL")
	}

	// Session validation
	if c.Session.MaxConcurrent < 1 {
		errs = append(errs, "session.max_concurrent must be at least 1")
	}
	if c.Session.IdleTimeoutSeconds < 0 {
		errs = append(errs, "session.idle_timeout_seconds must not be negative")
	}

	// Bridge validation
	if c.Bridge.HealthCheckInterval < 1 {
		errs = append(errs, "bridge.health_check_interval must be at least 1")
	}

	// Journal validation
	if c.Journal.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when the journal is enabled")
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// Seconds converts a whole-second setting to a Duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
