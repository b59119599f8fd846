// Voice Bridge - MQTT to realtime speech relay
//
// This is the main entry point of the voice bridge. Devices publish audio
// requests over MQTT; the bridge relays them to a realtime speech backend
// over WebSocket and streams the spoken answer back to the device.
//
// For the message format, see internal/protocol.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/voice-bridge/migrations"

	"github.com/nerrad567/voice-bridge/internal/api"
	"github.com/nerrad567/voice-bridge/internal/bridge"
	"github.com/nerrad567/voice-bridge/internal/infrastructure/config"
	"github.com/nerrad567/voice-bridge/internal/infrastructure/database"
	"github.com/nerrad567/voice-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/voice-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/voice-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/voice-bridge/internal/journal"
	"github.com/nerrad567/voice-bridge/internal/protocol"
	"github.com/nerrad567/voice-bridge/internal/realtime"
	"github.com/nerrad567/voice-bridge/internal/session"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

const (
	// pruneInterval is how often the exchange journal is trimmed.
	pruneInterval = 24 * time.Hour

	// startupCheckTimeout bounds the initial dependency health check.
	startupCheckTimeout = 5 * time.Second

	// defaultMirrorTTL expires mirrored sessions when idle reaping is off.
	defaultMirrorTTL = time.Hour
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the bridge together and blocks until ctx is cancelled.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear startup sequence
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting voice bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(config.PathFromEnv())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"mqtt_broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"backend_model", cfg.Backend.Model,
		"max_sessions", cfg.Session.MaxConcurrent,
	)

	// Exchange journal (SQLite)
	var (
		db   *database.DB
		repo *journal.SQLiteRepository
	)
	if cfg.Journal.Enabled {
		db, err = openJournal(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		repo = journal.NewSQLiteRepository(db.DB)
		log.Info("exchange journal ready", "path", cfg.Database.Path)
	}

	// MQTT, with the offline status as last will
	clientID := cfg.MQTT.Broker.ClientID
	offline, err := bridge.OfflinePayload(clientID)
	if err != nil {
		return fmt.Errorf("building last will: %w", err)
	}
	mqttClient, err := mqtt.Connect(cfg.MQTT, &mqtt.Will{
		Topic:   cfg.MQTT.Topics.Health,
		Payload: offline,
		QoS:     byte(cfg.MQTT.QoS),
	})
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT connection lost", "error", err)
	})
	log.Info("MQTT connected", "broker", cfg.MQTT.Broker.Host, "client_id", clientID)

	// InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Warn("InfluxDB write failed", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	// Redis session mirror (optional)
	var mirror *session.RedisMirror
	if cfg.Redis.Enabled {
		mirror, err = session.NewRedisMirror(redisConfig(cfg))
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer func() {
			if closeErr := mirror.Close(); closeErr != nil {
				log.Error("error closing redis", "error", closeErr)
			}
		}()
		if resetErr := mirror.Reset(ctx); resetErr != nil {
			log.Warn("clearing stale mirrored sessions failed", "error", resetErr)
		}
		log.Info("session mirror connected", "addr", cfg.Redis.Addr)
	}

	checkCtx, checkCancel := context.WithTimeout(ctx, startupCheckTimeout)
	err = healthCheck(checkCtx, db, mqttClient, influxClient)
	checkCancel()
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}

	// Event hub for the live API stream
	hub := api.NewHub(cfg.WebSocket, log)
	go hub.Run(ctx)

	registryOpts := session.Options{
		MaxSessions: cfg.Session.MaxConcurrent,
		IdleTimeout: config.Seconds(cfg.Session.IdleTimeoutSeconds),
		Logger:      log,
		OnAdmit: func(k session.Key) {
			hub.Broadcast(bridge.EventSessionAdmitted, map[string]string{
				"device_id":  k.DeviceID,
				"session_id": k.SessionID,
			})
		},
		OnRelease: func(k session.Key, reason string) {
			hub.Broadcast(bridge.EventSessionReleased, map[string]string{
				"device_id":  k.DeviceID,
				"session_id": k.SessionID,
				"reason":     reason,
			})
		},
	}
	if mirror != nil {
		registryOpts.Mirror = mirror
	}
	registry, err := session.NewRegistry(registryOpts)
	if err != nil {
		return fmt.Errorf("creating session registry: %w", err)
	}

	backendCfg, strategies, err := backendConfig(cfg)
	if err != nil {
		return err
	}
	backendLog := log.With("component", "realtime")

	opts := bridge.Options{
		Config:   bridgeConfig(cfg),
		MQTT:     &mqttAdapter{client: mqttClient},
		Registry: registry,
		Backend: func() bridge.Backend {
			return realtime.New(backendCfg,
				realtime.WithStrategies(strategies),
				realtime.WithLogger(backendLog))
		},
		Prober: func(ctx context.Context) error {
			return realtime.Probe(ctx, backendCfg,
				realtime.WithStrategies(strategies),
				realtime.WithLogger(backendLog))
		},
		Events: hub,
		Logger: log.With("component", "bridge"),
	}
	// Typed nils must not reach the interface fields.
	if repo != nil {
		opts.Journal = repo
	}
	if influxClient != nil {
		opts.Telemetry = influxClient
	}

	b, err := bridge.New(opts)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	if err := b.Start(ctx); err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	defer b.Stop()

	// Republish health as soon as the broker link comes back; the broker
	// has just published the offline will.
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
		go func() {
			hcCtx, hcCancel := context.WithTimeout(ctx, startupCheckTimeout)
			defer hcCancel()
			if err := b.CheckHealth(hcCtx); err != nil {
				log.Warn("republishing health after reconnect failed", "error", err)
			}
		}()
	})

	if repo != nil && cfg.Journal.RetentionDays > 0 {
		go runPruner(ctx, repo, cfg.Journal.RetentionDays, log)
	}

	// HTTP API
	if cfg.API.Enabled {
		checks := map[string]api.Checker{"mqtt": mqttClient}
		deps := api.Deps{
			Config:  cfg.API,
			WS:      cfg.WebSocket,
			Logger:  log,
			Bridge:  b,
			MQTT:    mqttClient,
			Hub:     hub,
			Checks:  checks,
			Version: version,
		}
		if db != nil {
			checks["database"] = db
			deps.DB = db
			deps.Journal = repo
		}
		if influxClient != nil {
			checks["influxdb"] = influxClient
		}
		if mirror != nil {
			checks["redis"] = mirror
		}

		srv, err := api.New(deps)
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	log.Info("voice bridge started",
		"request_topic", cfg.MQTT.Topics.Request,
		"health_topic", cfg.MQTT.Topics.Health,
	)

	<-ctx.Done()
	log.Info("shutting down voice bridge")

	return nil
}

// openJournal opens the database and applies pending migrations.
func openJournal(ctx context.Context, cfg *config.Config) (*database.DB, error) {
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

// bridgeConfig maps the loaded configuration onto bridge.Config.
func bridgeConfig(cfg *config.Config) bridge.Config {
	return bridge.Config{
		ClientID: cfg.MQTT.Broker.ClientID,
		Version:  version,
		QoS:      byte(cfg.MQTT.QoS),
		Topics: protocol.Topics{
			Request:  cfg.MQTT.Topics.Request,
			Response: cfg.MQTT.Topics.Response,
			Health:   cfg.MQTT.Topics.Health,
			Control:  cfg.MQTT.Topics.Control,
		},
		HealthInterval: config.Seconds(cfg.Bridge.HealthCheckInterval),
		ProbeTimeout:   config.Seconds(cfg.Backend.HandshakeTimeout + cfg.Backend.NegotiateTimeout),
		ReapInterval:   reapInterval(cfg.Session),
		Workers:        cfg.Bridge.Workers,
		QueueSize:      cfg.Bridge.QueueSize,
		Voice:          cfg.Backend.Voice,
		Instructions:   cfg.Backend.Instructions,
	}
}

// reapInterval returns zero when idle reaping is disabled.
func reapInterval(cfg config.SessionConfig) time.Duration {
	if cfg.IdleTimeoutSeconds <= 0 || cfg.ReapIntervalSeconds <= 0 {
		return 0
	}
	return config.Seconds(cfg.ReapIntervalSeconds)
}

// backendConfig maps the backend section onto realtime.Config and resolves
// the configured connection strategies.
func backendConfig(cfg *config.Config) (realtime.Config, []realtime.Strategy, error) {
	strategies, err := realtime.StrategiesByName(cfg.Backend.Strategies)
	if err != nil {
		return realtime.Config{}, nil, fmt.Errorf("backend strategies: %w", err)
	}
	return realtime.Config{
		URL:                cfg.Backend.URL,
		Model:              cfg.Backend.Model,
		APIKey:             cfg.Backend.APIKey,
		Voice:              cfg.Backend.Voice,
		Instructions:       cfg.Backend.Instructions,
		InputFormat:        cfg.Backend.InputFormat,
		OutputFormat:       cfg.Backend.OutputFormat,
		TranscriptionModel: cfg.Backend.TranscriptionModel,
		HandshakeTimeout:   config.Seconds(cfg.Backend.HandshakeTimeout),
		NegotiateTimeout:   config.Seconds(cfg.Backend.NegotiateTimeout),
		ReceiveTimeout:     config.Seconds(cfg.Backend.ReceiveTimeout),
	}, strategies, nil
}

// redisConfig maps the redis section onto the session mirror settings.
// Mirrored sessions outlive the idle timeout by a factor of two before
// redis expires them.
func redisConfig(cfg *config.Config) session.RedisConfig {
	ttl := defaultMirrorTTL
	if cfg.Session.IdleTimeoutSeconds > 0 {
		ttl = 2 * config.Seconds(cfg.Session.IdleTimeoutSeconds)
	}
	return session.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Prefix:   cfg.Redis.KeyPrefix,
		TTL:      ttl,
	}
}

// healthCheck verifies the dependencies the bridge was started with.
// A nil db or influxClient is skipped.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}

	if mqttClient == nil {
		return errors.New("mqtt: client not connected")
	}
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}

// pruner is the part of the journal runPruner needs.
type pruner interface {
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
}

// runPruner deletes journal entries older than the retention window once at
// startup and then every pruneInterval until ctx is cancelled.
func runPruner(ctx context.Context, repo pruner, retentionDays int, log *logging.Logger) {
	retention := time.Duration(retentionDays) * 24 * time.Hour

	prune := func() {
		n, err := repo.Prune(ctx, time.Now().Add(-retention))
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Warn("pruning exchange journal failed", "error", err)
			}
			return
		}
		if n > 0 {
			log.Info("pruned exchange journal", "deleted", n, "retention_days", retentionDays)
		}
	}

	prune()

	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}

// mqttAdapter adapts mqtt.Client to bridge.MQTTClient. The bridge's
// handlers report their own failures, so they never return an error.
type mqttAdapter struct {
	client *mqtt.Client
}

func (a *mqttAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

func (a *mqttAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

func (a *mqttAdapter) IsConnected() bool {
	return a.client.IsConnected()
}
