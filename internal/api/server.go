package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/voice-bridge/internal/bridge"
	"github.com/nerrad567/voice-bridge/internal/infrastructure/config"
	"github.com/nerrad567/voice-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/voice-bridge/internal/journal"
	"github.com/nerrad567/voice-bridge/internal/session"
)

// gracefulShutdownTimeout bounds how long Close waits for in-flight requests.
const gracefulShutdownTimeout = 10 * time.Second

// BridgeService is the read and control surface of the bridge the API
// exposes. *bridge.Bridge satisfies it.
type BridgeService interface {
	Stats() bridge.Stats
	Sessions() []session.Snapshot
	ReleaseSession(deviceID, sessionID string) bool
	Status() (bridge.HealthStatus, string)
	Uptime() time.Duration
}

// Checker is a component with an active health check (MQTT, database,
// InfluxDB, Redis).
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// ConnectionState reports broker connectivity. *mqtt.Client satisfies it.
type ConnectionState interface {
	IsConnected() bool
}

// DatabaseStats exposes pool statistics and file size. *database.DB
// satisfies it.
type DatabaseStats interface {
	Stats() sql.DBStats
	SizeBytes() int64
}

// Deps holds the dependencies of the API server. Bridge and Logger are
// required; everything else is optional.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	Bridge  BridgeService
	Journal journal.Repository
	MQTT    ConnectionState
	DB      DatabaseStats

	// Checks are run by GET /health, keyed by component name.
	Checks map[string]Checker

	// Hub, if set, is used instead of an internal one. The caller runs it.
	Hub *Hub

	Version string
}

// Server is the status API and event stream of the voice bridge.
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	logger   *logging.Logger
	bridge   BridgeService
	journal  journal.Repository
	mqtt     ConnectionState
	db       DatabaseStats
	checks   map[string]Checker
	version  string
	upgrader websocket.Upgrader

	hub         *Hub
	externalHub bool

	server *http.Server
	cancel context.CancelFunc
}

// New creates a server. It does not listen until Start.
//
// Parameters:
//   - deps: Logger and Bridge are required. Journal, MQTT, DB and Checks
//     are optional; without a Journal GET /exchanges answers 503. When Hub
//     is nil the server creates and runs its own.
//
// Returns:
//   - *Server: Ready to Start
//   - error: If a required dependency is missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Bridge == nil {
		return nil, fmt.Errorf("bridge is required")
	}

	s := &Server{
		cfg:     deps.Config,
		wsCfg:   deps.WS,
		logger:  deps.Logger,
		bridge:  deps.Bridge,
		journal: deps.Journal,
		mqtt:    deps.MQTT,
		db:      deps.DB,
		checks:  deps.Checks,
		version: deps.Version,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.isAllowedOrigin(origin)
		},
	}

	if deps.Hub != nil {
		s.hub = deps.Hub
		s.externalHub = true
	} else {
		s.hub = NewHub(deps.WS, deps.Logger)
	}

	return s, nil
}

// Hub returns the event hub. Pass it to the bridge as its event sink.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start launches the HTTP listener in the background.
//
// Steps:
//  1. Start the event hub unless it was supplied by the caller
//  2. Build the chi router and middleware chain
//  3. Listen on api.host:api.port, with TLS when configured, on a
//     goroutine; listener errors are logged, not returned
//
// Cancelling ctx stops the hub but not the listener; call Close for that.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if !s.externalHub {
		go s.hub.Run(srvCtx)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close stops the hub and waits up to 10 seconds for in-flight requests.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck reports whether the server has been started.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
