package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/voice-bridge/internal/journal"
	"github.com/nerrad567/voice-bridge/internal/protocol"
	"github.com/nerrad567/voice-bridge/internal/realtime"
	"github.com/nerrad567/voice-bridge/internal/session"
)

// Defaults for zero-valued Config fields.
const (
	DefaultClientID  = "mqtt-ai-server"
	DefaultService   = "openai_realtime"
	DefaultWorkers   = 16
	DefaultQueueSize = 256

	// recordTimeout bounds journal writes after an exchange.
	recordTimeout = 5 * time.Second
)

// Event channels broadcast to EventSink subscribers.
const (
	EventExchangeCompleted = "exchange.completed"
	EventExchangeFailed    = "exchange.failed"
	EventSessionAdmitted   = "session.admitted"
	EventSessionReleased   = "session.released"
	EventHealth            = "health"
)

// MQTTClient is the interface for MQTT operations.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// Backend is one streaming conversation with the speech backend.
// *realtime.Session satisfies it.
type Backend interface {
	io.Closer
	Connect(ctx context.Context) error
	Negotiate(ctx context.Context, opts realtime.Options) error
	SendAudio(ctx context.Context, audio []byte) error
	Receive(ctx context.Context) (<-chan realtime.Chunk, <-chan error)
	Ready() bool
}

// BackendFactory creates a disconnected Backend.
type BackendFactory func() Backend

// Journal persists completed and failed exchanges. Optional.
type Journal interface {
	Record(ctx context.Context, ex journal.Exchange) error
}

// Telemetry receives per-exchange and periodic bridge metrics. Optional.
type Telemetry interface {
	WriteExchange(deviceID, outcome string, chunks int, durationMS float64, bytesIn, bytesOut int, cost float64)
	WriteBridgeStats(active int, processed, sent, errors uint64)
}

// EventSink fans bridge events out to live subscribers. Optional.
type EventSink interface {
	Broadcast(channel string, payload any)
}

// Logger is the logging surface used by the bridge.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Config holds bridge settings.
type Config struct {
	// ClientID is the device_id of server-originated messages.
	ClientID string

	// Service names the backend in health reports.
	Service string

	Version string
	QoS     byte
	Topics  protocol.Topics

	// HealthInterval is how often health is checked and published.
	HealthInterval time.Duration

	// ProbeTimeout bounds each backend reachability probe.
	ProbeTimeout time.Duration

	// ReapInterval is how often idle sessions are reaped. Zero disables
	// the reaper regardless of the registry's idle timeout.
	ReapInterval time.Duration

	// Workers bounds concurrent backend flows. A request waiting for its
	// session to become free does not occupy a worker.
	Workers int

	// QueueSize is the inbound message buffer and also bounds handlers
	// waiting beyond the running workers. An audio request arriving while
	// either is full is answered with CAPACITY_EXCEEDED.
	QueueSize int

	// Voice and Instructions apply when a request carries none.
	Voice        string
	Instructions string
}

func (c Config) withDefaults() Config {
	if c.ClientID == "" {
		c.ClientID = DefaultClientID
	}
	if c.Service == "" {
		c.Service = DefaultService
	}
	if c.Topics == (protocol.Topics{}) {
		c.Topics = protocol.DefaultTopics()
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	return c
}

// Options holds dependencies for creating a bridge.
type Options struct {
	Config Config

	// MQTT is the broker client.
	MQTT MQTTClient

	// Registry tracks admitted sessions and enforces the concurrency cap.
	Registry *session.Registry

	// Backend creates backend sessions.
	Backend BackendFactory

	// Prober checks backend reachability for health. Optional.
	Prober Prober

	// Features is reported in health. Default: realtime.Features().
	Features map[string]bool

	Journal   Journal
	Telemetry Telemetry
	Events    EventSink
	Logger    Logger
}

// inbound is one raw message handed over by the MQTT callback.
type inbound struct {
	topic   string
	payload []byte
}

// Bridge relays device audio requests to the speech backend and streams the
// responses back.
//
// The MQTT callback only enqueues raw messages. A dispatcher goroutine
// hands each one to its own handler goroutine. A handler admits its session
// and takes the session lock before it competes for one of the worker slots,
// so requests queued behind a busy session never starve other sessions.
// Requests for the same session are serialised by the session lock.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	cfg        Config
	mqtt       MQTTClient
	registry   *session.Registry
	newBackend BackendFactory
	journal    Journal
	telemetry  Telemetry
	events     EventSink
	health     *HealthReporter
	logger     Logger

	stats   counters
	inbound chan inbound
	workers chan struct{}

	// pending counts handler goroutines not yet finished.
	pending    atomic.Int64
	maxPending int64

	// Shutdown coordination
	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc
}

// New creates a bridge. Call Start to begin operation.
func New(opts Options) (*Bridge, error) {
	if opts.MQTT == nil {
		return nil, errors.New("MQTT client is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("session registry is required")
	}
	if opts.Backend == nil {
		return nil, errors.New("backend factory is required")
	}

	cfg := opts.Config.withDefaults()
	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		cfg:        cfg,
		mqtt:       opts.MQTT,
		registry:   opts.Registry,
		newBackend: opts.Backend,
		journal:    opts.Journal,
		telemetry:  opts.Telemetry,
		events:     opts.Events,
		logger:     opts.Logger,
		inbound:    make(chan inbound, cfg.QueueSize),
		workers:    make(chan struct{}, cfg.Workers),
		maxPending: int64(cfg.Workers + cfg.QueueSize),
		done:       make(chan struct{}),
		ctx:        ctx,
		ctxCancel:  ctxCancel,
	}

	features := opts.Features
	if features == nil {
		features = realtime.Features()
	}
	b.health = NewHealthReporter(HealthReporterConfig{
		ClientID:     cfg.ClientID,
		Service:      cfg.Service,
		Version:      cfg.Version,
		Interval:     cfg.HealthInterval,
		ProbeTimeout: cfg.ProbeTimeout,
		Topic:        cfg.Topics.HealthTopic(),
		QoS:          cfg.QoS,
		Publisher:    opts.MQTT,
		Prober:       opts.Prober,
		Features:     features,
		Registry:     opts.Registry,
		Stats:        b.Stats,
		Telemetry:    opts.Telemetry,
		Events:       opts.Events,
	}, opts.Logger)

	return b, nil
}

// Start subscribes to the request and control topics and starts the
// dispatcher, the health reporter and the idle-session reaper. Cancelling
// ctx has the same effect on background work as Stop, minus the final
// health message.
func (b *Bridge) Start(ctx context.Context) error {
	err := errors.New("bridge already started")
	b.startOnce.Do(func() {
		err = b.start(ctx)
	})
	return err
}

func (b *Bridge) start(ctx context.Context) error {
	context.AfterFunc(ctx, b.ctxCancel)

	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	requestTopic := b.cfg.Topics.RequestSubscription()
	if err := b.mqtt.Subscribe(requestTopic, b.cfg.QoS, b.enqueue); err != nil {
		return fmt.Errorf("subscribe to requests: %w", err)
	}
	b.logInfo("subscribed to audio requests", "topic", requestTopic)

	if controlTopic := b.cfg.Topics.ControlSubscription(); controlTopic != "" {
		if err := b.mqtt.Subscribe(controlTopic, b.cfg.QoS, b.enqueue); err != nil {
			return fmt.Errorf("subscribe to session control: %w", err)
		}
		b.logInfo("subscribed to session control", "topic", controlTopic)
	}

	b.wg.Add(1)
	go b.dispatch()

	if b.cfg.ReapInterval > 0 {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.registry.RunReaper(b.ctx, b.cfg.ReapInterval)
		}()
	}

	b.health.Start(b.ctx)

	b.logInfo("bridge started",
		"client_id", b.cfg.ClientID,
		"max_sessions", b.registry.Capacity(),
		"workers", b.cfg.Workers)
	return nil
}

// Stop cancels in-flight requests, waits for their handlers, closes every
// backend session and publishes a final "stopping" health message. Safe to
// call multiple times.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.ctxCancel()
		b.wg.Wait()

		b.registry.CloseAll()
		b.health.Stop()

		b.logInfo("bridge stopped")
	})
}

// Stats returns a snapshot of the bridge counters.
func (b *Bridge) Stats() Stats {
	return b.stats.snapshot()
}

// Sessions returns the active sessions, oldest first.
func (b *Bridge) Sessions() []session.Snapshot {
	return b.registry.Snapshot()
}

// ReleaseSession force-releases a session and reports whether it was active.
func (b *Bridge) ReleaseSession(deviceID, sessionID string) bool {
	if !b.registry.Contains(deviceID, sessionID) {
		return false
	}
	b.registry.Release(deviceID, sessionID)
	return true
}

// Status returns the last published health status and reason.
func (b *Bridge) Status() (HealthStatus, string) {
	return b.health.Status()
}

// CheckHealth evaluates health now and publishes the result, for example
// right after the broker connection is restored.
func (b *Bridge) CheckHealth(ctx context.Context) error {
	return b.health.Check(ctx)
}

// Uptime returns the time since the bridge was created.
func (b *Bridge) Uptime() time.Duration {
	return b.health.Uptime()
}

// enqueue is the MQTT callback. It never blocks the client's delivery
// goroutine: when the queue is full the message is rejected.
func (b *Bridge) enqueue(topic string, payload []byte) {
	select {
	case <-b.done:
		return
	default:
	}

	select {
	case b.inbound <- inbound{topic: topic, payload: payload}:
	default:
		b.reject(inbound{topic: topic, payload: payload}, "inbound queue full")
	}
}

// dispatch starts a handler goroutine for every queued message. It never
// waits for a worker slot; handleAudioRequest acquires one once its session
// is free.
func (b *Bridge) dispatch() {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			return
		case msg := <-b.inbound:
			if b.pending.Load() >= b.maxPending {
				b.reject(msg, "too many pending requests")
				continue
			}

			b.pending.Add(1)
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				defer b.pending.Add(-1)
				defer b.recoverHandler(msg.topic)
				b.route(msg)
			}()
		}
	}
}

// reject drops a message the bridge has no room for. An audio request gets
// a CAPACITY_EXCEEDED reply so the device is not left waiting.
func (b *Bridge) reject(msg inbound, reason string) {
	b.stats.dropped.Add(1)
	b.logWarn("dropping message", "topic", msg.topic, "reason", reason)

	m, err := protocol.Decode(msg.payload)
	if err != nil {
		b.stats.errors.Add(1)
		return
	}
	req, ok := m.(*protocol.AudioRequest)
	if !ok || !b.topicMatchesDevice(msg.topic, req.DeviceID) {
		b.stats.errors.Add(1)
		return
	}
	b.fail(&exchange{req: req, start: time.Now()}, errQueueFull, journal.OutcomeRejected)
}

// acquireWorker waits for a worker slot. The returned func frees it.
func (b *Bridge) acquireWorker(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case b.workers <- struct{}{}:
		return func() { <-b.workers }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *Bridge) recoverHandler(topic string) {
	if r := recover(); r != nil {
		b.stats.errors.Add(1)
		b.logErrorKV("panic in message handler", "topic", topic, "panic", fmt.Sprint(r))
	}
}

// route decodes a message and dispatches it by kind. Undecodable messages
// are logged, counted and dropped: the sender cannot be trusted with a reply.
func (b *Bridge) route(msg inbound) {
	m, err := protocol.Decode(msg.payload)
	if err != nil {
		b.stats.errors.Add(1)
		b.logWarn("dropping undecodable message", "topic", msg.topic, "error", err)
		return
	}

	header := m.Header()
	if !b.topicMatchesDevice(msg.topic, header.DeviceID) {
		b.stats.errors.Add(1)
		b.logWarn("dropping message with mismatched device id",
			"topic", msg.topic,
			"device_id", header.DeviceID)
		return
	}

	switch v := m.(type) {
	case *protocol.AudioRequest:
		b.handleAudioRequest(v)
	case *protocol.SessionControl:
		b.handleControl(v)
	default:
		b.logDebug("ignoring message", "topic", msg.topic, "message_type", string(header.Kind))
	}
}

// topicMatchesDevice reports whether the device segment of the topic agrees
// with the payload's device_id. Topics outside the configured patterns are
// accepted as-is.
func (b *Bridge) topicMatchesDevice(topic, deviceID string) bool {
	for _, pattern := range []string{b.cfg.Topics.Request, b.cfg.Topics.Control} {
		if dev, ok := protocol.DeviceFromTopic(pattern, topic); ok {
			return dev == deviceID
		}
	}
	return true
}

// handleControl applies a session_start or session_end notification.
func (b *Bridge) handleControl(msg *protocol.SessionControl) {
	switch msg.Kind {
	case protocol.KindSessionEnd:
		existed := b.ReleaseSession(msg.DeviceID, msg.SessionID)
		b.logInfo("session end received",
			"device_id", msg.DeviceID,
			"session_id", msg.SessionID,
			"was_active", existed)
	case protocol.KindSessionStart:
		b.logInfo("session start received",
			"device_id", msg.DeviceID,
			"session_id", msg.SessionID)
	}
}

// publish encodes and publishes a message to the device's response topic.
func (b *Bridge) publish(deviceID string, m protocol.Message) error {
	payload, err := protocol.Encode(m)
	if err != nil {
		return fmt.Errorf("encode %s: %w", m.Header().Kind, err)
	}
	if err := b.mqtt.Publish(b.cfg.Topics.ResponseTopic(deviceID), payload, b.cfg.QoS, false); err != nil {
		return fmt.Errorf("publish %s: %w", m.Header().Kind, err)
	}
	return nil
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Debug(msg, keysAndValues...)
	}
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Warn(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error) {
	if b.logger != nil {
		b.logger.Error(msg, "error", err)
	}
}

func (b *Bridge) logErrorKV(msg string, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Error(msg, keysAndValues...)
	}
}
