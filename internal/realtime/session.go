package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// maxFrameSize limits a single backend frame. Audio deltas are small but
	// a misbehaving backend must not exhaust memory.
	maxFrameSize = 16 << 20

	// chunkBufferSize is the buffer between the read loop and the consumer.
	chunkBufferSize = 64
)

// errMalformedFrame marks a frame that is not a JSON event.
var errMalformedFrame = errors.New("malformed backend frame")

// supportedFormats are the audio formats the backend accepts.
var supportedFormats = map[string]bool{
	"pcm16":     true,
	"g711_ulaw": true,
	"g711_alaw": true,
}

// Options are per-request session parameters. Empty fields fall back to the
// Config defaults.
type Options struct {
	Voice        string
	Instructions string
	Format       string
}

// Option customises a Session.
type Option func(*Session)

// WithDialer replaces the default WebSocket dialer.
func WithDialer(d Dialer) Option {
	return func(s *Session) { s.dialer = d }
}

// WithStrategies replaces the connection strategies.
func WithStrategies(strategies []Strategy) Option {
	return func(s *Session) { s.strategies = strategies }
}

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(s *Session) { s.logger = l }
}

// Session is one WebSocket conversation with the realtime backend.
//
// A request drives it through Connect, Negotiate, SendAudio and Receive. A
// session left in Draining after a completed response can serve another
// request: SendAudio moves it back to Streaming.
//
// Thread Safety: State, Ready and Close are safe for concurrent use. The flow
// methods (Connect, Negotiate, SendAudio, Receive) must be called by one
// goroutine at a time.
type Session struct {
	cfg        Config
	dialer     Dialer
	strategies []Strategy
	logger     Logger

	mu       sync.Mutex
	state    State
	conn     *websocket.Conn
	strategy string

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// New creates a disconnected session.
func New(cfg Config, opts ...Option) *Session {
	cfg = cfg.withDefaults()
	s := &Session{
		cfg:        cfg,
		strategies: DefaultStrategies(),
		state:      StateDisconnected,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.dialer == nil {
		s.dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		}
	}
	return s
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Ready reports whether the session can accept audio.
func (s *Session) Ready() bool {
	st := s.State()
	return st == StateStreaming || st == StateDraining
}

// Strategy returns the name of the strategy that connected, or "".
func (s *Session) Strategy() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.strategy
}

// Connect opens the WebSocket, trying each strategy once in order. The first
// successful handshake wins. If all fail the session is closed and the error
// wraps ErrConnectionFailed and the last attempt's failure.
func (s *Session) Connect(ctx context.Context) error {
	if err := s.transition(StateConnecting); err != nil {
		return err
	}

	endpoint, err := s.cfg.endpoint()
	if err != nil {
		s.Close() //nolint:errcheck // nothing to close yet
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	var lastErr error
	for _, strategy := range s.strategies {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}

		dialCtx, cancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
		conn, resp, err := s.dialer.DialContext(dialCtx, endpoint, strategy.Header(s.cfg))
		cancel()
		if resp != nil && resp.Body != nil {
			resp.Body.Close() //nolint:errcheck // body already consumed by the dialer
		}
		if err != nil {
			lastErr = fmt.Errorf("strategy %s: %w", strategy.Name, handshakeError(err, resp))
			s.logDebug("backend connection attempt failed", "strategy", strategy.Name, "error", err)
			continue
		}

		conn.SetReadLimit(maxFrameSize)

		s.mu.Lock()
		if s.state == StateClosed {
			s.mu.Unlock()
			conn.Close() //nolint:errcheck // closed concurrently
			return ErrClosed
		}
		s.conn = conn
		s.strategy = strategy.Name
		s.mu.Unlock()

		s.logDebug("backend connected", "strategy", strategy.Name)
		return nil
	}

	s.Close() //nolint:errcheck // no connection was established
	if lastErr == nil {
		lastErr = errors.New("no connection strategies configured")
	}
	return fmt.Errorf("%w: %w", ErrConnectionFailed, lastErr)
}

// handshakeError adds the HTTP status of a rejected upgrade.
func handshakeError(err error, resp *http.Response) error {
	if resp != nil && errors.Is(err, websocket.ErrBadHandshake) {
		return fmt.Errorf("%w (status %d)", err, resp.StatusCode)
	}
	return err
}

// Negotiate configures the conversation and waits for the backend to confirm
// with session.created or session.updated. Any other reply, or none within
// the negotiate timeout, closes the session and returns ErrNegotiationFailed.
func (s *Session) Negotiate(ctx context.Context, opts Options) error {
	if err := s.transition(StateNegotiating); err != nil {
		return err
	}
	conn := s.connection()

	update := clientEvent{Type: eventSessionUpdate, Session: s.sessionParams(opts)}
	if err := s.writeEvent(ctx, conn, update); err != nil {
		s.Close() //nolint:errcheck // already failing
		return fmt.Errorf("%w: %w", ErrNegotiationFailed, err)
	}

	deadline := time.Now().Add(s.cfg.NegotiateTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		s.Close() //nolint:errcheck // already failing
		return fmt.Errorf("%w: set read deadline: %w", ErrNegotiationFailed, err)
	}
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now()) //nolint:errcheck // unblocks the read
	})
	defer stop()

	ev, err := readEvent(conn)
	if err != nil {
		s.Close() //nolint:errcheck // already failing
		if isTimeout(err) && ctx.Err() == nil {
			return fmt.Errorf("%w: no confirmation within %s", ErrNegotiationFailed, s.cfg.NegotiateTimeout)
		}
		return fmt.Errorf("%w: %w", ErrNegotiationFailed, err)
	}

	switch ev.Type {
	case eventSessionCreated, eventSessionUpdated:
	case eventError:
		s.Close() //nolint:errcheck // already failing
		return fmt.Errorf("%w: %w", ErrNegotiationFailed, ev.backendError())
	default:
		s.Close() //nolint:errcheck // already failing
		return fmt.Errorf("%w: unexpected event %q", ErrNegotiationFailed, ev.Type)
	}

	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		s.Close() //nolint:errcheck // already failing
		return fmt.Errorf("%w: clear read deadline: %w", ErrNegotiationFailed, err)
	}
	if err := s.transition(StateStreaming); err != nil {
		return err
	}

	s.logDebug("backend session negotiated", "confirmation", ev.Type)
	return nil
}

func (s *Session) sessionParams(opts Options) *sessionParams {
	voice := opts.Voice
	if voice == "" {
		voice = s.cfg.Voice
	}
	instructions := opts.Instructions
	if instructions == "" {
		instructions = s.cfg.Instructions
	}
	inFormat, outFormat := s.cfg.InputFormat, s.cfg.OutputFormat
	if supportedFormats[opts.Format] {
		inFormat, outFormat = opts.Format, opts.Format
	}

	return &sessionParams{
		Modalities:              []string{"text", "audio"},
		Instructions:            instructions,
		Voice:                   voice,
		InputAudioFormat:        inFormat,
		OutputAudioFormat:       outFormat,
		InputAudioTranscription: &transcriptionParams{Model: s.cfg.TranscriptionModel},
	}
}

// SendAudio appends the audio to the input buffer, commits it and asks for a
// response. An empty payload is rejected without any I/O.
func (s *Session) SendAudio(ctx context.Context, audio []byte) error {
	if len(audio) == 0 {
		return fmt.Errorf("%w: empty audio payload", ErrSendFailed)
	}

	s.mu.Lock()
	switch s.state {
	case StateStreaming:
	case StateDraining:
		s.state = StateStreaming
	case StateClosed:
		s.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrSendFailed, ErrClosed)
	default:
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: send audio in state %s", ErrInvalidTransition, st)
	}
	conn := s.conn
	s.mu.Unlock()

	events := []clientEvent{
		{Type: eventAudioAppend, Audio: base64.StdEncoding.EncodeToString(audio)},
		{Type: eventAudioCommit},
		{Type: eventResponseCreate},
	}
	for _, ev := range events {
		if err := s.writeEvent(ctx, conn, ev); err != nil {
			s.Close() //nolint:errcheck // already failing
			return fmt.Errorf("%w: %s: %w", ErrSendFailed, ev.Type, err)
		}
	}
	return nil
}

// Receive streams the response to the last SendAudio. Chunks arrive in
// backend order. After the chunk channel closes, the error channel yields
// exactly one value: nil when the response completed, a *BackendError for a
// backend error event, ErrTimeout when no frame arrived within the receive
// timeout, ErrClosed when the connection dropped, or the context error.
//
// On success the session moves to Draining and may be reused. Every failure
// closes the session.
func (s *Session) Receive(ctx context.Context) (<-chan Chunk, <-chan error) {
	chunks := make(chan Chunk, chunkBufferSize)
	errc := make(chan error, 1)

	s.mu.Lock()
	st, conn := s.state, s.conn
	s.mu.Unlock()

	if st != StateStreaming {
		var err error
		if st == StateClosed {
			err = ErrClosed
		} else {
			err = fmt.Errorf("%w: receive in state %s", ErrInvalidTransition, st)
		}
		errc <- err
		close(chunks)
		close(errc)
		return chunks, errc
	}

	go func() {
		err := s.pump(ctx, conn, chunks)
		if err != nil {
			s.Close() //nolint:errcheck // session unusable after a failed response
		}
		errc <- err
		close(chunks)
		close(errc)
	}()
	return chunks, errc
}

func (s *Session) pump(ctx context.Context, conn *websocket.Conn, chunks chan<- Chunk) error {
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now()) //nolint:errcheck // unblocks the read
	})
	defer stop()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(s.cfg.ReceiveTimeout)); err != nil {
			return fmt.Errorf("%w: %w", ErrClosed, err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		ev, err := readEvent(conn)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return ctx.Err()
			case errors.Is(err, errMalformedFrame):
				s.logWarn("ignoring malformed backend frame", "error", err)
				continue
			case isTimeout(err):
				return fmt.Errorf("%w: no frame within %s", ErrTimeout, s.cfg.ReceiveTimeout)
			default:
				return fmt.Errorf("%w: %w", ErrClosed, err)
			}
		}

		var chunk Chunk
		switch ev.Type {
		case eventAudioDelta:
			if ev.Delta == "" {
				continue
			}
			audio, err := base64.StdEncoding.DecodeString(ev.Delta)
			if err != nil {
				s.logWarn("ignoring undecodable audio delta", "error", err)
				continue
			}
			chunk = Chunk{Kind: ChunkAudio, Audio: audio}
		case eventTranscriptDelta:
			if ev.Delta == "" {
				continue
			}
			chunk = Chunk{Kind: ChunkTranscript, Transcript: ev.Delta}
		case eventResponseDone:
			return s.transition(StateDraining)
		case eventError:
			berr := ev.backendError()
			s.logError("backend reported error", "code", berr.Code, "message", berr.Message)
			return berr
		default:
			continue
		}

		select {
		case chunks <- chunk:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close sends a close frame and closes the socket. It is idempotent and safe
// to call from any state.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		conn := s.conn
		prev := s.state
		s.state = StateClosed
		s.mu.Unlock()

		if conn == nil {
			return
		}
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod)) //nolint:errcheck // peer may be gone
		err = conn.Close()
		s.logDebug("backend session closed", "previous_state", prev.String())
	})
	return err
}

// transition moves to the given state if the edge is allowed.
func (s *Session) transition(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed && to != StateClosed {
		return fmt.Errorf("%w: %w", ErrInvalidTransition, ErrClosed)
	}
	if !CanTransition(s.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.state, to)
	}
	s.state = to
	return nil
}

func (s *Session) connection() *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func (s *Session) writeEvent(ctx context.Context, conn *websocket.Conn, ev clientEvent) error {
	if conn == nil {
		return ErrClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	deadline := time.Now().Add(defaultWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	return conn.WriteJSON(ev)
}

func readEvent(conn *websocket.Conn) (serverEvent, error) {
	var ev serverEvent
	if conn == nil {
		return ev, ErrClosed
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		return ev, err
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, fmt.Errorf("%w: %w", errMalformedFrame, err)
	}
	return ev, nil
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (s *Session) logDebug(msg string, keysAndValues ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, keysAndValues...)
	}
}

func (s *Session) logWarn(msg string, keysAndValues ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, keysAndValues...)
	}
}

func (s *Session) logError(msg string, keysAndValues ...any) {
	if s.logger != nil {
		s.logger.Error(msg, keysAndValues...)
	}
}
