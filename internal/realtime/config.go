package realtime

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// Defaults applied by New for zero-valued Config fields.
const (
	DefaultURL                = "wss://api.openai.com/v1/realtime"
	DefaultModel              = "gpt-4o-realtime-preview"
	DefaultVoice              = "alloy"
	DefaultInstructions       = "You are a helpful AI assistant responding to voice commands from IoT devices."
	DefaultAudioFormat        = "pcm16"
	DefaultTranscriptionModel = "whisper-1"

	defaultHandshakeTimeout = 10 * time.Second
	defaultNegotiateTimeout = 10 * time.Second
	defaultReceiveTimeout   = 30 * time.Second
	defaultWriteTimeout     = 5 * time.Second
	closeGracePeriod        = time.Second
)

// Config holds backend connection settings.
type Config struct {
	// URL is the realtime endpoint. The model is appended as ?model=.
	URL    string
	Model  string
	APIKey string

	// Session defaults, overridable per request through Options.
	Voice              string
	Instructions       string
	InputFormat        string
	OutputFormat       string
	TranscriptionModel string

	// HandshakeTimeout bounds each connection attempt. Default: 10s.
	HandshakeTimeout time.Duration

	// NegotiateTimeout bounds the wait for session confirmation. Default: 10s.
	NegotiateTimeout time.Duration

	// ReceiveTimeout is the longest gap allowed between backend frames while
	// a response is streaming. Default: 30s.
	ReceiveTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Voice == "" {
		c.Voice = DefaultVoice
	}
	if c.Instructions == "" {
		c.Instructions = DefaultInstructions
	}
	if c.InputFormat == "" {
		c.InputFormat = DefaultAudioFormat
	}
	if c.OutputFormat == "" {
		c.OutputFormat = DefaultAudioFormat
	}
	if c.TranscriptionModel == "" {
		c.TranscriptionModel = DefaultTranscriptionModel
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
	if c.NegotiateTimeout <= 0 {
		c.NegotiateTimeout = defaultNegotiateTimeout
	}
	if c.ReceiveTimeout <= 0 {
		c.ReceiveTimeout = defaultReceiveTimeout
	}
	return c
}

// endpoint returns the dial URL with the model query parameter.
func (c Config) endpoint() (string, error) {
	u, err := url.Parse(c.URL)
	if err != nil {
		return "", fmt.Errorf("parsing backend url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("backend url scheme must be ws or wss, got %q", u.Scheme)
	}
	if c.Model != "" {
		q := u.Query()
		q.Set("model", c.Model)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Strategy is one way of authenticating the WebSocket handshake.
type Strategy struct {
	Name   string
	Header func(cfg Config) http.Header
}

// Strategy names.
const (
	StrategyBearerBeta = "bearer+beta"
	StrategyBearer     = "bearer"
	StrategyAPIKey     = "api-key"
)

// DefaultStrategies returns the connection strategies in the order they are
// tried. Each is attempted once.
func DefaultStrategies() []Strategy {
	return []Strategy{
		{
			Name: StrategyBearerBeta,
			Header: func(cfg Config) http.Header {
				h := http.Header{}
				h.Set("Authorization", "Bearer "+cfg.APIKey)
				h.Set("OpenAI-Beta", "realtime=v1")
				return h
			},
		},
		{
			Name: StrategyBearer,
			Header: func(cfg Config) http.Header {
				h := http.Header{}
				h.Set("Authorization", "Bearer "+cfg.APIKey)
				return h
			},
		},
		{
			Name: StrategyAPIKey,
			Header: func(cfg Config) http.Header {
				h := http.Header{}
				h.Set("api-key", cfg.APIKey)
				return h
			},
		},
	}
}

// StrategiesByName returns the named strategies in the given order. An empty
// list selects DefaultStrategies.
func StrategiesByName(names []string) ([]Strategy, error) {
	all := DefaultStrategies()
	if len(names) == 0 {
		return all, nil
	}

	index := make(map[string]Strategy, len(all))
	for _, s := range all {
		index[s.Name] = s
	}

	out := make([]Strategy, 0, len(names))
	for _, name := range names {
		s, ok := index[name]
		if !ok {
			return nil, fmt.Errorf("unknown connection strategy %q", name)
		}
		out = append(out, s)
	}
	return out, nil
}

// Dialer opens WebSocket connections. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Logger is the logging surface used by the package.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Features reports what the backend supports, for health reporting.
func Features() map[string]bool {
	return map[string]bool{
		"streaming":                true,
		"voice_activity_detection": true,
		"speaker_diarization":      false,
		"language_detection":       true,
		"real_time_translation":    false,
	}
}
