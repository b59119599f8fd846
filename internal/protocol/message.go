package protocol

import (
	"time"

	"github.com/google/uuid"
)

// Kind is the message_type tag of a device message.
type Kind string

// Message kinds.
const (
	KindAudioRequest  Kind = "audio_request"
	KindAudioResponse Kind = "audio_response"
	KindHealthCheck   Kind = "health_check"
	KindError         Kind = "error"
	KindSessionStart  Kind = "session_start"
	KindSessionEnd    Kind = "session_end"
)

// Audio defaults applied when a request omits audio_metadata fields.
const (
	DefaultFormat     = "pcm16"
	DefaultSampleRate = 16000
	DefaultChannels   = 1
)

// ParseKind returns the Kind for tag and whether it belongs to the closed set.
func ParseKind(tag string) (Kind, bool) {
	switch k := Kind(tag); k {
	case KindAudioRequest, KindAudioResponse, KindHealthCheck, KindError,
		KindSessionStart, KindSessionEnd:
		return k, true
	default:
		return "", false
	}
}

// Envelope holds the fields common to every message.
type Envelope struct {
	MessageID string
	DeviceID  string
	// Timestamp is wall-clock unix seconds.
	Timestamp float64
	Kind      Kind
	SessionID string
}

// Header returns the envelope. It lets every variant satisfy Message.
func (e *Envelope) Header() *Envelope { return e }

// Time converts Timestamp to a time.Time.
func (e *Envelope) Time() time.Time {
	sec := int64(e.Timestamp)
	nsec := int64((e.Timestamp - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec)
}

// Message is implemented by all message variants.
type Message interface {
	Header() *Envelope
}

// AudioMetadata describes the audio carried by a request or response chunk.
type AudioMetadata struct {
	Format      string   `json:"format"`
	SampleRate  int      `json:"sample_rate"`
	Channels    int      `json:"channels"`
	ChunkID     int      `json:"chunk_id"`
	TotalChunks int      `json:"total_chunks"`
	DurationMS  *float64 `json:"duration_ms,omitempty"`
}

// DefaultAudioMetadata returns metadata for a single mono pcm16 chunk.
func DefaultAudioMetadata() AudioMetadata {
	return AudioMetadata{
		Format:      DefaultFormat,
		SampleRate:  DefaultSampleRate,
		Channels:    DefaultChannels,
		ChunkID:     0,
		TotalChunks: 1,
	}
}

// AudioRequest is sent by a device to ask for a spoken response.
type AudioRequest struct {
	Envelope
	Audio        []byte
	Metadata     AudioMetadata
	Language     string
	Voice        string
	Instructions string
	Config       map[string]any
}

// AudioResponse carries one response chunk back to a device.
type AudioResponse struct {
	Envelope
	Audio            []byte
	Metadata         AudioMetadata
	Transcript       string
	ProcessingTimeMS float64
	CostEstimate     float64
	ResponseMetadata map[string]any
}

// Error reports a failure to a device.
type Error struct {
	Envelope
	Code              string
	Message           string
	OriginalMessageID string
}

// HealthCheck is the server status published on the health topic.
type HealthCheck struct {
	Envelope
	Status         string
	UptimeSeconds  float64
	ActiveSessions int
	SystemInfo     map[string]any
}

// SessionControl is a session_start or session_end notification. It has no
// payload beyond the envelope.
type SessionControl struct {
	Envelope
}

// NewMessageID returns a fresh message identifier.
func NewMessageID() string {
	return uuid.NewString()
}

// Now returns the current time as unix seconds.
func Now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

func newEnvelope(kind Kind, deviceID, sessionID string) Envelope {
	return Envelope{
		MessageID: NewMessageID(),
		DeviceID:  deviceID,
		Timestamp: Now(),
		Kind:      kind,
		SessionID: sessionID,
	}
}

// NewAudioRequest builds a single-chunk request with default metadata.
func NewAudioRequest(deviceID, sessionID string, audio []byte) *AudioRequest {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	return &AudioRequest{
		Envelope: newEnvelope(KindAudioRequest, deviceID, sessionID),
		Audio:    audio,
		Metadata: DefaultAudioMetadata(),
	}
}

// NewAudioResponse builds a response chunk addressed to the request's device
// and session. The chunk inherits the request's audio format.
func NewAudioResponse(req *AudioRequest, chunkID int, audio []byte, transcript string) *AudioResponse {
	meta := DefaultAudioMetadata()
	if req.Metadata.Format != "" {
		meta.Format = req.Metadata.Format
	}
	meta.ChunkID = chunkID
	return &AudioResponse{
		Envelope:   newEnvelope(KindAudioResponse, req.DeviceID, req.SessionID),
		Audio:      audio,
		Metadata:   meta,
		Transcript: transcript,
	}
}

// NewError builds an error message. originalID may be empty.
func NewError(deviceID, sessionID, code, message, originalID string) *Error {
	return &Error{
		Envelope:          newEnvelope(KindError, deviceID, sessionID),
		Code:              code,
		Message:           message,
		OriginalMessageID: originalID,
	}
}

// NewHealthCheck builds a health message sent from deviceID (the server's
// client id).
func NewHealthCheck(deviceID, status string, uptime time.Duration, active int, info map[string]any) *HealthCheck {
	return &HealthCheck{
		Envelope:       newEnvelope(KindHealthCheck, deviceID, ""),
		Status:         status,
		UptimeSeconds:  uptime.Seconds(),
		ActiveSessions: active,
		SystemInfo:     info,
	}
}

// costPerMinute is the backend's published audio price in USD.
const costPerMinute = 0.24

// bytesPerSecond assumes 16 kHz audio at one byte per sample, matching the
// estimate devices already display.
const bytesPerSecond = 16000

// EstimateCost returns the estimated backend cost in USD for a request
// carrying audioBytes of input.
func EstimateCost(audioBytes int) float64 {
	seconds := float64(audioBytes) / bytesPerSecond
	return seconds / 60 * costPerMinute
}
