package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

type wireEnvelope struct {
	MessageID string  `json:"message_id"`
	DeviceID  string  `json:"device_id"`
	Timestamp float64 `json:"timestamp"`
	Kind      Kind    `json:"message_type"`
	SessionID string  `json:"session_id"`
}

type wireAudioRequest struct {
	wireEnvelope
	AudioData    string         `json:"audio_data"`
	Metadata     AudioMetadata  `json:"audio_metadata"`
	Language     string         `json:"language,omitempty"`
	Voice        string         `json:"voice,omitempty"`
	Instructions string         `json:"instructions,omitempty"`
	Config       map[string]any `json:"config,omitempty"`
}

type wireAudioResponse struct {
	wireEnvelope
	AudioData        string         `json:"audio_data"`
	Metadata         AudioMetadata  `json:"audio_metadata"`
	Transcript       string         `json:"transcript"`
	ProcessingTimeMS float64        `json:"processing_time_ms"`
	CostEstimate     float64        `json:"cost_estimate"`
	ResponseMetadata map[string]any `json:"response_metadata,omitempty"`
}

type wireError struct {
	wireEnvelope
	ErrorCode         string `json:"error_code"`
	ErrorMessage      string `json:"error_message"`
	OriginalMessageID string `json:"original_message_id,omitempty"`
}

type wireHealthCheck struct {
	wireEnvelope
	Status         string         `json:"status"`
	UptimeSeconds  float64        `json:"uptime_seconds"`
	ActiveSessions int            `json:"active_sessions"`
	SystemInfo     map[string]any `json:"system_info,omitempty"`
}

// Encode serialises m to its wire form. A missing message id or timestamp is
// generated on the wire copy; m itself is not modified. The message_type tag
// always reflects the concrete variant.
func Encode(m Message) ([]byte, error) {
	switch v := m.(type) {
	case *AudioRequest:
		return json.Marshal(wireAudioRequest{
			wireEnvelope: toWire(v.Envelope, KindAudioRequest),
			AudioData:    encodeAudio(v.Audio),
			Metadata:     v.Metadata,
			Language:     v.Language,
			Voice:        v.Voice,
			Instructions: v.Instructions,
			Config:       v.Config,
		})
	case *AudioResponse:
		return json.Marshal(wireAudioResponse{
			wireEnvelope:     toWire(v.Envelope, KindAudioResponse),
			AudioData:        encodeAudio(v.Audio),
			Metadata:         v.Metadata,
			Transcript:       v.Transcript,
			ProcessingTimeMS: v.ProcessingTimeMS,
			CostEstimate:     v.CostEstimate,
			ResponseMetadata: v.ResponseMetadata,
		})
	case *Error:
		return json.Marshal(wireError{
			wireEnvelope:      toWire(v.Envelope, KindError),
			ErrorCode:         v.Code,
			ErrorMessage:      v.Message,
			OriginalMessageID: v.OriginalMessageID,
		})
	case *HealthCheck:
		return json.Marshal(wireHealthCheck{
			wireEnvelope:   toWire(v.Envelope, KindHealthCheck),
			Status:         v.Status,
			UptimeSeconds:  v.UptimeSeconds,
			ActiveSessions: v.ActiveSessions,
			SystemInfo:     v.SystemInfo,
		})
	case *SessionControl:
		kind := v.Kind
		if kind != KindSessionStart && kind != KindSessionEnd {
			return nil, fmt.Errorf("%w: session control kind %q", ErrUnsupportedMessage, kind)
		}
		return json.Marshal(toWire(v.Envelope, kind))
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedMessage, m)
	}
}

// Decode parses one wire message. The concrete type of the result is chosen
// by message_type: *AudioRequest, *AudioResponse, *Error, *HealthCheck or
// *SessionControl. A missing message id or timestamp is generated.
//
// Decoding an encoded message yields the same value with two exceptions
// inherent to JSON. Empty audio, whether nil or []byte{}, decodes as nil.
// Numbers inside the free-form Config, ResponseMetadata and SystemInfo maps
// decode as float64, and nested objects as map[string]any.
func Decode(data []byte) (Message, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, decodeErr(ErrMalformedPayload, "%v", err)
	}
	if fields == nil {
		return nil, decodeErr(ErrMalformedPayload, "payload is not a JSON object")
	}

	kind, err := kindOf(fields)
	if err != nil {
		return nil, err
	}

	if err := requireString(fields, "device_id"); err != nil {
		return nil, err
	}

	switch kind {
	case KindAudioRequest:
		return decodeAudioRequest(data, fields)
	case KindAudioResponse:
		return decodeAudioResponse(data, fields)
	case KindError:
		return decodeError(data, fields)
	case KindHealthCheck:
		return decodeHealthCheck(data, fields)
	default:
		var w wireEnvelope
		if err := unmarshalShape(data, &w); err != nil {
			return nil, err
		}
		return &SessionControl{Envelope: fromWire(w, kind)}, nil
	}
}

func kindOf(fields map[string]json.RawMessage) (Kind, error) {
	raw, ok := fields["message_type"]
	if !ok || isNull(raw) {
		return "", decodeErr(ErrMissingKind, "")
	}
	var tag string
	if err := json.Unmarshal(raw, &tag); err != nil {
		return "", decodeErr(ErrSchemaMismatch, "message_type must be a string")
	}
	if tag == "" {
		return "", decodeErr(ErrMissingKind, "")
	}
	kind, ok := ParseKind(tag)
	if !ok {
		return "", decodeErr(ErrUnknownKind, "%q", tag)
	}
	return kind, nil
}

func decodeAudioRequest(data []byte, fields map[string]json.RawMessage) (Message, error) {
	if err := requireString(fields, "audio_data"); err != nil {
		return nil, err
	}
	w := wireAudioRequest{Metadata: DefaultAudioMetadata()}
	if err := unmarshalShape(data, &w); err != nil {
		return nil, err
	}
	audio, err := decodeAudio(w.AudioData)
	if err != nil {
		return nil, err
	}
	return &AudioRequest{
		Envelope:     fromWire(w.wireEnvelope, KindAudioRequest),
		Audio:        audio,
		Metadata:     w.Metadata,
		Language:     w.Language,
		Voice:        w.Voice,
		Instructions: w.Instructions,
		Config:       w.Config,
	}, nil
}

func decodeAudioResponse(data []byte, fields map[string]json.RawMessage) (Message, error) {
	if err := requireString(fields, "audio_data"); err != nil {
		return nil, err
	}
	w := wireAudioResponse{Metadata: DefaultAudioMetadata()}
	if err := unmarshalShape(data, &w); err != nil {
		return nil, err
	}
	audio, err := decodeAudio(w.AudioData)
	if err != nil {
		return nil, err
	}
	return &AudioResponse{
		Envelope:         fromWire(w.wireEnvelope, KindAudioResponse),
		Audio:            audio,
		Metadata:         w.Metadata,
		Transcript:       w.Transcript,
		ProcessingTimeMS: w.ProcessingTimeMS,
		CostEstimate:     w.CostEstimate,
		ResponseMetadata: w.ResponseMetadata,
	}, nil
}

func decodeError(data []byte, fields map[string]json.RawMessage) (Message, error) {
	for _, name := range []string{"error_code", "error_message"} {
		if err := requireString(fields, name); err != nil {
			return nil, err
		}
	}
	var w wireError
	if err := unmarshalShape(data, &w); err != nil {
		return nil, err
	}
	return &Error{
		Envelope:          fromWire(w.wireEnvelope, KindError),
		Code:              w.ErrorCode,
		Message:           w.ErrorMessage,
		OriginalMessageID: w.OriginalMessageID,
	}, nil
}

func decodeHealthCheck(data []byte, fields map[string]json.RawMessage) (Message, error) {
	if err := requireString(fields, "status"); err != nil {
		return nil, err
	}
	var w wireHealthCheck
	if err := unmarshalShape(data, &w); err != nil {
		return nil, err
	}
	return &HealthCheck{
		Envelope:       fromWire(w.wireEnvelope, KindHealthCheck),
		Status:         w.Status,
		UptimeSeconds:  w.UptimeSeconds,
		ActiveSessions: w.ActiveSessions,
		SystemInfo:     w.SystemInfo,
	}, nil
}

// unmarshalShape decodes into a typed wire struct. Type errors are schema
// mismatches; the syntax was already validated.
func unmarshalShape(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return decodeErr(ErrSchemaMismatch, "%s must be %s, got %s", typeErr.Field, typeErr.Type, typeErr.Value)
		}
		return decodeErr(ErrSchemaMismatch, "%v", err)
	}
	return nil
}

// requireString checks that name is present and holds a JSON string.
func requireString(fields map[string]json.RawMessage, name string) error {
	raw, ok := fields[name]
	if !ok || isNull(raw) {
		return decodeErr(ErrSchemaMismatch, "%s is required", name)
	}
	if trimmed := bytes.TrimSpace(raw); len(trimmed) == 0 || trimmed[0] != '"' {
		return decodeErr(ErrSchemaMismatch, "%s must be a string", name)
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func toWire(e Envelope, kind Kind) wireEnvelope {
	w := wireEnvelope{
		MessageID: e.MessageID,
		DeviceID:  e.DeviceID,
		Timestamp: e.Timestamp,
		Kind:      kind,
		SessionID: e.SessionID,
	}
	if w.MessageID == "" {
		w.MessageID = NewMessageID()
	}
	if w.Timestamp == 0 {
		w.Timestamp = Now()
	}
	return w
}

func fromWire(w wireEnvelope, kind Kind) Envelope {
	e := Envelope{
		MessageID: w.MessageID,
		DeviceID:  w.DeviceID,
		Timestamp: w.Timestamp,
		Kind:      kind,
		SessionID: w.SessionID,
	}
	if e.MessageID == "" {
		e.MessageID = NewMessageID()
	}
	if e.Timestamp == 0 {
		e.Timestamp = Now()
	}
	return e
}

func encodeAudio(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// decodeAudio returns nil for an empty payload so that a transcript-only
// chunk round-trips to the same value it was built from.
func decodeAudio(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, decodeErr(ErrMalformedPayload, "audio_data: %v", err)
	}
	return b, nil
}
