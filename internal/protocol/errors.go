package protocol

import (
	"errors"
	"fmt"
)

// Decode error classes. Use errors.Is on the error returned by Decode.
var (
	// ErrMalformedPayload indicates bytes that are not a JSON object, or an
	// audio_data field that is not valid base64.
	ErrMalformedPayload = errors.New("protocol: malformed payload")

	// ErrMissingKind indicates the message_type field is absent or empty.
	ErrMissingKind = errors.New("protocol: missing message_type")

	// ErrUnknownKind indicates a message_type outside the closed set.
	ErrUnknownKind = errors.New("protocol: unknown message_type")

	// ErrSchemaMismatch indicates a required field is absent or has the wrong shape.
	ErrSchemaMismatch = errors.New("protocol: schema mismatch")

	// ErrUnsupportedMessage is returned by Encode for values it does not know.
	ErrUnsupportedMessage = errors.New("protocol: unsupported message type")
)

// DecodeError describes why a payload was rejected.
type DecodeError struct {
	// Reason is one of the Err* sentinels above.
	Reason error
	// Detail names the offending field or carries the parser error.
	Detail string
}

func (e *DecodeError) Error() string {
	if e.Detail == "" {
		return e.Reason.Error()
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

// Unwrap exposes the sentinel for errors.Is.
func (e *DecodeError) Unwrap() error {
	return e.Reason
}

func decodeErr(reason error, format string, args ...any) error {
	return &DecodeError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}
