package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/voice-bridge/internal/realtime"
	"github.com/nerrad567/voice-bridge/internal/session"
)

// Device-facing error codes carried in error messages.
const (
	CodeCapacityExceeded = "CAPACITY_EXCEEDED"
	CodeConnectionError  = "CONNECTION_ERROR"
	CodeProcessingError  = "PROCESSING_ERROR"
	CodeBackendError     = "BACKEND_ERROR"
	CodeTimeout          = "TIMEOUT"
	CodeInvalidRequest   = "INVALID_REQUEST"
)

// capacityMessage is the device-facing text for an admission rejection.
const capacityMessage = "Server at maximum capacity"

var (
	// errEmptyAudio rejects a request with no audio before a backend is opened.
	errEmptyAudio = errors.New("audio_data is empty")

	// errQueueFull rejects a request the bridge has no room to queue.
	errQueueFull = fmt.Errorf("%w: request queue full", session.ErrCapacityExceeded)
)

// ErrorCode maps a request-handling failure to its device-facing code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, session.ErrCapacityExceeded):
		return CodeCapacityExceeded
	case errors.Is(err, errEmptyAudio), errors.Is(err, session.ErrInvalidKey):
		return CodeInvalidRequest
	case errors.Is(err, realtime.ErrConnectionFailed),
		errors.Is(err, realtime.ErrNegotiationFailed),
		errors.Is(err, realtime.ErrSendFailed),
		errors.Is(err, realtime.ErrClosed):
		// The backend is unreachable or refused the session configuration.
		return CodeConnectionError
	case errors.Is(err, realtime.ErrBackend):
		return CodeBackendError
	case errors.Is(err, realtime.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	default:
		return CodeProcessingError
	}
}

// errorMessage returns the device-facing text for a failure.
func errorMessage(err error) string {
	if errors.Is(err, session.ErrCapacityExceeded) {
		return capacityMessage
	}
	return err.Error()
}
